package privacy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gobwas/glob"
)

// Pattern is a named regex with its replacement.
type Pattern struct {
	Name          string `json:"name" validate:"required"`
	Regex         string `json:"pattern" validate:"required"`
	Replacement   string `json:"replacement"`
	Description   string `json:"description"`
	Enabled       bool   `json:"enabled"`
	CaseSensitive bool   `json:"case_sensitive"`
}

// UnmarshalJSON fills keys missing from the document with their defaults.
func (p *Pattern) UnmarshalJSON(data []byte) error {
	type plain Pattern
	v := plain{Enabled: true}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Pattern(v)
	return nil
}

// DomainRule overlays the global pattern set for URLs matching DomainPattern.
//
// DomainPattern forms:
//   - "example.com"           exact host
//   - "*.example.com"         the host or any subdomain
//   - "example.com/checkout/*" glob over host+path
type DomainRule struct {
	DomainPattern      string            `json:"domain_pattern" validate:"required"`
	Enabled            bool              `json:"enabled"`
	Description        string            `json:"description"`
	AdditionalPatterns []Pattern         `json:"additional_patterns" validate:"dive"`
	DisabledPatterns   []string          `json:"disabled_patterns"`
	FieldMasks         map[string]string `json:"field_masks"`
}

// UnmarshalJSON fills keys missing from the document with their defaults.
func (r *DomainRule) UnmarshalJSON(data []byte) error {
	type plain DomainRule
	v := plain{Enabled: true}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = DomainRule(v)
	return nil
}

// Config is the privacy configuration document.
type Config struct {
	GlobalPatterns []Pattern    `json:"global_patterns" validate:"dive"`
	DomainRules    []DomainRule `json:"domain_rules" validate:"dive"`

	// KeepOriginal retains an unfiltered copy of each snapshot in the result.
	KeepOriginal bool `json:"keep_original"`
	LogStats     bool `json:"log_stats"`
	// FilterScreenshots routes screenshots through FilterScreenshot.
	FilterScreenshots bool `json:"filter_screenshots"`

	UseLLMFilter      bool   `json:"use_llm_filter"`
	LLMFilterEndpoint string `json:"llm_filter_endpoint" validate:"omitempty,url"`
}

// UnmarshalJSON fills keys missing from the document with their defaults.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	v := plain{KeepOriginal: true, LogStats: true}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = Config(v)
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks required fields. Duplicate global pattern names are
// allowed; see DuplicatePatternNames.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid privacy config: %w", err)
	}
	return nil
}

// DuplicatePatternNames lists the global pattern names defined more than
// once, in order of first appearance. The last definition of a name is the
// one that applies.
func (c *Config) DuplicatePatternNames() []string {
	counts := make(map[string]int, len(c.GlobalPatterns))
	var names []string
	for _, p := range c.GlobalPatterns {
		counts[p.Name]++
		if counts[p.Name] == 2 {
			names = append(names, p.Name)
		}
	}
	return names
}

// target is a parsed URL as seen by rule matching. ok is false when the URL
// has no usable host; no rule matches such a target.
type target struct {
	host string
	path string
	ok   bool
}

func parseTarget(raw string) target {
	u, err := url.Parse(raw)
	if err != nil {
		return target{}
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return target{}
	}
	return target{host: host, path: u.Path, ok: true}
}

// Matches reports whether the rule's domain pattern matches rawURL. The
// enabled flag is not consulted.
func (r *DomainRule) Matches(rawURL string) bool {
	return r.matchTarget(parseTarget(rawURL))
}

func (r *DomainRule) matchTarget(t target) bool {
	if !t.ok {
		return false
	}
	pattern := strings.ToLower(r.DomainPattern)
	switch {
	case strings.Contains(pattern, "/"):
		g, err := compileGlob(pattern)
		if err != nil {
			return false
		}
		return g.Match(t.host + t.path)
	case strings.HasPrefix(pattern, "*."):
		suffix := pattern[2:]
		return t.host == suffix || strings.HasSuffix(t.host, "."+suffix)
	default:
		return t.host == pattern
	}
}

var globs = mustLRU[string, globEntry](256)

type globEntry struct {
	g   glob.Glob
	err error
}

// compileGlob compiles a shell-style pattern: '*' crosses '/', braces are
// literal, and a '[' without a closing ']' matches itself.
func compileGlob(pattern string) (glob.Glob, error) {
	if e, ok := globs.Get(pattern); ok {
		return e.g, e.err
	}
	g, err := glob.Compile(escapeGlob(pattern))
	globs.Add(pattern, globEntry{g: g, err: err})
	return g, err
}

func escapeGlob(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern) + 4)
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '\\', '{', '}':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '[':
			end := classEnd(pattern, i)
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			b.WriteByte('[')
			for k := i + 1; k < end; k++ {
				if c := pattern[k]; c == '\\' || c == ']' {
					b.WriteByte('\\')
				}
				b.WriteByte(pattern[k])
			}
			b.WriteByte(']')
			i = end
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// classEnd returns the index of the ']' closing the class opened at i, or
// -1. A ']' directly after "[" or "[!" is a member, not the end.
func classEnd(pattern string, i int) int {
	j := i + 1
	if j < len(pattern) && pattern[j] == '!' {
		j++
	}
	if j < len(pattern) && pattern[j] == ']' {
		j++
	}
	k := strings.IndexByte(pattern[j:], ']')
	if k < 0 {
		return -1
	}
	return j + k
}

// patternSet is a name-keyed collection that keeps first-insertion order.
type patternSet struct {
	order  []string
	byName map[string]Pattern
}

func newPatternSet() *patternSet {
	return &patternSet{byName: make(map[string]Pattern)}
}

func (s *patternSet) put(p Pattern) {
	if _, ok := s.byName[p.Name]; !ok {
		s.order = append(s.order, p.Name)
	}
	s.byName[p.Name] = p
}

func (s *patternSet) remove(name string) {
	if _, ok := s.byName[name]; !ok {
		return
	}
	delete(s.byName, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *patternSet) list() []Pattern {
	out := make([]Pattern, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.byName[n])
	}
	return out
}

// PatternsForURL resolves the active patterns for rawURL: enabled global
// patterns, then for each enabled matching rule in order, its disabled
// names are removed and its enabled additional patterns added or replaced.
// A global name defined twice takes its last definition.
func (c *Config) PatternsForURL(rawURL string) []Pattern {
	set := newPatternSet()
	for _, p := range c.GlobalPatterns {
		set.put(p)
	}
	for _, p := range set.list() {
		if !p.Enabled {
			set.remove(p.Name)
		}
	}
	for _, rule := range c.matchingRules(parseTarget(rawURL)) {
		for _, name := range rule.DisabledPatterns {
			set.remove(name)
		}
		for _, p := range rule.AdditionalPatterns {
			if p.Enabled {
				set.put(p)
			}
		}
	}
	return set.list()
}

// FieldMasksForURL merges the field masks of every enabled matching rule.
// Later rules win on selector collisions.
func (c *Config) FieldMasksForURL(rawURL string) map[string]string {
	masks := make(map[string]string)
	for _, rule := range c.matchingRules(parseTarget(rawURL)) {
		for sel, repl := range rule.FieldMasks {
			masks[sel] = repl
		}
	}
	return masks
}

// MatchingRules returns the enabled rules that apply to rawURL, in order.
func (c *Config) MatchingRules(rawURL string) []DomainRule {
	return c.matchingRules(parseTarget(rawURL))
}

func (c *Config) matchingRules(t target) []DomainRule {
	var out []DomainRule
	for _, rule := range c.DomainRules {
		if rule.Enabled && rule.matchTarget(t) {
			out = append(out, rule)
		}
	}
	return out
}

// AddGlobalPattern appends p, or replaces every global pattern with the same name.
func (c *Config) AddGlobalPattern(p Pattern) {
	found := false
	for i := range c.GlobalPatterns {
		if c.GlobalPatterns[i].Name == p.Name {
			c.GlobalPatterns[i] = p
			found = true
		}
	}
	if !found {
		c.GlobalPatterns = append(c.GlobalPatterns, p)
	}
}

// RemoveGlobalPattern deletes every global pattern with the given name.
func (c *Config) RemoveGlobalPattern(name string) bool {
	kept := c.GlobalPatterns[:0]
	for _, p := range c.GlobalPatterns {
		if p.Name != name {
			kept = append(kept, p)
		}
	}
	removed := len(kept) != len(c.GlobalPatterns)
	c.GlobalPatterns = kept
	return removed
}

// SetPatternEnabled toggles every global pattern with the given name.
func (c *Config) SetPatternEnabled(name string, enabled bool) bool {
	found := false
	for i := range c.GlobalPatterns {
		if c.GlobalPatterns[i].Name == name {
			c.GlobalPatterns[i].Enabled = enabled
			found = true
		}
	}
	return found
}

// AddDomainRule appends a rule.
func (c *Config) AddDomainRule(rule DomainRule) {
	c.DomainRules = append(c.DomainRules, rule)
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.GlobalPatterns = append([]Pattern(nil), c.GlobalPatterns...)
	if c.DomainRules != nil {
		out.DomainRules = make([]DomainRule, len(c.DomainRules))
		for i, r := range c.DomainRules {
			r.AdditionalPatterns = append([]Pattern(nil), r.AdditionalPatterns...)
			r.DisabledPatterns = append([]string(nil), r.DisabledPatterns...)
			if r.FieldMasks != nil {
				masks := make(map[string]string, len(r.FieldMasks))
				for k, v := range r.FieldMasks {
					masks[k] = v
				}
				r.FieldMasks = masks
			}
			out.DomainRules[i] = r
		}
	}
	return &out
}

// DefaultConfig is the passthrough posture: every built-in pattern listed
// but disabled, no domain rules.
func DefaultConfig() *Config {
	patterns := DefaultPatterns()
	for i := range patterns {
		patterns[i].Enabled = false
	}
	return &Config{
		GlobalPatterns: patterns,
		DomainRules:    []DomainRule{},
		KeepOriginal:   true,
		LogStats:       true,
	}
}

// ExampleConfig is a template with the built-in patterns at their default
// enablement and two illustrative domain rules.
func ExampleConfig() *Config {
	return &Config{
		GlobalPatterns: DefaultPatterns(),
		DomainRules: []DomainRule{
			{
				DomainPattern: "*.bank.com",
				Enabled:       true,
				Description:   "Banking sites - extra protection",
				AdditionalPatterns: []Pattern{
					NewPattern("account_number", `\b\d{10,12}\b`, "[ACCOUNT_REDACTED]",
						WithDescription("Bank account numbers")),
				},
				DisabledPatterns: []string{},
				FieldMasks:       map[string]string{},
			},
			{
				DomainPattern:      "mail.google.com",
				Enabled:            true,
				Description:        "Gmail - protect email content",
				AdditionalPatterns: []Pattern{},
				DisabledPatterns:   []string{},
				FieldMasks:         map[string]string{},
			},
		},
		KeepOriginal: true,
		LogStats:     true,
	}
}
