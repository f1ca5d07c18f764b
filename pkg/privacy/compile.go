package privacy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	compiledCacheSize = 1024
	// matchTimeout bounds a single regex application so a backtracking
	// pattern from user config cannot stall a step.
	matchTimeout = time.Second
)

type compileKey struct {
	name          string
	regex         string
	caseSensitive bool
	replacement   string
}

type compileEntry struct {
	compiled *compiledPattern
	err      error
}

// compiled is the process-wide cache. Failed compilations are cached too,
// so an invalid pattern costs one compile attempt per process. Two callers
// racing on a first compile both compile; the results are identical.
var compiled = mustLRU[compileKey, compileEntry](compiledCacheSize)

func mustLRU[K comparable, V any](size int) *lru.Cache[K, V] {
	c, err := lru.New[K, V](size)
	if err != nil {
		panic(err)
	}
	return c
}

type compiledPattern struct {
	name string
	re   *regexp2.Regexp
	tmpl template
}

// compilePattern returns the cached compiled form of p.
func compilePattern(p Pattern) (*compiledPattern, error) {
	key := compileKey{name: p.Name, regex: p.Regex, caseSensitive: p.CaseSensitive, replacement: p.Replacement}
	if e, ok := compiled.Get(key); ok {
		return e.compiled, e.err
	}
	cp, err := doCompile(p)
	compiled.Add(key, compileEntry{compiled: cp, err: err})
	return cp, err
}

// Compile checks that p's regex and replacement template are valid. The
// error, if any, is a *PatternCompileError.
func Compile(p Pattern) error {
	_, err := compilePattern(p)
	return err
}

func doCompile(p Pattern) (*compiledPattern, error) {
	opts := regexp2.None
	if !p.CaseSensitive {
		opts |= regexp2.IgnoreCase
	}
	re, err := regexp2.Compile(p.Regex, opts)
	if err != nil {
		return nil, &PatternCompileError{Name: p.Name, Pattern: p.Regex, Err: err}
	}
	re.MatchTimeout = matchTimeout

	tmpl, err := parseTemplate(p.Replacement, re)
	if err != nil {
		return nil, &PatternCompileError{Name: p.Name, Pattern: p.Regex, Err: err}
	}
	return &compiledPattern{name: p.Name, re: re, tmpl: tmpl}, nil
}

// apply substitutes every non-overlapping match and reports how many there were.
func (c *compiledPattern) apply(text string) (string, int, error) {
	count := 0
	out, err := c.re.ReplaceFunc(text, func(m regexp2.Match) string {
		count++
		return c.tmpl.expand(&m)
	}, -1, -1)
	if err != nil {
		return text, 0, &PatternCompileError{Name: c.name, Pattern: c.re.String(), Err: err}
	}
	return out, count, nil
}

// template is a parsed replacement string (\1, \g<n>, \g<name>).
type template []segment

type segment struct {
	literal string
	group   int
	name    string
	isRef   bool
}

func (t template) expand(m *regexp2.Match) string {
	if len(t) == 1 && !t[0].isRef {
		return t[0].literal
	}
	var b strings.Builder
	for _, s := range t {
		if !s.isRef {
			b.WriteString(s.literal)
			continue
		}
		var g *regexp2.Group
		if s.name != "" {
			g = m.GroupByName(s.name)
		} else {
			g = m.GroupByNumber(s.group)
		}
		if g != nil && len(g.Captures) > 0 {
			b.WriteString(g.String())
		}
	}
	return b.String()
}

var errTrailingBackslash = errors.New("bad escape (end of replacement)")

// parseTemplate understands \1..\99, \g<n>, \g<name>, \\ and the common
// character escapes. Everything else, '$' included, is literal.
func parseTemplate(repl string, re *regexp2.Regexp) (template, error) {
	var (
		out template
		lit strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			out = append(out, segment{literal: lit.String()})
			lit.Reset()
		}
	}
	groupCount := 0
	for _, n := range re.GetGroupNumbers() {
		if n > groupCount {
			groupCount = n
		}
	}
	checkGroup := func(n int) error {
		if n > groupCount {
			return fmt.Errorf("invalid group reference %d", n)
		}
		return nil
	}

	for i := 0; i < len(repl); i++ {
		c := repl[i]
		if c != '\\' {
			lit.WriteByte(c)
			continue
		}
		if i+1 >= len(repl) {
			return nil, errTrailingBackslash
		}
		next := repl[i+1]
		switch {
		case next >= '1' && next <= '9':
			n := int(next - '0')
			i++
			if i+1 < len(repl) && repl[i+1] >= '0' && repl[i+1] <= '9' {
				n = n*10 + int(repl[i+1]-'0')
				i++
			}
			if err := checkGroup(n); err != nil {
				return nil, err
			}
			flush()
			out = append(out, segment{group: n, isRef: true})
		case next == 'g':
			end := strings.IndexByte(repl[i:], '>')
			if i+2 >= len(repl) || repl[i+2] != '<' || end < 0 {
				return nil, fmt.Errorf("missing group name at position %d", i)
			}
			ref := repl[i+3 : i+end]
			if ref == "" {
				return nil, fmt.Errorf("missing group name at position %d", i)
			}
			seg := segment{isRef: true}
			if n, err := strconv.Atoi(ref); err == nil {
				if err := checkGroup(n); err != nil {
					return nil, err
				}
				seg.group = n
			} else {
				if re.GroupNumberFromName(ref) < 0 {
					return nil, fmt.Errorf("unknown group name %q", ref)
				}
				seg.name = ref
			}
			flush()
			out = append(out, seg)
			i += end
		case next == '\\':
			lit.WriteByte('\\')
			i++
		case next == 'n':
			lit.WriteByte('\n')
			i++
		case next == 't':
			lit.WriteByte('\t')
			i++
		case next == 'r':
			lit.WriteByte('\r')
			i++
		case next == 'f':
			lit.WriteByte('\f')
			i++
		case next == 'v':
			lit.WriteByte('\v')
			i++
		case next == 'a':
			lit.WriteByte('\a')
			i++
		default:
			lit.WriteByte('\\')
		}
	}
	flush()
	if len(out) == 0 {
		out = template{{literal: ""}}
	}
	return out, nil
}
