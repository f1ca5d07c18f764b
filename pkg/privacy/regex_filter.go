package privacy

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/raaihank/browser-sentinel/pkg/snapshot"
	"go.uber.org/zap"
)

// RegexFilter redacts text with the patterns resolved from its Config.
type RegexFilter struct {
	config atomic.Pointer[Config]
	logger *zap.Logger

	// warned remembers patterns already reported as broken.
	warned sync.Map
}

// NewRegexFilter creates a regex filter. A nil cfg means DefaultConfig.
func NewRegexFilter(cfg *Config, logger *zap.Logger) *RegexFilter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &RegexFilter{logger: logger.Named("regex_filter")}
	f.config.Store(cfg.Clone())
	return f
}

// Name implements Filter.
func (f *RegexFilter) Name() string { return "regex" }

// Config returns a copy of the active configuration.
func (f *RegexFilter) Config() *Config {
	return f.config.Load().Clone()
}

// SetConfig replaces the configuration. Calls in flight keep the
// configuration they started with.
func (f *RegexFilter) SetConfig(cfg *Config) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	f.config.Store(cfg.Clone())
}

// UpdateConfig applies fn to a copy of the configuration and installs it.
func (f *RegexFilter) UpdateConfig(fn func(*Config)) {
	for {
		old := f.config.Load()
		next := old.Clone()
		fn(next)
		if f.config.CompareAndSwap(old, next) {
			return
		}
	}
}

// FilterText implements Filter.
func (f *RegexFilter) FilterText(_ context.Context, text, url string) (string, Stats, error) {
	if text == "" {
		return "", Stats{}, nil
	}
	out, stats := f.compile(f.config.Load().PatternsForURL(url)).apply(text)
	return out, stats, nil
}

// FilterSnapshot implements Filter.
func (f *RegexFilter) FilterSnapshot(ctx context.Context, s *snapshot.BrowserSnapshot, url string) (*Result, error) {
	if s == nil {
		return &Result{Stats: Stats{}, URL: url}, nil
	}
	if url == "" {
		url = s.URL
	}
	cfg := f.config.Load()

	// Resolve once so every surface of the snapshot sees the same policy,
	// even after the URL field itself has been redacted.
	set := f.compile(cfg.PatternsForURL(url))
	w := &walker{
		text: func(_ context.Context, text string) (string, Stats, error) {
			out, stats := set.apply(text)
			return out, stats, nil
		},
		fieldMasks: cfg.FieldMasksForURL(url),
		logger:     f.logger,
	}
	if cfg.FilterScreenshots {
		w.screenshot = func(ctx context.Context, b64 string) (string, Stats, error) {
			return f.FilterScreenshot(ctx, b64, url)
		}
	}

	work, original := prepare(s, cfg.KeepOriginal)
	stats := Stats{}
	if err := w.walk(ctx, work, stats); err != nil {
		return nil, err
	}
	result := &Result{
		FilteredData: work,
		OriginalData: original,
		Stats:        stats,
		WasFiltered:  stats.Total() > 0,
		URL:          url,
	}
	if cfg.LogStats {
		result.LogStats(f.logger)
	}
	return result, nil
}

// FilterScreenshot implements Filter. Screenshots pass through unchanged.
func (f *RegexFilter) FilterScreenshot(_ context.Context, screenshotB64, _ string) (string, Stats, error) {
	return screenshotB64, Stats{}, nil
}

// compiledSet is a resolved pattern collection ready to apply.
type compiledSet struct {
	patterns []*compiledPattern
	filter   *RegexFilter
}

func (f *RegexFilter) compile(patterns []Pattern) *compiledSet {
	set := &compiledSet{filter: f, patterns: make([]*compiledPattern, 0, len(patterns))}
	for _, p := range patterns {
		cp, err := compilePattern(p)
		if err != nil {
			f.warnOnce(p, err)
			continue
		}
		set.patterns = append(set.patterns, cp)
	}
	return set
}

func (s *compiledSet) apply(text string) (string, Stats) {
	stats := Stats{}
	if text == "" {
		return "", stats
	}
	for _, cp := range s.patterns {
		out, n, err := cp.apply(text)
		if err != nil {
			// Timeouts are per input, so they are not deduplicated.
			s.filter.logger.Warn("Pattern failed, skipping",
				zap.String("pattern", cp.name),
				zap.Error(err),
			)
			continue
		}
		if n > 0 {
			stats[cp.name] += n
			text = out
		}
	}
	return text, stats
}

func (f *RegexFilter) warnOnce(p Pattern, err error) {
	key := compileKey{name: p.Name, regex: p.Regex, caseSensitive: p.CaseSensitive, replacement: p.Replacement}
	if _, loaded := f.warned.LoadOrStore(key, struct{}{}); loaded {
		return
	}
	f.logger.Warn("Invalid pattern, skipping",
		zap.String("pattern", p.Name),
		zap.Error(err),
	)
}
