// Package privacy redacts sensitive data from browser snapshots before they
// reach the LLM.
//
// Patterns come from a Config that combines a global pattern list with
// per-domain rules. Filters implement one contract over text, snapshots and
// screenshots; RegexFilter is the workhorse, CompositeFilter chains filters,
// and LLMFilter delegates span detection to a local model.
package privacy

import (
	"context"
	"sort"

	"github.com/raaihank/browser-sentinel/pkg/snapshot"
	"go.uber.org/zap"
)

// Stats counts substitutions per pattern name.
type Stats map[string]int

// Merge adds other into s.
func (s Stats) Merge(other Stats) {
	for k, v := range other {
		s[k] += v
	}
}

// Total returns the sum of all counts.
func (s Stats) Total() int {
	total := 0
	for _, v := range s {
		total += v
	}
	return total
}

// Names returns the pattern names with a non-zero count, sorted.
func (s Stats) Names() []string {
	names := make([]string, 0, len(s))
	for k, v := range s {
		if v > 0 {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// Clone copies the stats.
func (s Stats) Clone() Stats {
	out := make(Stats, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Result is the outcome of filtering one snapshot.
type Result struct {
	// FilteredData is safe to send to the LLM.
	FilteredData *snapshot.BrowserSnapshot
	// OriginalData is the unfiltered copy, present only with keep_original.
	OriginalData *snapshot.BrowserSnapshot
	Stats        Stats
	WasFiltered  bool
	URL          string
}

// LogStats writes the redaction summary for this result.
func (r *Result) LogStats(logger *zap.Logger) {
	if !r.WasFiltered {
		logger.Debug("No sensitive data found", zap.String("url", r.URL))
		return
	}
	logger.Info("Redacted sensitive data",
		zap.String("url", r.URL),
		zap.Int("total", r.Stats.Total()),
		zap.Any("stats", r.Stats),
	)
}

// Filter is the capability set every privacy filter provides.
type Filter interface {
	// Name identifies the filter in logs and errors.
	Name() string
	// FilterText redacts text using the policy for url.
	FilterText(ctx context.Context, text, url string) (string, Stats, error)
	// FilterSnapshot redacts every text surface of s. An empty url falls
	// back to s.URL.
	FilterSnapshot(ctx context.Context, s *snapshot.BrowserSnapshot, url string) (*Result, error)
	// FilterScreenshot redacts a base64 screenshot.
	FilterScreenshot(ctx context.Context, screenshotB64, url string) (string, Stats, error)
}

// prepare returns the snapshot to mutate and, with keepOriginal, a copy of
// the input. With keepOriginal the caller's snapshot is never touched;
// without it the snapshot is filtered in place.
func prepare(s *snapshot.BrowserSnapshot, keepOriginal bool) (work, original *snapshot.BrowserSnapshot) {
	if keepOriginal {
		return s.Clone(), s.Clone()
	}
	return s, nil
}
