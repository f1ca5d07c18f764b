package privacy

import (
	"context"
	"fmt"
	"strings"

	"github.com/raaihank/browser-sentinel/pkg/snapshot"
	"go.uber.org/zap"
)

// CompositeFilter runs filters in order, each on the previous one's output.
// When a later filter fails, the output of the filters before it is kept and
// the failure is logged; only a failure of the first filter, or a cancelled
// context, fails the whole chain.
type CompositeFilter struct {
	filters []Filter
	logger  *zap.Logger
}

// NewCompositeFilter chains filters in the given order. Nil entries are ignored.
func NewCompositeFilter(filters ...Filter) *CompositeFilter {
	c := &CompositeFilter{logger: zap.NewNop()}
	for _, f := range filters {
		c.Add(f)
	}
	return c
}

// WithLogger sets the logger that reports failed stages.
func (c *CompositeFilter) WithLogger(logger *zap.Logger) *CompositeFilter {
	if logger != nil {
		c.logger = logger.Named("composite_filter")
	}
	return c
}

// Add appends f to the chain. Not safe to call while the chain is filtering.
func (c *CompositeFilter) Add(f Filter) {
	if f != nil {
		c.filters = append(c.filters, f)
	}
}

// Filters returns the chain in order.
func (c *CompositeFilter) Filters() []Filter {
	return append([]Filter(nil), c.filters...)
}

// Name implements Filter.
func (c *CompositeFilter) Name() string {
	names := make([]string, len(c.filters))
	for i, f := range c.filters {
		names[i] = f.Name()
	}
	return "composite(" + strings.Join(names, ",") + ")"
}

// fatal reports whether a failure of stage i aborts the chain. Otherwise it
// logs the failure and the chain stops with what it has.
func (c *CompositeFilter) fatal(ctx context.Context, i int, f Filter, url string, err error) bool {
	if i == 0 || ctx.Err() != nil {
		return true
	}
	c.logger.Error("Filter stage failed, keeping earlier redactions",
		zap.String("filter", f.Name()),
		zap.String("url", url),
		zap.Error(err),
	)
	return false
}

// FilterText implements Filter. Stats are summed per pattern name.
func (c *CompositeFilter) FilterText(ctx context.Context, text, url string) (string, Stats, error) {
	total := Stats{}
	for i, f := range c.filters {
		out, stats, err := f.FilterText(ctx, text, url)
		if err != nil {
			if c.fatal(ctx, i, f, url, err) {
				return "", nil, fmt.Errorf("%s filter: %w", f.Name(), err)
			}
			break
		}
		text = out
		total.Merge(stats)
	}
	return text, total, nil
}

// FilterSnapshot implements Filter. Only the first filter's original copy
// is kept, since later filters see already redacted input.
func (c *CompositeFilter) FilterSnapshot(ctx context.Context, s *snapshot.BrowserSnapshot, url string) (*Result, error) {
	if url == "" && s != nil {
		url = s.URL
	}
	result := &Result{FilteredData: s, Stats: Stats{}, URL: url}
	for i, f := range c.filters {
		r, err := f.FilterSnapshot(ctx, result.FilteredData, url)
		if err != nil {
			if c.fatal(ctx, i, f, url, err) {
				return nil, fmt.Errorf("%s filter: %w", f.Name(), err)
			}
			break
		}
		if i == 0 {
			result.OriginalData = r.OriginalData
		}
		result.FilteredData = r.FilteredData
		result.Stats.Merge(r.Stats)
		result.WasFiltered = result.WasFiltered || r.WasFiltered
	}
	return result, nil
}

// FilterScreenshot implements Filter.
func (c *CompositeFilter) FilterScreenshot(ctx context.Context, screenshotB64, url string) (string, Stats, error) {
	total := Stats{}
	for i, f := range c.filters {
		out, stats, err := f.FilterScreenshot(ctx, screenshotB64, url)
		if err != nil {
			if c.fatal(ctx, i, f, url, err) {
				return "", nil, fmt.Errorf("%s filter: %w", f.Name(), err)
			}
			break
		}
		screenshotB64 = out
		total.Merge(stats)
	}
	return screenshotB64, total, nil
}
