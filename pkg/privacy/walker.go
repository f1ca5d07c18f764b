package privacy

import (
	"context"

	"github.com/raaihank/browser-sentinel/pkg/snapshot"
	"go.uber.org/zap"
)

// filteredAttributes are the only attributes whose values are redacted.
var filteredAttributes = [...]string{"value", "placeholder", "title", "alt", "aria-label"}

type textFunc func(ctx context.Context, text string) (string, Stats, error)

// walker applies a text function to every text surface of a snapshot, in
// order: URL, title, DOM, tabs, screenshot.
type walker struct {
	text textFunc
	// screenshot is nil when screenshots are not filtered.
	screenshot textFunc
	fieldMasks map[string]string
	logger     *zap.Logger
}

func (w *walker) walk(ctx context.Context, s *snapshot.BrowserSnapshot, total Stats) error {
	if err := w.apply(ctx, &s.URL, total); err != nil {
		return err
	}
	if err := w.apply(ctx, &s.Title, total); err != nil {
		return err
	}
	if err := w.walkDOM(ctx, s.DOMState, total); err != nil {
		return err
	}
	for i := range s.Tabs {
		if err := w.apply(ctx, &s.Tabs[i].Title, total); err != nil {
			return err
		}
		if err := w.apply(ctx, &s.Tabs[i].URL, total); err != nil {
			return err
		}
	}
	if w.screenshot != nil && s.Screenshot != "" {
		out, stats, err := w.screenshot(ctx, s.Screenshot)
		if err != nil {
			return err
		}
		s.Screenshot = out
		total.Merge(stats)
	}
	return nil
}

func (w *walker) apply(ctx context.Context, field *string, total Stats) error {
	if *field == "" {
		return nil
	}
	out, stats, err := w.text(ctx, *field)
	if err != nil {
		return err
	}
	*field = out
	total.Merge(stats)
	return nil
}

// walkDOM visits each distinct node once, so a node reachable from both the
// tree and the selector map is substituted and counted once.
func (w *walker) walkDOM(ctx context.Context, dom *snapshot.DOMState, total Stats) error {
	if dom == nil {
		return nil
	}
	if len(w.fieldMasks) > 0 {
		total.Merge(applyFieldMasks(dom, w.fieldMasks, w.logger))
	}
	var firstErr error
	dom.Visit(func(n *snapshot.DOMNode) {
		if firstErr != nil {
			return
		}
		if err := w.apply(ctx, &n.NodeValue, total); err != nil {
			firstErr = err
			return
		}
		if n.Attributes == nil {
			return
		}
		for _, name := range filteredAttributes {
			v, ok := n.Attributes[name]
			if !ok || v == "" {
				continue
			}
			if err := w.apply(ctx, &v, total); err != nil {
				firstErr = err
				return
			}
			n.Attributes[name] = v
		}
	})
	return firstErr
}
