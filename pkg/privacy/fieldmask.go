package privacy

import (
	"sort"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/raaihank/browser-sentinel/pkg/snapshot"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// fieldMaskStat is the stats key for field mask substitutions.
const fieldMaskStat = "field_mask"

var selectors = mustLRU[string, selectorEntry](256)

type selectorEntry struct {
	sel cascadia.Selector
	err error
}

func compileSelector(sel string, logger *zap.Logger) (cascadia.Selector, bool) {
	if e, ok := selectors.Get(sel); ok {
		return e.sel, e.err == nil
	}
	s, err := cascadia.Compile(sel)
	selectors.Add(sel, selectorEntry{sel: s, err: err})
	if err != nil {
		logger.Warn("Invalid field mask selector, skipping",
			zap.String("selector", sel),
			zap.Error(err),
		)
		return nil, false
	}
	return s, true
}

// mirror is an x/net/html view of the DOM used for selector matching.
type mirror struct {
	roots  []*html.Node
	byHTML map[*html.Node]*snapshot.DOMNode
	seen   map[*snapshot.DOMNode]struct{}
}

func buildMirror(dom *snapshot.DOMState) *mirror {
	m := &mirror{
		byHTML: make(map[*html.Node]*snapshot.DOMNode),
		seen:   make(map[*snapshot.DOMNode]struct{}),
	}
	if root := m.node(dom.Root); root != nil {
		m.roots = append(m.roots, root)
	}
	for _, idx := range dom.SelectorIndexes() {
		if root := m.node(dom.SelectorMap[idx]); root != nil {
			m.roots = append(m.roots, root)
		}
	}
	return m
}

func (m *mirror) node(n *snapshot.DOMNode) *html.Node {
	if n == nil {
		return nil
	}
	if _, ok := m.seen[n]; ok {
		return nil
	}
	m.seen[n] = struct{}{}

	if n.IsText() {
		return &html.Node{Type: html.TextNode, Data: n.NodeValue}
	}
	h := &html.Node{Type: html.ElementNode, Data: strings.ToLower(n.TagName)}
	keys := make([]string, 0, len(n.Attributes))
	for k := range n.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Attr = append(h.Attr, html.Attribute{Key: k, Val: n.Attributes[k]})
	}
	m.byHTML[h] = n
	for _, c := range n.Children {
		if child := m.node(c); child != nil {
			h.AppendChild(child)
		}
	}
	for _, c := range n.ChildrenNodes {
		if child := m.node(c); child != nil {
			h.AppendChild(child)
		}
	}
	return h
}

// applyFieldMasks replaces the value attribute and direct text children of
// every element matching a mask selector. Only changed values are counted.
func applyFieldMasks(dom *snapshot.DOMState, masks map[string]string, logger *zap.Logger) Stats {
	stats := Stats{}
	if dom == nil || len(masks) == 0 {
		return stats
	}
	m := buildMirror(dom)

	sels := make([]string, 0, len(masks))
	for sel := range masks {
		sels = append(sels, sel)
	}
	sort.Strings(sels)

	for _, sel := range sels {
		compiled, ok := compileSelector(sel, logger)
		if !ok {
			continue
		}
		mask := masks[sel]
		for _, root := range m.roots {
			for _, h := range compiled.MatchAll(root) {
				if n, ok := m.byHTML[h]; ok {
					stats[fieldMaskStat] += maskNode(n, mask)
				}
			}
		}
	}
	if stats[fieldMaskStat] == 0 {
		delete(stats, fieldMaskStat)
	}
	return stats
}

func maskNode(n *snapshot.DOMNode, mask string) int {
	count := 0
	if v, ok := n.Attributes["value"]; ok && v != mask {
		n.Attributes["value"] = mask
		count++
	}
	for _, group := range [][]*snapshot.DOMNode{n.Children, n.ChildrenNodes} {
		for _, c := range group {
			if c != nil && c.IsText() && c.NodeValue != "" && c.NodeValue != mask {
				c.NodeValue = mask
				count++
			}
		}
	}
	return count
}
