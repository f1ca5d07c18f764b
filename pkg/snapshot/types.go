// Package snapshot models the per-step browser state handed to the LLM.
//
// A snapshot is a plain value: the capture layer fills it, the privacy
// pipeline rewrites string leaves in place, and the host renders it into a
// prompt. DOM nodes are shared by pointer between the tree and the selector
// map, so node identity is pointer identity.
package snapshot

import "sort"

// NodeType mirrors the DOM nodeType values the pipeline cares about.
type NodeType int

const (
	ElementNode NodeType = 1
	TextNode    NodeType = 3
)

// DOMNode is one node of the serialized DOM tree.
type DOMNode struct {
	// ID is the backend node id. It is the stable identifier used to relink
	// selector map entries to tree nodes after decoding.
	ID         int               `json:"id,omitempty"`
	NodeType   NodeType          `json:"node_type,omitempty"`
	TagName    string            `json:"tag_name,omitempty"`
	NodeValue  string            `json:"node_value,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	IsVisible  bool              `json:"is_visible,omitempty"`

	Children      []*DOMNode `json:"children,omitempty"`
	ChildrenNodes []*DOMNode `json:"children_nodes,omitempty"`
}

// IsText reports whether the node carries text content.
func (n *DOMNode) IsText() bool {
	return n.NodeType == TextNode || n.TagName == "#text"
}

// DOMState is the serialized DOM: a tree plus the index of interactive nodes.
type DOMState struct {
	Root        *DOMNode         `json:"root,omitempty"`
	SelectorMap map[int]*DOMNode `json:"selector_map,omitempty"`
}

// Tab describes one open browser tab.
type Tab struct {
	TargetID       string `json:"target_id,omitempty"`
	ParentTargetID string `json:"parent_target_id,omitempty"`
	URL            string `json:"url"`
	Title          string `json:"title"`
}

// BrowserSnapshot is the structured description of what the browser shows.
type BrowserSnapshot struct {
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Tabs          []Tab     `json:"tabs,omitempty"`
	DOMState      *DOMState `json:"dom_state,omitempty"`
	Screenshot    string    `json:"screenshot,omitempty"`
	PixelsAbove   int       `json:"pixels_above,omitempty"`
	PixelsBelow   int       `json:"pixels_below,omitempty"`
	BrowserErrors []string  `json:"browser_errors,omitempty"`
}

// SelectorIndexes returns the selector map keys in ascending order.
func (d *DOMState) SelectorIndexes() []int {
	if d == nil {
		return nil
	}
	keys := make([]int, 0, len(d.SelectorMap))
	for k := range d.SelectorMap {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Visit calls fn once for every distinct node reachable from the root and
// then from the selector map (in ascending index order). Nodes reached
// through more than one container, or through a cycle, are visited once.
func (d *DOMState) Visit(fn func(*DOMNode)) {
	if d == nil {
		return
	}
	seen := make(map[*DOMNode]struct{})
	var walk func(n *DOMNode)
	walk = func(n *DOMNode) {
		if n == nil {
			return
		}
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		fn(n)
		for _, c := range n.Children {
			walk(c)
		}
		for _, c := range n.ChildrenNodes {
			walk(c)
		}
	}
	walk(d.Root)
	for _, idx := range d.SelectorIndexes() {
		walk(d.SelectorMap[idx])
	}
}

// CountNodes returns the number of distinct nodes Visit would reach.
func (d *DOMState) CountNodes() int {
	n := 0
	d.Visit(func(*DOMNode) { n++ })
	return n
}
