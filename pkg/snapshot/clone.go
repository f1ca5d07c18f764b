package snapshot

// Clone returns a structural copy of the snapshot. Containers are
// independent; a node shared between the tree and the selector map is
// shared in the copy as well.
func (s *BrowserSnapshot) Clone() *BrowserSnapshot {
	if s == nil {
		return nil
	}
	out := &BrowserSnapshot{
		URL:         s.URL,
		Title:       s.Title,
		Screenshot:  s.Screenshot,
		PixelsAbove: s.PixelsAbove,
		PixelsBelow: s.PixelsBelow,
	}
	if s.Tabs != nil {
		out.Tabs = make([]Tab, len(s.Tabs))
		copy(out.Tabs, s.Tabs)
	}
	if s.BrowserErrors != nil {
		out.BrowserErrors = append([]string(nil), s.BrowserErrors...)
	}
	out.DOMState = s.DOMState.Clone()
	return out
}

// Clone copies the DOM state, preserving node sharing inside the copy.
func (d *DOMState) Clone() *DOMState {
	if d == nil {
		return nil
	}
	c := &cloner{memo: make(map[*DOMNode]*DOMNode)}
	out := &DOMState{Root: c.node(d.Root)}
	if d.SelectorMap != nil {
		out.SelectorMap = make(map[int]*DOMNode, len(d.SelectorMap))
		for idx, n := range d.SelectorMap {
			out.SelectorMap[idx] = c.node(n)
		}
	}
	return out
}

type cloner struct {
	memo map[*DOMNode]*DOMNode
}

func (c *cloner) node(n *DOMNode) *DOMNode {
	if n == nil {
		return nil
	}
	if done, ok := c.memo[n]; ok {
		return done
	}
	out := &DOMNode{
		ID:        n.ID,
		NodeType:  n.NodeType,
		TagName:   n.TagName,
		NodeValue: n.NodeValue,
		IsVisible: n.IsVisible,
	}
	// Register before descending so cycles terminate.
	c.memo[n] = out
	if n.Attributes != nil {
		out.Attributes = make(map[string]string, len(n.Attributes))
		for k, v := range n.Attributes {
			out.Attributes[k] = v
		}
	}
	out.Children = c.nodes(n.Children)
	out.ChildrenNodes = c.nodes(n.ChildrenNodes)
	return out
}

func (c *cloner) nodes(in []*DOMNode) []*DOMNode {
	if in == nil {
		return nil
	}
	out := make([]*DOMNode, len(in))
	for i, n := range in {
		out[i] = c.node(n)
	}
	return out
}
