package snapshot

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Decode parses a JSON snapshot and relinks selector map entries to the
// tree nodes carrying the same ID.
func Decode(data []byte) (*BrowserSnapshot, error) {
	var s BrowserSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	s.DOMState.Relink()
	return &s, nil
}

// Encode renders the snapshot as indented JSON.
func Encode(s *BrowserSnapshot) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// Relink replaces selector map entries with the tree node of the same ID,
// restoring the shared identity that a JSON round trip loses. Entries with
// no ID, or whose ID is absent from the tree, are left as they are.
func (d *DOMState) Relink() {
	if d == nil || d.Root == nil || len(d.SelectorMap) == 0 {
		return
	}
	byID := make(map[int]*DOMNode)
	tree := &DOMState{Root: d.Root}
	tree.Visit(func(n *DOMNode) {
		if n.ID != 0 {
			if _, dup := byID[n.ID]; !dup {
				byID[n.ID] = n
			}
		}
	})
	for idx, n := range d.SelectorMap {
		if n == nil || n.ID == 0 {
			continue
		}
		if shared, ok := byID[n.ID]; ok {
			d.SelectorMap[idx] = shared
		}
	}
}
