package privacy

import (
	"github.com/raaihank/browser-sentinel/pkg/snapshot"
	"go.uber.org/goleak"
)

// regexp2 keeps a package clock goroutine alive while match timeouts are
// pending.
var ignoreRegexClock = goleak.IgnoreAnyFunction("github.com/dlclark/regexp2.runClock")

// configWith returns the passthrough config with the named patterns enabled.
func configWith(names ...string) *Config {
	cfg := DefaultConfig()
	for _, n := range names {
		cfg.SetPatternEnabled(n, true)
	}
	return cfg
}

func textNode(id int, value string) *snapshot.DOMNode {
	return &snapshot.DOMNode{ID: id, NodeType: snapshot.TextNode, TagName: "#text", NodeValue: value}
}

func element(id int, tag string, attrs map[string]string, children ...*snapshot.DOMNode) *snapshot.DOMNode {
	return &snapshot.DOMNode{
		ID:         id,
		NodeType:   snapshot.ElementNode,
		TagName:    tag,
		Attributes: attrs,
		Children:   children,
	}
}

// pageWithText builds a snapshot whose DOM holds a single text node.
func pageWithText(url, text string) *snapshot.BrowserSnapshot {
	return &snapshot.BrowserSnapshot{
		URL:   url,
		Title: "Page",
		DOMState: &snapshot.DOMState{
			Root: element(1, "body", nil, element(2, "p", nil, textNode(3, text))),
		},
	}
}

func textOf(s *snapshot.BrowserSnapshot) string {
	return s.DOMState.Root.Children[0].Children[0].NodeValue
}
