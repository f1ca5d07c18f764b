package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/raaihank/browser-sentinel/pkg/agent"
	"github.com/raaihank/browser-sentinel/pkg/snapshot"
)

// Message is one rendered state message.
type Message struct {
	Step    int    `json:"step"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// renderedAttributes are the element attributes shown to the model.
var renderedAttributes = []string{"aria-label", "alt", "name", "placeholder", "role", "title", "type", "value"}

// PromptBuilder renders browser state into user messages. Rebuilding a
// step replaces that step's message, so rebuilds are idempotent.
type PromptBuilder struct {
	mu       sync.Mutex
	messages []Message
}

var _ agent.MessageManager = (*PromptBuilder)(nil)

// NewPromptBuilder returns an empty builder.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// RebuildStateMessages renders in and stores it as the message for its step.
func (b *PromptBuilder) RebuildStateMessages(_ context.Context, in agent.StateMessageInput) error {
	msg := Message{Step: stepOf(in.Step), Role: "user", Content: Render(in)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if n := len(b.messages); n > 0 && b.messages[n-1].Step == msg.Step {
		b.messages[n-1] = msg
		return nil
	}
	b.messages = append(b.messages, msg)
	return nil
}

// Messages returns every stored message in step order.
func (b *PromptBuilder) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.messages...)
}

// Current returns the latest message, if any.
func (b *PromptBuilder) Current() (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.messages) == 0 {
		return Message{}, false
	}
	return b.messages[len(b.messages)-1], true
}

// Render formats the browser state the way it is shown to the model.
func Render(in agent.StateMessageInput) string {
	var sb strings.Builder

	if in.Step != nil {
		fmt.Fprintf(&sb, "Step %d", in.Step.StepNumber+1)
		if in.Step.MaxSteps > 0 {
			fmt.Fprintf(&sb, " of %d", in.Step.MaxSteps)
		}
		sb.WriteString("\n")
		if in.Step.IsLastStep() {
			sb.WriteString("This is the last step: finish the task or report what is left.\n")
		}
	}

	if out := in.ModelOutput; out != nil && out.NextGoal != "" {
		fmt.Fprintf(&sb, "Previous goal: %s\n", out.NextGoal)
	}
	for _, r := range in.Result {
		switch {
		case r.Error != "":
			fmt.Fprintf(&sb, "Action error: %s\n", r.Error)
		case r.ExtractedContent != "":
			fmt.Fprintf(&sb, "Action result: %s\n", r.ExtractedContent)
		}
	}

	s := in.Snapshot
	if s == nil {
		sb.WriteString("Current page: (unavailable)\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "Current url: %s\nPage title: %s\n", s.URL, s.Title)

	if len(s.Tabs) > 0 {
		sb.WriteString("Open tabs:\n")
		for i, tab := range s.Tabs {
			fmt.Fprintf(&sb, "  %d: %s (%s)\n", i, tab.Title, tab.URL)
		}
	}

	sb.WriteString("Interactive elements:\n")
	if s.DOMState == nil || len(s.DOMState.SelectorMap) == 0 {
		sb.WriteString("  (none)\n")
	} else {
		for _, idx := range s.DOMState.SelectorIndexes() {
			if n := s.DOMState.SelectorMap[idx]; n != nil {
				fmt.Fprintf(&sb, "  [%d]%s\n", idx, renderElement(n))
			}
		}
	}

	if s.PixelsBelow > 0 {
		fmt.Fprintf(&sb, "... %d pixels below ...\n", s.PixelsBelow)
	}
	for _, e := range s.BrowserErrors {
		fmt.Fprintf(&sb, "Browser error: %s\n", e)
	}

	if len(in.SensitiveData) > 0 {
		keys := make([]string, 0, len(in.SensitiveData))
		for k := range in.SensitiveData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(&sb, "Secrets available as placeholders: %s\n", strings.Join(keys, ", "))
	}
	if len(in.AvailableFilePaths) > 0 {
		fmt.Fprintf(&sb, "Available files: %s\n", strings.Join(in.AvailableFilePaths, ", "))
	}
	if in.UseVision && s.Screenshot != "" {
		sb.WriteString("Screenshot attached.\n")
	}
	return sb.String()
}

func renderElement(n *snapshot.DOMNode) string {
	var sb strings.Builder
	tag := n.TagName
	if tag == "" {
		tag = "element"
	}
	sb.WriteString("<" + tag)
	for _, attr := range renderedAttributes {
		if v, ok := n.Attributes[attr]; ok && v != "" {
			fmt.Fprintf(&sb, " %s=%q", attr, v)
		}
	}
	sb.WriteString(">")
	sb.WriteString(directText(n))
	sb.WriteString("</" + tag + ">")
	return sb.String()
}

func directText(n *snapshot.DOMNode) string {
	var parts []string
	seen := make(map[*snapshot.DOMNode]bool)
	for _, children := range [][]*snapshot.DOMNode{n.Children, n.ChildrenNodes} {
		for _, c := range children {
			if c != nil && c.IsText() && !seen[c] {
				seen[c] = true
				if t := strings.TrimSpace(c.NodeValue); t != "" {
					parts = append(parts, t)
				}
			}
		}
	}
	return strings.Join(parts, " ")
}

func stepOf(step *agent.StepInfo) int {
	if step == nil {
		return 0
	}
	return step.StepNumber
}
