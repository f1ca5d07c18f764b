// Package agent splices the privacy pipeline into a browser agent's step
// loop.
//
// The host agent exposes three hooks: a ContextSource that captures the
// browser state for a step, a MessageManager that turns that state into LLM
// messages, and read-only HostState. Interceptor wraps the ContextSource,
// filters each snapshot and, when anything was redacted, has the
// MessageManager rebuild the step's messages from the filtered copy.
package agent

import (
	"context"
	"time"

	"github.com/raaihank/browser-sentinel/pkg/privacy"
	"github.com/raaihank/browser-sentinel/pkg/snapshot"
)

// StepInfo identifies the step being prepared.
type StepInfo struct {
	StepNumber int `json:"step_number"`
	MaxSteps   int `json:"max_steps"`
}

// IsLastStep reports whether this is the final allowed step.
func (s *StepInfo) IsLastStep() bool {
	return s != nil && s.MaxSteps > 0 && s.StepNumber >= s.MaxSteps-1
}

// ModelOutput is the LLM's decision from the previous step.
type ModelOutput struct {
	Thinking               string           `json:"thinking,omitempty"`
	EvaluationPreviousGoal string           `json:"evaluation_previous_goal,omitempty"`
	Memory                 string           `json:"memory,omitempty"`
	NextGoal               string           `json:"next_goal,omitempty"`
	Actions                []map[string]any `json:"action,omitempty"`
}

// ActionResult is the outcome of one executed action.
type ActionResult struct {
	IsDone           bool   `json:"is_done,omitempty"`
	Success          *bool  `json:"success,omitempty"`
	Error            string `json:"error,omitempty"`
	ExtractedContent string `json:"extracted_content,omitempty"`
	IncludeInMemory  bool   `json:"include_in_memory,omitempty"`
}

// StateMessageInput carries everything the message manager needs to
// (re)build the state messages of a step.
type StateMessageInput struct {
	Snapshot           *snapshot.BrowserSnapshot
	ModelOutput        *ModelOutput
	Result             []ActionResult
	Step               *StepInfo
	UseVision          bool
	SensitiveData      map[string]string
	AvailableFilePaths []string
}

// ContextSource captures the browser state for a step. Implementations may
// also synthesize that step's LLM messages as a side effect.
type ContextSource interface {
	PrepareContext(ctx context.Context, step *StepInfo) (*snapshot.BrowserSnapshot, error)
}

// MessageManager rebuilds the state messages of the current step. A rebuild
// replaces whatever messages were synthesized earlier for the same step.
type MessageManager interface {
	RebuildStateMessages(ctx context.Context, in StateMessageInput) error
}

// HostState exposes the agent state the message manager reads.
type HostState interface {
	LastModelOutput() *ModelOutput
	LastResult() []ActionResult
	UseVision() bool
	SensitiveData() map[string]string
	AvailableFilePaths() []string
}

// StepRecord summarizes one intercepted step for observers. It never
// carries unfiltered content.
type StepRecord struct {
	ID              string        `json:"id"`
	Step            int           `json:"step"`
	Timestamp       time.Time     `json:"timestamp"`
	URL             string        `json:"url,omitempty"`
	Stats           privacy.Stats `json:"stats,omitempty"`
	WasFiltered     bool          `json:"was_filtered"`
	PrivacyEnabled  bool          `json:"privacy_enabled"`
	OriginalElapsed time.Duration `json:"original_elapsed"`
	FilterElapsed   time.Duration `json:"filter_elapsed"`
	TotalElapsed    time.Duration `json:"total_elapsed"`
	Error           string        `json:"error,omitempty"`
}

// Observer is notified after every intercepted step.
type Observer interface {
	ObserveStep(rec StepRecord)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(StepRecord)

// ObserveStep calls f.
func (f ObserverFunc) ObserveStep(rec StepRecord) { f(rec) }
