package flow

import (
	"context"
	"encoding/json"
)

// QueryResult is the collaborator's answer for one iteration: the final
// structured JSON payload extracted from the message stream, plus the
// accumulated free text. The underlying stream is never exposed to the
// routing and gating logic.
type QueryResult struct {
	// Structured is the final structured JSON payload, or empty when the
	// collaborator produced none. An empty or malformed payload is treated
	// identically to a schema-resolution failure for gating purposes.
	Structured json.RawMessage

	// Text is the collaborator's plain text output, used by keyword
	// completion and summaries.
	Text string
}

// Collaborator is the external LLM-style boundary the engine drives. The
// engine awaits Query before any further state mutation; there is never a
// race between gate interpretation and the next query.
type Collaborator interface {
	// ResolvePrompt produces the prompt for a step, with the accumulated
	// handoff data in scope. Never returns an empty prompt.
	ResolvePrompt(stepID string, handoff map[string]any) (string, error)

	// Query sends a prompt and returns one parsed result. This is the only
	// suspension point in the iteration loop.
	Query(ctx context.Context, prompt string) (QueryResult, error)
}

// BoundaryHook is the external side-effecting action invoked exactly once,
// at the moment of terminal completion from a closure step. Hook failures
// are logged but never re-enter the flow loop.
type BoundaryHook interface {
	OnTerminal(ctx context.Context, stepID string, handoff map[string]any, reason string) error
}

// ScriptedResponse is one canned collaborator answer for [MockCollaborator].
type ScriptedResponse struct {
	Structured string
	Text       string
	Err        error
}

// MockCollaborator implements [Collaborator] with scripted responses for
// testing. Responses are consumed in order; the last one repeats once the
// script is exhausted.
type MockCollaborator struct {
	// Responses is the ordered script.
	Responses []ScriptedResponse

	// Prompts records every prompt passed to Query, in order.
	Prompts []string

	// ResolvedSteps records every step id passed to ResolvePrompt.
	ResolvedSteps []string

	// PromptErr, when set, is returned by ResolvePrompt.
	PromptErr error

	next int
}

// ResolvePrompt returns a synthetic prompt naming the step.
func (m *MockCollaborator) ResolvePrompt(stepID string, _ map[string]any) (string, error) {
	m.ResolvedSteps = append(m.ResolvedSteps, stepID)
	if m.PromptErr != nil {
		return "", m.PromptErr
	}
	return "prompt for " + stepID, nil
}

// Query returns the next scripted response.
func (m *MockCollaborator) Query(_ context.Context, prompt string) (QueryResult, error) {
	m.Prompts = append(m.Prompts, prompt)
	if len(m.Responses) == 0 {
		return QueryResult{}, nil
	}
	idx := m.next
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.next++
	}
	r := m.Responses[idx]
	if r.Err != nil {
		return QueryResult{}, r.Err
	}
	return QueryResult{Structured: json.RawMessage(r.Structured), Text: r.Text}, nil
}

// MockHook implements [BoundaryHook] for testing, recording invocations.
type MockHook struct {
	// Invocations counts OnTerminal calls.
	Invocations int

	// StepID and Reason hold the arguments of the last invocation.
	StepID string
	Reason string

	// Err, when set, is returned by OnTerminal.
	Err error
}

// OnTerminal records the invocation.
func (m *MockHook) OnTerminal(_ context.Context, stepID string, _ map[string]any, reason string) error {
	m.Invocations++
	m.StepID = stepID
	m.Reason = reason
	return m.Err
}
