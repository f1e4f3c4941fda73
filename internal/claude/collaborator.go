package claude

import (
	"context"
	"fmt"
	"strings"

	"stepflow/internal/flow"
)

// PromptResolver produces the prompt for a step. The prompt package's
// resolver implements this; the interface keeps the claude adapter free of
// template concerns.
type PromptResolver interface {
	Resolve(stepID string, handoff map[string]any) (string, error)
}

// Collaborator adapts the Claude CLI to the flow engine's collaborator
// boundary: prompt resolution on one side, a single awaited query returning
// one structured payload per iteration on the other. The underlying message
// stream is never exposed to routing or gating logic.
type Collaborator struct {
	executor Executor
	prompts  PromptResolver
	model    string

	// OnEvent, when set, receives every stream event as it arrives.
	// Used for terminal progress display; never affects the query
	// result.
	OnEvent func(Event)
}

// NewCollaborator wires a [Collaborator] from an executor and a prompt
// resolver. The model is optional.
func NewCollaborator(executor Executor, prompts PromptResolver, model string) *Collaborator {
	return &Collaborator{
		executor: executor,
		prompts:  prompts,
		model:    model,
	}
}

// ResolvePrompt delegates to the prompt resolver.
func (c *Collaborator) ResolvePrompt(stepID string, handoff map[string]any) (string, error) {
	return c.prompts.Resolve(stepID, handoff)
}

// Query runs one Claude session for the prompt and extracts the final
// structured JSON payload from the message stream. The result event's
// payload is preferred; the accumulated assistant text is the fallback.
func (c *Collaborator) Query(ctx context.Context, prompt string) (flow.QueryResult, error) {
	var text strings.Builder
	var resultText string

	handler := func(event Event) {
		if c.OnEvent != nil {
			c.OnEvent(event)
		}
		if event.IsText() {
			text.WriteString(event.Text)
			text.WriteString("\n")
		}
		if event.SessionComplete && event.ResultText != "" {
			resultText = event.ResultText
		}
	}

	exitCode, err := c.executor.Execute(ctx, prompt, handler, c.model)
	if err != nil {
		return flow.QueryResult{}, fmt.Errorf("claude execution failed: %w", err)
	}
	if exitCode != 0 {
		return flow.QueryResult{}, fmt.Errorf("claude exited with code %d", exitCode)
	}

	payload := ExtractStructuredPayload(resultText)
	if payload == nil {
		payload = ExtractStructuredPayload(text.String())
	}

	return flow.QueryResult{
		Structured: payload,
		Text:       text.String(),
	}, nil
}
