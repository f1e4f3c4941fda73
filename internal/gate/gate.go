// Package gate interprets a collaborator's structured output against a
// step's structured gate.
//
// The interpreter is pure: it reads the intent value at the gate's dotted
// field path, normalizes it through a fixed alias table, checks membership
// in the step's allowed set, and extracts the declared handoff fields. It
// performs no I/O and mutates no shared state; everything it learns is in
// the returned [Result].
package gate

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"stepflow/internal/registry"
)

// intentAliases is the fixed normalization table applied to raw intent
// values before the allowed-set check. LLM collaborators phrase the same
// decision in many ways; the alias table folds the common spellings onto
// the canonical intent names.
var intentAliases = map[string]string{
	"continue": "next",
	"retry":    "repeat",
	"done":     "closing",
	"finished": "closing",
	"complete": "closing",
	"escalate": "abort",
	"abort":    "abort",
}

// Normalize maps a raw intent value onto its canonical intent name. Values
// without an alias are returned unchanged (lowercased and trimmed).
func Normalize(raw string) string {
	intent := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := intentAliases[intent]; ok {
		return canonical
	}
	return intent
}

// Result is the outcome of interpreting one structured output.
type Result struct {
	// Intent is the normalized intent, empty when NoIntent is set.
	Intent string

	// RawIntent is the value found at the intent field before
	// normalization. Preserved for diagnostics.
	RawIntent string

	// NoIntent is set when the intent field is absent from the output, or
	// when a non-fail-fast gate saw a value outside the allowed set. The
	// orchestrator decides whether this aborts based on the iteration.
	NoIntent bool

	// Handoff holds the extracted handoff field values, keyed by field
	// name. Only fields present in the output appear here.
	Handoff map[string]any
}

// InvalidIntentError reports a collaborator intent outside the step's
// allowed set on a fail-fast gate. This is fatal for the run.
type InvalidIntentError struct {
	StepID    string
	Intent    string
	RawIntent string
	Allowed   []string
}

// Error implements the error interface.
func (e *InvalidIntentError) Error() string {
	return fmt.Sprintf("step %s produced invalid intent %q (raw %q), allowed: %s",
		e.StepID, e.Intent, e.RawIntent, strings.Join(e.Allowed, ", "))
}

// Interpret extracts and validates the intent from a structured output.
//
// The intent is read at the gate's IntentField dotted path. An absent value
// yields a NoIntent result rather than an error; whether that is fatal
// depends on the iteration and is the orchestrator's call. A present value
// is normalized via [Normalize] and checked against the allowed set: an
// out-of-set value returns an [InvalidIntentError] when the gate is
// fail-fast, and a NoIntent result otherwise (there is no transition to
// route it to either way).
//
// On success the declared handoff fields are copied from the output into
// the result for propagation into the flow state.
func Interpret(step *registry.StepDefinition, output []byte) (Result, error) {
	g := step.StructuredGate

	value := gjson.GetBytes(output, g.IntentField)
	if !value.Exists() || value.Type == gjson.Null {
		return Result{NoIntent: true}, nil
	}

	raw := value.String()
	intent := Normalize(raw)

	if !g.HasIntent(intent) {
		if g.FailFast {
			return Result{}, &InvalidIntentError{
				StepID:    step.StepID,
				Intent:    intent,
				RawIntent: raw,
				Allowed:   g.AllowedIntents,
			}
		}
		return Result{RawIntent: raw, NoIntent: true}, nil
	}

	return Result{
		Intent:    intent,
		RawIntent: raw,
		Handoff:   extractHandoff(g.HandoffFields, output),
	}, nil
}

// extractHandoff copies the named fields from the structured output. Fields
// absent from the output are skipped, not zeroed.
func extractHandoff(fields []string, output []byte) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	handoff := make(map[string]any, len(fields))
	for _, field := range fields {
		v := gjson.GetBytes(output, field)
		if v.Exists() {
			handoff[field] = v.Value()
		}
	}
	if len(handoff) == 0 {
		return nil
	}
	return handoff
}
