// Package registry provides the immutable steps registry that describes a
// workflow step graph.
//
// A registry is loaded once from a steps_registry.json file, validated
// exhaustively, and then shared read-only across runs. It carries no
// behavior of its own: routing, gating, and completion checking all consume
// the registry but never mutate it.
//
// Key types:
//   - [Registry] - the validated top-level document
//   - [StepDefinition] - a single step in the graph
//   - [StructuredGate] - the per-step intent contract
//   - [ConfigurationError] - fatal load-time validation failure
//
// Load with [Load] for files or [Parse] for raw bytes. Both run the full
// validation pass; a registry that fails validation is never returned.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// StepKind classifies a step's role in the workflow graph.
type StepKind string

const (
	// StepKindWork marks initial and continuation steps that perform the
	// actual task.
	StepKindWork StepKind = "work"

	// StepKindVerification marks steps that review work output.
	StepKindVerification StepKind = "verification"

	// StepKindClosure marks steps that may end the flow. Only closure steps
	// are allowed to carry the closing intent.
	StepKindClosure StepKind = "closure"
)

// IsValid reports whether the kind is one of the three known step kinds.
func (k StepKind) IsValid() bool {
	switch k {
	case StepKindWork, StepKindVerification, StepKindClosure:
		return true
	}
	return false
}

// Well-known intent names used by the step-kind invariants.
const (
	// IntentClosing ends the flow. Only legal on closure steps.
	IntentClosing = "closing"

	// IntentRepeat re-runs the current step.
	IntentRepeat = "repeat"
)

// SchemaRef names the JSON Schema definition that constrains a step's
// structured output.
type SchemaRef struct {
	// File is the path to the *.schema.json file, relative to the registry
	// file's directory unless absolute.
	File string `json:"file"`

	// Schema is a JSON Pointer into the file (#/definitions/<stepId>) or a
	// bare definition name. Bare names are accepted but flagged as a format
	// warning; see [Options.StrictSchemaRefs].
	Schema string `json:"schema"`
}

// StructuredGate declares which intents a step may produce and where the
// intent value lives inside the collaborator's structured output.
type StructuredGate struct {
	// AllowedIntents is the closed set of intents this step may emit.
	// Must be non-empty and consistent with the step's kind.
	AllowedIntents []string `json:"allowedIntents"`

	// IntentField is the dotted path to the intent value inside the
	// collaborator's JSON output, e.g. "next_action.action".
	IntentField string `json:"intentField"`

	// IntentSchemaRef points at the enum node constraining the intent field.
	// Optional; used for defense-in-depth schema enforcement.
	IntentSchemaRef string `json:"intentSchemaRef,omitempty"`

	// FailFast aborts the run when the collaborator produces an intent
	// outside AllowedIntents. This is the recommended production setting.
	FailFast bool `json:"failFast"`

	// HandoffFields lists top-level field names carried forward from this
	// step's output into subsequent steps' context.
	HandoffFields []string `json:"handoffFields,omitempty"`
}

// HasIntent reports whether intent is in the gate's allowed set.
func (g *StructuredGate) HasIntent(intent string) bool {
	for _, a := range g.AllowedIntents {
		if a == intent {
			return true
		}
	}
	return false
}

// Transition describes where an intent leads.
type Transition struct {
	// Target is the next step id, or nil for the terminal signal. A nil
	// target is only reachable from a closing intent on a closure step,
	// which the load-time invariants guarantee.
	Target *string `json:"target"`
}

// StepDefinition is a single node in the workflow graph.
type StepDefinition struct {
	// StepID is the unique step identifier. Populated from the map key in
	// the steps document; if present in the JSON it must match the key.
	StepID string `json:"stepId,omitempty"`

	// StepKind is one of work, verification, or closure.
	StepKind StepKind `json:"stepKind"`

	// OutputSchemaRef names the schema constraining this step's output.
	OutputSchemaRef SchemaRef `json:"outputSchemaRef"`

	// StructuredGate is the intent contract for this step. Required.
	StructuredGate *StructuredGate `json:"structuredGate"`

	// Transitions maps each allowed intent to its destination. Required.
	// Keys must match AllowedIntents exactly (both directions).
	Transitions map[string]Transition `json:"transitions"`
}

// Registry is the validated, immutable steps document.
//
// A Registry may be shared by any number of concurrent runs; nothing in
// this package mutates it after [Load] returns.
type Registry struct {
	// AgentID identifies the agent this step graph belongs to.
	AgentID string `json:"agentId"`

	// Version is the registry document version string.
	Version string `json:"version"`

	// EntryStepMapping maps a completion type or execution mode to the step
	// id where a run begins.
	EntryStepMapping map[string]string `json:"entryStepMapping"`

	// PathTemplate locates prompt files for steps, e.g.
	// "prompts/{c1}/{c2}/{c3}.md". Consumed by the prompt resolver.
	PathTemplate string `json:"pathTemplate"`

	// Steps maps step id to definition. Keys are unique by construction;
	// insertion order is irrelevant.
	Steps map[string]*StepDefinition `json:"steps"`

	// Warnings collects non-fatal findings from validation, such as bare
	// schema names that are not JSON Pointers.
	Warnings []string `json:"-"`
}

// Step returns the definition for a step id.
func (r *Registry) Step(stepID string) (*StepDefinition, error) {
	step, ok := r.Steps[stepID]
	if !ok {
		return nil, NewConfigurationError(fmt.Sprintf("unknown step: %s", stepID))
	}
	return step, nil
}

// EntryStep resolves the entry step id for a completion type or execution
// mode. Returns a [ConfigurationError] when no entry is configured.
func (r *Registry) EntryStep(completionType string) (string, error) {
	stepID, ok := r.EntryStepMapping[completionType]
	if !ok {
		return "", NewConfigurationError(
			fmt.Sprintf("no entry step configured for completion type %s", completionType))
	}
	return stepID, nil
}

// StepIDs returns all step ids in sorted order. Useful for deterministic
// iteration in previews and tests.
func (r *Registry) StepIDs() []string {
	ids := make([]string, 0, len(r.Steps))
	for id := range r.Steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ConfigurationError is a fatal, non-retryable load-time failure.
//
// Execution never starts on a registry or completion config that produced
// a ConfigurationError; all such errors surface synchronously from the
// loader before the first iteration.
type ConfigurationError struct {
	msg string
}

// NewConfigurationError creates a [ConfigurationError] with the given message.
func NewConfigurationError(msg string) *ConfigurationError {
	return &ConfigurationError{msg: msg}
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return e.msg
}

// IsConfigurationError reports whether err (or anything it wraps) is a
// [ConfigurationError]. Operators use this to distinguish "bad config" from
// run-time collaborator misbehavior.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// Options controls load-time validation behavior.
type Options struct {
	// CompletionType, when non-empty, requires EntryStepMapping to contain
	// an entry for it. Leave empty to defer the entry check to run start.
	CompletionType string

	// StrictSchemaRefs upgrades the bare-schema-name format warning to a
	// hard validation failure.
	StrictSchemaRefs bool
}

// Load reads and validates a steps registry from a JSON file.
func Load(path string, opts Options) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read steps registry: %w", err)
	}
	reg, err := Parse(data, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Parse validates a steps registry from raw JSON bytes.
//
// Validation is exhaustive and happens exactly once, here. A structurally
// incomplete registry never starts execution: the first error encountered is
// returned as a [ConfigurationError] and no registry is produced.
func Parse(data []byte, opts Options) (*Registry, error) {
	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, NewConfigurationError(fmt.Sprintf("malformed steps registry: %v", err))
	}
	if err := reg.validate(opts); err != nil {
		return nil, err
	}
	return &reg, nil
}

// validate runs the full load-time validation pass and fills in StepID
// fields and format warnings.
func (r *Registry) validate(opts Options) error {
	if len(r.Steps) == 0 {
		return NewConfigurationError("steps registry defines no steps")
	}

	if opts.CompletionType != "" {
		if _, err := r.EntryStep(opts.CompletionType); err != nil {
			return err
		}
	}

	// Every entry mapping target must exist.
	for mode, stepID := range r.EntryStepMapping {
		if _, ok := r.Steps[stepID]; !ok {
			return NewConfigurationError(
				fmt.Sprintf("entry step %s for %s does not exist", stepID, mode))
		}
	}

	for _, id := range r.StepIDs() {
		step := r.Steps[id]
		if step == nil {
			return NewConfigurationError(fmt.Sprintf("step %s has no definition", id))
		}
		if step.StepID == "" {
			step.StepID = id
		} else if step.StepID != id {
			return NewConfigurationError(
				fmt.Sprintf("step %s declares mismatched stepId %s", id, step.StepID))
		}
		if err := r.validateStep(step, opts); err != nil {
			return err
		}
	}

	return nil
}

func (r *Registry) validateStep(step *StepDefinition, opts Options) error {
	if !step.StepKind.IsValid() {
		return NewConfigurationError(
			fmt.Sprintf("step %s has unknown stepKind %q", step.StepID, step.StepKind))
	}

	// Both halves of the contract are required; a step with one but not the
	// other is rejected with the canonical message.
	if step.StructuredGate == nil || step.Transitions == nil {
		return NewConfigurationError(
			"Flow validation failed: all steps must define structuredGate and transitions")
	}

	gate := step.StructuredGate
	if len(gate.AllowedIntents) == 0 {
		return NewConfigurationError(
			fmt.Sprintf("step %s declares no allowed intents", step.StepID))
	}
	if gate.IntentField == "" {
		return NewConfigurationError(
			fmt.Sprintf("step %s declares no intentField", step.StepID))
	}

	seen := make(map[string]bool, len(gate.AllowedIntents))
	for _, intent := range gate.AllowedIntents {
		if seen[intent] {
			return NewConfigurationError(
				fmt.Sprintf("step %s lists intent %s twice", step.StepID, intent))
		}
		seen[intent] = true

		// Kind invariants: closure steps may only close or repeat; no other
		// kind may ever close. This is what makes it structurally impossible
		// for a work or verification step to end the flow.
		if step.StepKind == StepKindClosure {
			if intent != IntentClosing && intent != IntentRepeat {
				return NewConfigurationError(fmt.Sprintf(
					"closure step %s allows intent %s; closure steps may only allow closing or repeat",
					step.StepID, intent))
			}
		} else if intent == IntentClosing {
			return NewConfigurationError(fmt.Sprintf(
				"%s step %s must not allow the closing intent", step.StepKind, step.StepID))
		}
	}

	// Transitions and allowed intents must agree in both directions.
	for intent, tr := range step.Transitions {
		if !seen[intent] {
			return NewConfigurationError(fmt.Sprintf(
				"step %s defines a transition for intent %s that is not in allowedIntents",
				step.StepID, intent))
		}
		if tr.Target != nil {
			if _, ok := r.Steps[*tr.Target]; !ok {
				return NewConfigurationError(fmt.Sprintf(
					"step %s transition %s targets unknown step %s",
					step.StepID, intent, *tr.Target))
			}
		}
	}
	for _, intent := range gate.AllowedIntents {
		if _, ok := step.Transitions[intent]; !ok {
			return NewConfigurationError(fmt.Sprintf(
				"step %s allows intent %s but defines no transition for it",
				step.StepID, intent))
		}
	}

	return r.validateSchemaRef(step, opts)
}

// validateSchemaRef checks the outputSchemaRef format. A JSON Pointer of the
// form #/definitions/<id> is canonical; a bare definition name is tolerated
// with a warning unless strict mode is on.
func (r *Registry) validateSchemaRef(step *StepDefinition, opts Options) error {
	ref := step.OutputSchemaRef
	if ref.File == "" {
		return NewConfigurationError(
			fmt.Sprintf("step %s has no outputSchemaRef.file", step.StepID))
	}
	if ref.Schema == "" {
		return NewConfigurationError(
			fmt.Sprintf("step %s has no outputSchemaRef.schema", step.StepID))
	}
	if strings.HasPrefix(ref.Schema, "#/") {
		return nil
	}
	if strings.Contains(ref.Schema, "/") || strings.HasPrefix(ref.Schema, "#") {
		return NewConfigurationError(fmt.Sprintf(
			"step %s outputSchemaRef.schema %q is neither a #/definitions pointer nor a bare name",
			step.StepID, ref.Schema))
	}

	warning := fmt.Sprintf(
		"step %s outputSchemaRef.schema %q is a bare name; prefer #/definitions/%s",
		step.StepID, ref.Schema, ref.Schema)
	if opts.StrictSchemaRefs {
		return NewConfigurationError(warning)
	}
	r.Warnings = append(r.Warnings, warning)
	return nil
}
