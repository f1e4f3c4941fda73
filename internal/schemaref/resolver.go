// Package schemaref resolves the JSON Schema definitions that constrain each
// step's structured output.
//
// Schemas live in *.schema.json files containing a definitions map keyed by
// step id, referenced from the registry via JSON Pointer
// (#/definitions/<stepId>) or a bare definition name. The resolver compiles
// and caches schemas per step, and owns the per-step consecutive-failure
// counter that backs the engine's two-strikes fail-fast policy.
//
// Failure policy:
//   - The first failure at a step is recoverable: the resolver returns an
//     error wrapping [ErrStructuredOutputUnavailable] and the step is retried
//     on the next iteration without a transition.
//   - A second consecutive failure at the same step (no intervening success)
//     is fatal: the resolver returns an error wrapping
//     [ErrFailedSchemaResolution] and the run must abort. This prevents
//     infinite loops caused by a permanently broken schema reference or a
//     collaborator that never produces usable structured output.
//   - Only a full end-to-end success clears the counter, via
//     [Resolver.ResetFailures]. Resolution succeeding on its own is not a
//     success: the payload may still be absent or schema-violating, and
//     those failures must accumulate against the same counter.
//
// A Resolver is exclusively owned by one run and is not safe for concurrent
// use; each run creates its own.
package schemaref

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"stepflow/internal/registry"
)

// Sentinel errors for schema resolution outcomes.
var (
	// ErrStructuredOutputUnavailable marks a recoverable resolution failure.
	// The current step is retried on the next iteration.
	ErrStructuredOutputUnavailable = errors.New("structured output unavailable")

	// ErrFailedSchemaResolution marks the second consecutive resolution
	// failure at the same step. The run must abort immediately.
	ErrFailedSchemaResolution = errors.New("FAILED_SCHEMA_RESOLUTION")
)

// MaxConsecutiveFailures is the number of consecutive failures at one step
// that escalates from a retry to a fatal abort.
const MaxConsecutiveFailures = 2

// Violation is a single schema validation finding for a candidate output.
type Violation struct {
	// Path is the JSON Pointer to the offending instance location.
	Path string

	// Message describes the violation.
	Message string
}

// Resolver loads schema files, resolves step schema references, and tracks
// per-step consecutive failures.
//
// Create with [NewResolver]. The resolver caches parsed schema documents by
// file path (via the underlying compiler) and compiled schemas by step id.
type Resolver struct {
	baseDir  string
	compiler *jsonschema.Compiler
	schemas  map[string]*jsonschema.Schema
	failures map[string]int
	logger   *zap.Logger
}

// NewResolver creates a [Resolver] that resolves relative schema file paths
// against baseDir (typically the registry file's directory). A nil logger
// disables warning output.
func NewResolver(baseDir string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		baseDir:  baseDir,
		compiler: jsonschema.NewCompiler(),
		schemas:  make(map[string]*jsonschema.Schema),
		failures: make(map[string]int),
		logger:   logger,
	}
}

// Resolve returns the compiled schema node for a step's outputSchemaRef.
//
// On failure the step's counter increments and the returned error wraps
// [ErrStructuredOutputUnavailable] (first strike) or
// [ErrFailedSchemaResolution] (second consecutive strike). Success leaves
// the counter untouched: a pending strike from an earlier output failure
// must survive until [Resolver.ResetFailures] records an end-to-end
// success, or the next output failure could never escalate.
func (r *Resolver) Resolve(step *registry.StepDefinition) (*jsonschema.Schema, error) {
	if sch, ok := r.schemas[step.StepID]; ok {
		return sch, nil
	}

	location := r.location(step)
	sch, err := r.compiler.Compile(location)
	if err != nil {
		return nil, r.recordFailure(step.StepID,
			fmt.Errorf("cannot resolve schema %s: %w", location, err))
	}

	r.schemas[step.StepID] = sch
	return sch, nil
}

// ReportOutputFailure records an externally observed structured-output
// failure (absent or malformed collaborator JSON) against the same per-step
// counter used by [Resolver.Resolve], and returns the escalation error.
//
// The engine treats a missing payload identically to a schema-resolution
// failure for gating purposes.
func (r *Resolver) ReportOutputFailure(stepID string, cause error) error {
	return r.recordFailure(stepID, cause)
}

// ResetFailures clears the consecutive-failure counter for a step. Called on
// any successful end-to-end resolution of structured output.
func (r *Resolver) ResetFailures(stepID string) {
	r.failures[stepID] = 0
}

// FailureCount returns the current consecutive-failure count for a step.
func (r *Resolver) FailureCount(stepID string) int {
	return r.failures[stepID]
}

// recordFailure increments the step's counter and classifies the failure as
// recoverable (first strike) or fatal (second consecutive strike).
func (r *Resolver) recordFailure(stepID string, cause error) error {
	r.failures[stepID]++
	count := r.failures[stepID]

	if count < MaxConsecutiveFailures {
		r.logger.Warn("schema resolution failed, will retry step",
			zap.String("step", stepID),
			zap.Int("consecutive_failures", count),
			zap.Error(cause))
		return fmt.Errorf("%w: step %s: %v", ErrStructuredOutputUnavailable, stepID, cause)
	}

	return fmt.Errorf("%w: step %s failed schema resolution %d consecutive times: %v",
		ErrFailedSchemaResolution, stepID, count, cause)
}

// location builds the compiler URL for a step's schema reference, resolving
// relative files against the resolver base directory and normalizing bare
// definition names to #/definitions pointers.
func (r *Resolver) location(step *registry.StepDefinition) string {
	ref := step.OutputSchemaRef
	file := ref.File
	if !filepath.IsAbs(file) {
		file = filepath.Join(r.baseDir, file)
	}

	pointer := ref.Schema
	if !strings.HasPrefix(pointer, "#") {
		// Bare definition name; validation already warned about the format.
		pointer = "#/definitions/" + pointer
	}

	return file + pointer
}

// ValidateOutput validates a candidate structured-output payload against a
// resolved schema node.
//
// Returns the list of violations when the payload is valid JSON but fails
// the schema, an empty list when it conforms, and an error when the payload
// is not parseable JSON at all.
func (r *Resolver) ValidateOutput(sch *jsonschema.Schema, payload []byte) ([]Violation, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("structured output is not valid JSON: %w", err)
	}

	err = sch.Validate(inst)
	if err == nil {
		return nil, nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, err
	}
	return collectViolations(ve, nil), nil
}

// collectViolations flattens a validation error tree into leaf violations.
func collectViolations(ve *jsonschema.ValidationError, acc []Violation) []Violation {
	if len(ve.Causes) == 0 {
		return append(acc, Violation{
			Path:    "/" + strings.Join(ve.InstanceLocation, "/"),
			Message: ve.Error(),
		})
	}
	for _, cause := range ve.Causes {
		acc = collectViolations(cause, acc)
	}
	return acc
}
