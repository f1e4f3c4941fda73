// Package flow drives a workflow run: the strictly sequential iteration
// loop that queries the collaborator, gates its structured output, routes
// the resulting intent, and terminates under one of the completion
// strategies.
//
// One run owns one [State]; the loop is single-threaded and the only
// suspension point is the collaborator query. Termination is guaranteed by
// three hard bounds even under an always-malformed collaborator: the global
// iteration budget, the two-strikes schema fail-fast, and the no-intent
// fatal check after iteration 1.
package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"stepflow/internal/completion"
	"stepflow/internal/gate"
	"stepflow/internal/registry"
	"stepflow/internal/router"
	"stepflow/internal/schemaref"
)

// Named abort codes. Run-time fatal errors carry one of these so operators
// can distinguish bad configuration from bad collaborator behavior.
const (
	CodeFailedSchemaResolution = "FAILED_SCHEMA_RESOLUTION"
	CodeNoIntentProduced       = "NO_INTENT_PRODUCED"
	CodeInvalidIntent          = "INVALID_INTENT"
	CodeCollaboratorFailure    = "COLLABORATOR_FAILURE"
)

// DefaultGlobalBudget bounds runs whose completion strategy carries no
// iteration budget of its own.
const DefaultGlobalBudget = 50

// AbortError is a fatal run-time failure. Every abort carries the step id
// and iteration number it occurred at.
type AbortError struct {
	// Code is one of the named abort codes.
	Code string

	// StepID is the step the run aborted at.
	StepID string

	// Iteration is the 1-based iteration number of the abort.
	Iteration int

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *AbortError) Error() string {
	return fmt.Sprintf("%s: step %s, iteration %d: %v", e.Code, e.StepID, e.Iteration, e.Err)
}

// Unwrap returns the underlying cause.
func (e *AbortError) Unwrap() error {
	return e.Err
}

// Outcome is the result of a run that terminated without aborting.
type Outcome struct {
	// State is the final flow state.
	State *State

	// Complete is the active completion handler's verdict.
	Complete bool

	// Reason is the handler's explanation of the verdict.
	Reason string

	// TerminalReached reports whether the router returned the terminal
	// signal (as opposed to the run exhausting its iteration budget).
	TerminalReached bool
}

// ProgressFunc is invoked before each iteration begins, with the 1-based
// iteration number and the step about to execute. Optional; used for
// terminal progress display.
type ProgressFunc func(iteration int, stepID string)

// signalTypePath is the dotted path at which collaborators report
// structured completion signals inside their JSON payload.
const signalTypePath = "completion_signal.type"

// Orchestrator composes the registry, schema resolver, gate, router, and
// completion handler into the iteration loop. One orchestrator serves one
// run; the registry it holds may be shared, everything else is exclusive.
type Orchestrator struct {
	registry       *registry.Registry
	resolver       *schemaref.Resolver
	collab         Collaborator
	hook           BoundaryHook
	handler        completion.Handler
	completionType string
	entryStep      string
	globalBudget   int
	progress       ProgressFunc
	logger         *zap.Logger
}

// Options configures an [Orchestrator].
type Options struct {
	// Registry is the validated step graph. Required.
	Registry *registry.Registry

	// Resolver is the schema resolver for this run. Required.
	Resolver *schemaref.Resolver

	// Collaborator is the external LLM boundary. Required.
	Collaborator Collaborator

	// Hook is invoked exactly once at terminal completion. Optional.
	Hook BoundaryHook

	// Handler is the active completion strategy. Required.
	Handler completion.Handler

	// CompletionType selects the entry step via the registry's entry step
	// mapping. Required.
	CompletionType string

	// EntryStep overrides the registry's entry step mapping when set. It
	// must name a step in the registry.
	EntryStep string

	// GlobalBudget is the hard iteration upper bound. Defaults to
	// [DefaultGlobalBudget] when zero.
	GlobalBudget int

	// Progress is an optional per-iteration callback.
	Progress ProgressFunc

	// Logger receives warnings and abort diagnostics. Optional.
	Logger *zap.Logger
}

// NewOrchestrator wires an orchestrator from its collaborators.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil || opts.Resolver == nil || opts.Collaborator == nil || opts.Handler == nil {
		return nil, registry.NewConfigurationError(
			"orchestrator requires a registry, resolver, collaborator, and completion handler")
	}
	budget := opts.GlobalBudget
	if budget <= 0 {
		budget = DefaultGlobalBudget
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry:       opts.Registry,
		resolver:       opts.Resolver,
		collab:         opts.Collaborator,
		hook:           opts.Hook,
		handler:        opts.Handler,
		completionType: opts.CompletionType,
		entryStep:      opts.EntryStep,
		globalBudget:   budget,
		progress:       opts.Progress,
		logger:         logger,
	}, nil
}

// Run executes the flow until the completion condition is met, the global
// budget is exhausted, or a fatal condition aborts the run.
//
// The boundary hook is invoked if and only if the router returns the
// terminal signal, which the registry invariants make reachable only from a
// closing intent on a closure step: no work or verification step can
// trigger the external completion side effect.
func (o *Orchestrator) Run(ctx context.Context) (*Outcome, error) {
	entry := o.entryStep
	if entry == "" {
		var err error
		entry, err = o.registry.EntryStep(o.completionType)
		if err != nil {
			return nil, err
		}
	} else if _, err := o.registry.Step(entry); err != nil {
		return nil, err
	}

	state := NewState(entry)
	var outputText strings.Builder
	var signals []string
	terminal := false

	o.logger.Info("flow run starting",
		zap.String("run_id", state.RunID),
		zap.String("entry_step", entry),
		zap.String("completion_type", o.completionType),
		zap.Int("global_budget", o.globalBudget))

	for state.Iteration < o.globalBudget {
		iteration := state.Iteration + 1
		step, err := o.registry.Step(state.CurrentStepID)
		if err != nil {
			return nil, err
		}
		if o.progress != nil {
			o.progress(iteration, step.StepID)
		}

		prompt, err := o.collab.ResolvePrompt(step.StepID, state.Handoff)
		if err != nil {
			return nil, o.abort(CodeCollaboratorFailure, step.StepID, iteration,
				fmt.Errorf("prompt resolution failed: %w", err))
		}
		if prompt == "" {
			return nil, o.abort(CodeCollaboratorFailure, step.StepID, iteration,
				errors.New("prompt resolution returned an empty prompt"))
		}

		out, err := o.collab.Query(ctx, prompt)
		if err != nil {
			return nil, o.abort(CodeCollaboratorFailure, step.StepID, iteration,
				fmt.Errorf("collaborator query failed: %w", err))
		}
		outputText.WriteString(out.Text)
		if sig := gjson.GetBytes(out.Structured, signalTypePath); sig.Exists() {
			signals = append(signals, sig.String())
		}

		// Schema resolution and structured-output presence share the same
		// two-strikes counter: first strike retries the step, second aborts.
		schema, err := o.resolver.Resolve(step)
		if err != nil {
			if fatal := o.checkStrike(err, step.StepID, iteration); fatal != nil {
				return nil, fatal
			}
			continue
		}
		if len(out.Structured) == 0 {
			err := o.resolver.ReportOutputFailure(step.StepID,
				errors.New("collaborator produced no structured output"))
			if fatal := o.checkStrike(err, step.StepID, iteration); fatal != nil {
				return nil, fatal
			}
			continue
		}
		violations, err := o.resolver.ValidateOutput(schema, out.Structured)
		if err != nil {
			err := o.resolver.ReportOutputFailure(step.StepID, err)
			if fatal := o.checkStrike(err, step.StepID, iteration); fatal != nil {
				return nil, fatal
			}
			continue
		}
		if len(violations) > 0 {
			err := o.resolver.ReportOutputFailure(step.StepID,
				fmt.Errorf("structured output violates schema: %s", violations[0].Message))
			if fatal := o.checkStrike(err, step.StepID, iteration); fatal != nil {
				return nil, fatal
			}
			continue
		}
		o.resolver.ResetFailures(step.StepID)

		gres, err := gate.Interpret(step, out.Structured)
		if err != nil {
			return nil, o.abort(CodeInvalidIntent, step.StepID, iteration, err)
		}
		if gres.NoIntent {
			if iteration > 1 {
				return nil, o.abort(CodeNoIntentProduced, step.StepID, iteration,
					fmt.Errorf("no intent produced at field %s", step.StructuredGate.IntentField))
			}
			// Startup tolerance window: the first iteration may omit the
			// intent; the step is retried and the iteration counted.
			o.logger.Warn("no intent produced on first iteration, retrying step",
				zap.String("run_id", state.RunID),
				zap.String("step", step.StepID))
			state.Iteration = iteration
			continue
		}

		decision, err := router.Route(step, gres.Intent)
		if err != nil {
			return nil, o.abort(CodeInvalidIntent, step.StepID, iteration, err)
		}

		state.MergeHandoff(gres.Handoff)
		state.Iteration = iteration

		if decision.Terminal {
			terminal = true
			o.invokeHook(ctx, step.StepID, state.Handoff, gres.Intent)
			break
		}
		state.CurrentStepID = decision.Next
	}

	obs := completion.Observation{
		Iteration:       state.Iteration,
		OutputText:      outputText.String(),
		Signals:         signals,
		TerminalReached: terminal,
		Handoff:         state.Handoff,
	}
	res, err := o.handler.Check(ctx, obs)
	if err != nil {
		return nil, fmt.Errorf("completion check failed: %w", err)
	}

	o.logger.Info("flow run finished",
		zap.String("run_id", state.RunID),
		zap.Int("iterations", state.Iteration),
		zap.Bool("terminal", terminal),
		zap.Bool("complete", res.Complete),
		zap.String("reason", res.Reason))

	return &Outcome{
		State:           state,
		Complete:        res.Complete,
		Reason:          res.Reason,
		TerminalReached: terminal,
	}, nil
}

// checkStrike classifies a resolver failure: nil for a recoverable first
// strike (the caller retries the step), or the abort error for a fatal
// second consecutive strike.
func (o *Orchestrator) checkStrike(err error, stepID string, iteration int) error {
	if errors.Is(err, schemaref.ErrFailedSchemaResolution) {
		return o.abort(CodeFailedSchemaResolution, stepID, iteration, err)
	}
	return nil
}

// abort logs and builds an [AbortError].
func (o *Orchestrator) abort(code, stepID string, iteration int, err error) *AbortError {
	o.logger.Error("flow run aborted",
		zap.String("code", code),
		zap.String("step", stepID),
		zap.Int("iteration", iteration),
		zap.Error(err))
	return &AbortError{Code: code, StepID: stepID, Iteration: iteration, Err: err}
}

// invokeHook runs the boundary hook exactly once, at terminal completion.
// Hook failure is logged only: the flow has already reached its terminal
// state and nothing re-enters the loop.
func (o *Orchestrator) invokeHook(ctx context.Context, stepID string, handoff map[string]any, reason string) {
	if o.hook == nil {
		return
	}
	if err := o.hook.OnTerminal(ctx, stepID, handoff, reason); err != nil {
		o.logger.Error("boundary hook failed",
			zap.String("step", stepID),
			zap.String("reason", reason),
			zap.Error(err))
	}
}
