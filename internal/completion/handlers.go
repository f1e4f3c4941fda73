package completion

import (
	"context"
	"fmt"
	"strings"

	"stepflow/internal/registry"
)

// Result is one completion check outcome.
type Result struct {
	// Complete reports whether the run's completion condition is met.
	Complete bool

	// Reason explains the verdict for operators and summaries.
	Reason string
}

// Observation is the run state a handler inspects during a check. The
// orchestrator assembles one per check; handlers never reach into the flow
// loop directly.
type Observation struct {
	// Iteration is the number of completed iterations.
	Iteration int

	// OutputText is the collaborator's accumulated text output.
	OutputText string

	// Signals lists the structured signal types observed so far.
	Signals []string

	// TerminalReached reports that the router returned the terminal signal.
	TerminalReached bool

	// Handoff is the accumulated handoff data for the run.
	Handoff map[string]any
}

// HasSignal reports whether a signal of the given type was observed.
func (o Observation) HasSignal(signalType string) bool {
	for _, s := range o.Signals {
		if s == signalType {
			return true
		}
	}
	return false
}

// Handler answers "are we done?" for one completion strategy.
type Handler interface {
	// Type returns the handler's canonical completion type.
	Type() Type

	// Check evaluates the completion condition against the observation.
	Check(ctx context.Context, obs Observation) (Result, error)
}

// StateObserver polls the current state of an external resource on behalf
// of the externalState strategy. Implementations query issues, projects,
// state files, or APIs; the handler only compares the returned state string.
type StateObserver interface {
	ObserveState(ctx context.Context, resourceType string) (string, error)
}

// HandlerRunner executes an external custom completion handler. The engine
// treats the handler as opaque: it supplies the observation and accepts the
// verdict.
type HandlerRunner interface {
	Run(ctx context.Context, handlerPath string, obs Observation) (Result, error)
}

// Deps carries the boundary collaborators handlers may need. Only the
// strategies that use a dependency require it to be set.
type Deps struct {
	// Observer backs externalState checks. Required for that type.
	Observer StateObserver

	// Runner executes custom handlers. Defaults to [ExecRunner].
	Runner HandlerRunner
}

// New builds the handler for a completion config, validating it first.
// Alias resolution, validation, and dependency checks all happen here, at
// load time; Check never sees an invalid configuration.
func New(cfg Config, deps Deps) (Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t, err := cfg.ResolvedType()
	if err != nil {
		return nil, err
	}

	switch t {
	case TypeIterationBudget:
		return &iterationBudgetHandler{max: cfg.MaxIterations}, nil
	case TypeCheckBudget:
		return &checkBudgetHandler{max: cfg.MaxChecks}, nil
	case TypeKeywordSignal:
		return &keywordSignalHandler{keyword: cfg.CompletionKeyword}, nil
	case TypeStructuredSignal:
		return &structuredSignalHandler{signalType: cfg.SignalType}, nil
	case TypeExternalState:
		if deps.Observer == nil {
			return nil, registry.NewConfigurationError(
				"externalState completion requires a state observer")
		}
		return &externalStateHandler{
			resourceType: cfg.ResourceType,
			targetState:  cfg.TargetState,
			observer:     deps.Observer,
		}, nil
	case TypeStepMachine:
		return &stepMachineHandler{}, nil
	case TypeComposite:
		children := make([]Handler, len(cfg.Conditions))
		for i, child := range cfg.Conditions {
			h, err := New(child, deps)
			if err != nil {
				return nil, err
			}
			children[i] = h
		}
		return &compositeHandler{operator: cfg.Operator, children: children}, nil
	case TypeCustom:
		runner := deps.Runner
		if runner == nil {
			runner = ExecRunner{}
		}
		return &customHandler{handlerPath: cfg.HandlerPath, runner: runner}, nil
	}

	return nil, registry.NewConfigurationError(fmt.Sprintf("unhandled completion type %q", t))
}

// iterationBudgetHandler completes once the iteration count reaches the
// configured budget.
type iterationBudgetHandler struct {
	max int
}

func (h *iterationBudgetHandler) Type() Type { return TypeIterationBudget }

func (h *iterationBudgetHandler) Check(_ context.Context, obs Observation) (Result, error) {
	if obs.Iteration >= h.max {
		return Result{Complete: true, Reason: fmt.Sprintf("reached iteration budget (%d)", h.max)}, nil
	}
	return Result{Reason: fmt.Sprintf("iteration %d of %d", obs.Iteration, h.max)}, nil
}

// checkBudgetHandler completes after a fixed number of completion checks.
// It counts its own invocations, which is the monitoring semantics: one
// check per observation cycle.
type checkBudgetHandler struct {
	max    int
	checks int
}

func (h *checkBudgetHandler) Type() Type { return TypeCheckBudget }

func (h *checkBudgetHandler) Check(_ context.Context, _ Observation) (Result, error) {
	h.checks++
	if h.checks >= h.max {
		return Result{Complete: true, Reason: fmt.Sprintf("reached check budget (%d)", h.max)}, nil
	}
	return Result{Reason: fmt.Sprintf("check %d of %d", h.checks, h.max)}, nil
}

// keywordSignalHandler completes when the collaborator's output contains
// the configured keyword.
type keywordSignalHandler struct {
	keyword string
}

func (h *keywordSignalHandler) Type() Type { return TypeKeywordSignal }

func (h *keywordSignalHandler) Check(_ context.Context, obs Observation) (Result, error) {
	if strings.Contains(obs.OutputText, h.keyword) {
		return Result{Complete: true, Reason: fmt.Sprintf("completion keyword %q observed", h.keyword)}, nil
	}
	return Result{Reason: fmt.Sprintf("completion keyword %q not observed", h.keyword)}, nil
}

// structuredSignalHandler completes when a structured signal of the
// configured type was observed in the collaborator's output.
type structuredSignalHandler struct {
	signalType string
}

func (h *structuredSignalHandler) Type() Type { return TypeStructuredSignal }

func (h *structuredSignalHandler) Check(_ context.Context, obs Observation) (Result, error) {
	if obs.HasSignal(h.signalType) {
		return Result{Complete: true, Reason: fmt.Sprintf("signal %q observed", h.signalType)}, nil
	}
	return Result{Reason: fmt.Sprintf("signal %q not observed", h.signalType)}, nil
}

// externalStateHandler completes when the polled external resource reaches
// the configured target state.
type externalStateHandler struct {
	resourceType string
	targetState  string
	observer     StateObserver
}

func (h *externalStateHandler) Type() Type { return TypeExternalState }

func (h *externalStateHandler) Check(ctx context.Context, _ Observation) (Result, error) {
	state, err := h.observer.ObserveState(ctx, h.resourceType)
	if err != nil {
		return Result{}, fmt.Errorf("failed to observe %s state: %w", h.resourceType, err)
	}
	if state == h.targetState {
		return Result{Complete: true, Reason: fmt.Sprintf("%s reached state %q", h.resourceType, h.targetState)}, nil
	}
	return Result{Reason: fmt.Sprintf("%s is %q, waiting for %q", h.resourceType, state, h.targetState)}, nil
}

// stepMachineHandler completes exactly when the workflow router returned
// the terminal signal.
type stepMachineHandler struct{}

func (h *stepMachineHandler) Type() Type { return TypeStepMachine }

func (h *stepMachineHandler) Check(_ context.Context, obs Observation) (Result, error) {
	if obs.TerminalReached {
		return Result{Complete: true, Reason: "step machine reached terminal signal"}, nil
	}
	return Result{Reason: "step machine has not reached terminal signal"}, nil
}

// compositeHandler combines nested handler verdicts with and/or/first.
type compositeHandler struct {
	operator string
	children []Handler
}

func (h *compositeHandler) Type() Type { return TypeComposite }

func (h *compositeHandler) Check(ctx context.Context, obs Observation) (Result, error) {
	switch h.operator {
	case "and":
		reasons := make([]string, 0, len(h.children))
		for _, child := range h.children {
			res, err := child.Check(ctx, obs)
			if err != nil {
				return Result{}, err
			}
			if !res.Complete {
				return Result{Reason: res.Reason}, nil
			}
			reasons = append(reasons, res.Reason)
		}
		return Result{Complete: true, Reason: strings.Join(reasons, "; ")}, nil

	case "or", "first":
		// "or" and "first" both complete on the first satisfied condition;
		// "first" additionally stops evaluating once one condition decides,
		// which the in-order scan already provides.
		var last Result
		for _, child := range h.children {
			res, err := child.Check(ctx, obs)
			if err != nil {
				return Result{}, err
			}
			if res.Complete {
				return res, nil
			}
			last = res
		}
		return Result{Reason: last.Reason}, nil
	}

	// Unreachable: Validate restricts the operator set.
	return Result{}, fmt.Errorf("unknown composite operator %q", h.operator)
}

// customHandler delegates the verdict to an external handler resolved by
// path. The engine treats the handler as opaque.
type customHandler struct {
	handlerPath string
	runner      HandlerRunner
}

func (h *customHandler) Type() Type { return TypeCustom }

func (h *customHandler) Check(ctx context.Context, obs Observation) (Result, error) {
	return h.runner.Run(ctx, h.handlerPath, obs)
}
