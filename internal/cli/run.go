package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stepflow/internal/claude"
	"stepflow/internal/completion"
	"stepflow/internal/flow"
	"stepflow/internal/registry"
	"stepflow/internal/schemaref"
	"stepflow/internal/statefile"
)

func newRunCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run [resource-id]",
		Short: "Run a flow to completion",
		Long: `Run a flow: iterate prompt, structured-output validation, and intent
routing until the completion condition reports done or the flow aborts.

The optional resource-id names the external resource this run operates on
(e.g. an issue key). It is used for the run banner and, for externalState
completion, as the resource whose state the boundary hook updates.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resourceID := ""
			if len(args) > 0 {
				resourceID = args[0]
			}
			return app.runFlow(cmd.Context(), resourceID)
		},
	}
}

func (a *App) runFlow(ctx context.Context, resourceID string) error {
	cfg := a.Config
	formatter := a.formatter()

	resolvedType, err := cfg.Completion.ResolvedType()
	if err != nil {
		fmt.Fprintf(a.Out, "Configuration error: %v\n", err)
		return commandFailed(err)
	}
	if err := cfg.Completion.Validate(); err != nil {
		fmt.Fprintf(a.Out, "Configuration error: %v\n", err)
		return commandFailed(err)
	}

	reg, err := a.loadRegistry(string(resolvedType))
	if err != nil {
		fmt.Fprintf(a.Out, "Registry error: %v\n", err)
		return commandFailed(err)
	}
	for _, warning := range reg.Warnings {
		fmt.Fprintf(a.Out, "Warning: %s\n", warning)
	}

	collab, err := a.collaborator(reg, func(e claude.Event) { formatter.Event(e) })
	if err != nil {
		fmt.Fprintf(a.Out, "Configuration error: %v\n", err)
		return commandFailed(err)
	}

	handler, err := completion.New(cfg.Completion, completion.Deps{
		Observer: a.stateObserver(),
	})
	if err != nil {
		fmt.Fprintf(a.Out, "Configuration error: %v\n", err)
		return commandFailed(err)
	}

	budget := cfg.Completion.GlobalBudget(cfg.MaxIterations)

	entryStep := cfg.Completion.EntryStep
	if entryStep == "" {
		entryStep, err = reg.EntryStep(string(resolvedType))
		if err != nil {
			fmt.Fprintf(a.Out, "Registry error: %v\n", err)
			return commandFailed(err)
		}
	}
	flowID := resourceID
	if flowID == "" {
		flowID = reg.AgentID
	}
	formatter.RunBanner(flowID, string(resolvedType), entryStep)

	orch, err := flow.NewOrchestrator(flow.Options{
		Registry:       reg,
		Resolver:       schemaref.NewResolver(a.schemaBaseDir(), a.Logger),
		Collaborator:   collab,
		Hook:           a.boundaryHook(resourceID),
		Handler:        handler,
		CompletionType: string(resolvedType),
		EntryStep:      cfg.Completion.EntryStep,
		GlobalBudget:   budget,
		Progress: func(iteration int, stepID string) {
			formatter.StepStart(iteration, budget, stepID)
		},
		Logger: a.Logger,
	})
	if err != nil {
		fmt.Fprintf(a.Out, "Configuration error: %v\n", err)
		return commandFailed(err)
	}

	start := time.Now()
	outcome, err := orch.Run(ctx)
	if err != nil {
		var abortErr *flow.AbortError
		if errors.As(err, &abortErr) {
			formatter.Abort(flowID, abortErr.Code, abortErr.StepID, abortErr.Iteration, abortErr.Err)
			return commandFailed(err)
		}
		if registry.IsConfigurationError(err) {
			fmt.Fprintf(a.Out, "Configuration error: %v\n", err)
			return commandFailed(err)
		}
		fmt.Fprintf(a.Out, "Flow failed: %v\n", err)
		return commandFailed(err)
	}

	if !outcome.Complete {
		formatter.Incomplete(flowID, outcome.State.Iteration, time.Since(start))
		return flowIncomplete()
	}

	formatter.Success(flowID, outcome.Reason, outcome.State.Iteration, time.Since(start))
	return nil
}

// stateObserver returns the injected observer or a file-backed one.
func (a *App) stateObserver() completion.StateObserver {
	if a.Observer != nil {
		return a.Observer
	}
	return statefile.NewObserver(statefile.NewReaderWithPath("", a.Config.StatePath))
}

// boundaryHook returns the injected hook, or a state file hook when the
// completion config names a target state for an external resource.
func (a *App) boundaryHook(resourceID string) flow.BoundaryHook {
	if a.Hook != nil {
		return a.Hook
	}

	resource := resourceID
	if resource == "" {
		resource = a.Config.Completion.ResourceType
	}
	if resource == "" || a.Config.Completion.TargetState == "" {
		return nil
	}

	writer := statefile.NewWriterWithPath("", a.Config.StatePath)
	return statefile.NewHook(writer, resource, a.Config.Completion.TargetState)
}
