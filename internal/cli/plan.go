package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"stepflow/internal/registry"
)

func newPlanCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Preview the step graph from the entry step",
		Long: `Walk the step graph reachable from the configured entry step and
print each step's intents and transition targets. No collaborator is
invoked; this is a dry run of the routing table.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.plan()
		},
	}
}

func (a *App) plan() error {
	resolvedType, err := a.Config.Completion.ResolvedType()
	if err != nil {
		fmt.Fprintf(a.Out, "Configuration error: %v\n", err)
		return commandFailed(err)
	}

	reg, err := a.loadRegistry(string(resolvedType))
	if err != nil {
		fmt.Fprintf(a.Out, "Registry error: %v\n", err)
		return commandFailed(err)
	}

	entryStep := a.Config.Completion.EntryStep
	if entryStep == "" {
		entryStep, err = reg.EntryStep(string(resolvedType))
		if err != nil {
			fmt.Fprintf(a.Out, "Registry error: %v\n", err)
			return commandFailed(err)
		}
	}

	fmt.Fprintf(a.Out, "Flow plan for %s (completion: %s)\n\n", reg.AgentID, resolvedType)

	visited := make(map[string]bool)
	queue := []string{entryStep}
	for len(queue) > 0 {
		stepID := queue[0]
		queue = queue[1:]
		if visited[stepID] {
			continue
		}
		visited[stepID] = true

		step, err := reg.Step(stepID)
		if err != nil {
			fmt.Fprintf(a.Out, "Registry error: %v\n", err)
			return commandFailed(err)
		}

		marker := ""
		if stepID == entryStep {
			marker = " (entry)"
		}
		fmt.Fprintf(a.Out, "%s [%s]%s\n", stepID, step.StepKind, marker)

		for _, intent := range sortedIntents(step) {
			transition := step.Transitions[intent]
			if transition.Target == nil {
				fmt.Fprintf(a.Out, "  %-10s ▸ (terminal)\n", intent)
				continue
			}
			fmt.Fprintf(a.Out, "  %-10s ▸ %s\n", intent, *transition.Target)
			queue = append(queue, *transition.Target)
		}
		fmt.Fprintln(a.Out)
	}

	return nil
}

func sortedIntents(step *registry.StepDefinition) []string {
	intents := make([]string, 0, len(step.Transitions))
	for intent := range step.Transitions {
		intents = append(intents, intent)
	}
	sort.Strings(intents)
	return intents
}
