package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"stepflow/internal/claude"
)

func newRawCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "raw <prompt>",
		Short: "Run an arbitrary prompt",
		Long: `Run an arbitrary prompt through the collaborator, outside any flow.
Useful for testing prompt wording or one-off commands.

Example:
  stepflow raw "List all Go files in the project"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runRaw(cmd, strings.Join(args, " "))
		},
	}
}

func (a *App) runRaw(cmd *cobra.Command, promptText string) error {
	formatter := a.formatter()

	collab := a.Collaborator
	if collab == nil {
		executor := claude.NewCLIExecutor(a.Config.Claude.BinaryPath)
		if a.Config.Claude.OutputFormat != "" {
			executor.OutputFormat = a.Config.Claude.OutputFormat
		}
		c := claude.NewCollaborator(executor, rawPrompts{}, a.Config.Claude.Model)
		c.OnEvent = func(e claude.Event) { formatter.Event(e) }
		collab = c
	}

	result, err := collab.Query(cmd.Context(), promptText)
	if err != nil {
		fmt.Fprintf(a.Out, "Prompt failed: %v\n", err)
		return commandFailed(err)
	}

	if a.Collaborator != nil && result.Text != "" {
		fmt.Fprintln(a.Out, result.Text)
	}
	return nil
}

// rawPrompts satisfies the prompt resolver interface for raw mode, where
// the prompt arrives on the command line and no step resolution happens.
type rawPrompts struct{}

func (rawPrompts) Resolve(stepID string, _ map[string]any) (string, error) {
	return stepID, nil
}
