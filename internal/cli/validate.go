package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the steps registry and completion config",
		Long: `Load the steps registry and the configured completion condition,
reporting every configuration error. Exits non-zero when anything is
invalid, so it can gate registry changes in CI.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.validate()
		},
	}
}

func (a *App) validate() error {
	cfg := a.Config
	failed := false

	resolvedType, err := cfg.Completion.ResolvedType()
	if err != nil {
		fmt.Fprintf(a.Out, "✗ completion config: %v\n", err)
		failed = true
	} else if err := cfg.Completion.Validate(); err != nil {
		fmt.Fprintf(a.Out, "✗ completion config: %v\n", err)
		failed = true
	} else {
		fmt.Fprintf(a.Out, "✓ completion config: %s\n", resolvedType)
	}

	reg, err := a.loadRegistry(string(resolvedType))
	if err != nil {
		fmt.Fprintf(a.Out, "✗ steps registry %s: %v\n", a.registryPath(), err)
		return commandFailed(err)
	}

	for _, warning := range reg.Warnings {
		fmt.Fprintf(a.Out, "  warning: %s\n", warning)
	}
	fmt.Fprintf(a.Out, "✓ steps registry %s: %d steps, agent %s\n",
		a.registryPath(), len(reg.Steps), reg.AgentID)

	if failed {
		return commandFailed(errors.New("completion config is invalid"))
	}
	return nil
}
