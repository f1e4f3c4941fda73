// Package cli wires the stepflow commands: run, validate, plan, and raw.
//
// Commands signal failure through [ExitError] rather than os.Exit, so the
// whole surface is testable via [RunWithConfig]. Only [Execute] terminates
// the process.
package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stepflow/internal/claude"
	"stepflow/internal/completion"
	"stepflow/internal/config"
	"stepflow/internal/flow"
	"stepflow/internal/output"
	"stepflow/internal/prompt"
	"stepflow/internal/registry"
)

// App holds the dependencies shared by all commands. Zero-value fields
// are filled with production defaults; tests inject mocks.
type App struct {
	// Config is the loaded configuration. Required.
	Config *config.Config

	// Out receives formatted command output. Defaults to os.Stdout.
	Out io.Writer

	// Logger receives structured diagnostics. Defaults to a no-op
	// logger; Execute installs a development logger.
	Logger *zap.Logger

	// Collaborator overrides the Claude-backed collaborator when set.
	Collaborator flow.Collaborator

	// Observer overrides the state file observer when set.
	Observer completion.StateObserver

	// Hook overrides the boundary hook when set.
	Hook flow.BoundaryHook
}

// ExecuteResult is the outcome of a CLI invocation.
type ExecuteResult struct {
	ExitCode int
	Err      error
}

// NewRootCommand builds the stepflow command tree around an [App].
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "stepflow",
		Short: "Drive agent flows through a step registry to completion",
		Long: `stepflow executes agent workflows defined in a steps registry:
each iteration prompts the collaborator, validates its structured output,
and routes on the declared intent until a completion condition is met.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCommand(app),
		newValidateCommand(app),
		newPlanCommand(app),
		newRawCommand(app),
	)

	return root
}

// RunWithConfig runs the command tree with explicit config, args, and
// output sink, returning the result instead of exiting.
func RunWithConfig(ctx context.Context, cfg *config.Config, args []string, out io.Writer) ExecuteResult {
	app := &App{Config: cfg, Out: out}
	app.fillDefaults()

	root := NewRootCommand(app)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)

	if err := root.ExecuteContext(ctx); err != nil {
		if code, ok := IsExitError(err); ok {
			return ExecuteResult{ExitCode: code, Err: err}
		}
		return ExecuteResult{ExitCode: 1, Err: err}
	}
	return ExecuteResult{ExitCode: 0}
}

// Execute is the process entry point: loads config, runs, exits.
func Execute() {
	cfg := config.MustLoad()

	logger, err := zap.NewDevelopment()
	if err != nil {
		logger = zap.NewNop()
	}
	defer logger.Sync()

	app := &App{Config: cfg, Out: os.Stdout, Logger: logger}
	app.fillDefaults()

	root := NewRootCommand(app)
	if err := root.Execute(); err != nil {
		if code, ok := IsExitError(err); ok {
			os.Exit(code)
		}
		root.PrintErrln("Error:", err)
		os.Exit(1)
	}
}

func (a *App) fillDefaults() {
	if a.Out == nil {
		a.Out = os.Stdout
	}
	if a.Logger == nil {
		a.Logger = zap.NewNop()
	}
}

// formatter builds the terminal formatter from the output config.
func (a *App) formatter() *output.Formatter {
	return output.NewFormatter(a.Out, output.Options{
		TruncateLines:  a.Config.Output.TruncateLines,
		TruncateLength: a.Config.Output.TruncateLength,
	})
}

// registryPath resolves the registry location. A path on the completion
// condition takes precedence over the app-level one.
func (a *App) registryPath() string {
	if a.Config.Completion.RegistryPath != "" {
		return a.Config.Completion.RegistryPath
	}
	return a.Config.RegistryPath
}

// loadRegistry loads and validates the steps registry against the
// configured completion type.
func (a *App) loadRegistry(completionType string) (*registry.Registry, error) {
	return registry.Load(a.registryPath(), registry.Options{
		CompletionType:   completionType,
		StrictSchemaRefs: a.Config.StrictSchemaRefs,
	})
}

// schemaBaseDir anchors schema file references relative to the registry
// document that declares them.
func (a *App) schemaBaseDir() string {
	return filepath.Dir(a.registryPath())
}

// collaborator returns the injected collaborator or builds the
// Claude-backed one. onEvent receives stream events for display.
func (a *App) collaborator(reg *registry.Registry, onEvent func(claude.Event)) (flow.Collaborator, error) {
	if a.Collaborator != nil {
		return a.Collaborator, nil
	}

	baseDir := a.Config.Prompts.BaseDir
	if baseDir == "" {
		baseDir = filepath.Dir(a.registryPath())
	}

	prompts, err := prompt.NewResolver(reg.AgentID, reg.PathTemplate, baseDir, a.Config.Prompts.Templates)
	if err != nil {
		return nil, err
	}

	executor := claude.NewCLIExecutor(a.Config.Claude.BinaryPath)
	if a.Config.Claude.OutputFormat != "" {
		executor.OutputFormat = a.Config.Claude.OutputFormat
	}

	collab := claude.NewCollaborator(executor, prompts, a.Config.Claude.Model)
	collab.OnEvent = onEvent
	return collab, nil
}
