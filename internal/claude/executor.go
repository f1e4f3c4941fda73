package claude

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// EventHandler receives parsed events as they arrive from the CLI stream.
type EventHandler func(Event)

// Executor runs Claude CLI commands. The production implementation is
// [CLIExecutor]; tests use [MockExecutor].
type Executor interface {
	// Execute runs a prompt and streams parsed events to the handler.
	// Returns the process exit code; 0 means success. The model argument
	// is optional and selects the Claude model for the invocation.
	Execute(ctx context.Context, prompt string, handler EventHandler, model string) (int, error)
}

// CLIExecutor implements [Executor] by spawning the Claude CLI binary.
type CLIExecutor struct {
	// BinaryPath is the Claude CLI binary. Defaults to "claude".
	BinaryPath string

	// OutputFormat is the CLI output format; must be "stream-json" for
	// structured event parsing.
	OutputFormat string

	parser Parser
}

// NewCLIExecutor creates a [CLIExecutor] for the given binary path. An
// empty binaryPath falls back to "claude" on the PATH.
func NewCLIExecutor(binaryPath string) *CLIExecutor {
	if binaryPath == "" {
		binaryPath = "claude"
	}
	return &CLIExecutor{
		BinaryPath:   binaryPath,
		OutputFormat: "stream-json",
		parser:       NewParser(),
	}
}

// Execute spawns the CLI, streams stdout through the parser, and forwards
// each event to the handler. Stderr is relayed to the process stderr.
func (e *CLIExecutor) Execute(ctx context.Context, prompt string, handler EventHandler, model string) (int, error) {
	args := []string{
		"--dangerously-skip-permissions",
		"-p", prompt,
		"--output-format", e.OutputFormat,
	}
	if model != "" {
		args = append(args, "--model", model)
	}

	cmd := exec.CommandContext(ctx, e.BinaryPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 1, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 1, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return 1, fmt.Errorf("failed to start %s: %w", e.BinaryPath, err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			fmt.Fprintf(os.Stderr, "[stderr] %s\n", scanner.Text())
		}
	}()

	for event := range e.parser.Parse(stdout) {
		if handler != nil {
			handler(event)
		}
	}

	err = cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 1, err
	}
	return 0, nil
}

// MockExecutor implements [Executor] without spawning processes.
type MockExecutor struct {
	// Events are replayed to the handler on each Execute call.
	Events []Event

	// ExitCode is the exit code Execute reports.
	ExitCode int

	// Err, when set, is returned by Execute.
	Err error

	// Prompts records every prompt passed to Execute.
	Prompts []string

	// Models records the model argument of each call.
	Models []string
}

// Execute replays the scripted events.
func (m *MockExecutor) Execute(_ context.Context, prompt string, handler EventHandler, model string) (int, error) {
	m.Prompts = append(m.Prompts, prompt)
	m.Models = append(m.Models, model)
	if m.Err != nil {
		return 1, m.Err
	}
	for _, event := range m.Events {
		if handler != nil {
			handler(event)
		}
	}
	return m.ExitCode, nil
}
