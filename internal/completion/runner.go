package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ExecRunner runs a custom completion handler as a subprocess.
//
// The observation is passed as JSON on stdin. The handler's exit status is
// the verdict: 0 means complete, 1 means not complete, anything else is a
// handler error. Stdout, when non-empty, becomes the result reason.
type ExecRunner struct{}

// observationPayload is the JSON shape handed to custom handlers.
type observationPayload struct {
	Iteration       int            `json:"iteration"`
	OutputText      string         `json:"outputText"`
	Signals         []string       `json:"signals,omitempty"`
	TerminalReached bool           `json:"terminalReached"`
	Handoff         map[string]any `json:"handoff,omitempty"`
}

// Run executes the handler at handlerPath and interprets its exit status.
func (ExecRunner) Run(ctx context.Context, handlerPath string, obs Observation) (Result, error) {
	payload, err := json.Marshal(observationPayload{
		Iteration:       obs.Iteration,
		OutputText:      obs.OutputText,
		Signals:         obs.Signals,
		TerminalReached: obs.TerminalReached,
		Handoff:         obs.Handoff,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode observation: %w", err)
	}

	cmd := exec.CommandContext(ctx, handlerPath)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	err = cmd.Run()
	reason := strings.TrimSpace(stdout.String())

	if err == nil {
		if reason == "" {
			reason = "custom handler reported complete"
		}
		return Result{Complete: true, Reason: reason}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		if reason == "" {
			reason = "custom handler reported not complete"
		}
		return Result{Reason: reason}, nil
	}

	return Result{}, fmt.Errorf("custom handler %s failed: %w", handlerPath, err)
}
