package cli

import (
	"errors"
	"fmt"
)

// Exit codes returned to the shell. Incomplete is distinct from failure
// so callers can tell "the run ended without meeting its completion
// condition" apart from configuration and runtime errors.
const (
	ExitSuccess    = 0
	ExitFailure    = 1
	ExitIncomplete = 2
)

// ExitError signals a command failure with a specific exit code.
//
// Cobra RunE functions return it instead of calling os.Exit directly, so
// [RunWithConfig] can surface the code in an [ExecuteResult] and tests
// can assert on exit codes without process termination. [Execute] does
// the actual os.Exit.
type ExitError struct {
	// Code is the exit code to return to the shell.
	Code int

	// Err is the underlying cause, when one exists. The command has
	// already reported it to the user; it is carried here for callers
	// of [RunWithConfig].
	Err error
}

// Error returns "exit status N", matching the os/exec ExitError format,
// with the cause appended when present.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exit status %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying cause.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// commandFailed wraps err as a general command failure ([ExitFailure]).
func commandFailed(err error) *ExitError {
	return &ExitError{Code: ExitFailure, Err: err}
}

// flowIncomplete signals a run that terminated without its completion
// condition being met ([ExitIncomplete]).
func flowIncomplete() *ExitError {
	return &ExitError{Code: ExitIncomplete}
}

// IsExitError reports whether err carries an [ExitError], returning its
// exit code.
func IsExitError(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
