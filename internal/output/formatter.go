// Package output renders run progress to the terminal: flow banners,
// per-iteration step lines, collaborator events, and final summaries.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"stepflow/internal/claude"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	stepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	failureStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226"))
)

// Options controls event text truncation.
type Options struct {
	// TruncateLines caps the lines displayed per collaborator event.
	TruncateLines int

	// TruncateLength caps the length of each displayed line.
	TruncateLength int
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{TruncateLines: 20, TruncateLength: 60}
}

// Formatter writes formatted run output. Not safe for concurrent use;
// a run drives it from a single goroutine.
type Formatter struct {
	w    io.Writer
	opts Options
}

// NewFormatter creates a [Formatter] writing to w.
func NewFormatter(w io.Writer, opts Options) *Formatter {
	if opts.TruncateLines <= 0 {
		opts.TruncateLines = DefaultOptions().TruncateLines
	}
	if opts.TruncateLength <= 0 {
		opts.TruncateLength = DefaultOptions().TruncateLength
	}
	return &Formatter{w: w, opts: opts}
}

// RunBanner prints the opening banner for a flow run.
func (f *Formatter) RunBanner(flowID, completionType, entryStep string) {
	fmt.Fprintln(f.w, bannerStyle.Render("╔═══════════════════════════════════════════════════════════════╗"))
	fmt.Fprintln(f.w, bannerStyle.Render(fmt.Sprintf("║  FLOW: %s", flowID)))
	fmt.Fprintln(f.w, bannerStyle.Render(fmt.Sprintf("║  Completion: %s | Entry: %s", completionType, entryStep)))
	fmt.Fprintln(f.w, bannerStyle.Render("╚═══════════════════════════════════════════════════════════════╝"))
	fmt.Fprintln(f.w)
}

// StepStart prints the per-iteration header.
func (f *Formatter) StepStart(iteration, budget int, stepID string) {
	fmt.Fprintln(f.w, stepStyle.Render(fmt.Sprintf("  [%d/%d] %s", iteration, budget, stepID)))
}

// Event prints one collaborator stream event.
func (f *Formatter) Event(e claude.Event) {
	switch {
	case e.SessionStarted:
		fmt.Fprintf(f.w, "● Session started\n\n")
	case e.IsText():
		fmt.Fprintf(f.w, "%s\n\n", f.truncateBlock(e.Text))
	case e.IsToolUse():
		fmt.Fprintln(f.w, toolStyle.Render(fmt.Sprintf("┌─ Tool: %s", e.ToolName)))
		fmt.Fprintln(f.w, toolStyle.Render("└─"))
	case e.SessionComplete:
		fmt.Fprintf(f.w, "● Session complete\n")
	}
}

// Transition prints the routing decision for an iteration.
func (f *Formatter) Transition(stepID, intent, next string) {
	fmt.Fprintln(f.w, dimStyle.Render(fmt.Sprintf("  %s ▸ %s ▸ %s", stepID, intent, next)))
}

// Terminal prints the terminal signal line.
func (f *Formatter) Terminal(stepID, reason string) {
	fmt.Fprintln(f.w, dimStyle.Render(fmt.Sprintf("  %s ▸ %s ▸ (terminal)", stepID, reason)))
}

// Success prints the closing summary for a completed run.
func (f *Formatter) Success(flowID, reason string, iterations int, elapsed time.Duration) {
	fmt.Fprintln(f.w)
	fmt.Fprintln(f.w, successStyle.Render("╔═══════════════════════════════════════════════════════════════╗"))
	fmt.Fprintln(f.w, successStyle.Render(fmt.Sprintf("║  ✓ FLOW COMPLETE: %s", flowID)))
	fmt.Fprintln(f.w, successStyle.Render(fmt.Sprintf("║  Reason: %s", truncate(reason, 55))))
	fmt.Fprintln(f.w, successStyle.Render(fmt.Sprintf("║  Iterations: %d | Total: %s", iterations, elapsed.Round(time.Second))))
	fmt.Fprintln(f.w, successStyle.Render("╚═══════════════════════════════════════════════════════════════╝"))
}

// Incomplete prints the summary for a run that exhausted its budget
// without the completion handler reporting done.
func (f *Formatter) Incomplete(flowID string, iterations int, elapsed time.Duration) {
	fmt.Fprintln(f.w)
	fmt.Fprintln(f.w, failureStyle.Render("╔═══════════════════════════════════════════════════════════════╗"))
	fmt.Fprintln(f.w, failureStyle.Render(fmt.Sprintf("║  ○ FLOW INCOMPLETE: %s", flowID)))
	fmt.Fprintln(f.w, failureStyle.Render(fmt.Sprintf("║  Iterations: %d | Total: %s", iterations, elapsed.Round(time.Second))))
	fmt.Fprintln(f.w, failureStyle.Render("╚═══════════════════════════════════════════════════════════════╝"))
}

// Abort prints the summary for an aborted run.
func (f *Formatter) Abort(flowID, code, stepID string, iteration int, err error) {
	fmt.Fprintln(f.w)
	fmt.Fprintln(f.w, failureStyle.Render("╔═══════════════════════════════════════════════════════════════╗"))
	fmt.Fprintln(f.w, failureStyle.Render(fmt.Sprintf("║  ✗ FLOW ABORTED: %s", flowID)))
	fmt.Fprintln(f.w, failureStyle.Render(fmt.Sprintf("║  Code: %s | Step: %s | Iteration: %d", code, stepID, iteration)))
	if err != nil {
		fmt.Fprintln(f.w, failureStyle.Render(fmt.Sprintf("║  %s", truncate(err.Error(), 60))))
	}
	fmt.Fprintln(f.w, failureStyle.Render("╚═══════════════════════════════════════════════════════════════╝"))
}

// truncateBlock limits a multi-line text block to the configured line
// and length caps, keeping head and tail when the middle is dropped.
func (f *Formatter) truncateBlock(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) > f.opts.TruncateLines {
		keep := f.opts.TruncateLines / 2
		omitted := len(lines) - 2*keep
		head := lines[:keep]
		tail := lines[len(lines)-keep:]
		lines = append(head, fmt.Sprintf("... (%d lines omitted) ...", omitted))
		lines = append(lines, tail...)
	}
	for i, line := range lines {
		lines[i] = truncate(line, f.opts.TruncateLength)
	}
	return strings.Join(lines, "\n")
}

// truncate caps s at maxLen runes, cutting on rune boundaries so
// multibyte characters are never split.
func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
