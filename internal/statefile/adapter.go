package statefile

import (
	"context"

	"stepflow/internal/completion"
	"stepflow/internal/flow"
)

// Observer adapts a [Reader] to [completion.StateObserver], letting the
// externalState handler poll resource states from the file.
type Observer struct {
	reader *Reader
}

// NewObserver wraps a reader for use as a completion state observer.
func NewObserver(reader *Reader) *Observer {
	return &Observer{reader: reader}
}

var _ completion.StateObserver = (*Observer)(nil)

// ObserveState reports the current state of a resource.
func (o *Observer) ObserveState(_ context.Context, resource string) (string, error) {
	return o.reader.GetState(resource)
}

// Hook implements [flow.BoundaryHook] by recording a resource's
// terminal state in the state file when a flow closes.
type Hook struct {
	writer      *Writer
	resource    string
	targetState string
}

// NewHook creates a boundary hook that writes targetState for the given
// resource at flow termination.
func NewHook(writer *Writer, resource, targetState string) *Hook {
	return &Hook{writer: writer, resource: resource, targetState: targetState}
}

var _ flow.BoundaryHook = (*Hook)(nil)

// OnTerminal persists the target state. The step id and reason are not
// recorded in the file; callers log them.
func (h *Hook) OnTerminal(_ context.Context, _ string, _ map[string]any, _ string) error {
	return h.writer.UpdateState(h.resource, h.targetState)
}
