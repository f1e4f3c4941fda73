// Package claude is the production collaborator boundary: it spawns the
// Claude CLI, parses its streaming JSON output, and extracts the final
// structured payload that the flow engine gates on.
//
// Key types:
//   - [Executor]: interface for running Claude CLI commands
//   - [Parser]: interface for parsing streaming JSON output
//   - [Event]: parsed event with convenience methods
//   - [Collaborator]: the flow-facing adapter composing prompt resolution
//     and execution
//
// For testing, [MockExecutor] implements [Executor] without spawning real
// processes.
package claude

// StreamEvent is one raw JSON line from Claude's stream-json output.
type StreamEvent struct {
	Type          string          `json:"type"`
	Subtype       string          `json:"subtype,omitempty"`
	Message       *MessageContent `json:"message,omitempty"`
	ToolUseResult *ToolResult     `json:"tool_use_result,omitempty"`
	Result        string          `json:"result,omitempty"`
}

// MessageContent holds the content blocks of an assistant message.
type MessageContent struct {
	Content []ContentBlock `json:"content,omitempty"`
}

// ContentBlock is a single block within a message: "text" blocks carry
// output text, "tool_use" blocks carry a tool invocation.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
}

// ToolResult carries the output of a tool execution.
type ToolResult struct {
	Stdout      string `json:"stdout,omitempty"`
	Stderr      string `json:"stderr,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

// EventType classifies events in Claude's streaming output.
type EventType string

const (
	EventTypeSystem    EventType = "system"
	EventTypeAssistant EventType = "assistant"
	EventTypeUser      EventType = "user"
	EventTypeResult    EventType = "result"
)

// SubtypeInit is the subtype of the system event that opens a session.
const SubtypeInit = "init"

// Event is a parsed event from Claude's streaming output. It wraps the raw
// [StreamEvent] and lifts the commonly needed fields.
type Event struct {
	// Raw is the original stream event for cases where the lifted fields
	// are insufficient.
	Raw *StreamEvent

	// Type is the parsed event type.
	Type EventType

	// Subtype further classifies system events.
	Subtype string

	// Text is the assistant text content, when present.
	Text string

	// ToolName names the tool being invoked in tool_use events.
	ToolName string

	// ResultText is the final result payload carried by result events.
	ResultText string

	// SessionStarted is true for system init events.
	SessionStarted bool

	// SessionComplete is true for result events.
	SessionComplete bool
}

// NewEventFromStream lifts a raw [StreamEvent] into an [Event].
func NewEventFromStream(raw *StreamEvent) Event {
	e := Event{
		Raw:     raw,
		Type:    EventType(raw.Type),
		Subtype: raw.Subtype,
	}

	switch e.Type {
	case EventTypeSystem:
		if raw.Subtype == SubtypeInit {
			e.SessionStarted = true
		}

	case EventTypeAssistant:
		if raw.Message != nil {
			for _, block := range raw.Message.Content {
				switch block.Type {
				case "text":
					e.Text = block.Text
				case "tool_use":
					e.ToolName = block.Name
				}
			}
		}

	case EventTypeResult:
		e.SessionComplete = true
		e.ResultText = raw.Result
	}

	return e
}

// IsText reports whether the event carries assistant text output.
func (e Event) IsText() bool {
	return e.Type == EventTypeAssistant && e.Text != ""
}

// IsToolUse reports whether the event is a tool invocation.
func (e Event) IsToolUse() bool {
	return e.Type == EventTypeAssistant && e.ToolName != ""
}
