package claude

import (
	"bufio"
	"encoding/json"
	"io"
)

// defaultBufferSize bounds a single stream-json line. Claude may emit large
// JSON objects (e.g. file contents in tool results).
const defaultBufferSize = 10 * 1024 * 1024

// Parser parses streaming JSON output from the Claude CLI. Each output line
// is a complete JSON object representing a [StreamEvent]. Malformed lines
// are skipped for resilience against partial or corrupted output.
type Parser interface {
	// Parse reads streaming JSON from the reader and returns a channel of
	// [Event] values. The channel closes when the reader is exhausted.
	Parse(reader io.Reader) <-chan Event
}

// DefaultParser implements [Parser] for the stream-json format. Create with
// [NewParser] for proper defaults.
type DefaultParser struct {
	// BufferSize is the maximum size in bytes of a single JSON line.
	BufferSize int
}

// NewParser creates a [DefaultParser] with the default 10MB line buffer.
func NewParser() *DefaultParser {
	return &DefaultParser{BufferSize: defaultBufferSize}
}

// Parse reads lines from the reader, parses each as a [StreamEvent], and
// emits the lifted [Event] values. Empty and unparseable lines are skipped;
// EOF and pipe closure close the channel normally.
func (p *DefaultParser) Parse(reader io.Reader) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)

		scanner := bufio.NewScanner(reader)
		bufSize := p.BufferSize
		if bufSize <= 0 {
			bufSize = defaultBufferSize
		}
		buf := make([]byte, 0, 1024*1024)
		scanner.Buffer(buf, bufSize)

		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}

			var streamEvent StreamEvent
			if err := json.Unmarshal([]byte(line), &streamEvent); err != nil {
				continue
			}
			events <- NewEventFromStream(&streamEvent)
		}
	}()

	return events
}

// ParseSingle parses one stream-json line into an [Event]. Unlike
// [Parser.Parse] it reports malformed input as an error; useful for tests.
func ParseSingle(line string) (Event, error) {
	var streamEvent StreamEvent
	if err := json.Unmarshal([]byte(line), &streamEvent); err != nil {
		return Event{}, err
	}
	return NewEventFromStream(&streamEvent), nil
}
