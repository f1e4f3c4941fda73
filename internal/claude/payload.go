package claude

import (
	"encoding/json"
	"strings"
)

// ExtractStructuredPayload finds the final structured JSON object in a
// collaborator's text output.
//
// Fenced ```json blocks are preferred; when none parse, the last balanced
// top-level JSON object in the text is used. Returns nil when the text
// contains no parseable JSON object: the flow engine treats an absent
// payload identically to a schema-resolution failure.
func ExtractStructuredPayload(text string) json.RawMessage {
	if payload := lastFencedJSON(text); payload != nil {
		return payload
	}
	return lastBalancedObject(text)
}

// lastFencedJSON returns the last parseable ```json fenced block.
func lastFencedJSON(text string) json.RawMessage {
	const open = "```json"
	var payload json.RawMessage

	rest := text
	for {
		start := strings.Index(rest, open)
		if start < 0 {
			break
		}
		body := rest[start+len(open):]
		end := strings.Index(body, "```")
		if end < 0 {
			break
		}
		candidate := strings.TrimSpace(body[:end])
		if json.Valid([]byte(candidate)) {
			payload = json.RawMessage(candidate)
		}
		rest = body[end+3:]
	}
	return payload
}

// lastBalancedObject scans for top-level {...} spans, tracking string
// literals so braces inside them don't confuse the depth count, and returns
// the last span that parses as JSON.
func lastBalancedObject(text string) json.RawMessage {
	var payload json.RawMessage
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				candidate := text[start : i+1]
				if json.Valid([]byte(candidate)) {
					payload = json.RawMessage(candidate)
				}
				start = -1
			}
		}
	}
	return payload
}
