package ipc

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent represents a single parsed server-sent event.
type sseEvent struct {
	Type string // from "event:" field, defaults to "message"
	Data string // concatenated data fields
	ID   string // from "id:" field
}

// sseParser reads from an io.Reader and emits parsed server-sent events.
type sseParser struct {
	scanner *bufio.Scanner
}

// newSSEParser creates a parser reading from the given reader.
func newSSEParser(r io.Reader) *sseParser {
	return &sseParser{scanner: bufio.NewScanner(r)}
}

// Err returns the first non-EOF read error encountered by the parser.
func (p *sseParser) Err() error {
	return p.scanner.Err()
}

// Next reads lines until a complete event is found. Returns the event
// and true, or a zero event and false when the reader is exhausted.
//
// Lines starting with ":" are keepalive comments. "event:", "data:" and
// "id:" set the corresponding fields; multiple data lines are joined with
// "\n". An empty line dispatches the accumulated event.
func (p *sseParser) Next() (sseEvent, bool) {
	var eventType string
	var data []string
	var id string

	for p.scanner.Scan() {
		line := p.scanner.Text()

		if line == "" {
			if len(data) > 0 {
				if eventType == "" {
					eventType = EventMessage
				}
				return sseEvent{
					Type: eventType,
					Data: strings.Join(data, "\n"),
					ID:   id,
				}, true
			}
			eventType = ""
			data = nil
			id = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			eventType = value
		case "data":
			data = append(data, value)
		case "id":
			id = value
		}
	}

	return sseEvent{}, false
}
