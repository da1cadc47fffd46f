package ipc

import (
	"encoding/json"
	"fmt"
	"io"
)

// StreamEvent is a single event delivered on a subscription stream.
// Message events carry TopicName and Payload; configuration-update events
// carry ComponentName and KeyPath.
type StreamEvent struct {
	Type          string
	TopicName     string
	Payload       []byte
	ComponentName string
	KeyPath       []string
}

// StreamHandler receives subscription stream callbacks.
//
// Callbacks run on the transport's own goroutine. Implementations must not
// issue IPC requests from inside a callback and should return quickly.
type StreamHandler interface {
	// OnStreamEvent is called for every event received on the stream.
	OnStreamEvent(evt StreamEvent)

	// OnStreamError is called when the stream fails or delivers an event
	// that cannot be decoded. Returning true closes the stream.
	OnStreamError(err error) (closeStream bool)

	// OnStreamClosed is called once when the stream ends.
	OnStreamClosed()
}

// decodeStreamEvent converts a raw server-sent event into a StreamEvent.
func decodeStreamEvent(evt sseEvent) (StreamEvent, error) {
	switch evt.Type {
	case EventMessage:
		var msg IoTCoreMessage
		if err := json.Unmarshal([]byte(evt.Data), &msg); err != nil {
			return StreamEvent{}, fmt.Errorf("ipc: decode %s event: %w", evt.Type, err)
		}
		return StreamEvent{Type: evt.Type, TopicName: msg.TopicName, Payload: msg.Payload}, nil
	case EventConfigurationUpdate:
		var upd ConfigurationUpdate
		if err := json.Unmarshal([]byte(evt.Data), &upd); err != nil {
			return StreamEvent{}, fmt.Errorf("ipc: decode %s event: %w", evt.Type, err)
		}
		return StreamEvent{Type: evt.Type, ComponentName: upd.ComponentName, KeyPath: upd.KeyPath}, nil
	default:
		return StreamEvent{}, fmt.Errorf("ipc: unknown stream event type %q", evt.Type)
	}
}

// consumeStream parses events from r and dispatches them to h until the
// stream ends or the handler asks to close it. closing reports whether the
// stream is being torn down by the client, in which case read errors are not
// reported to the handler.
func consumeStream(r io.Reader, h StreamHandler, closing func() bool) {
	defer h.OnStreamClosed()

	parser := newSSEParser(r)
	for {
		raw, ok := parser.Next()
		if !ok {
			break
		}
		evt, err := decodeStreamEvent(raw)
		if err != nil {
			if h.OnStreamError(err) {
				return
			}
			continue
		}
		h.OnStreamEvent(evt)
	}

	if err := parser.Err(); err != nil && !closing() {
		h.OnStreamError(fmt.Errorf("ipc: stream read: %w", err))
	}
}
