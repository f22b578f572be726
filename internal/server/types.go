// Package server defines the wire frame exchanged with browsers and utility
// helpers that are reused across client and hub logic.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

// Frame is one event on the wire: a WebSocket text message holding
// {"event": name, "data": payload}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

var (
	errUnknownEvent = errors.New("unknown event")
	errBadPayload   = errors.New("payload must be a string")
)

// inbound is a decoded client event on its way to the hub.
type inbound struct {
	client *Client
	event  string
	text   string
}

// EncodeFrame marshals an outbound event.
func EncodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %q payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// decodeInbound parses a client frame. Only the events a client may send are
// accepted and their payload must be a JSON string.
func decodeInbound(raw []byte) (event, text string, err error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", "", fmt.Errorf("decode frame: %w", err)
	}

	switch f.Event {
	case relay.EventNewUser, relay.EventChatMessage:
	default:
		return "", "", fmt.Errorf("%w: %q", errUnknownEvent, f.Event)
	}

	if err := json.Unmarshal(f.Data, &text); err != nil {
		return "", "", fmt.Errorf("%w: %q", errBadPayload, f.Event)
	}
	return f.Event, text, nil
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
