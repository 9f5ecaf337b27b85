// Package realtime maintains the live push channel between the server
// and browser sessions: a websocket hub on the server side and an
// auto-recovering client connection manager on the other.
package realtime

import (
	"encoding/json"
	"time"
)

// Frame types with protocol-level meaning. Domain event types (for
// example the notification lifecycle events) pass through untouched;
// receivers ignore types they do not recognize.
const (
	TypePing = "ping"
	TypePong = "pong"
)

// Application close codes, in the private 4000-4999 range.
const (
	CloseAuthFailure = 4401
	CloseRateLimited = 4429
)

// Message is the wire frame. Timestamp marshals as RFC 3339.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    string          `json:"userId,omitempty"`
}

// NewMessage builds a stamped frame, marshaling data if present.
func NewMessage(typ string, data any) (Message, error) {
	m := Message{Type: typ, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Message{}, err
		}
		m.Data = raw
	}
	return m, nil
}
