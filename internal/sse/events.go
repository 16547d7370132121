// Package sse is the push bridge: it relays the book stream to browsers as
// server-sent events and turns their HTTP commands into stream requests.
package sse

import (
	"time"

	domainerrors "github.com/listenupapp/bookstream/internal/errors"
	"github.com/listenupapp/bookstream/internal/protocol"
)

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventMessage carries one stream envelope. It is written without an
	// event line so EventSource.onmessage receives it.
	EventMessage EventType = "message"
	// EventConnection reports that the bridge lost its stream.
	EventConnection EventType = "connection"
	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"
)

// Event represents an SSE event to be sent to clients.
type Event struct {
	Data any
	Type EventType
}

// ConnectionEventData is the payload of a connection event.
type ConnectionEventData struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEventData is the payload of a heartbeat event.
type HeartbeatEventData struct {
	Timestamp time.Time `json:"timestamp"`
}

// NewEnvelopeEvent wraps a stream envelope in its browser form.
func NewEnvelopeEvent(resp protocol.Response) Event {
	return Event{Type: EventMessage, Data: newEnvelopePayload(resp)}
}

// NewConnectionEvent reports a stream failure.
func NewConnectionEvent(err error) Event {
	return Event{
		Type: EventConnection,
		Data: ConnectionEventData{
			Status:  "error",
			Code:    string(domainerrors.CodeOf(err)),
			Message: err.Error(),
		},
	}
}

// NewHeartbeatEvent creates a keepalive event.
func NewHeartbeatEvent() Event {
	return Event{
		Type: EventHeartbeat,
		Data: HeartbeatEventData{Timestamp: time.Now().UTC()},
	}
}
