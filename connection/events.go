package connection

import (
	"time"
)

// EventType discriminates Event.
type EventType int

const (
	// EventStateChange reports a state transition.
	EventStateChange EventType = iota
	// EventMessage carries one inbound payload.
	EventMessage
	// EventTransportError reports a transport error without a state change.
	EventTransportError
	// EventExhausted is emitted once per episode when reconnects run out.
	EventExhausted
)

func (t EventType) String() string {
	switch t {
	case EventStateChange:
		return "state_change"
	case EventMessage:
		return "message"
	case EventTransportError:
		return "transport_error"
	case EventExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Event is delivered to every subscriber of a Manager.
type Event struct {
	Type EventType
	At   time.Time

	// State changes.
	From State
	To   State
	// Attempt is the reconnect attempt number; 0 outside a reconnect episode.
	Attempt int
	// Delay is set when To is StateReconnecting.
	Delay time.Duration
	// Code is the close code when the transition was caused by a close.
	Code int
	// Terminal marks the Closed transition that ends an exhausted episode.
	Terminal bool

	Data []byte
	Err  error
}
