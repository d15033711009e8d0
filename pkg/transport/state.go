package transport

import "fmt"

// ConnectionState is the lifecycle state of a connection.
type ConnectionState uint8

const (
	// StateDisconnected is the initial state.
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
	StateReconnecting
)

// String returns the state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// IsActive reports whether the state holds or is acquiring a connection.
func (s ConnectionState) IsActive() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}

// CanTransition reports whether moving from one state to another is legal
// for a transport with the given capabilities. Entering Reconnecting
// requires caps.Reconnectable; every other edge is capability independent.
func CanTransition(from, to ConnectionState, caps Capabilities) bool {
	switch from {
	case StateDisconnected:
		return to == StateConnecting
	case StateConnecting:
		switch to {
		case StateConnected, StateFailed:
			return true
		case StateReconnecting:
			// A failed retry with attempts left.
			return caps.Reconnectable
		}
	case StateConnected:
		switch to {
		case StateDisconnected, StateFailed:
			return true
		case StateReconnecting:
			return caps.Reconnectable
		}
	case StateReconnecting:
		return to == StateConnecting || to == StateFailed
	case StateFailed:
		return to == StateConnecting
	}
	return false
}

// TransitionError reports an illegal state transition.
type TransitionError struct {
	From ConnectionState
	To   ConnectionState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal state transition %s -> %s", e.From, e.To)
}

// Transition validates a move and returns a *TransitionError if it is
// illegal.
func Transition(from, to ConnectionState, caps Capabilities) error {
	if !CanTransition(from, to, caps) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
