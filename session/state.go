package session

import (
	"errors"
	"fmt"
)

// State is a session lifecycle state.
type State int32

// Session states.
const (
	Disconnected State = iota
	Connecting
	Connected
	Searching
	Presenting
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Searching:
		return "searching"
	case Presenting:
		return "presenting"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrBusy is returned under RejectOverlap when an operation is already in flight.
var ErrBusy = errors.New("session busy: operation already in flight")

// StateError reports an operation attempted in the wrong state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("session: cannot %s while %s", e.Op, e.State)
}

// RejectedError reports a refused init, carrying the server's diagnostic.
type RejectedError struct {
	Condition int
	AddInfo   string
}

func (e *RejectedError) Error() string {
	if e.AddInfo != "" {
		return fmt.Sprintf("session: init rejected (condition %d: %s)", e.Condition, e.AddInfo)
	}
	return fmt.Sprintf("session: init rejected (condition %d)", e.Condition)
}

// ClosedByPeerError reports a close PDU received mid-exchange.
type ClosedByPeerError struct {
	Reason  int
	Message string
}

func (e *ClosedByPeerError) Error() string {
	return fmt.Sprintf("session: closed by server (reason %d) %s", e.Reason, e.Message)
}

// UnexpectedPDUError reports a response of the wrong type.
type UnexpectedPDUError struct {
	Want, Got string
}

func (e *UnexpectedPDUError) Error() string {
	return fmt.Sprintf("session: expected %s, got %s", e.Want, e.Got)
}
