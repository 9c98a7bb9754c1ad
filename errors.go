package twofa

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveSession is returned when backup codes are exported with no
	// enrollment session open.
	ErrNoActiveSession = errors.New("no active enrollment session")

	// ErrActionInFlight is returned when a second action is attempted while a
	// backend call is still pending.
	ErrActionInFlight = errors.New("another action is already in flight")
)

// ValidationError reports malformed local input. It never reaches the network.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// BackendError reports a failure payload returned by the auth service. The
// server's message is surfaced verbatim.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return e.Message
}

// NetworkError reports a request that could not complete at all. Users see a
// generic connectivity message, not the wrapped transport error.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "could not reach the authentication service"
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StateError reports an operation invoked from a state it has no transition
// out of, eg. calling Verify before StartSetup.
type StateError struct {
	State  State
	Action string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Action, e.State)
}
