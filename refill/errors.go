package refill

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session id has no live session.
var ErrSessionNotFound = errors.New("session not found")

// TransitionCode distinguishes why a transition was rejected.
type TransitionCode string

const (
	// CodeInvalidTrigger means no table row exists for (state, trigger).
	CodeInvalidTrigger TransitionCode = "invalid_trigger"
	// CodeGuardFailed means the row exists but its guard rejected the
	// proposed slot updates.
	CodeGuardFailed TransitionCode = "guard_failed"
	// CodeTerminalState means the session is in a state with no outgoing
	// transitions.
	CodeTerminalState TransitionCode = "terminal_state"
	// CodeUnknownTrigger means the trigger is not in the closed set.
	CodeUnknownTrigger TransitionCode = "unknown_trigger"
)

// TransitionError reports a rejected transition. The session state is
// unchanged when this is returned.
type TransitionError struct {
	Code    TransitionCode
	From    State
	Trigger Trigger
	Message string
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s + %s: %s", e.From, e.Trigger, e.Message)
}

// IsRejection reports whether err is a transition rejection rather than
// an infrastructure failure. Rejections leave the session usable.
func IsRejection(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// ValidationError reports an invalid payload or record field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
