package voicesession

import (
	"errors"
	"fmt"
)

// FailureReason classifies why a session ended abnormally. The reason is part
// of the user-visible status string, so keep the values readable.
type FailureReason string

const (
	ReasonPermissionDenied FailureReason = "microphone permission denied"
	ReasonTransportFailure FailureReason = "transport failure"
	ReasonProtocolError    FailureReason = "protocol error"
	ReasonDurationExceeded FailureReason = "session duration limit reached"
	ReasonRemoteError      FailureReason = "agent error"
)

// ErrSessionActive is returned by Start when a session is already connecting
// or connected. Concurrent calls are rejected, never merged.
var ErrSessionActive = errors.New("session already active")

// ErrSessionStopped is returned by Start when Stop arrives before the startup
// sequence completes. Everything acquired up to that point has been released.
var ErrSessionStopped = errors.New("session stopped during start")

// SessionError carries the failure classification alongside the underlying
// cause.
type SessionError struct {
	Reason FailureReason
	Err    error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

func newSessionError(reason FailureReason, err error) *SessionError {
	return &SessionError{Reason: reason, Err: err}
}
