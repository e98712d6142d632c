package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors for orchestrator operations.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already enabled")
	ErrTaskActive      = errors.New("session already has an active task")
	ErrNoPendingTask   = errors.New("no task awaiting approval")
	ErrActionMismatch  = errors.New("action id does not match the pending approval")
	ErrNoActiveTask    = errors.New("no active task")
	ErrInvalidState    = errors.New("operation not valid in the current state")
	ErrClosed          = errors.New("orchestrator closed")
)

// Errors capability adapters wrap so callers can tell common vision
// failures apart.
var (
	ErrCaptureTimeout     = errors.New("screen capture timed out")
	ErrDisplayUnavailable = errors.New("display unavailable")
)

// ErrorKind tags which capability a failure came from.
type ErrorKind string

const (
	KindVision       ErrorKind = "vision"
	KindPlanning     ErrorKind = "planning"
	KindVerification ErrorKind = "verification"
	KindExecution    ErrorKind = "execution"
	KindTimeout      ErrorKind = "timeout"
)

// CapabilityError is a failure reported by an external capability,
// tagged where it crossed into the orchestrator.
type CapabilityError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *CapabilityError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failed", e.Op)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

func capabilityError(kind ErrorKind, op string, err error) *CapabilityError {
	return &CapabilityError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the capability kind of err, or "" if err did not come
// from a capability.
func KindOf(err error) ErrorKind {
	var ce *CapabilityError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
