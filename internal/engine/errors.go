package engine

import (
	"errors"
	"fmt"
)

// Origin tags where an engine failure came from.
type Origin int

const (
	// OriginUser means the debuggee or the operator's request failed.
	OriginUser Origin = iota
	// OriginInternal means the debugger machinery itself failed.
	OriginInternal
)

// String returns the origin name.
func (o Origin) String() string {
	if o == OriginInternal {
		return "internal"
	}
	return "user"
}

// Sentinel errors for engine operations.
var (
	// ErrUnsupported is returned when the engine lacks a capability.
	ErrUnsupported = errors.New("operation not supported by engine")

	// ErrThreadNotPaused is returned when stepping a thread that is running.
	ErrThreadNotPaused = errors.New("thread is not paused")

	// ErrUnknownThread is returned for thread ids the engine never reported.
	ErrUnknownThread = errors.New("unknown thread")
)

// Error is an engine failure tagged with its origin, so the debugger can
// tell its own faults apart from the debuggee's without rewriting causes.
type Error struct {
	Origin Origin
	Op     string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// User tags err as originating from the debuggee or operator input.
func User(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Origin: OriginUser, Op: op, Err: err}
}

// Internal tags err as a failure of the debugger machinery.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Origin: OriginInternal, Op: op, Err: err}
}

// IsInternal reports whether err carries an internal origin tag.
func IsInternal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Origin == OriginInternal
	}
	return false
}
