package terminal

import "errors"

// Sentinel errors for the terminal package.
var (
	// ErrTerminalAllocationFailed is returned when no pseudo-terminal pair
	// could be created.
	ErrTerminalAllocationFailed = errors.New("terminal allocation failed")

	// ErrExternalDeviceInvalid is returned when a path given for an
	// external terminal is not a character device.
	ErrExternalDeviceInvalid = errors.New("not a terminal device")

	// ErrTerminalClosed is returned when operations are attempted on a
	// closed session.
	ErrTerminalClosed = errors.New("terminal is closed")

	// ErrInvalidSize is returned when a terminal size is invalid.
	ErrInvalidSize = errors.New("invalid terminal size")
)
