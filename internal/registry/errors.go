package registry

import "errors"

// Sentinel errors for the registry package.
var (
	// ErrLockAlreadyReleased is returned when releasing a lock nobody holds.
	ErrLockAlreadyReleased = errors.New("lock already released")

	// ErrNotLockOwner is returned when releasing a lock held by another thread.
	ErrNotLockOwner = errors.New("lock held by another thread")

	// ErrTerminalBusy is returned in single-consumer mode when another
	// thread holds the terminal.
	ErrTerminalBusy = errors.New("terminal in use by another thread")

	// ErrUnknownHook is returned when removing a hook id that is not registered.
	ErrUnknownHook = errors.New("no such hook")

	// ErrHookExists is returned when instrumenting a target twice.
	ErrHookExists = errors.New("target already hooked")
)
