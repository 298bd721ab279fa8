package stack

import "errors"

// Sentinel errors for stack navigation.
var (
	// ErrInvalidNavigationArgument is returned for non-integer or
	// out-of-range frame arguments.
	ErrInvalidNavigationArgument = errors.New("invalid frame argument")

	// ErrOldestFrame is returned when moving up past the outermost frame.
	ErrOldestFrame = errors.New("oldest frame")

	// ErrNewestFrame is returned when moving down past the innermost frame.
	ErrNewestFrame = errors.New("newest frame")

	// ErrInvalidJumpContext is returned when jumping from any frame but the
	// innermost one.
	ErrInvalidJumpContext = errors.New("you can only jump within the bottom frame")

	// ErrEmptyStack is returned when no stack has been computed yet.
	ErrEmptyStack = errors.New("no stack")

	// ErrJumpUnsupported is returned when the engine cannot jump.
	ErrJumpUnsupported = errors.New("engine does not support jump")
)
