package debugger

import "errors"

// Sentinel errors for the debugger package.
var (
	// ErrNoEngine is returned by New without an engine.
	ErrNoEngine = errors.New("no step engine configured")

	// ErrNoSession is returned for threads without a session.
	ErrNoSession = errors.New("no session for thread")

	// ErrUnknownCommand is reported for unrecognized input when the engine
	// cannot evaluate it either.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrMissingArgument is reported when a command needs an argument.
	ErrMissingArgument = errors.New("missing argument")

	// ErrEvalUnsupported is reported when the engine cannot evaluate.
	ErrEvalUnsupported = errors.New("engine cannot evaluate expressions")

	// ErrNotDisplayed is reported by undisplay for unknown expressions.
	ErrNotDisplayed = errors.New("not displaying")

	// ErrBadRange is reported for malformed line ranges.
	ErrBadRange = errors.New("error parsing line range")

	// ErrUntilBackwards is reported when until targets an earlier line.
	ErrUntilBackwards = errors.New(`"until" line number is smaller than current line number`)

	// ErrExtPrintFailed is reported when ext_print cannot evaluate its
	// argument.
	ErrExtPrintFailed = errors.New(`See "locals()" or "globals()" for available args!`)
)
