// Package engine defines the boundary between pdbp and the step engine that
// actually controls the debuggee: the frame model it reports, the stepping
// primitives it exposes, and the callbacks it drives.
package engine

import (
	"context"
	"fmt"
)

// ThreadID identifies a debuggee thread of control.
type ThreadID int64

// Hints are markers a frame can carry that influence hidden-frame
// classification.
type Hints struct {
	// HideFrame is set on frames of functions decorated or annotated as
	// hidden from the debugger.
	HideFrame bool
	// TracebackHide is set when the frame defines a traceback-hide local.
	TracebackHide bool
	// TestHelper is set on frames belonging to test-framework internals.
	TestHelper bool
}

// RaisedError describes an error propagating through a frame.
type RaisedError struct {
	// Type is the error's type name.
	Type string
	// Message is the error text.
	Message string
	// Line is the line the error originated on within this frame (0 if unknown).
	Line int
}

// String formats the error the way the annotation line shows it.
func (e *RaisedError) String() string {
	if e.Message == "" {
		return e.Type
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ReturnValue is the value a frame is about to return.
type ReturnValue struct {
	// Repr is the printable representation.
	Repr string
}

// Frame is a read-only view of one activation record, produced by the
// engine and never mutated by pdbp except for Line after a jump.
type Frame struct {
	// ID is stable for the lifetime of the activation.
	ID int
	// Function is the function name.
	Function string
	// File is the source path.
	File string
	// Line is the current line (1-based).
	Line int
	// StartLine and EndLine bound the function source when known.
	StartLine int
	EndLine   int
	// Module is set for top-level frames; their listing shows the whole file.
	Module bool
	// Locals and Globals are printable variable snapshots.
	Locals  map[string]string
	Globals map[string]string
	// Source holds inline source for generated code without a file.
	Source []string
	// Hints carry hidden-frame markers.
	Hints Hints
	// Raised is set when an error propagates through this frame.
	Raised *RaisedError
	// Return is set when the frame is returning.
	Return *ReturnValue
}

// Location identifies a breakpoint target: either File+Line or Function.
type Location struct {
	File      string
	Line      int
	Function  string
	Temporary bool
}

// String formats the location as file:line or the function name.
func (l Location) String() string {
	if l.Function != "" {
		return l.Function
	}
	if l.File == "" {
		return fmt.Sprintf("%d", l.Line)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Engine is the step engine consumed by the debugger. Stacks are ordered
// outermost first; the last element is the innermost frame.
type Engine interface {
	FullStack(ctx context.Context, id ThreadID) ([]*Frame, error)
	StepLine(ctx context.Context, id ThreadID) error
	StepInto(ctx context.Context, id ThreadID) error
	StepOut(ctx context.Context, id ThreadID) error
	Continue(ctx context.Context, id ThreadID) error
	SetBreakpoint(ctx context.Context, id ThreadID, loc Location) (int, error)
}

// Jumper is implemented by engines that can move the execution point
// inside the innermost frame.
type Jumper interface {
	Jump(ctx context.Context, id ThreadID, frameID, line int) error
}

// Evaluator is implemented by engines that can evaluate expressions in
// the context of a frame.
type Evaluator interface {
	Evaluate(ctx context.Context, id ThreadID, frameID int, expr string) (string, error)
}

// BreakpointClearer is implemented by engines that can remove breakpoints
// previously returned by SetBreakpoint.
type BreakpointClearer interface {
	ClearBreakpoint(ctx context.Context, id ThreadID, bp int) error
}

// PauseHandler receives engine callbacks. OnPause blocks until the thread
// has been told to resume.
type PauseHandler interface {
	OnPause(ctx context.Context, id ThreadID, full []*Frame) error
	OnThreadExit(id ThreadID)
}

// PostMortemHandler is implemented by handlers that present stops caused
// by an unhandled error differently from ordinary pauses.
type PostMortemHandler interface {
	OnPostMortem(ctx context.Context, id ThreadID, full []*Frame) error
}
