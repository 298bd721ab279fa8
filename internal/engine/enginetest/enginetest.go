// Package enginetest provides a scripted in-memory step engine for tests.
//
// Each thread is given a list of stops. Every resume primitive (step, next,
// return, continue) records the call and advances the thread to its next
// stop; Run drives a PauseHandler through all of them.
package enginetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/opposj/pdbp/internal/engine"
)

// Call records one engine request.
type Call struct {
	Op       string
	Thread   engine.ThreadID
	Location engine.Location
	Line     int
	Expr     string
}

type thread struct {
	stops      [][]*engine.Frame
	postMortem map[int]bool
	pos        int
}

// Engine is a deterministic engine.Engine implementation.
type Engine struct {
	mu          sync.Mutex
	threads     map[engine.ThreadID]*thread
	calls       []Call
	evals       map[string]string
	breakpoints map[int]engine.Location
	nextBP      int
	failOp      map[string]error
}

// New returns an empty scripted engine.
func New() *Engine {
	return &Engine{
		threads:     make(map[engine.ThreadID]*thread),
		evals:       make(map[string]string),
		breakpoints: make(map[int]engine.Location),
		failOp:      make(map[string]error),
	}
}

// AddThread scripts the stops a thread will pause at, in order.
func (e *Engine) AddThread(id engine.ThreadID, stops ...[]*engine.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.threads[id] = &thread{stops: stops, postMortem: make(map[int]bool)}
}

// MarkPostMortem makes the stop-th stop of id an unhandled-error stop.
func (e *Engine) MarkPostMortem(id engine.ThreadID, stop int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.threads[id]; ok {
		t.postMortem[stop] = true
	}
}

// SetEval fixes the result of evaluating expr in any frame. Locals of
// the evaluated frame take precedence.
func (e *Engine) SetEval(expr, value string) {
	e.mu.Lock()
	e.evals[expr] = value
	e.mu.Unlock()
}

// Fail makes every future call of op return err.
func (e *Engine) Fail(op string, err error) {
	e.mu.Lock()
	e.failOp[op] = err
	e.mu.Unlock()
}

// Calls returns the recorded calls for id.
func (e *Engine) Calls(id engine.ThreadID) []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Call
	for _, c := range e.calls {
		if c.Thread == id {
			out = append(out, c)
		}
	}
	return out
}

// Sequence returns every recorded call across threads, in order.
func (e *Engine) Sequence() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// Ops returns only the operation names recorded for id.
func (e *Engine) Ops(id engine.ThreadID) []string {
	calls := e.Calls(id)
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// Breakpoints returns a copy of the active breakpoints.
func (e *Engine) Breakpoints() map[int]engine.Location {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[int]engine.Location, len(e.breakpoints))
	for k, v := range e.breakpoints {
		out[k] = v
	}
	return out
}

// Paused reports whether id still has a stop to report.
func (e *Engine) Paused(id engine.ThreadID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.threads[id]
	return ok && t.pos < len(t.stops)
}

// FullStack implements engine.Engine.
func (e *Engine) FullStack(_ context.Context, id engine.ThreadID) ([]*engine.Frame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failOp["stack"]; err != nil {
		return nil, err
	}
	t, ok := e.threads[id]
	if !ok {
		return nil, engine.ErrUnknownThread
	}
	if t.pos >= len(t.stops) {
		return nil, engine.ErrThreadNotPaused
	}
	return t.stops[t.pos], nil
}

// StepLine implements engine.Engine.
func (e *Engine) StepLine(_ context.Context, id engine.ThreadID) error {
	return e.resume("next", id)
}

// StepInto implements engine.Engine.
func (e *Engine) StepInto(_ context.Context, id engine.ThreadID) error {
	return e.resume("step", id)
}

// StepOut implements engine.Engine.
func (e *Engine) StepOut(_ context.Context, id engine.ThreadID) error {
	return e.resume("return", id)
}

// Continue implements engine.Engine.
func (e *Engine) Continue(_ context.Context, id engine.ThreadID) error {
	return e.resume("continue", id)
}

// SetBreakpoint implements engine.Engine.
func (e *Engine) SetBreakpoint(_ context.Context, id engine.ThreadID, loc engine.Location) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failOp["break"]; err != nil {
		return 0, err
	}
	e.nextBP++
	e.breakpoints[e.nextBP] = loc
	e.calls = append(e.calls, Call{Op: "break", Thread: id, Location: loc})
	return e.nextBP, nil
}

// ClearBreakpoint implements engine.BreakpointClearer.
func (e *Engine) ClearBreakpoint(_ context.Context, id engine.ThreadID, bp int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.breakpoints[bp]; !ok {
		return fmt.Errorf("no breakpoint %d", bp)
	}
	delete(e.breakpoints, bp)
	e.calls = append(e.calls, Call{Op: "clear", Thread: id, Line: bp})
	return nil
}

// Jump implements engine.Jumper.
func (e *Engine) Jump(_ context.Context, id engine.ThreadID, frameID, line int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failOp["jump"]; err != nil {
		return err
	}
	e.calls = append(e.calls, Call{Op: "jump", Thread: id, Line: line})
	return nil
}

// Evaluate implements engine.Evaluator.
func (e *Engine) Evaluate(_ context.Context, id engine.ThreadID, frameID int, expr string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, Call{Op: "eval", Thread: id, Expr: expr})
	if t, ok := e.threads[id]; ok && t.pos < len(t.stops) {
		for _, f := range t.stops[t.pos] {
			if v, ok := f.Locals[expr]; ok && f.ID == frameID {
				return v, nil
			}
		}
	}
	v, ok := e.evals[expr]
	if !ok {
		return "", engine.User("evaluate", fmt.Errorf("name %q is not defined", expr))
	}
	return v, nil
}

func (e *Engine) resume(op string, id engine.ThreadID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failOp[op]; err != nil {
		return err
	}
	t, ok := e.threads[id]
	if !ok {
		return engine.ErrUnknownThread
	}
	if t.pos >= len(t.stops) {
		return engine.ErrThreadNotPaused
	}
	t.pos++
	e.calls = append(e.calls, Call{Op: op, Thread: id})
	return nil
}

// Run drives h through every scripted stop of id, then reports the thread's
// exit. It returns the first OnPause error.
func (e *Engine) Run(ctx context.Context, h engine.PauseHandler, id engine.ThreadID) error {
	defer h.OnThreadExit(id)
	for e.Paused(id) {
		stack, err := e.FullStack(ctx, id)
		if err != nil {
			return err
		}
		before := e.position(id)
		pause := h.OnPause
		if pm, ok := h.(engine.PostMortemHandler); ok && e.isPostMortem(id, before) {
			pause = pm.OnPostMortem
		}
		if err := pause(ctx, id, stack); err != nil {
			return err
		}
		if e.position(id) == before {
			return fmt.Errorf("thread %d returned from pause without resuming", id)
		}
	}
	return nil
}

func (e *Engine) isPostMortem(id engine.ThreadID, stop int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threads[id].postMortem[stop]
}

func (e *Engine) position(id engine.ThreadID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threads[id].pos
}

// Frame builds a frame for scripting stops.
func Frame(id int, function, file string, line int) *engine.Frame {
	return &engine.Frame{ID: id, Function: function, File: file, Line: line}
}

// Stack is a readability helper returning frames as a slice.
func Stack(frames ...*engine.Frame) []*engine.Frame {
	return frames
}
