package dap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/go-dap"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"

	"github.com/opposj/pdbp/internal/engine"
	"github.com/opposj/pdbp/internal/logging"
)

// stopBacklog bounds the stops queued for one thread.
const stopBacklog = 8

// Options configure an Engine.
type Options struct {
	// AdapterID names the adapter in the initialize request.
	AdapterID string
	Log       *logging.Logger
	// Stdout and Stderr receive the debuggee's output events.
	Stdout io.Writer
	Stderr io.Writer
}

type breakpoint struct {
	loc       engine.Location
	adapterID int
}

// stop is a "stopped" or thread "exited" notification for one thread.
type stop struct {
	thread engine.ThreadID
	exited bool
	reason string
	text   string
	hit    []int
}

// activation identifies a frame across stops: adapters may renumber frames
// every time a thread stops, so pdbp matches them by what they run and how
// far they sit from the outermost frame.
type activation struct {
	depth    int
	function string
	file     string
}

// frameRef ties pdbp's frame id to the adapter's id for the current stop.
type frameRef struct {
	key    activation
	id     int
	raw    int
	source *dap.Source
}

// Engine implements engine.Engine over a debug adapter.
type Engine struct {
	c    *Client
	log  *logging.Logger
	opts Options
	caps dap.Capabilities

	mu        sync.Mutex
	bps       map[int]*breakpoint
	nextBP    int
	stacks    map[engine.ThreadID][]frameRef
	nextFrame int
	gotoing   map[engine.ThreadID]bool

	// bpSync serializes breakpoint updates, which replace whole sets.
	bpSync sync.Mutex

	events      chan stop
	initialized chan struct{}
	initOnce    sync.Once
	terminated  chan struct{}
	termOnce    sync.Once
}

var (
	_ engine.Engine            = (*Engine)(nil)
	_ engine.Jumper            = (*Engine)(nil)
	_ engine.Evaluator         = (*Engine)(nil)
	_ engine.BreakpointClearer = (*Engine)(nil)
)

// New wraps c. Call Start to run the handshake, then Serve.
func New(c *Client, opts Options) *Engine {
	if opts.Log == nil {
		opts.Log = logging.Nop()
	}
	if opts.AdapterID == "" {
		opts.AdapterID = "pdbp"
	}
	e := &Engine{
		c:           c,
		log:         opts.Log.WithComponent("engine"),
		opts:        opts,
		bps:         make(map[int]*breakpoint),
		stacks:      make(map[engine.ThreadID][]frameRef),
		gotoing:     make(map[engine.ThreadID]bool),
		events:      make(chan stop, 64),
		initialized: make(chan struct{}),
		terminated:  make(chan struct{}),
	}
	c.On("initialized", func(Event) { e.initOnce.Do(func() { close(e.initialized) }) })
	c.On("stopped", e.onStopped)
	c.On("thread", e.onThread)
	c.On("exited", func(ev Event) {
		e.log.Info("debuggee exited", "code", gjson.GetBytes(ev.Body, "exitCode").Int())
	})
	c.On("terminated", func(Event) { e.finish() })
	c.On("output", e.onOutput)
	return e
}

// LaunchArguments builds the launch request body from a JSON object of
// adapter-specific settings. It returns the request to send, "launch"
// unless base names another one.
func LaunchArguments(base, program string, args []string, stopOnEntry bool) (string, []byte, error) {
	if strings.TrimSpace(base) == "" {
		base = "{}"
	}
	if !gjson.Valid(base) || !gjson.Parse(base).IsObject() {
		return "", nil, fmt.Errorf("launch arguments must be a JSON object: %q", base)
	}
	out := []byte(base)
	var err error
	set := func(path string, v any) {
		if err == nil {
			out, err = sjson.SetBytes(out, path, v)
		}
	}
	if program != "" {
		set("program", program)
	}
	if len(args) > 0 {
		set("args", args)
	}
	if stopOnEntry {
		set("stopOnEntry", true)
	}
	if err != nil {
		return "", nil, fmt.Errorf("building launch arguments: %w", err)
	}

	request := gjson.GetBytes(out, "request").String()
	if request == "" {
		request = "launch"
	}
	return request, out, nil
}

// Start runs the initialize / launch / configurationDone handshake.
func (e *Engine) Start(ctx context.Context, request string, args []byte) error {
	if err := e.c.Call(ctx, "initialize", dap.InitializeRequestArguments{
		ClientID:        "pdbp",
		ClientName:      "pdbp",
		AdapterID:       e.opts.AdapterID,
		LinesStartAt1:   true,
		ColumnsStartAt1: true,
		PathFormat:      "path",
	}, &e.caps); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	// Some adapters answer launch only after configurationDone, others
	// send initialized only after launch.
	launched := make(chan error, 1)
	go func() { launched <- e.c.Call(ctx, request, json.RawMessage(args), nil) }()

	pending := launched
	select {
	case err := <-launched:
		if err != nil {
			return fmt.Errorf("%s: %w", request, err)
		}
		pending = nil
		if err := e.waitInitialized(ctx); err != nil {
			return err
		}
	case <-e.initialized:
	case <-ctx.Done():
		return ctx.Err()
	}

	if e.caps.SupportsConfigurationDoneRequest {
		if err := e.c.Call(ctx, "configurationDone", nil, nil); err != nil {
			return fmt.Errorf("configurationDone: %w", err)
		}
	}
	if pending != nil {
		if err := <-pending; err != nil {
			return fmt.Errorf("%s: %w", request, err)
		}
	}
	e.log.Info("debug adapter started", "request", request)
	return nil
}

func (e *Engine) waitInitialized(ctx context.Context) error {
	select {
	case <-e.initialized:
		return nil
	case <-e.c.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminated is closed when the debuggee is gone.
func (e *Engine) Terminated() <-chan struct{} { return e.terminated }

func (e *Engine) finish() {
	e.termOnce.Do(func() { close(e.terminated) })
}

func (e *Engine) finished() bool {
	select {
	case <-e.terminated:
		return true
	default:
		return false
	}
}

// Disconnect ends the debug session, terminating the debuggee when asked
// and supported.
func (e *Engine) Disconnect(ctx context.Context, terminate bool) error {
	args := dap.DisconnectArguments{TerminateDebuggee: terminate && e.caps.SupportTerminateDebuggee}
	if err := e.c.Call(ctx, "disconnect", args, nil); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

// Close drops the adapter connection.
func (e *Engine) Close() error {
	e.finish()
	return e.c.Close()
}

// Serve delivers every stop to h on a goroutine owned by the stopped
// thread, so threads pause independently. It returns when the debuggee
// terminates, the connection drops or ctx ends, after every thread's
// current pause returned.
func (e *Engine) Serve(ctx context.Context, h engine.PauseHandler) error {
	g, gctx := errgroup.WithContext(ctx)
	workers := make(map[engine.ThreadID]chan stop)

loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case <-e.terminated:
			break loop
		case <-e.c.Done():
			e.finish()
			break loop
		case s := <-e.events:
			ch, ok := workers[s.thread]
			if s.exited {
				if ok {
					close(ch)
					delete(workers, s.thread)
				}
				continue
			}
			if !ok {
				ch = make(chan stop, stopBacklog)
				workers[s.thread] = ch
				id := s.thread
				g.Go(func() error { return e.work(gctx, h, id, ch) })
			}
			select {
			case ch <- s:
			case <-gctx.Done():
				break loop
			}
		}
	}

	for id, ch := range workers {
		close(ch)
		delete(workers, id)
	}
	return g.Wait()
}

func (e *Engine) work(ctx context.Context, h engine.PauseHandler, id engine.ThreadID, stops <-chan stop) error {
	defer h.OnThreadExit(id)
	for s := range stops {
		if err := e.pause(ctx, h, s); err != nil {
			if e.finished() {
				e.log.Debug("pause ended with the debuggee", "thread", id, "error", err)
				return nil
			}
			return fmt.Errorf("thread %d: %w", id, err)
		}
	}
	return nil
}

func (e *Engine) pause(ctx context.Context, h engine.PauseHandler, s stop) error {
	full, err := e.FullStack(ctx, s.thread)
	if err != nil {
		return err
	}
	e.clearTemporary(ctx, s, full)

	if s.reason == "exception" && len(full) > 0 {
		full[len(full)-1].Raised = e.exceptionInfo(ctx, s, full[len(full)-1])
		if pm, ok := h.(engine.PostMortemHandler); ok {
			return pm.OnPostMortem(ctx, s.thread, full)
		}
	}
	return h.OnPause(ctx, s.thread, full)
}

func (e *Engine) exceptionInfo(ctx context.Context, s stop, f *engine.Frame) *engine.RaisedError {
	raised := &engine.RaisedError{Type: "exception", Message: s.text, Line: f.Line}
	if !e.caps.SupportsExceptionInfoRequest {
		return raised
	}
	var info dap.ExceptionInfoResponseBody
	if err := e.c.Call(ctx, "exceptionInfo", dap.ExceptionInfoArguments{ThreadId: int(s.thread)}, &info); err != nil {
		e.log.Debug("exceptionInfo", "thread", s.thread, "error", err)
		return raised
	}
	raised.Type = info.ExceptionId
	if info.Description != "" {
		raised.Message = info.Description
	}
	return raised
}

func (e *Engine) onStopped(ev Event) {
	var body dap.StoppedEventBody
	if err := json.Unmarshal(ev.Body, &body); err != nil {
		e.log.Warn("malformed stopped event", "error", err)
		return
	}
	if body.ThreadId == 0 {
		e.log.Debug("stopped event without thread", "reason", body.Reason)
		return
	}
	id := engine.ThreadID(body.ThreadId)

	e.mu.Lock()
	jumped := body.Reason == "goto" && e.gotoing[id]
	delete(e.gotoing, id)
	e.mu.Unlock()
	if jumped {
		// The thread is still paused in the session that asked for the jump.
		return
	}

	e.queue(stop{thread: id, reason: body.Reason, text: firstNonEmpty(body.Text, body.Description), hit: body.HitBreakpointIds})
}

func (e *Engine) onThread(ev Event) {
	var body dap.ThreadEventBody
	if err := json.Unmarshal(ev.Body, &body); err != nil {
		e.log.Warn("malformed thread event", "error", err)
		return
	}
	if body.Reason != "exited" {
		return
	}
	id := engine.ThreadID(body.ThreadId)
	e.mu.Lock()
	delete(e.stacks, id)
	delete(e.gotoing, id)
	e.mu.Unlock()
	e.queue(stop{thread: id, exited: true})
}

func (e *Engine) queue(s stop) {
	select {
	case e.events <- s:
	case <-e.c.Done():
	case <-e.terminated:
	}
}

func (e *Engine) onOutput(ev Event) {
	var body dap.OutputEventBody
	if err := json.Unmarshal(ev.Body, &body); err != nil {
		return
	}
	var w io.Writer
	switch body.Category {
	case "stderr":
		w = e.opts.Stderr
	case "stdout", "":
		w = e.opts.Stdout
	case "telemetry":
		return
	default:
		e.log.Debug("adapter output", "category", body.Category, "output", strings.TrimRight(body.Output, "\n"))
		return
	}
	if w == nil {
		return
	}
	if _, err := io.WriteString(w, body.Output); err != nil {
		e.log.Debug("forwarding debuggee output", "error", err)
	}
}

// call issues command, tagging adapter refusals as user errors and
// everything else as internal.
func (e *Engine) call(ctx context.Context, command string, args, out any) error {
	err := e.c.Call(ctx, command, args, out)
	if err == nil {
		return nil
	}
	var re *RequestError
	if errors.As(err, &re) {
		return engine.User(command, errors.New(re.Message))
	}
	return engine.Internal(command, err)
}

// FullStack implements engine.Engine. Frames come back outermost first.
// A frame keeps its id from the previous stop while it and every frame
// outside it still run the same function in the same file.
func (e *Engine) FullStack(ctx context.Context, id engine.ThreadID) ([]*engine.Frame, error) {
	var body dap.StackTraceResponseBody
	if err := e.call(ctx, "stackTrace", dap.StackTraceArguments{ThreadId: int(id)}, &body); err != nil {
		return nil, err
	}

	n := len(body.StackFrames)
	refs := e.assignFrames(id, body.StackFrames)
	full := make([]*engine.Frame, n)
	for i, ref := range refs {
		full[i] = e.frame(ctx, ref.id, body.StackFrames[n-1-i])
	}
	return full, nil
}

// assignFrames numbers the adapter's innermost-first frames, reusing the
// ids of the thread's previous stack, and records them for the thread.
func (e *Engine) assignFrames(id engine.ThreadID, frames []dap.StackFrame) []frameRef {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.stacks[id]
	n := len(frames)
	refs := make([]frameRef, n)
	same := true
	for i := range refs {
		sf := frames[n-1-i]
		ref := frameRef{key: activation{depth: i, function: sf.Name, file: sourceKey(sf.Source)}, raw: sf.Id, source: sf.Source}
		if same && i < len(prev) && prev[i].key == ref.key {
			ref.id = prev[i].id
		} else {
			same = false
			e.nextFrame++
			ref.id = e.nextFrame
		}
		refs[i] = ref
	}
	e.stacks[id] = refs
	return refs
}

func sourceKey(src *dap.Source) string {
	switch {
	case src == nil:
		return ""
	case src.Path != "":
		return src.Path
	case src.SourceReference > 0:
		return fmt.Sprintf("%s#%d", src.Name, src.SourceReference)
	default:
		return src.Name
	}
}

// lookup finds frameID on the thread's current stack.
func (e *Engine) lookup(id engine.ThreadID, frameID int) (frameRef, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ref := range e.stacks[id] {
		if ref.id == frameID {
			return ref, true
		}
	}
	return frameRef{}, false
}

func (e *Engine) frame(ctx context.Context, id int, sf dap.StackFrame) *engine.Frame {
	f := &engine.Frame{
		ID:       id,
		Function: sf.Name,
		Line:     sf.Line,
		Module:   sf.Name == "<module>",
		Locals:   make(map[string]string),
		Hints:    engine.Hints{HideFrame: sf.PresentationHint == "subtle"},
	}
	if sf.Source != nil {
		f.File = sf.Source.Path
		if f.File == "" && sf.Source.SourceReference > 0 {
			f.Source = e.sourceLines(ctx, *sf.Source)
		}
	}

	var scopes dap.ScopesResponseBody
	if err := e.c.Call(ctx, "scopes", dap.ScopesArguments{FrameId: sf.Id}, &scopes); err != nil {
		e.log.Debug("scopes", "frame", sf.Id, "error", err)
		return f
	}
	for _, sc := range scopes.Scopes {
		global := strings.EqualFold(sc.Name, "globals") || sc.PresentationHint == "globals"
		if !global && sc.Line > 0 && sc.EndLine >= sc.Line && f.StartLine == 0 {
			f.StartLine, f.EndLine = sc.Line, sc.EndLine
		}
		if sc.Expensive || sc.VariablesReference == 0 {
			continue
		}
		var vars dap.VariablesResponseBody
		if err := e.c.Call(ctx, "variables", dap.VariablesArguments{VariablesReference: sc.VariablesReference}, &vars); err != nil {
			e.log.Debug("variables", "scope", sc.Name, "error", err)
			continue
		}
		for _, v := range vars.Variables {
			switch {
			case strings.HasPrefix(v.Name, "(return)") || strings.HasPrefix(v.Name, "~r"):
				f.Return = &engine.ReturnValue{Repr: v.Value}
			case global:
				if f.Globals == nil {
					f.Globals = make(map[string]string)
				}
				f.Globals[v.Name] = v.Value
			default:
				f.Locals[v.Name] = v.Value
			}
		}
	}
	return f
}

func (e *Engine) sourceLines(ctx context.Context, src dap.Source) []string {
	var body dap.SourceResponseBody
	if err := e.c.Call(ctx, "source", dap.SourceArguments{Source: &src, SourceReference: src.SourceReference}, &body); err != nil {
		e.log.Debug("source", "reference", src.SourceReference, "error", err)
		return nil
	}
	return strings.Split(strings.TrimSuffix(body.Content, "\n"), "\n")
}

// StepLine implements engine.Engine.
func (e *Engine) StepLine(ctx context.Context, id engine.ThreadID) error {
	return e.call(ctx, "next", dap.NextArguments{ThreadId: int(id)}, nil)
}

// StepInto implements engine.Engine.
func (e *Engine) StepInto(ctx context.Context, id engine.ThreadID) error {
	return e.call(ctx, "stepIn", dap.StepInArguments{ThreadId: int(id)}, nil)
}

// StepOut implements engine.Engine.
func (e *Engine) StepOut(ctx context.Context, id engine.ThreadID) error {
	return e.call(ctx, "stepOut", dap.StepOutArguments{ThreadId: int(id)}, nil)
}

// Continue implements engine.Engine.
func (e *Engine) Continue(ctx context.Context, id engine.ThreadID) error {
	return e.call(ctx, "continue", dap.ContinueArguments{ThreadId: int(id)}, nil)
}

// SetBreakpoint implements engine.Engine. The returned handle is pdbp's,
// stable across the adapter replacing whole breakpoint sets.
func (e *Engine) SetBreakpoint(ctx context.Context, _ engine.ThreadID, loc engine.Location) (int, error) {
	switch {
	case loc.Function != "":
		if !e.caps.SupportsFunctionBreakpoints {
			return 0, engine.ErrUnsupported
		}
	case loc.File == "":
		return 0, engine.User("break", errors.New("a breakpoint needs a file or a function"))
	}

	e.bpSync.Lock()
	defer e.bpSync.Unlock()

	e.mu.Lock()
	e.nextBP++
	handle := e.nextBP
	e.bps[handle] = &breakpoint{loc: loc}
	e.mu.Unlock()

	if err := e.syncBreakpoints(ctx, loc); err != nil {
		e.mu.Lock()
		delete(e.bps, handle)
		e.mu.Unlock()
		return 0, err
	}
	return handle, nil
}

// ClearBreakpoint implements engine.BreakpointClearer.
func (e *Engine) ClearBreakpoint(ctx context.Context, _ engine.ThreadID, handle int) error {
	e.bpSync.Lock()
	defer e.bpSync.Unlock()

	e.mu.Lock()
	bp, ok := e.bps[handle]
	delete(e.bps, handle)
	e.mu.Unlock()
	if !ok {
		return engine.User("clear", fmt.Errorf("no breakpoint %d", handle))
	}
	return e.syncBreakpoints(ctx, bp.loc)
}

// syncBreakpoints resends the whole set loc belongs to: every function
// breakpoint, or every line breakpoint of loc's file.
func (e *Engine) syncBreakpoints(ctx context.Context, loc engine.Location) error {
	e.mu.Lock()
	var handles []int
	for h, bp := range e.bps {
		if (loc.Function != "" && bp.loc.Function != "") ||
			(loc.Function == "" && bp.loc.Function == "" && bp.loc.File == loc.File) {
			handles = append(handles, h)
		}
	}
	sort.Ints(handles)
	locs := make([]engine.Location, len(handles))
	for i, h := range handles {
		locs[i] = e.bps[h].loc
	}
	e.mu.Unlock()

	var (
		body dap.SetBreakpointsResponseBody
		err  error
	)
	if loc.Function != "" {
		args := dap.SetFunctionBreakpointsArguments{Breakpoints: make([]dap.FunctionBreakpoint, len(locs))}
		for i, l := range locs {
			args.Breakpoints[i] = dap.FunctionBreakpoint{Name: l.Function}
		}
		err = e.call(ctx, "setFunctionBreakpoints", args, &body)
	} else {
		args := dap.SetBreakpointsArguments{Source: dap.Source{Path: loc.File}, Breakpoints: make([]dap.SourceBreakpoint, len(locs))}
		for i, l := range locs {
			args.Breakpoints[i] = dap.SourceBreakpoint{Line: l.Line}
		}
		err = e.call(ctx, "setBreakpoints", args, &body)
	}
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, h := range handles {
		if i >= len(body.Breakpoints) {
			break
		}
		got := body.Breakpoints[i]
		if bp, ok := e.bps[h]; ok {
			bp.adapterID = got.Id
		}
		if !got.Verified {
			e.log.Warn("breakpoint not verified", "location", locs[i].String(), "message", got.Message)
		}
	}
	return nil
}

// clearTemporary removes one-shot breakpoints the stop consumed.
func (e *Engine) clearTemporary(ctx context.Context, s stop, full []*engine.Frame) {
	if len(full) == 0 {
		return
	}
	top := full[len(full)-1]
	hit := make(map[int]bool, len(s.hit))
	for _, id := range s.hit {
		hit[id] = true
	}

	e.mu.Lock()
	var done []int
	for h, bp := range e.bps {
		if !bp.loc.Temporary {
			continue
		}
		reached := (bp.adapterID != 0 && hit[bp.adapterID]) ||
			(bp.loc.Function != "" && bp.loc.Function == top.Function) ||
			(bp.loc.Function == "" && bp.loc.File == top.File && bp.loc.Line == top.Line)
		if reached {
			done = append(done, h)
		}
	}
	e.mu.Unlock()

	for _, h := range done {
		if err := e.ClearBreakpoint(ctx, s.thread, h); err != nil {
			e.log.Debug("clearing temporary breakpoint", "handle", h, "error", err)
		}
	}
}

// Jump implements engine.Jumper with gotoTargets and goto.
func (e *Engine) Jump(ctx context.Context, id engine.ThreadID, frameID, line int) error {
	if !e.caps.SupportsGotoTargetsRequest {
		return engine.ErrUnsupported
	}
	ref, ok := e.lookup(id, frameID)
	if !ok || ref.source == nil {
		return engine.User("jump", fmt.Errorf("frame %d has no source", frameID))
	}

	var targets dap.GotoTargetsResponseBody
	if err := e.call(ctx, "gotoTargets", dap.GotoTargetsArguments{Source: *ref.source, Line: line}, &targets); err != nil {
		return err
	}
	if len(targets.Targets) == 0 {
		return engine.User("jump", fmt.Errorf("line %d is not a jump target", line))
	}

	e.mu.Lock()
	e.gotoing[id] = true
	e.mu.Unlock()
	if err := e.call(ctx, "goto", dap.GotoArguments{ThreadId: int(id), TargetId: targets.Targets[0].Id}, nil); err != nil {
		e.mu.Lock()
		delete(e.gotoing, id)
		e.mu.Unlock()
		return err
	}
	return nil
}

// Evaluate implements engine.Evaluator. A zero frameID evaluates in the
// adapter's global context.
func (e *Engine) Evaluate(ctx context.Context, id engine.ThreadID, frameID int, expr string) (string, error) {
	args := dap.EvaluateArguments{Expression: expr, Context: "repl"}
	if frameID != 0 {
		ref, ok := e.lookup(id, frameID)
		if !ok {
			return "", engine.User("evaluate", fmt.Errorf("frame %d is not on the stack", frameID))
		}
		args.FrameId = ref.raw
	}
	var body dap.EvaluateResponseBody
	if err := e.call(ctx, "evaluate", args, &body); err != nil {
		return "", err
	}
	return body.Result, nil
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
