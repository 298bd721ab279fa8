package debugger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/opposj/pdbp/internal/engine"
	"github.com/opposj/pdbp/internal/extprint"
	"github.com/opposj/pdbp/internal/registry"
	"github.com/opposj/pdbp/internal/render"
	"github.com/opposj/pdbp/internal/stack"
	"github.com/opposj/pdbp/internal/terminal"
)

// externalPrompt asks the first session for a terminal device.
const externalPrompt = "external terminal (blank to skip): "

// listSpan is how many lines list shows at once.
const listSpan = 11

// result is the outcome of one command. A result carries either output or
// an error, never both.
type result struct {
	name string
	out  string
	err  error

	// clear wipes the screen before anything else is written.
	clear bool
	// repaint redraws the current frame.
	repaint bool

	// resume, when set, ends the command loop by resuming the thread.
	resume  func(ctx context.Context) error
	release bool
	detach  bool
	banner  bool
	quit    bool
}

func fail(err error) result { return result{err: err} }

type command struct {
	name    string
	aliases []string
	usage   string
	help    string
	run     func(s *Session, ctx context.Context, arg string) result
}

type commandSet struct {
	byName map[string]*command
	list   []*command
}

func newCommandSet() *commandSet {
	c := &commandSet{byName: make(map[string]*command)}
	for _, cmd := range builtinCommands() {
		c.list = append(c.list, cmd)
		c.byName[cmd.name] = cmd
		for _, a := range cmd.aliases {
			c.byName[a] = cmd
		}
	}
	sort.Slice(c.list, func(i, j int) bool { return c.list[i].name < c.list[j].name })
	return c
}

func (c *commandSet) lookup(name string) (*command, bool) {
	cmd, ok := c.byName[name]
	return cmd, ok
}

// names returns every command name and alias, sorted.
func (c *commandSet) names() []string {
	out := make([]string, 0, len(c.byName))
	for n := range c.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func builtinCommands() []*command {
	return []*command{
		{name: "up", aliases: []string{"u"}, usage: "u(p) [count]",
			help: "Move the current frame count (default one) levels up in the stack trace (to an older frame).",
			run:  (*Session).cmdUp},
		{name: "down", aliases: []string{"d"}, usage: "d(own) [count]",
			help: "Move the current frame count (default one) levels down in the stack trace (to a newer frame).",
			run:  (*Session).cmdDown},
		{name: "frame", aliases: []string{"f"}, usage: "f(rame) index",
			help: "Make the frame with the given index current.",
			run:  (*Session).cmdFrame},
		{name: "where", aliases: []string{"w", "bt"}, usage: "w(here)",
			help: "Print a stack trace, with the most recent frame at the bottom.",
			run:  (*Session).cmdWhere},
		{name: "next", aliases: []string{"n"}, usage: "n(ext)",
			help: "Continue execution until the next line in the current function is reached or it returns.",
			run:  (*Session).cmdNext},
		{name: "step", aliases: []string{"s"}, usage: "s(tep)",
			help: "Execute the current line, stop at the first possible occasion.",
			run:  (*Session).cmdStep},
		{name: "return", aliases: []string{"r"}, usage: "r(eturn)",
			help: "Continue execution until the current function returns.",
			run:  (*Session).cmdReturn},
		{name: "until", aliases: []string{"unt"}, usage: "unt(il) [lineno]",
			help: "Without argument, like next. With a line number, continue until a line at least that large is reached in the current frame.",
			run:  (*Session).cmdUntil},
		{name: "continue", aliases: []string{"c", "cont"}, usage: "c(ont(inue)) [location]",
			help: "Continue execution, only stop when a breakpoint is encountered. A location sets a temporary breakpoint first.",
			run:  (*Session).cmdContinue},
		{name: "jump", aliases: []string{"j"}, usage: "j(ump) lineno",
			help: "Set the next line that will be executed. Only available in the bottom-most frame.",
			run:  (*Session).cmdJump},
		{name: "break", aliases: []string{"b"}, usage: "b(reak) [file:]lineno | function",
			help: "Set a breakpoint.",
			run:  (*Session).cmdBreak},
		{name: "release", usage: "release",
			help: "Release the terminal so another waiting thread can use it, then queue up to take it back.",
			run:  (*Session).cmdRelease},
		{name: "rnext", aliases: []string{"rn"}, usage: "rn(ext)",
			help: "Release the terminal and next.",
			run:  (*Session).cmdReleaseNext},
		{name: "rstep", aliases: []string{"rs"}, usage: "rs(tep)",
			help: "Release the terminal and step.",
			run:  (*Session).cmdReleaseStep},
		{name: "rcontinue", aliases: []string{"rc", "rcont"}, usage: "rc(ont(inue))",
			help: "Release the terminal and continue.",
			run:  (*Session).cmdReleaseContinue},
		{name: "sticky", usage: "sticky [start end]",
			help: "Toggle sticky mode. With start and end, show only those lines (both included) of the current frame.",
			run:  (*Session).cmdSticky},
		{name: "list", aliases: []string{"l"}, usage: "l(ist) [first[, last] | .]",
			help: "List source code for the current file. Without arguments, list 11 lines around the current line or continue the previous listing.",
			run:  (*Session).cmdList},
		{name: "longlist", aliases: []string{"ll"}, usage: "longlist | ll",
			help: "List the whole source code for the current function or frame.",
			run:  (*Session).cmdLongList},
		{name: "truncate", aliases: []string{"trun"}, usage: "trun(cate)",
			help: "Toggle truncation of long source lines.",
			run:  (*Session).cmdTruncate},
		{name: "clean", usage: "clean",
			help: "Clear the screen.",
			run:  (*Session).cmdClean},
		{name: "hidden", usage: "hidden",
			help: "Toggle showing frames that are normally hidden.",
			run:  (*Session).cmdHidden},
		{name: "p", usage: "p expression",
			help: "Print the value of the expression.",
			run:  (*Session).cmdPrint},
		{name: "display", usage: "display [expression]",
			help: "Display the value of the expression if it changed, each time execution stops in the current frame. Without expression, list all display expressions for the current frame.",
			run:  (*Session).cmdDisplay},
		{name: "undisplay", usage: "undisplay [expression]",
			help: "Do not display the expression any more in the current frame. Without expression, clear all display expressions for the current frame.",
			run:  (*Session).cmdUndisplay},
		{name: "ext_print", aliases: []string{"ep"}, usage: "ep | ext_print [expression | name]",
			help: "Write the value of the expression to a cache file and open it in the viewer. A cached name reopens it; no argument lists the cache.",
			run:  (*Session).cmdExtPrint},
		{name: "attach", usage: "attach path",
			help: "Send output to the terminal device at path. Typing a device path alone does the same.",
			run:  (*Session).cmdAttach},
		{name: "detach", usage: "detach",
			help: "Stop sending output to the external terminal.",
			run:  (*Session).cmdDetach},
		{name: "hook", usage: "hook function",
			help: "Enter the debugger whenever function is called.",
			run:  (*Session).cmdHook},
		{name: "unhook", usage: "unhook id",
			help: "Remove the hook with the given id.",
			run:  (*Session).cmdUnhook},
		{name: "hooks", usage: "hooks",
			help: "List the installed hooks.",
			run:  (*Session).cmdHooks},
		{name: "help", aliases: []string{"h"}, usage: "h(elp) [command]",
			help: "Without argument, list the available commands. With a command name, print help about that command.",
			run:  (*Session).cmdHelp},
		{name: "quit", aliases: []string{"q", "exit"}, usage: "q(uit)",
			help: "Stop debugging this thread and let it run to completion.",
			run:  (*Session).cmdQuit},
	}
}

func splitCommand(line string) (name, arg string) {
	name, arg, _ = strings.Cut(line, " ")
	return name, strings.TrimSpace(arg)
}

// execute runs one input line. An empty line repeats the last command.
func (s *Session) execute(ctx context.Context, line string, internal bool) result {
	var res result
	switch {
	case internal:
		res = s.runInternal(ctx, line)
	default:
		line = strings.TrimSpace(line)
		if line == "" {
			if s.lastCmd == "" {
				return result{}
			}
			line = s.lastCmd
		}
		s.lastCmd = line

		if terminal.IsCharDevice(line) {
			res = s.bindExternal(line)
			res.name = "attach"
			break
		}
		name, arg := splitCommand(line)
		if cmd, ok := s.d.commands.lookup(name); ok {
			res = cmd.run(s, ctx, arg)
			res.name = cmd.name
		} else {
			res = s.evaluateLine(ctx, line)
			res.name = "eval"
		}
	}
	s.finish(res)
	return res
}

func (s *Session) finish(res result) {
	if res.err != nil {
		s.report(res.name, res.err)
		return
	}
	if res.name != "" {
		s.d.metrics.RecordCommand(res.name, false, "")
	}
	if res.clear {
		s.write(render.ClearScreen)
		s.buf.Reset()
	}
	if res.repaint {
		s.paint()
	}
	s.write(res.out)
}

func (s *Session) runInternal(ctx context.Context, cmd string) result {
	switch cmd {
	case cmdAcquire:
		err := s.d.reg.AcquireTerminal(ctx, s.thread)
		if errors.Is(err, registry.ErrTerminalBusy) {
			// Single mode cannot wait; let the thread run.
			return result{resume: s.continueFn(), detach: true}
		}
		if err != nil {
			return fail(err)
		}
		s.buf.Dirty()
		return result{repaint: true}

	case cmdExternalPrompt:
		s.lines.SetPrompt(externalPrompt)
		line, err := s.lines.ReadLine()
		s.lines.SetPrompt(s.d.opts.Prompt)
		if errors.Is(err, io.EOF) {
			return result{}
		}
		if err != nil {
			return fail(err)
		}
		s.buf.Advance(1)
		if line = strings.TrimSpace(line); line == "" {
			return result{}
		}
		res := s.bindExternal(line)
		res.name = "attach"
		return res
	}
	return fail(fmt.Errorf("%w: %s", ErrUnknownCommand, cmd))
}

func (s *Session) current() (*engine.Frame, error) {
	f := s.view.Current()
	if f == nil {
		return nil, stack.ErrEmptyStack
	}
	return f, nil
}

// Navigation.

func (s *Session) cmdUp(_ context.Context, arg string) result {
	return s.move(arg, -1)
}

func (s *Session) cmdDown(_ context.Context, arg string) result {
	return s.move(arg, 1)
}

func (s *Session) move(arg string, dir int) result {
	n, err := stack.ParseCount(arg)
	if err != nil {
		return fail(err)
	}
	if err := s.view.Move(dir * n); err != nil {
		return fail(err)
	}
	s.listNext = 0
	return result{repaint: true}
}

func (s *Session) cmdFrame(_ context.Context, arg string) result {
	n, err := stack.ParseIndex(arg)
	if err != nil {
		return fail(err)
	}
	if err := s.view.Select(n); err != nil {
		return fail(err)
	}
	s.listNext = 0
	return result{repaint: true}
}

func (s *Session) cmdWhere(context.Context, string) result {
	return result{out: s.render.StackTrace(s.view.Frames(), s.view.Index(), len(s.view.Hidden()), s.postMortem)}
}

// Stepping.

func (s *Session) stepFn(step func(context.Context, engine.ThreadID) error) func(context.Context) error {
	return func(ctx context.Context) error { return step(ctx, s.thread) }
}

func (s *Session) continueFn() func(context.Context) error {
	return s.stepFn(s.d.eng.Continue)
}

func (s *Session) cmdNext(context.Context, string) result {
	return result{resume: s.stepFn(s.d.eng.StepLine)}
}

func (s *Session) cmdStep(context.Context, string) result {
	return result{resume: s.stepFn(s.d.eng.StepInto)}
}

func (s *Session) cmdReturn(context.Context, string) result {
	return result{resume: s.stepFn(s.d.eng.StepOut)}
}

func (s *Session) cmdUntil(ctx context.Context, arg string) result {
	if arg == "" {
		return s.cmdNext(ctx, arg)
	}
	f, err := s.current()
	if err != nil {
		return fail(err)
	}
	line, err := strconv.Atoi(arg)
	if err != nil {
		return fail(fmt.Errorf("%w: %q", ErrBadRange, arg))
	}
	if line <= f.Line {
		return fail(ErrUntilBackwards)
	}
	loc := engine.Location{File: f.File, Line: line, Temporary: true}
	if _, err := s.d.eng.SetBreakpoint(ctx, s.thread, loc); err != nil {
		return fail(err)
	}
	return result{resume: s.continueFn(), detach: true}
}

func (s *Session) cmdContinue(ctx context.Context, arg string) result {
	if arg != "" {
		f, err := s.current()
		if err != nil {
			return fail(err)
		}
		loc, err := parseLocation(arg, f)
		if err != nil {
			return fail(err)
		}
		loc.Temporary = true
		if _, err := s.d.eng.SetBreakpoint(ctx, s.thread, loc); err != nil {
			return fail(err)
		}
	}
	return result{resume: s.continueFn(), detach: true, banner: true}
}

func (s *Session) cmdJump(ctx context.Context, arg string) result {
	if arg == "" {
		return fail(fmt.Errorf("%w: the jump command requires a line number", ErrMissingArgument))
	}
	line, err := strconv.Atoi(arg)
	if err != nil {
		return fail(fmt.Errorf("%w: %q", ErrBadRange, arg))
	}
	j, _ := s.d.eng.(engine.Jumper)
	if err := s.view.JumpTo(ctx, s.thread, line, j); err != nil {
		return fail(err)
	}
	return result{repaint: true}
}

func (s *Session) cmdBreak(ctx context.Context, arg string) result {
	f, err := s.current()
	if err != nil {
		return fail(err)
	}
	loc, err := parseLocation(arg, f)
	if err != nil {
		return fail(err)
	}
	id, err := s.d.eng.SetBreakpoint(ctx, s.thread, loc)
	if err != nil {
		return fail(err)
	}
	return result{out: fmt.Sprintf("Breakpoint %d at %s\n", id, loc)}
}

// parseLocation accepts "file:line", "line" (in the frame's file) or a
// function name.
func parseLocation(arg string, f *engine.Frame) (engine.Location, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return engine.Location{}, fmt.Errorf("%w: location", ErrMissingArgument)
	}
	if i := strings.LastIndex(arg, ":"); i > 0 {
		if line, err := strconv.Atoi(arg[i+1:]); err == nil {
			return engine.Location{File: arg[:i], Line: line}, nil
		}
	}
	if line, err := strconv.Atoi(arg); err == nil {
		return engine.Location{File: f.File, Line: line}, nil
	}
	return engine.Location{Function: arg}, nil
}

// Release variants.

func (s *Session) cmdRelease(context.Context, string) result {
	s.d.reg.ReleaseTerminal(s.thread)
	s.pending = append(s.pending, cmdAcquire)
	return result{}
}

func (s *Session) cmdReleaseNext(ctx context.Context, arg string) result {
	res := s.cmdNext(ctx, arg)
	res.release = true
	return res
}

func (s *Session) cmdReleaseStep(ctx context.Context, arg string) result {
	res := s.cmdStep(ctx, arg)
	res.release = true
	return res
}

func (s *Session) cmdReleaseContinue(ctx context.Context, arg string) result {
	res := s.cmdContinue(ctx, arg)
	if res.err == nil {
		res.release = true
	}
	return res
}

// Display.

func (s *Session) cmdSticky(_ context.Context, arg string) result {
	fields := strings.Fields(arg)
	switch len(fields) {
	case 0:
		s.sticky = !s.sticky
		s.stickyFresh = s.sticky
		return result{repaint: true}
	case 2:
		f, err := s.current()
		if err != nil {
			return fail(err)
		}
		start, err1 := strconv.Atoi(fields[0])
		end, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil || end < start {
			return fail(ErrBadRange)
		}
		s.ranges[f.ID] = render.Range{Start: start, End: end + 1}
		s.sticky = true
		s.stickyFresh = true
		return result{repaint: true}
	}
	return fail(ErrBadRange)
}

func (s *Session) cmdList(_ context.Context, arg string) result {
	f, err := s.current()
	if err != nil {
		return fail(err)
	}
	first, last, err := s.listRange(f, arg)
	if err != nil {
		return fail(err)
	}
	out, err := s.render.Listing(f, first, last, s.postMortem)
	if err != nil {
		return fail(err)
	}
	s.listNext = last + 1
	if out == "" {
		out = "[EOF]\n"
	}
	return result{out: out}
}

func (s *Session) listRange(f *engine.Frame, arg string) (first, last int, err error) {
	around := func(line int) (int, int) {
		first := max(1, line-listSpan/2)
		return first, first + listSpan - 1
	}
	arg = strings.TrimSpace(arg)
	switch {
	case arg == "" && s.listNext > 0:
		return s.listNext, s.listNext + listSpan - 1, nil
	case arg == "" || arg == ".":
		first, last = around(f.Line)
		return first, last, nil
	}

	a, b, hasLast := strings.Cut(arg, ",")
	first, err = strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadRange, arg)
	}
	if !hasLast {
		first, last = around(first)
		return first, last, nil
	}
	last, err = strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadRange, arg)
	}
	if last < first {
		// A smaller second argument is a count.
		last = first + last
	}
	return first, last, nil
}

func (s *Session) cmdLongList(context.Context, string) result {
	f, err := s.current()
	if err != nil {
		return fail(err)
	}
	out, err := s.render.LongList(f, s.postMortem)
	if err != nil {
		return fail(err)
	}
	return result{out: out}
}

func (s *Session) cmdTruncate(context.Context, string) result {
	on := s.render.ToggleTruncate()
	if s.sticky {
		return result{repaint: true}
	}
	return result{out: fmt.Sprintf("truncate: %s\n", onOff(on))}
}

func (s *Session) cmdClean(context.Context, string) result {
	return result{clear: true}
}

func (s *Session) cmdHidden(context.Context, string) result {
	show := !s.view.ShowHidden()
	s.view.SetShowHidden(show)
	s.view.Refresh(s.view.Full())
	state := "hidden"
	if show {
		state = "shown"
	}
	return result{repaint: true, out: fmt.Sprintf("hidden frames: %s\n", state)}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// Inspection.

func (s *Session) cmdPrint(ctx context.Context, arg string) result {
	if arg == "" {
		return fail(fmt.Errorf("%w: expression", ErrMissingArgument))
	}
	f, err := s.current()
	if err != nil {
		return fail(err)
	}
	v, err := s.eval(ctx, f, arg)
	if err != nil {
		return fail(err)
	}
	return result{out: s.render.Value(v, s.postMortem) + "\n"}
}

// evaluateLine handles input that is not a command.
func (s *Session) evaluateLine(ctx context.Context, line string) result {
	f, err := s.current()
	if err != nil {
		return fail(err)
	}
	v, err := s.eval(ctx, f, line)
	if errors.Is(err, ErrEvalUnsupported) {
		name, _ := splitCommand(line)
		return fail(fmt.Errorf("%w: %s", ErrUnknownCommand, name))
	}
	if err != nil {
		return fail(err)
	}
	return result{out: v + "\n"}
}

func (s *Session) cmdDisplay(ctx context.Context, arg string) result {
	f, err := s.current()
	if err != nil {
		return fail(err)
	}
	if arg == "" {
		var b strings.Builder
		b.WriteString("Currently displaying:\n")
		for _, w := range s.displays[f.ID] {
			fmt.Fprintf(&b, "%s: %s\n", w.expr, w.value)
		}
		return result{out: b.String()}
	}

	v := s.evalDisplay(ctx, f, arg)
	list := s.displays[f.ID]
	found := false
	for _, w := range list {
		if w.expr == arg {
			w.value, found = v, true
		}
	}
	if !found {
		s.displays[f.ID] = append(list, &display{expr: arg, value: v})
	}
	return result{out: fmt.Sprintf("display %s: %s\n", arg, v)}
}

func (s *Session) cmdUndisplay(_ context.Context, arg string) result {
	f, err := s.current()
	if err != nil {
		return fail(err)
	}
	if arg == "" {
		delete(s.displays, f.ID)
		return result{}
	}
	list := s.displays[f.ID]
	for i, w := range list {
		if w.expr == arg {
			s.displays[f.ID] = append(list[:i], list[i+1:]...)
			return result{}
		}
	}
	return fail(fmt.Errorf("%w: %s", ErrNotDisplayed, arg))
}

func (s *Session) cmdExtPrint(ctx context.Context, arg string) result {
	if arg == "" {
		listing := s.ext.Listing()
		if listing == "" {
			listing = "No cached prints\n"
		}
		return result{out: listing}
	}

	e, err := s.ext.Lookup(arg)
	switch {
	case err == nil:
		return s.viewEntry(ctx, e)
	case errors.Is(err, extprint.ErrEntryRemoved):
		return fail(err)
	}

	f, err := s.current()
	if err != nil {
		return fail(err)
	}
	v, err := s.eval(ctx, f, arg)
	if err != nil {
		s.log.Debug("ext_print evaluation", "expr", arg, "error", err)
		return fail(ErrExtPrintFailed)
	}
	e, err = s.ext.Put(arg, v)
	if err != nil {
		return fail(err)
	}
	return s.viewEntry(ctx, e)
}

func (s *Session) viewEntry(ctx context.Context, e extprint.Entry) result {
	in, out, errw := s.term.ExternalIO()
	err := s.ext.View(ctx, e, extprint.Stdio{In: in, Out: out, Err: errw})
	switch {
	case errors.Is(err, extprint.ErrNoViewer):
		return result{out: fmt.Sprintf("%s: %s\n", e.Name, e.Path)}
	case err != nil:
		return fail(err)
	}
	s.buf.Dirty()
	return result{out: e.Name + "\n"}
}

// Session control.

func (s *Session) cmdAttach(_ context.Context, arg string) result {
	if arg == "" {
		return fail(fmt.Errorf("%w: terminal path", ErrMissingArgument))
	}
	return s.bindExternal(arg)
}

func (s *Session) bindExternal(path string) result {
	if err := s.term.BindExternal(path); err != nil {
		return fail(err)
	}
	s.d.setExternal(path)
	return result{clear: true, repaint: true}
}

func (s *Session) cmdDetach(context.Context, string) result {
	path := s.term.ExternalPath()
	if path == "" {
		return fail(errors.New("no external terminal attached"))
	}
	s.term.UnbindExternal()
	return result{out: fmt.Sprintf("Detached from %s\n", path)}
}

func (s *Session) cmdHook(ctx context.Context, arg string) result {
	if arg == "" {
		return fail(fmt.Errorf("%w: function", ErrMissingArgument))
	}
	h, err := s.d.reg.Hooks().Add(ctx, s.thread, arg, func(target string) (int, error) {
		return s.d.eng.SetBreakpoint(ctx, s.thread, engine.Location{Function: target})
	})
	if err != nil {
		return fail(err)
	}
	return result{out: fmt.Sprintf("Hook %d on %s\n", h.ID, h.Target)}
}

func (s *Session) cmdUnhook(ctx context.Context, arg string) result {
	id, err := strconv.Atoi(arg)
	if err != nil {
		return fail(fmt.Errorf("%w: hook id", ErrMissingArgument))
	}
	err = s.d.reg.Hooks().Remove(ctx, s.thread, id, func(handle int) error {
		c, ok := s.d.eng.(engine.BreakpointClearer)
		if !ok {
			return engine.ErrUnsupported
		}
		return c.ClearBreakpoint(ctx, s.thread, handle)
	})
	if err != nil {
		return fail(err)
	}
	return result{out: fmt.Sprintf("Removed hook %d\n", id)}
}

func (s *Session) cmdHooks(context.Context, string) result {
	hooks := s.d.reg.Hooks().List()
	if len(hooks) == 0 {
		return result{out: "No hooks\n"}
	}
	var b strings.Builder
	for _, h := range hooks {
		b.WriteString(h.String())
		b.WriteString("\n")
	}
	return result{out: b.String()}
}

func (s *Session) cmdHelp(_ context.Context, arg string) result {
	if arg != "" {
		cmd, ok := s.d.commands.lookup(arg)
		if !ok {
			return fail(fmt.Errorf("no help on %s", arg))
		}
		return result{out: fmt.Sprintf("%s\n        %s\n", cmd.usage, cmd.help)}
	}

	w, _ := s.term.Size()
	var b strings.Builder
	header := "Documented commands (type help <topic>):"
	b.WriteString(header + "\n" + strings.Repeat("=", len(header)) + "\n")
	col := 0
	for _, cmd := range s.d.commands.list {
		cell := fmt.Sprintf("%-12s", cmd.name)
		if col > 0 && col+len(cell) > w {
			b.WriteString("\n")
			col = 0
		}
		b.WriteString(cell)
		col += len(cell)
	}
	b.WriteString("\n")
	return result{out: b.String()}
}

func (s *Session) cmdQuit(context.Context, string) result {
	return result{resume: s.continueFn(), quit: true}
}
