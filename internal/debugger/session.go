package debugger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/opposj/pdbp/internal/config"
	"github.com/opposj/pdbp/internal/engine"
	"github.com/opposj/pdbp/internal/extprint"
	"github.com/opposj/pdbp/internal/logging"
	"github.com/opposj/pdbp/internal/render"
	"github.com/opposj/pdbp/internal/stack"
	"github.com/opposj/pdbp/internal/stream"
	"github.com/opposj/pdbp/internal/terminal"
)

// Internal commands queued by the session itself. They never become the
// repeatable last command.
const (
	cmdAcquire        = "_acquire"
	cmdExternalPrompt = "_ext_pty"
)

// display is one watched expression and its last printed value.
type display struct {
	expr  string
	value string
}

// Session is one thread's debugging state. Only the owning thread's
// goroutine touches it while paused; Close may run from anywhere.
type Session struct {
	ID     uuid.UUID
	thread engine.ThreadID
	d      *Debugger
	log    *logging.Logger

	term    *terminal.Session
	streams *stream.Context
	view    *stack.View
	render  *render.Renderer
	buf     *render.Buffer
	ext     *extprint.Cache
	lines   lineReader
	out     io.Writer
	gen     uint64

	sticky      bool
	stickyFresh bool
	ranges      map[int]render.Range
	displays    map[int][]*display
	postMortem  bool

	lastCmd  string
	pending  []string
	listNext int

	quitting atomic.Bool
}

func newSession(d *Debugger, id engine.ThreadID, streams *stream.Context, t *terminal.Session, cfg *config.Config) *Session {
	s := &Session{
		ID:          uuid.New(),
		thread:      id,
		d:           d,
		term:        t,
		streams:     streams,
		view:        stack.New(d.classifier),
		render:      d.newRenderer(cfg),
		ext:         extprint.New(cfg.ExtPrint.ExtPrintOptions(d.opts.Log), id),
		gen:         d.gen.Load(),
		sticky:      cfg.Render.Sticky,
		stickyFresh: true,
		ranges:      make(map[int]render.Range),
		displays:    make(map[int][]*display),
	}
	s.log = d.log.WithFields(map[string]any{"thread": id, "session": s.ID.String()})

	con := console{t: t}
	if cfg.Terminal.DisablePTY {
		s.lines = &cookedReader{t: t, inputs: &d.inputs, out: con, prompt: d.opts.Prompt}
		s.out = con
	} else {
		vt := term.NewTerminal(con, d.opts.Prompt)
		vt.AutoCompleteCallback = s.autoComplete
		s.lines = vt
		s.out = vt
	}
	s.buf = render.NewBuffer(s.out)
	return s
}

// Thread returns the thread the session belongs to.
func (s *Session) Thread() engine.ThreadID { return s.thread }

// Terminal returns the session terminal.
func (s *Session) Terminal() *terminal.Session { return s.term }

// View returns the session's stack view.
func (s *Session) View() *stack.View { return s.view }

// Close removes the print cache and releases the terminal. It is called
// by the registry on unregister.
func (s *Session) Close() error {
	s.ext.Remove()
	return s.term.Close()
}

// console reads and writes wherever the terminal session currently points.
type console struct{ t *terminal.Session }

func (c console) Read(p []byte) (int, error)  { return c.t.Input().Read(p) }
func (c console) Write(p []byte) (int, error) { return c.t.Output().Write(p) }

type lineReader interface {
	ReadLine() (string, error)
	SetPrompt(prompt string)
}

// cookedReader reads newline-terminated lines from a terminal the kernel
// already edits, as when running without a session terminal.
type cookedReader struct {
	t      *terminal.Session
	inputs *inputBuffers
	out    io.Writer
	prompt string
}

func (r *cookedReader) SetPrompt(prompt string) { r.prompt = prompt }

// inputBuffers holds one line buffer per input stream. Sessions reading
// the same stream share its buffer, so lines typed ahead and buffered by
// one session are still there for the next.
type inputBuffers struct {
	mu  sync.Mutex
	buf map[io.Reader]*bufio.Reader
}

func (b *inputBuffers) get(src io.Reader) *bufio.Reader {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.buf[src]; ok {
		return r
	}
	if b.buf == nil {
		b.buf = make(map[io.Reader]*bufio.Reader)
	}
	r := bufio.NewReader(src)
	b.buf[src] = r
	return r
}

func (r *cookedReader) ReadLine() (string, error) {
	if _, err := io.WriteString(r.out, r.prompt); err != nil {
		return "", err
	}
	line, err := r.inputs.get(r.t.Input()).ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// interact repaints the stopped thread and runs commands until one
// resumes it.
func (s *Session) interact(ctx context.Context, full []*engine.Frame, postMortem bool) error {
	s.refresh(full, postMortem)
	s.paint()
	s.showDisplays(ctx)

	for {
		line, internal, err := s.next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.write("\n")
				return s.quit(ctx)
			}
			s.d.reg.ReleaseTerminal(s.thread)
			return err
		}

		res := s.execute(ctx, line, internal)
		if res.resume == nil {
			continue
		}
		if res.quit {
			return s.quit(ctx)
		}
		if err := s.resume(ctx, res); err != nil {
			s.write(diagnostic(err))
			continue
		}
		return nil
	}
}

// next returns the next queued internal command, or reads a line.
func (s *Session) next(ctx context.Context) (string, bool, error) {
	if len(s.pending) > 0 {
		cmd := s.pending[0]
		s.pending = s.pending[1:]
		return cmd, true, nil
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	line, err := s.lines.ReadLine()
	if errors.Is(err, term.ErrPasteIndicator) {
		err = nil
	}
	if err != nil {
		return "", false, err
	}
	s.buf.Advance(1)
	return line, false, nil
}

// resume hands control back to the engine. Locks and streams are given up
// before the engine call so a new pause of this thread never races with
// them, and restored when the call fails.
func (s *Session) resume(ctx context.Context, res result) error {
	if res.banner && s.sticky {
		w, _ := s.term.Size()
		s.write(render.ContinueBanner(w))
	}
	if res.release {
		s.d.reg.ReleaseTerminal(s.thread)
	}
	if res.detach {
		s.term.Detach()
	}
	if err := res.resume(ctx); err != nil {
		if res.detach {
			s.term.Attach()
		}
		if res.release {
			if aerr := s.d.reg.AcquireTerminal(ctx, s.thread); aerr != nil {
				return errors.Join(err, aerr)
			}
		}
		return err
	}
	return nil
}

// quit stops debugging the thread: later pauses resume without asking.
func (s *Session) quit(ctx context.Context) error {
	s.quitting.Store(true)
	s.d.reg.ReleaseTerminal(s.thread)
	s.term.Detach()
	return s.d.eng.Continue(ctx, s.thread)
}

func (s *Session) refresh(full []*engine.Frame, postMortem bool) {
	if gen := s.d.gen.Load(); gen != s.gen {
		s.gen = gen
		s.render = s.d.newRenderer(s.d.cfg.Load())
		s.buf.Dirty()
	}
	// A new stop always starts at the innermost visible frame.
	s.view.Compute(full, len(full)-1)
	s.postMortem = postMortem
	s.listNext = 0
	if vt, ok := s.lines.(*term.Terminal); ok {
		w, h := s.term.Size()
		if err := vt.SetSize(w, h); err != nil {
			s.log.Debug("sizing line editor", "error", err)
		}
	}
}

// paint shows the current frame: the sticky window in sticky mode, the
// stack entry otherwise.
func (s *Session) paint() {
	f := s.view.Current()
	if f == nil {
		return
	}
	if !s.sticky {
		s.write(s.render.StackEntry(render.Entry{
			Frame:      f,
			Index:      s.view.Index(),
			Current:    true,
			Innermost:  s.view.IsInnermost(),
			PostMortem: s.postMortem,
		}))
		return
	}

	w, h := s.term.Size()
	sf := render.StickyFrame{
		Frame:      f,
		Index:      s.view.Index(),
		Width:      w,
		Height:     h,
		PostMortem: s.postMortem,
	}
	if r, ok := s.ranges[f.ID]; ok {
		sf.Range = &r
	}
	if s.stickyFresh {
		s.buf.Reset()
		s.stickyFresh = false
	}
	n, err := s.buf.Paint(s.render.Sticky(sf), h)
	s.d.metrics.RecordRender(n)
	if err != nil {
		s.log.Debug("sticky paint", "error", err)
	}
}

func (s *Session) write(text string) {
	if text == "" {
		return
	}
	if _, err := io.WriteString(s.out, text); err != nil {
		s.log.Debug("session write", "error", err)
	}
	s.buf.Advance(render.Rows(text))
}

// showDisplays prints watched expressions of the current frame whose
// value changed since they were last shown.
func (s *Session) showDisplays(ctx context.Context) {
	f := s.view.Current()
	if f == nil {
		return
	}
	var b strings.Builder
	for _, w := range s.displays[f.ID] {
		v := s.evalDisplay(ctx, f, w.expr)
		if v == w.value {
			continue
		}
		b.WriteString(render.DisplayChange(w.expr, w.value, v))
		w.value = v
	}
	s.write(b.String())
}

func (s *Session) evalDisplay(ctx context.Context, f *engine.Frame, expr string) string {
	v, err := s.eval(ctx, f, expr)
	if err != nil {
		return fmt.Sprintf("** raised %s **", userMessage(err))
	}
	return v
}

func (s *Session) eval(ctx context.Context, f *engine.Frame, expr string) (string, error) {
	ev, ok := s.d.eng.(engine.Evaluator)
	if !ok {
		return "", ErrEvalUnsupported
	}
	return ev.Evaluate(ctx, s.thread, f.ID, expr)
}

// report writes a one-line diagnostic.
func (s *Session) report(name string, err error) {
	s.write(diagnostic(err))
	s.d.metrics.RecordCommand(name, true, origin(err))
}

func diagnostic(err error) string {
	return "*** " + upperFirst(userMessage(err)) + "\n"
}

// userMessage strips the operation prefix from errors the operator caused.
func userMessage(err error) string {
	var ee *engine.Error
	if errors.As(err, &ee) && ee.Origin == engine.OriginUser {
		return ee.Err.Error()
	}
	return err.Error()
}

func origin(err error) string {
	if engine.IsInternal(err) {
		return engine.OriginInternal.String()
	}
	return engine.OriginUser.String()
}

func upperFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}
