// Package debugger runs the interactive side of pdbp: one Session per
// paused thread, each with its own terminal, stack view and renderer, all
// coordinated through a shared registry so only one thread talks to the
// operator at a time.
package debugger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/opposj/pdbp/internal/config"
	"github.com/opposj/pdbp/internal/engine"
	"github.com/opposj/pdbp/internal/logging"
	"github.com/opposj/pdbp/internal/metrics"
	"github.com/opposj/pdbp/internal/registry"
	"github.com/opposj/pdbp/internal/render"
	"github.com/opposj/pdbp/internal/stack"
	"github.com/opposj/pdbp/internal/stream"
	"github.com/opposj/pdbp/internal/terminal"
)

// DefaultPrompt is shown before every command.
const DefaultPrompt = "(Pdb+) "

// Options configure a Debugger.
type Options struct {
	// Config is the initial configuration. Defaults to config.Default().
	Config *config.Config
	// Engine controls the debuggee. Required.
	Engine engine.Engine
	// Hub owns the process streams. Defaults to the process hub.
	Hub *stream.Hub
	// Allocator creates session terminals. Defaults to terminal.OpenPTY.
	Allocator terminal.Allocator
	// Classifier overrides the hidden-frame classifier built from Config.
	Classifier stack.Classifier
	// Source reads source files. Shared by all sessions.
	Source render.Source
	Log    *logging.Logger
	// Metrics may be nil.
	Metrics *metrics.Metrics
	Prompt  string
	// PID is announced with every new session. Defaults to os.Getpid().
	PID int
	// Announce receives the "Process: ..., Thread: ..., PTY: ..." line.
	// Defaults to the pristine stdout.
	Announce io.Writer
	// HomeDir is shortened to "~" in paths when shorten_path is on.
	HomeDir string
}

// Debugger implements engine.PauseHandler.
type Debugger struct {
	opts       Options
	eng        engine.Engine
	reg        *registry.Registry[*Session]
	log        *logging.Logger
	metrics    *metrics.Metrics
	classifier stack.Classifier
	commands   *commandSet

	cfg atomic.Pointer[config.Config]
	gen atomic.Uint64

	mu       sync.Mutex
	external string
	asked    bool

	inputs inputBuffers
}

var (
	_ engine.PauseHandler      = (*Debugger)(nil)
	_ engine.PostMortemHandler = (*Debugger)(nil)
)

// New creates a debugger.
func New(opts Options) (*Debugger, error) {
	if opts.Engine == nil {
		return nil, ErrNoEngine
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Log == nil {
		opts.Log = logging.Nop()
	}
	if opts.Hub == nil {
		opts.Hub = stream.NewProcessHub(opts.Log)
	}
	if opts.Source == nil {
		opts.Source = render.NewFileSource()
	}
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	if opts.PID == 0 {
		opts.PID = os.Getpid()
	}
	if opts.Announce == nil {
		opts.Announce = opts.Hub.Pristine(stream.Stdout)
	}
	if opts.HomeDir == "" {
		opts.HomeDir, _ = os.UserHomeDir()
	}

	classifier := opts.Classifier
	if classifier == nil {
		c, err := BuildClassifier(opts.Config.Frames, opts.Log)
		if err != nil {
			return nil, err
		}
		classifier = c
	}

	d := &Debugger{
		opts:       opts,
		eng:        opts.Engine,
		log:        opts.Log.WithComponent("debugger"),
		metrics:    opts.Metrics,
		classifier: classifier,
		commands:   newCommandSet(),
	}
	d.reg = registry.New[*Session](opts.Hub, registry.Options{
		Mode:    registry.ParseMode(opts.Config.Terminal.Mode),
		Log:     opts.Log,
		Metrics: opts.Metrics,
	})
	d.cfg.Store(opts.Config)
	return d, nil
}

// BuildClassifier combines the hidden-frame strategies enabled in fc.
func BuildClassifier(fc config.FramesConfig, log *logging.Logger) (stack.Classifier, error) {
	if !fc.Hide {
		return stack.Disabled, nil
	}
	cs := []stack.Classifier{stack.MarkerClassifier{SkipTestHelpers: fc.SkipTestHelpers}}
	if len(fc.OptOut) > 0 {
		cs = append(cs, stack.NewOptOut(fc.OptOut...))
	}
	if len(fc.Globs) > 0 {
		g, err := stack.NewGlobClassifier(fc.Globs...)
		if err != nil {
			return nil, err
		}
		cs = append(cs, g)
	}
	if fc.Predicate != "" {
		script, err := os.ReadFile(fc.Predicate)
		if err != nil {
			return nil, fmt.Errorf("reading frame predicate: %w", err)
		}
		l, err := stack.NewLuaClassifier(string(script))
		if err != nil {
			return nil, err
		}
		if log != nil {
			l.OnError(func(err error) { log.Warn("frame predicate failed", "error", err) })
		}
		cs = append(cs, l)
	}
	return stack.AnyOf(cs...), nil
}

// Registry exposes the session registry.
func (d *Debugger) Registry() *registry.Registry[*Session] { return d.reg }

// Config returns the configuration in effect.
func (d *Debugger) Config() *config.Config { return d.cfg.Load() }

// ApplyConfig makes cfg current. Sessions pick up render settings at
// their next pause. It matches config.Subscriber.
func (d *Debugger) ApplyConfig(cfg *config.Config) {
	d.cfg.Store(cfg)
	d.gen.Add(1)
	d.log.Debug("configuration applied")
}

// OnPause runs the interactive session for a paused thread. It returns
// once the thread was told to resume.
func (d *Debugger) OnPause(ctx context.Context, id engine.ThreadID, full []*engine.Frame) error {
	return d.pause(ctx, id, full, false)
}

// OnPostMortem is OnPause for a thread stopped by an unhandled error.
func (d *Debugger) OnPostMortem(ctx context.Context, id engine.ThreadID, full []*engine.Frame) error {
	return d.pause(ctx, id, full, true)
}

func (d *Debugger) pause(ctx context.Context, id engine.ThreadID, full []*engine.Frame, postMortem bool) error {
	if d.reg.Completing(id) {
		d.log.Debug("pause while completing, resuming", "thread", id)
		return d.eng.Continue(ctx, id)
	}

	s, created, err := d.reg.Register(id, func() (*Session, error) { return d.open(id) })
	if err != nil {
		return fmt.Errorf("opening session for thread %d: %w", id, err)
	}
	if s.quitting.Load() {
		return d.eng.Continue(ctx, id)
	}
	if created {
		d.announce(s)
		if len(full) > 0 {
			s.view.SetEntry(full[len(full)-1].ID)
		}
	}

	s.term.Attach()
	if err := d.reg.AcquireTerminal(ctx, id); err != nil {
		if errors.Is(err, registry.ErrTerminalBusy) {
			d.log.Info("terminal busy, resuming thread", "thread", id)
			s.term.Detach()
			return d.eng.Continue(ctx, id)
		}
		return err
	}
	return s.interact(ctx, full, postMortem)
}

// OnThreadExit releases everything the thread held and closes its session.
func (d *Debugger) OnThreadExit(id engine.ThreadID) {
	d.reg.ReleaseAll(id)
	d.reg.Unregister(id)
	d.log.Debug("thread exited", "thread", id)
}

// Detach returns the thread's streams to the originals and gives up its
// terminal. The session stays registered for the next pause.
func (d *Debugger) Detach(id engine.ThreadID) error {
	s, ok := d.reg.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoSession, id)
	}
	s.term.Detach()
	d.reg.ReleaseTerminal(id)
	return nil
}

// Shutdown tears down every live session.
func (d *Debugger) Shutdown() {
	for _, id := range d.reg.Threads() {
		d.OnThreadExit(id)
	}
}

func (d *Debugger) open(id engine.ThreadID) (*Session, error) {
	cfg := d.cfg.Load()
	streams := d.opts.Hub.NewContext()
	t, err := terminal.Open(streams, terminal.Options{
		Allocator:  d.opts.Allocator,
		DisablePTY: cfg.Terminal.DisablePTY,
		Width:      cfg.Terminal.Width,
		Height:     cfg.Terminal.Height,
		Log:        d.opts.Log,
	})
	if err != nil {
		streams.Teardown()
		return nil, err
	}
	s := newSession(d, id, streams, t, cfg)

	switch shared := d.sharedExternal(); {
	case shared != "":
		if err := t.BindExternal(shared); err != nil {
			d.log.Warn("inheriting external terminal", "path", shared, "error", err)
		}
	case cfg.Terminal.External != "":
		if err := t.BindExternal(cfg.Terminal.External); err != nil {
			d.log.Warn("binding configured external terminal", "path", cfg.Terminal.External, "error", err)
		} else {
			d.setExternal(cfg.Terminal.External)
		}
	case cfg.Terminal.AskExternal && d.claimAsk():
		s.pending = append(s.pending, cmdExternalPrompt)
	}
	return s, nil
}

func (d *Debugger) announce(s *Session) {
	if !d.cfg.Load().Terminal.Announce || d.opts.Announce == nil {
		return
	}
	path := s.term.WorkerPath()
	if path == "" {
		return
	}
	if _, err := fmt.Fprintf(d.opts.Announce, "Process: %d, Thread: %d, PTY: %s\n", d.opts.PID, s.thread, path); err != nil {
		d.log.Debug("announcing session", "error", err)
	}
}

func (d *Debugger) sharedExternal() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.external
}

// setExternal records the first bound external terminal so sessions
// opened later inherit it.
func (d *Debugger) setExternal(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.external == "" {
		d.external = path
	}
}

// claimAsk reports true exactly once: only the first session asks for an
// external terminal.
func (d *Debugger) claimAsk() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.asked {
		return false
	}
	d.asked = true
	return true
}

func (d *Debugger) newRenderer(cfg *config.Config) *render.Renderer {
	p, err := cfg.Colors.Palette()
	if err != nil {
		d.log.Warn("invalid colors, using defaults", "error", err)
		p = render.DefaultPalette()
	}
	home := ""
	if cfg.Render.ShortenPath {
		home = d.opts.HomeDir
	}
	return render.New(render.Options{
		Palette:   p,
		Highlight: cfg.Render.Highlight,
		Truncate:  cfg.Render.Truncate,
		HomeDir:   home,
		Source:    d.opts.Source,
		Log:       d.opts.Log,
	})
}
