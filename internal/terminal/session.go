// Package terminal gives each paused thread its own interactive terminal:
// a pseudo-terminal pair wired into the thread's stream context, with
// attach/detach switching and an optional external output device.
package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/opposj/pdbp/internal/logging"
	"github.com/opposj/pdbp/internal/stream"
)

// Default terminal size used when the device cannot report one.
const (
	DefaultWidth  = 80
	DefaultHeight = 20
)

// Options configure a Session.
type Options struct {
	// Allocator creates the terminal pair. Defaults to OpenPTY.
	Allocator Allocator
	// DisablePTY makes the session use the original streams directly.
	DisablePTY bool
	// Width and Height are the fallback size.
	Width  int
	Height int
	// Log receives diagnostics.
	Log *logging.Logger
}

// Session is one thread's terminal.
type Session struct {
	mu      sync.Mutex
	log     *logging.Logger
	opts    Options
	streams *stream.Context

	pair         *Pair
	external     *os.File
	externalPath string
	attached     bool

	closed atomic.Bool
}

// Open allocates the session terminal and installs it as the redirect
// target of streams. The session starts detached.
func Open(streams *stream.Context, opts Options) (*Session, error) {
	if opts.Allocator == nil {
		opts.Allocator = OpenPTY
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Log == nil {
		opts.Log = logging.Nop()
	}

	s := &Session{
		log:     opts.Log.WithComponent("terminal"),
		opts:    opts,
		streams: streams,
	}
	if opts.DisablePTY {
		return s, nil
	}

	pair, err := opts.Allocator()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTerminalAllocationFailed, err)
	}
	if err := pair.Resize(opts.Width, opts.Height); err != nil {
		s.log.Debug("initial resize failed", "error", err)
	}

	if err := errors.Join(
		streams.SetTarget(stream.Stdin, pair.ControlIn, true),
		streams.SetTarget(stream.Stdout, pair.ControlOut, true),
		streams.SetTarget(stream.Stderr, pair.ControlOut, false),
	); err != nil {
		closePair(pair, s.log)
		return nil, fmt.Errorf("%w: %v", ErrTerminalAllocationFailed, err)
	}

	s.pair = pair
	return s, nil
}

func closePair(p *Pair, log *logging.Logger) {
	for _, c := range []io.Closer{p.ControlIn, p.ControlOut} {
		if err := c.Close(); err != nil {
			log.Debug("closing terminal control", "error", err)
		}
	}
	if p.Worker != nil {
		if err := p.Worker.Close(); err != nil {
			log.Debug("closing terminal worker", "error", err)
		}
	}
}

// Attach routes the thread's streams to the session terminal. Repeated
// calls are no-ops.
func (s *Session) Attach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached || s.closed.Load() {
		return
	}
	s.streams.SwitchToRedirect()
	s.attached = true
}

// Detach routes the thread's streams back to the originals. Repeated calls
// are no-ops.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		return
	}
	s.streams.SwitchToOriginal()
	s.attached = false
}

// Attached reports whether the session terminal is current.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// BindExternal makes the character device at path the session's effective
// output. The session terminal itself is left untouched.
func (s *Session) BindExternal(path string) error {
	if s.closed.Load() {
		return ErrTerminalClosed
	}
	if !IsCharDevice(path) {
		return fmt.Errorf("%w: %s", ErrExternalDeviceInvalid, path)
	}
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalDeviceInvalid, err)
	}

	s.mu.Lock()
	prev := s.external
	s.external = f
	s.externalPath = path
	s.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			s.log.Debug("closing previous external terminal", "error", err)
		}
	}
	s.log.Debug("external terminal bound", "path", path)
	return nil
}

// UnbindExternal drops the external device, if any.
func (s *Session) UnbindExternal() {
	s.mu.Lock()
	f := s.external
	s.external = nil
	s.externalPath = ""
	s.mu.Unlock()

	if f != nil {
		if err := f.Close(); err != nil {
			s.log.Debug("closing external terminal", "error", err)
		}
	}
}

// ExternalPath returns the bound external device path.
func (s *Session) ExternalPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.externalPath
}

// Output returns where session output currently goes.
func (s *Session) Output() io.Writer {
	s.mu.Lock()
	ext := s.external
	s.mu.Unlock()
	if ext != nil {
		return ext
	}
	return s.streams.Stdout()
}

// Input returns where commands are read from.
func (s *Session) Input() io.Reader {
	return s.streams.Stdin()
}

// ExternalIO returns the stdio triple for commands spawned on behalf of the
// operator: the external device when bound, the originals otherwise.
func (s *Session) ExternalIO() (io.Reader, io.Writer, io.Writer) {
	s.mu.Lock()
	ext := s.external
	s.mu.Unlock()
	if ext != nil {
		return ext, ext, ext
	}
	in, _ := s.streams.Original(stream.Stdin).(io.Reader)
	out, _ := s.streams.Original(stream.Stdout).(io.Writer)
	errw, _ := s.streams.Original(stream.Stderr).(io.Writer)
	return in, out, errw
}

// Size returns the effective output size, falling back to the configured
// default when no device reports one.
func (s *Session) Size() (width, height int) {
	candidates := []any{s.Output()}
	if s.pair != nil && s.pair.Worker != nil {
		candidates = append(candidates, s.pair.Worker)
	}
	for _, c := range candidates {
		f, ok := fdOf(c)
		if !ok || !term.IsTerminal(f) {
			continue
		}
		if w, h, err := term.GetSize(f); err == nil && w > 0 && h > 0 {
			return w, h
		}
	}
	return s.opts.Width, s.opts.Height
}

func fdOf(v any) (int, bool) {
	switch f := v.(type) {
	case *os.File:
		return int(f.Fd()), true
	case *stream.Proxy:
		if file := f.File(); file != nil {
			return int(file.Fd()), true
		}
	}
	return 0, false
}

// WorkerPath returns the device path the operator connects to, or "" when
// running without a session terminal.
func (s *Session) WorkerPath() string {
	if s.pair == nil {
		return ""
	}
	return s.pair.WorkerPath
}

// Close detaches and releases every descriptor the session owns. It is
// safe to call more than once; close failures are logged, never returned.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.Detach()
	s.UnbindExternal()
	s.streams.Teardown()

	if s.pair != nil && s.pair.Worker != nil {
		if err := s.pair.Worker.Close(); err != nil {
			s.log.Debug("closing terminal worker", "error", err)
		}
	}
	return nil
}

// Closed reports whether Close ran.
func (s *Session) Closed() bool {
	return s.closed.Load()
}
