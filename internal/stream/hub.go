// Package stream manages the process-wide standard stream proxies and the
// per-thread stream contexts built on top of them.
//
// The Hub installs one Proxy per standard stream exactly once. Each paused
// thread then owns a Context holding its original handles (the proxies) and
// its redirect handles (its terminal session), and switches between the two
// without affecting any other thread.
package stream

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/opposj/pdbp/internal/logging"
)

// Name identifies a standard stream.
type Name int

const (
	// Stdin is the standard input stream.
	Stdin Name = iota
	// Stdout is the standard output stream.
	Stdout
	// Stderr is the standard error stream.
	Stderr
)

// String returns the conventional stream name.
func (n Name) String() string {
	switch n {
	case Stdin:
		return "stdin"
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return fmt.Sprintf("stream(%d)", int(n))
	}
}

var names = [...]Name{Stdin, Stdout, Stderr}

// Sentinel errors for the stream package.
var (
	// ErrProxyClosed is returned by a proxy with neither a shared nor a
	// pristine file behind it.
	ErrProxyClosed = errors.New("stream proxy is closed")

	// ErrBadTarget is returned when a redirect handle has the wrong shape
	// for its stream.
	ErrBadTarget = errors.New("invalid redirect target")

	// ErrTornDown is returned when using a context after Teardown.
	ErrTornDown = errors.New("stream context torn down")
)

// Hub owns the process-wide proxies.
type Hub struct {
	mu  sync.Mutex
	log *logging.Logger

	pristine  [3]*os.File
	shared    [3]*os.File
	proxies   [3]*Proxy
	installed bool

	dup func(fd int) (int, error)
}

// NewHub creates a hub over the given pristine stream files.
func NewHub(log *logging.Logger, stdin, stdout, stderr *os.File) *Hub {
	if log == nil {
		log = logging.Nop()
	}
	return &Hub{
		log:      log.WithComponent("stream"),
		pristine: [3]*os.File{stdin, stdout, stderr},
		dup:      unix.Dup,
	}
}

// NewProcessHub creates a hub over os.Stdin, os.Stdout and os.Stderr.
func NewProcessHub(log *logging.Logger) *Hub {
	return NewHub(log, os.Stdin, os.Stdout, os.Stderr)
}

// Install duplicates the pristine descriptors and installs the proxies.
// Repeated calls are no-ops once the proxies are in place.
func (h *Hub) Install() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.installed && h.proxiesCurrent() {
		return nil
	}

	var shared [3]*os.File
	for i, n := range names {
		f := h.pristine[i]
		if f == nil {
			continue
		}
		fd, err := h.dup(int(f.Fd()))
		if err != nil {
			for _, s := range shared {
				if s != nil {
					_ = s.Close()
				}
			}
			return fmt.Errorf("duplicate %s: %w", n, err)
		}
		shared[i] = os.NewFile(uintptr(fd), f.Name())
	}

	h.shared = shared
	for i, n := range names {
		if h.proxies[i] == nil {
			h.proxies[i] = &Proxy{name: n, pristine: h.pristine[i]}
		}
		h.proxies[i].open(shared[i])
	}
	h.installed = true
	h.log.Debug("stream proxies installed")
	return nil
}

func (h *Hub) proxiesCurrent() bool {
	for _, p := range h.proxies {
		if p == nil || p.Closed() {
			return false
		}
	}
	return true
}

// Installed reports whether the proxies are active.
func (h *Hub) Installed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.installed
}

// Restore closes the shared duplicates and makes the pristine files the
// process-visible streams again. Proxies handed out earlier keep working
// and pass through to the pristine files until the next Install. Close
// failures are logged and dropped.
func (h *Hub) Restore() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.installed {
		return
	}
	for i, p := range h.proxies {
		if p != nil {
			p.close()
		}
		if s := h.shared[i]; s != nil {
			if err := s.Close(); err != nil {
				h.log.Debug("closing shared stream", "stream", names[i].String(), "error", err)
			}
		}
		h.shared[i] = nil
	}
	h.installed = false
	h.log.Debug("stream proxies restored")
}

// Stream returns the process-visible stream n: its proxy once installed,
// the pristine file otherwise.
func (h *Hub) Stream(n Name) io.ReadWriter {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.installed && h.proxies[n] != nil {
		return h.proxies[n]
	}
	return h.pristine[n]
}

// Stdin returns the process-visible standard input.
func (h *Hub) Stdin() io.Reader { return h.Stream(Stdin) }

// Stdout returns the process-visible standard output.
func (h *Hub) Stdout() io.Writer { return h.Stream(Stdout) }

// Stderr returns the process-visible standard error.
func (h *Hub) Stderr() io.Writer { return h.Stream(Stderr) }

// Pristine returns the untouched process file for n.
func (h *Hub) Pristine(n Name) *os.File {
	return h.pristine[n]
}

// Proxy is a stable-identity stream over a shared duplicate descriptor.
// The hub reuses the same proxy across restore and reinstall, so a holder
// never ends up with a dead stream.
type Proxy struct {
	name     Name
	pristine *os.File

	mu     sync.RWMutex
	file   *os.File
	closed bool
}

// Name returns the stream this proxy stands for.
func (p *Proxy) Name() Name { return p.name }

// File returns the shared descriptor, or nil after restore.
func (p *Proxy) File() *os.File {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil
	}
	return p.file
}

// target returns the file I/O goes to: the shared duplicate while
// installed, the pristine file after restore.
func (p *Proxy) target() *os.File {
	if p.closed || p.file == nil {
		return p.pristine
	}
	return p.file
}

// Read implements io.Reader.
func (p *Proxy) Read(b []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f := p.target()
	if f == nil {
		return 0, ErrProxyClosed
	}
	return f.Read(b)
}

// Write implements io.Writer.
func (p *Proxy) Write(b []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f := p.target()
	if f == nil {
		return 0, ErrProxyClosed
	}
	return f.Write(b)
}

// Closed reports whether the hub restored past this proxy.
func (p *Proxy) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *Proxy) open(f *os.File) {
	p.mu.Lock()
	p.file = f
	p.closed = false
	p.mu.Unlock()
}

func (p *Proxy) close() {
	p.mu.Lock()
	p.file = nil
	p.closed = true
	p.mu.Unlock()
}
