package stream

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/opposj/pdbp/internal/logging"
)

// Context is one thread's view of the standard streams. Its state is never
// shared between threads.
type Context struct {
	mu  sync.Mutex
	log *logging.Logger

	original [3]any
	redirect [3]any
	owned    []io.Closer

	redirected bool
	tornDown   bool
}

// NewContext creates a context whose original handles are the hub's
// process-visible streams.
func (h *Hub) NewContext() *Context {
	c := &Context{log: h.log}
	for _, n := range names {
		c.original[n] = h.Stream(n)
	}
	return c
}

// SetTarget sets the redirect handle for n. Stdin targets must implement
// io.Reader, the others io.Writer. When owned is true the handle is closed
// by Teardown.
func (c *Context) SetTarget(n Name, h any, owned bool) error {
	switch n {
	case Stdin:
		if _, ok := h.(io.Reader); !ok {
			return ErrBadTarget
		}
	default:
		if _, ok := h.(io.Writer); !ok {
			return ErrBadTarget
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tornDown {
		return ErrTornDown
	}
	c.redirect[n] = h
	if cl, ok := h.(io.Closer); ok && owned {
		c.owned = append(c.owned, cl)
	}
	return nil
}

// SwitchToRedirect routes the thread's streams to the redirect targets.
// Without redirect targets it is a no-op.
func (c *Context) SwitchToRedirect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tornDown || c.redirect[Stdout] == nil {
		return
	}
	c.redirected = true
}

// SwitchToOriginal routes the thread's streams back to the originals.
func (c *Context) SwitchToOriginal() {
	c.mu.Lock()
	c.redirected = false
	c.mu.Unlock()
}

// Redirected reports whether the redirect targets are current.
func (c *Context) Redirected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redirected
}

// Current returns the handle n currently resolves to.
func (c *Context) Current(n Name) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.redirected && c.redirect[n] != nil {
		return c.redirect[n]
	}
	return c.original[n]
}

// Original returns the original handle for n regardless of redirection.
func (c *Context) Original(n Name) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.original[n]
}

// Stdin returns the current input stream.
func (c *Context) Stdin() io.Reader {
	r, _ := c.Current(Stdin).(io.Reader)
	return r
}

// Stdout returns the current output stream.
func (c *Context) Stdout() io.Writer {
	w, _ := c.Current(Stdout).(io.Writer)
	return w
}

// Stderr returns the current error stream.
func (c *Context) Stderr() io.Writer {
	w, _ := c.Current(Stderr).(io.Writer)
	return w
}

// Teardown closes the handles this context owns and drops its redirect
// targets. Handles already closed elsewhere are logged at debug level.
// Calling Teardown twice is a no-op.
func (c *Context) Teardown() {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}
	c.tornDown = true
	c.redirected = false
	owned := c.owned
	c.owned = nil
	c.redirect = [3]any{}
	c.mu.Unlock()

	for _, cl := range owned {
		if err := cl.Close(); err != nil {
			if errors.Is(err, os.ErrClosed) {
				c.log.Debug("stream already closed during teardown")
				continue
			}
			c.log.Debug("closing stream during teardown", "error", err)
		}
	}
}

// TornDown reports whether Teardown ran.
func (c *Context) TornDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tornDown
}

type ctxKey struct{}

// WithContext returns a context.Context carrying sc.
func WithContext(ctx context.Context, sc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, sc)
}

// FromContext returns the stream context carried by ctx, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	sc, ok := ctx.Value(ctxKey{}).(*Context)
	return sc, ok && sc != nil
}

// Writer resolves stream n for the calling thread: its own context when
// ctx carries one, the hub's process-visible stream otherwise.
func Writer(ctx context.Context, h *Hub, n Name) io.Writer {
	if sc, ok := FromContext(ctx); ok {
		if w, ok := sc.Current(n).(io.Writer); ok {
			return w
		}
	}
	return h.Stream(n)
}
