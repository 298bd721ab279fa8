// Package terminaltest provides in-process terminal pairs for tests.
//
// A Loopback hands out pairs backed by an os.Pipe for input and a
// Transcript for output, so tests can type commands and read what a
// session printed without a kernel pseudo-terminal.
package terminaltest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/opposj/pdbp/internal/terminal"
)

// Operator is the far end of a Loopback pair: tests type into In and read
// the session's output from Out.
type Operator struct {
	In   io.WriteCloser
	Out  *Transcript
	Path string
}

// Type writes lines to the session's input, each terminated by "\r" the
// way a raw-mode terminal sends Enter.
func (o *Operator) Type(lines ...string) error {
	for _, l := range lines {
		if _, err := io.WriteString(o.In, l+"\r"); err != nil {
			return err
		}
	}
	return nil
}

// Loopback allocates in-process pairs backed by an os.Pipe and a
// Transcript instead of a kernel pseudo-terminal.
type Loopback struct {
	mu      sync.Mutex
	cond    *sync.Cond
	ops     []*Operator
	pending map[int][]string
}

// NewLoopback returns an empty loopback allocator.
func NewLoopback() *Loopback {
	l := &Loopback{pending: make(map[int][]string)}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Preload queues input typed into the n-th allocated pair as soon as it
// exists.
func (l *Loopback) Preload(n int, lines ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[n] = append(l.pending[n], lines...)
}

// Allocate implements terminal.Allocator.
func (l *Loopback) Allocate() (*terminal.Pair, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	n := len(l.ops)
	op := &Operator{In: w, Out: &Transcript{}, Path: fmt.Sprintf("loopback/%d", n)}
	l.ops = append(l.ops, op)
	lines := l.pending[n]
	delete(l.pending, n)
	l.cond.Broadcast()
	l.mu.Unlock()

	if err := op.Type(lines...); err != nil {
		return nil, err
	}
	return &terminal.Pair{ControlIn: r, ControlOut: op.Out, WorkerPath: op.Path}, nil
}

// Operator blocks until the n-th pair is allocated and returns its far end.
func (l *Loopback) Operator(n int) *Operator {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.ops) <= n {
		l.cond.Wait()
	}
	return l.ops[n]
}

// Allocated returns the number of pairs handed out.
func (l *Loopback) Allocated() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}

// Close closes every operator input.
func (l *Loopback) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, op := range l.ops {
		_ = op.In.Close()
	}
}

// Transcript is a goroutine-safe output buffer.
type Transcript struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer.
func (t *Transcript) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Write(p)
}

// Close implements io.Closer; the transcript stays readable.
func (t *Transcript) Close() error { return nil }

// String returns everything written so far.
func (t *Transcript) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

// Reset discards the transcript.
func (t *Transcript) Reset() {
	t.mu.Lock()
	t.buf.Reset()
	t.mu.Unlock()
}
