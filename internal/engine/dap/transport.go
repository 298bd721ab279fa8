package dap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"sync"

	"github.com/google/go-dap"
)

// Transport moves framed messages to and from a debug adapter. Framing is
// the base protocol's single Content-Length header.
type Transport interface {
	Send(content []byte) error
	Receive() ([]byte, error)
	Close() error
}

// streamTransport frames messages over any byte stream.
type streamTransport struct {
	w      io.Writer
	r      *bufio.Reader
	closer func() error

	mu sync.Mutex
}

// NewStreamTransport frames messages over rwc.
func NewStreamTransport(rwc io.ReadWriteCloser) Transport {
	return &streamTransport{w: rwc, r: bufio.NewReader(rwc), closer: rwc.Close}
}

func (t *streamTransport) Send(content []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return dap.WriteBaseMessage(t.w, content)
}

func (t *streamTransport) Receive() ([]byte, error) {
	return dap.ReadBaseMessage(t.r)
}

func (t *streamTransport) Close() error {
	return t.closer()
}

// Dial connects to an adapter listening on addr.
func Dial(ctx context.Context, addr string) (Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewStreamTransport(conn), nil
}

// Spawn starts the adapter command and talks to it over its stdin and
// stdout. The adapter's stderr goes to stderr when it is not nil.
func Spawn(ctx context.Context, command []string, stderr io.Writer) (Transport, error) {
	if len(command) == 0 {
		return nil, errors.New("empty adapter command")
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("adapter stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("adapter stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start adapter %s: %w", command[0], err)
	}

	return &streamTransport{
		w: stdin,
		r: bufio.NewReader(stdout),
		closer: func() error {
			err := stdin.Close()
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			// The adapter was killed; its exit status carries no news.
			_ = cmd.Wait()
			return err
		},
	}, nil
}
