package terminal_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/term"

	"github.com/opposj/pdbp/internal/logging"
	"github.com/opposj/pdbp/internal/stream"
	"github.com/opposj/pdbp/internal/terminal"
	"github.com/opposj/pdbp/internal/terminal/terminaltest"
)

func newStreams(t *testing.T) (*stream.Hub, *stream.Context) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})
	hub := stream.NewHub(logging.Nop(), r, w, w)
	return hub, hub.NewContext()
}

func TestSessionAttachDetach(t *testing.T) {
	hub, sc := newStreams(t)
	lb := terminaltest.NewLoopback()
	defer lb.Close()

	s, err := terminal.Open(sc, terminal.Options{Allocator: lb.Allocate})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "loopback/0", s.WorkerPath())
	assert.False(t, s.Attached())
	assert.Equal(t, hub.Stdout(), s.Output())

	s.Attach()
	s.Attach()
	assert.True(t, s.Attached())

	_, err = io.WriteString(s.Output(), "to the operator")
	require.NoError(t, err)
	assert.Equal(t, "to the operator", lb.Operator(0).Out.String())

	s.Detach()
	s.Detach()
	assert.False(t, s.Attached())
	assert.Equal(t, hub.Stdout(), s.Output())
}

func TestSessionInputFromOperator(t *testing.T) {
	_, sc := newStreams(t)
	lb := terminaltest.NewLoopback()
	defer lb.Close()
	lb.Preload(0, "where")

	s, err := terminal.Open(sc, terminal.Options{Allocator: lb.Allocate})
	require.NoError(t, err)
	defer s.Close()
	s.Attach()

	buf := make([]byte, len("where\r"))
	_, err = io.ReadFull(s.Input(), buf)
	require.NoError(t, err)
	assert.Equal(t, "where\r", string(buf))
}

func TestSessionAllocationFailure(t *testing.T) {
	_, sc := newStreams(t)
	boom := errors.New("out of ptys")

	_, err := terminal.Open(sc, terminal.Options{Allocator: func() (*terminal.Pair, error) { return nil, boom }})
	assert.ErrorIs(t, err, terminal.ErrTerminalAllocationFailed)
	assert.Contains(t, err.Error(), "out of ptys")
}

func TestSessionDisablePTY(t *testing.T) {
	hub, sc := newStreams(t)
	s, err := terminal.Open(sc, terminal.Options{DisablePTY: true, Allocator: func() (*terminal.Pair, error) {
		t.Fatal("allocator must not run")
		return nil, nil
	}})
	require.NoError(t, err)

	s.Attach()
	assert.Equal(t, "", s.WorkerPath())
	assert.Equal(t, hub.Stdout(), s.Output())
	require.NoError(t, s.Close())
}

func TestBindExternal(t *testing.T) {
	_, sc := newStreams(t)
	lb := terminaltest.NewLoopback()
	defer lb.Close()
	s, err := terminal.Open(sc, terminal.Options{Allocator: lb.Allocate})
	require.NoError(t, err)
	defer s.Close()
	s.Attach()

	regular := filepath.Join(t.TempDir(), "notatty")
	require.NoError(t, os.WriteFile(regular, nil, 0o600))

	err = s.BindExternal(regular)
	assert.ErrorIs(t, err, terminal.ErrExternalDeviceInvalid)
	err = s.BindExternal(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, terminal.ErrExternalDeviceInvalid)
	assert.Equal(t, "", s.ExternalPath())

	require.NoError(t, s.BindExternal("/dev/null"))
	assert.Equal(t, "/dev/null", s.ExternalPath())
	f, ok := s.Output().(*os.File)
	require.True(t, ok)
	assert.Equal(t, "/dev/null", f.Name())

	in, out, errw := s.ExternalIO()
	assert.Same(t, f, in)
	assert.Same(t, f, out)
	assert.Same(t, f, errw)

	// Rebinding replaces the previous handle.
	require.NoError(t, s.BindExternal("/dev/null"))
	assert.NotSame(t, f, s.Output())

	s.UnbindExternal()
	assert.Equal(t, "", s.ExternalPath())
	_, err = io.WriteString(s.Output(), "back")
	require.NoError(t, err)
	assert.Equal(t, "back", lb.Operator(0).Out.String())
}

func TestExternalIOFallsBackToOriginals(t *testing.T) {
	hub, sc := newStreams(t)
	lb := terminaltest.NewLoopback()
	defer lb.Close()
	s, err := terminal.Open(sc, terminal.Options{Allocator: lb.Allocate})
	require.NoError(t, err)
	defer s.Close()
	s.Attach()

	_, out, errw := s.ExternalIO()
	assert.Equal(t, hub.Stdout(), out)
	assert.Equal(t, hub.Stderr(), errw)
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	hub, sc := newStreams(t)
	lb := terminaltest.NewLoopback()
	defer lb.Close()
	s, err := terminal.Open(sc, terminal.Options{Allocator: lb.Allocate})
	require.NoError(t, err)
	s.Attach()
	require.NoError(t, s.BindExternal("/dev/null"))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.True(t, s.Closed())
	assert.False(t, s.Attached())
	assert.True(t, sc.TornDown())
	assert.Equal(t, hub.Stdout(), s.Output())
	assert.ErrorIs(t, s.BindExternal("/dev/null"), terminal.ErrTerminalClosed)

	s.Attach()
	assert.False(t, s.Attached())
}

func TestSessionSizeFallback(t *testing.T) {
	_, sc := newStreams(t)
	lb := terminaltest.NewLoopback()
	defer lb.Close()
	s, err := terminal.Open(sc, terminal.Options{Allocator: lb.Allocate, Width: 100, Height: 30})
	require.NoError(t, err)
	defer s.Close()

	w, h := s.Size()
	assert.Equal(t, 100, w)
	assert.Equal(t, 30, h)
}

func TestIsCharDevice(t *testing.T) {
	assert.True(t, terminal.IsCharDevice("/dev/null"))
	assert.False(t, terminal.IsCharDevice(t.TempDir()))
	assert.False(t, terminal.IsCharDevice("/definitely/not/here"))
}

func TestOpenPTY(t *testing.T) {
	pair, err := terminal.OpenPTY()
	if err != nil {
		t.Skipf("pseudo-terminals unavailable: %v", err)
	}
	defer func() {
		_ = pair.ControlIn.Close()
		_ = pair.ControlOut.Close()
		_ = pair.Worker.Close()
	}()

	assert.True(t, strings.HasPrefix(pair.WorkerPath, "/dev/"))
	assert.True(t, terminal.IsCharDevice(pair.WorkerPath))

	require.NoError(t, pair.Resize(120, 40))
	w, h, err := term.GetSize(int(pair.Worker.Fd()))
	require.NoError(t, err)
	assert.Equal(t, 120, w)
	assert.Equal(t, 40, h)
	assert.ErrorIs(t, pair.Resize(0, 10), terminal.ErrInvalidSize)

	_, err = pair.Worker.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(pair.ControlIn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}
