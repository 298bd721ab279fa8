package registry

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opposj/pdbp/internal/engine"
	"github.com/opposj/pdbp/internal/logging"
	"github.com/opposj/pdbp/internal/metrics"
	"github.com/opposj/pdbp/internal/stream"
)

type fakeSession struct {
	id     engine.ThreadID
	closes int
	err    error
}

func (s *fakeSession) Close() error {
	s.closes++
	return s.err
}

func newHub(t *testing.T) *stream.Hub {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})
	return stream.NewHub(logging.Nop(), r, w, w)
}

func newRegistry(t *testing.T, mode Mode) (*Registry[*fakeSession], *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	return New[*fakeSession](newHub(t), Options{Mode: mode, Metrics: m}), m
}

func opener(id engine.ThreadID) func() (*fakeSession, error) {
	return func() (*fakeSession, error) { return &fakeSession{id: id}, nil }
}

func TestRegisterAndUnregister(t *testing.T) {
	r, m := newRegistry(t, ModeShared)
	hub := r.Hub()

	s1, created, err := r.Register(1, opener(1))
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, hub.Installed())

	again, created, err := r.Register(1, opener(99))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, s1, again)

	_, _, err = r.Register(2, opener(2))
	require.NoError(t, err)
	assert.Equal(t, []engine.ThreadID{1, 2}, r.Threads())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsActive))

	r.Unregister(1)
	assert.Equal(t, 1, s1.closes)
	assert.True(t, hub.Installed(), "streams stay proxied while sessions remain")
	_, ok := r.Lookup(1)
	assert.False(t, ok)

	r.Unregister(1)
	assert.Equal(t, 1, s1.closes)

	r.Unregister(2)
	assert.Equal(t, 0, r.Len())
	assert.False(t, hub.Installed(), "last unregister restores the process streams")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionsActive))
}

func TestRegisterOpenFailure(t *testing.T) {
	r, _ := newRegistry(t, ModeShared)
	boom := errors.New("no pty")

	_, _, err := r.Register(1, func() (*fakeSession, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Hub().Installed())
}

func TestUnregisterSwallowsCloseError(t *testing.T) {
	r, _ := newRegistry(t, ModeShared)
	_, _, err := r.Register(1, func() (*fakeSession, error) {
		return &fakeSession{err: errors.New("already closed")}, nil
	})
	require.NoError(t, err)

	assert.NotPanics(t, func() { r.Unregister(1) })
	assert.Equal(t, 0, r.Len())
}

func TestTerminalSharedMode(t *testing.T) {
	ctx := context.Background()
	r, m := newRegistry(t, ModeShared)

	require.NoError(t, r.AcquireTerminal(ctx, 1))
	assert.True(t, r.HoldsTerminal(1))

	acquired := make(chan struct{})
	go func() {
		assert.NoError(t, r.AcquireTerminal(ctx, 2))
		close(acquired)
	}()
	waitFor(t, func() bool { return r.TerminalWaiters() == 1 })

	select {
	case <-acquired:
		t.Fatal("second thread acquired a held terminal")
	case <-time.After(10 * time.Millisecond):
	}

	r.ReleaseTerminal(1)
	<-acquired
	assert.True(t, r.HoldsTerminal(2))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TerminalHandoffs))

	// Releasing a terminal you do not hold is ignored.
	r.ReleaseTerminal(1)
	assert.True(t, r.HoldsTerminal(2))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReleasesSwallowed))
}

func TestTerminalSingleMode(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t, ModeSingle)

	require.NoError(t, r.AcquireTerminal(ctx, 1))
	require.NoError(t, r.AcquireTerminal(ctx, 1))
	assert.ErrorIs(t, r.AcquireTerminal(ctx, 2), ErrTerminalBusy)

	r.ReleaseTerminal(1)
	require.NoError(t, r.AcquireTerminal(ctx, 2))
}

func TestHandOffLetsWaiterRunFirst(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t, ModeShared)
	require.NoError(t, r.AcquireTerminal(ctx, 1))

	order := make(chan engine.ThreadID, 2)
	go func() {
		assert.NoError(t, r.AcquireTerminal(ctx, 2))
		order <- 2
		r.ReleaseTerminal(2)
	}()
	waitFor(t, func() bool { return r.TerminalWaiters() == 1 })

	require.NoError(t, r.HandOff(ctx, 1))
	order <- 1

	assert.Equal(t, engine.ThreadID(2), <-order)
	assert.Equal(t, engine.ThreadID(1), <-order)
	assert.True(t, r.HoldsTerminal(1))
}

func TestHandOffWithoutWaiters(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t, ModeShared)
	require.NoError(t, r.AcquireTerminal(ctx, 1))
	require.NoError(t, r.HandOff(ctx, 1))
	assert.True(t, r.HoldsTerminal(1))
}

func TestReleaseAll(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t, ModeShared)

	require.NoError(t, r.AcquireTerminal(ctx, 1))
	done := make(chan struct{})
	go func() {
		assert.NoError(t, r.AcquireTerminal(ctx, 2))
		close(done)
	}()
	waitFor(t, func() bool { return r.TerminalWaiters() == 1 })

	r.ReleaseAll(1)
	<-done
	assert.True(t, r.HoldsTerminal(2))

	// Nothing held: must not fail or panic.
	assert.NotPanics(t, func() { r.ReleaseAll(1) })
	assert.NotPanics(t, func() { r.ReleaseAll(42) })
}

func TestCompletion(t *testing.T) {
	r, _ := newRegistry(t, ModeShared)

	var inside bool
	r.WithCompletion(3, func() {
		inside = r.Completing(3)
		assert.False(t, r.Completing(4))
	})
	assert.True(t, inside)
	assert.False(t, r.Completing(3))
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeSingle, ParseMode("single"))
	assert.Equal(t, ModeShared, ParseMode("shared"))
	assert.Equal(t, ModeShared, ParseMode(""))
}

func TestProcessStreamsUsableAfterLastSessionLeaves(t *testing.T) {
	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pr.Close()
		_ = pw.Close()
	})
	hub := stream.NewHub(logging.Nop(), nil, pw, pw)
	r := New[*fakeSession](hub, Options{Mode: ModeShared})

	_, _, err = r.Register(1, opener(1))
	require.NoError(t, err)
	out := hub.Stdout()
	r.Unregister(1)
	require.False(t, hub.Installed())

	// Writers taken while a session was active outlive it.
	_, err = io.WriteString(out, "after\n")
	require.NoError(t, err)

	_, _, err = r.Register(2, opener(2))
	require.NoError(t, err)
	_, err = io.WriteString(out, "again\n")
	require.NoError(t, err)
	r.Unregister(2)

	buf := make([]byte, len("after\nagain\n"))
	_, err = io.ReadFull(pr, buf)
	require.NoError(t, err)
	assert.Equal(t, "after\nagain\n", string(buf))
}
