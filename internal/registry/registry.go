// Package registry tracks the live per-thread debug sessions and the
// process-wide locks they coordinate through: the terminal lock that
// serializes interactive use, the completion lock and the hook lock.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/opposj/pdbp/internal/engine"
	"github.com/opposj/pdbp/internal/logging"
	"github.com/opposj/pdbp/internal/metrics"
	"github.com/opposj/pdbp/internal/stream"
)

// Mode selects how threads share the terminal.
type Mode int

const (
	// ModeShared queues threads for the terminal in arrival order.
	ModeShared Mode = iota
	// ModeSingle never blocks: a thread that finds the terminal taken
	// gets ErrTerminalBusy.
	ModeSingle
)

// ParseMode maps "single" to ModeSingle and anything else to ModeShared.
func ParseMode(s string) Mode {
	if s == "single" {
		return ModeSingle
	}
	return ModeShared
}

// Session is what the registry stores per thread.
type Session interface {
	Close() error
}

// Options configure a Registry.
type Options struct {
	Mode    Mode
	Log     *logging.Logger
	Metrics *metrics.Metrics
}

// Registry maps thread ids to their sessions.
type Registry[S Session] struct {
	// cleanup guards sessions; held across teardown so a concurrent
	// registration never sees a half-removed entry.
	cleanup  sync.Mutex
	sessions map[engine.ThreadID]S

	hub     *stream.Hub
	mode    Mode
	log     *logging.Logger
	metrics *metrics.Metrics

	terminal   *TicketLock
	completion *TicketLock
	hooks      *Hooks
}

// New creates a registry over hub.
func New[S Session](hub *stream.Hub, opts Options) *Registry[S] {
	if opts.Log == nil {
		opts.Log = logging.Nop()
	}
	r := &Registry[S]{
		sessions: make(map[engine.ThreadID]S),
		hub:      hub,
		mode:     opts.Mode,
		log:      opts.Log.WithComponent("registry"),
		metrics:  opts.Metrics,
	}
	r.terminal = NewTicketLock(func(engine.ThreadID) { r.metrics.RecordHandoff() })
	r.completion = NewTicketLock(nil)
	r.hooks = newHooks(NewTicketLock(nil))
	return r
}

// Hub returns the stream hub sessions are built on.
func (r *Registry[S]) Hub() *stream.Hub { return r.hub }

// Mode returns the terminal sharing mode.
func (r *Registry[S]) Mode() Mode { return r.mode }

// Register returns the session for id, creating it with open when absent.
// The first registration installs the stream proxies before open runs.
func (r *Registry[S]) Register(id engine.ThreadID, open func() (S, error)) (S, bool, error) {
	r.cleanup.Lock()
	defer r.cleanup.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s, false, nil
	}
	var zero S
	if len(r.sessions) == 0 {
		if err := r.hub.Install(); err != nil {
			return zero, false, err
		}
	}

	s, err := open()
	if err != nil {
		if len(r.sessions) == 0 {
			r.hub.Restore()
		}
		return zero, false, err
	}
	r.sessions[id] = s
	r.metrics.SessionOpened()
	r.log.Debug("session registered", "thread", id, "sessions", len(r.sessions))
	return s, true, nil
}

// Lookup returns the session for id.
func (r *Registry[S]) Lookup(id engine.ThreadID) (S, bool) {
	r.cleanup.Lock()
	defer r.cleanup.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Unregister closes and removes the session for id. The id leaves the
// registry only after its session closed; the last removal restores the
// process streams.
func (r *Registry[S]) Unregister(id engine.ThreadID) {
	r.cleanup.Lock()
	defer r.cleanup.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return
	}
	if err := s.Close(); err != nil {
		r.log.Debug("closing session", "thread", id, "error", err)
	}
	delete(r.sessions, id)
	r.metrics.SessionClosed()
	r.log.Debug("session unregistered", "thread", id, "sessions", len(r.sessions))

	if len(r.sessions) == 0 {
		r.hub.Restore()
	}
}

// Threads returns the registered ids in ascending order.
func (r *Registry[S]) Threads() []engine.ThreadID {
	r.cleanup.Lock()
	defer r.cleanup.Unlock()
	ids := make([]engine.ThreadID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of live sessions.
func (r *Registry[S]) Len() int {
	r.cleanup.Lock()
	defer r.cleanup.Unlock()
	return len(r.sessions)
}

// AcquireTerminal gives id exclusive interactive use of the terminal.
func (r *Registry[S]) AcquireTerminal(ctx context.Context, id engine.ThreadID) error {
	if r.mode == ModeSingle {
		if r.terminal.TryAcquire(id) {
			return nil
		}
		return ErrTerminalBusy
	}

	start := time.Now()
	if err := r.terminal.Acquire(ctx, id); err != nil {
		return err
	}
	r.metrics.RecordTerminalWait(time.Since(start))
	return nil
}

// ReleaseTerminal gives up the terminal. Releasing a terminal id does not
// hold is logged and ignored.
func (r *Registry[S]) ReleaseTerminal(id engine.ThreadID) {
	r.swallow("terminal", id, r.terminal.Release(id))
}

// HandOff releases the terminal and queues id to take it back after every
// thread already waiting.
func (r *Registry[S]) HandOff(ctx context.Context, id engine.ThreadID) error {
	r.ReleaseTerminal(id)
	return r.AcquireTerminal(ctx, id)
}

// HoldsTerminal reports whether id holds the terminal.
func (r *Registry[S]) HoldsTerminal(id engine.ThreadID) bool {
	return r.terminal.HeldBy(id)
}

// TerminalWaiters returns how many threads wait for the terminal.
func (r *Registry[S]) TerminalWaiters() int {
	return r.terminal.Waiters()
}

// WithCompletion runs fn while id holds the completion lock.
func (r *Registry[S]) WithCompletion(id engine.ThreadID, fn func()) {
	if err := r.completion.Acquire(context.Background(), id); err != nil {
		return
	}
	defer func() { r.swallow("completion", id, r.completion.Release(id)) }()
	fn()
}

// Completing reports whether id is inside WithCompletion.
func (r *Registry[S]) Completing(id engine.ThreadID) bool {
	return r.completion.HeldBy(id)
}

// Hooks returns the dynamic instrumentation registry.
func (r *Registry[S]) Hooks() *Hooks { return r.hooks }

// ReleaseAll drops every lock id holds or waits for. It never fails; it is
// run when a thread exits.
func (r *Registry[S]) ReleaseAll(id engine.ThreadID) {
	for name, l := range map[string]*TicketLock{
		"terminal":   r.terminal,
		"completion": r.completion,
		"hook":       r.hooks.lock,
	} {
		if !l.Abandon(id) {
			r.swallow(name, id, ErrLockAlreadyReleased)
		}
	}
}

func (r *Registry[S]) swallow(lock string, id engine.ThreadID, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, ErrLockAlreadyReleased) || errors.Is(err, ErrNotLockOwner) {
		r.metrics.RecordSwallowedRelease()
		r.log.Debug("ignoring release", "lock", lock, "thread", id, "error", err)
		return
	}
	r.log.Warn("lock release failed", "lock", lock, "thread", id, "error", err)
}
