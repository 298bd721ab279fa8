package registry

import (
	"context"
	"sync"

	"github.com/opposj/pdbp/internal/engine"
)

// TicketLock is a FIFO mutex with owner identity. Waiters are served in
// arrival order and the lock is handed directly to the queue head on
// release, so a releasing thread that immediately re-acquires lines up
// behind everyone already waiting.
type TicketLock struct {
	mu     sync.Mutex
	held   bool
	holder engine.ThreadID
	queue  []*waiter

	onHandoff func(to engine.ThreadID)
}

type waiter struct {
	owner engine.ThreadID
	ready chan struct{}
}

// NewTicketLock returns an unlocked lock. onHandoff, when non-nil, runs
// under the lock each time ownership passes directly to a waiter.
func NewTicketLock(onHandoff func(to engine.ThreadID)) *TicketLock {
	return &TicketLock{onHandoff: onHandoff}
}

// Acquire blocks until owner holds the lock or ctx is done. Acquiring a
// lock already held by owner returns immediately.
func (l *TicketLock) Acquire(ctx context.Context, owner engine.ThreadID) error {
	l.mu.Lock()
	if l.held && l.holder == owner {
		l.mu.Unlock()
		return nil
	}
	if !l.held && len(l.queue) == 0 {
		l.held, l.holder = true, owner
		l.mu.Unlock()
		return nil
	}
	w := &waiter{owner: owner, ready: make(chan struct{})}
	l.queue = append(l.queue, w)
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-w.ready:
		// Granted while we were giving up; pass it on.
		l.releaseLocked()
	default:
		l.removeLocked(w)
	}
	return ctx.Err()
}

// TryAcquire takes the lock only if it is free with no waiters, or already
// held by owner.
func (l *TicketLock) TryAcquire(owner engine.ThreadID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return l.holder == owner
	}
	if len(l.queue) > 0 {
		return false
	}
	l.held, l.holder = true, owner
	return true
}

// Release gives up the lock held by owner.
func (l *TicketLock) Release(owner engine.ThreadID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return ErrLockAlreadyReleased
	}
	if l.holder != owner {
		return ErrNotLockOwner
	}
	l.releaseLocked()
	return nil
}

// Abandon releases the lock if owner holds it and drops owner from the
// wait queue. It reports whether anything was released.
func (l *TicketLock) Abandon(owner engine.ThreadID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.queue {
		if w.owner == owner {
			l.removeLocked(w)
			break
		}
	}
	if l.held && l.holder == owner {
		l.releaseLocked()
		return true
	}
	return false
}

func (l *TicketLock) releaseLocked() {
	if len(l.queue) == 0 {
		l.held = false
		return
	}
	next := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	l.holder = next.owner
	close(next.ready)
	if l.onHandoff != nil {
		l.onHandoff(next.owner)
	}
}

func (l *TicketLock) removeLocked(w *waiter) {
	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
}

// Holder returns the current holder.
func (l *TicketLock) Holder() (engine.ThreadID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder, l.held
}

// HeldBy reports whether owner holds the lock.
func (l *TicketLock) HeldBy(owner engine.ThreadID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held && l.holder == owner
}

// Waiters returns the number of queued waiters.
func (l *TicketLock) Waiters() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
