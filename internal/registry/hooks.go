package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/opposj/pdbp/internal/engine"
)

// Hook is a debugger entry point instrumented into a target function.
type Hook struct {
	ID     int
	Target string
	Owner  engine.ThreadID
	// Handle is the engine's identifier for the installed instrumentation.
	Handle int
}

// String formats the hook the way the hooks listing shows it.
func (h Hook) String() string {
	return fmt.Sprintf("%d: %s (thread %d)", h.ID, h.Target, h.Owner)
}

// Hooks stores instrumented targets. Every mutation runs under the hook
// lock so two threads never instrument concurrently.
type Hooks struct {
	lock *TicketLock

	mu    sync.Mutex
	next  int
	items map[int]Hook
}

func newHooks(lock *TicketLock) *Hooks {
	return &Hooks{lock: lock, items: make(map[int]Hook)}
}

// Add installs a hook on target through install and records it.
func (h *Hooks) Add(ctx context.Context, owner engine.ThreadID, target string, install func(target string) (int, error)) (Hook, error) {
	if err := h.lock.Acquire(ctx, owner); err != nil {
		return Hook{}, err
	}
	defer func() { _ = h.lock.Release(owner) }()

	h.mu.Lock()
	for _, existing := range h.items {
		if existing.Target == target {
			h.mu.Unlock()
			return Hook{}, fmt.Errorf("%w: %s", ErrHookExists, target)
		}
	}
	h.mu.Unlock()

	handle, err := install(target)
	if err != nil {
		return Hook{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	hook := Hook{ID: h.next, Target: target, Owner: owner, Handle: handle}
	h.items[hook.ID] = hook
	h.next++
	return hook, nil
}

// Remove uninstalls hook id and forgets it.
func (h *Hooks) Remove(ctx context.Context, owner engine.ThreadID, id int, uninstall func(handle int) error) error {
	if err := h.lock.Acquire(ctx, owner); err != nil {
		return err
	}
	defer func() { _ = h.lock.Release(owner) }()

	h.mu.Lock()
	hook, ok := h.items[id]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHook, id)
	}

	if uninstall != nil {
		if err := uninstall(hook.Handle); err != nil {
			return err
		}
	}

	h.mu.Lock()
	delete(h.items, id)
	h.mu.Unlock()
	return nil
}

// List returns the hooks ordered by id.
func (h *Hooks) List() []Hook {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Hook, 0, len(h.items))
	for _, hook := range h.items {
		out = append(out, hook)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
