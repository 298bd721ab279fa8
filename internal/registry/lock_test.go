package registry

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opposj/pdbp/internal/engine"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestTicketLockBasic(t *testing.T) {
	ctx := context.Background()
	l := NewTicketLock(nil)

	assert.ErrorIs(t, l.Release(1), ErrLockAlreadyReleased)

	require.NoError(t, l.Acquire(ctx, 1))
	require.NoError(t, l.Acquire(ctx, 1), "holder re-acquires without blocking")
	holder, held := l.Holder()
	assert.True(t, held)
	assert.Equal(t, engine.ThreadID(1), holder)

	assert.ErrorIs(t, l.Release(2), ErrNotLockOwner)
	require.NoError(t, l.Release(1))
	assert.ErrorIs(t, l.Release(1), ErrLockAlreadyReleased)
}

func TestTicketLockFIFOHandoff(t *testing.T) {
	ctx := context.Background()
	var handoffs []engine.ThreadID
	l := NewTicketLock(func(to engine.ThreadID) { handoffs = append(handoffs, to) })

	require.NoError(t, l.Acquire(ctx, 1))

	var (
		mu    sync.Mutex
		order []engine.ThreadID
		wg    sync.WaitGroup
	)
	for _, id := range []engine.ThreadID{2, 3, 4} {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Acquire(ctx, id))
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			assert.NoError(t, l.Release(id))
		}()
		// Serialize arrival so the queue order is known.
		waitFor(t, func() bool { return l.Waiters() == int(id)-1 })
	}

	require.NoError(t, l.Release(1))
	wg.Wait()

	assert.Equal(t, []engine.ThreadID{2, 3, 4}, order)
	assert.Equal(t, []engine.ThreadID{2, 3, 4}, handoffs)
	_, held := l.Holder()
	assert.False(t, held)
}

func TestTicketLockReacquireQueuesBehindWaiters(t *testing.T) {
	ctx := context.Background()
	l := NewTicketLock(nil)
	require.NoError(t, l.Acquire(ctx, 1))

	got := make(chan engine.ThreadID, 2)
	go func() {
		assert.NoError(t, l.Acquire(ctx, 2))
		got <- 2
		time.Sleep(10 * time.Millisecond)
		assert.NoError(t, l.Release(2))
	}()
	waitFor(t, func() bool { return l.Waiters() == 1 })

	require.NoError(t, l.Release(1))
	require.NoError(t, l.Acquire(ctx, 1))
	got <- 1

	assert.Equal(t, engine.ThreadID(2), <-got)
	assert.Equal(t, engine.ThreadID(1), <-got)
	assert.True(t, l.HeldBy(1))
}

func TestTicketLockCancel(t *testing.T) {
	l := NewTicketLock(nil)
	require.NoError(t, l.Acquire(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx, 2) }()
	waitFor(t, func() bool { return l.Waiters() == 1 })

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, l.Waiters())

	require.NoError(t, l.Release(1))
	_, held := l.Holder()
	assert.False(t, held)
}

func TestTicketLockTryAcquire(t *testing.T) {
	l := NewTicketLock(nil)
	assert.True(t, l.TryAcquire(1))
	assert.True(t, l.TryAcquire(1))
	assert.False(t, l.TryAcquire(2))
	require.NoError(t, l.Release(1))
	assert.True(t, l.TryAcquire(2))
}

func TestTicketLockAbandon(t *testing.T) {
	ctx := context.Background()
	l := NewTicketLock(nil)
	require.NoError(t, l.Acquire(ctx, 1))

	ctx2, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = l.Acquire(ctx2, 2) }()
	waitFor(t, func() bool { return l.Waiters() == 1 })

	// A waiting thread that dies leaves the queue without getting the lock.
	assert.False(t, l.Abandon(2))
	assert.Equal(t, 0, l.Waiters())
	assert.True(t, l.HeldBy(1))

	assert.True(t, l.Abandon(1))
	assert.False(t, l.Abandon(1))
	_, held := l.Holder()
	assert.False(t, held)
}

func TestTicketLockMutualExclusionUnderContention(t *testing.T) {
	const (
		threads = 16
		rounds  = 50
	)
	ctx := context.Background()
	l := NewTicketLock(nil)

	var holders, peak atomic.Int32
	var wg sync.WaitGroup
	for i := range threads {
		id := engine.ThreadID(i + 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range rounds {
				if !assert.NoError(t, l.Acquire(ctx, id)) {
					return
				}
				n := holders.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				runtime.Gosched()
				holders.Add(-1)
				assert.NoError(t, l.Release(id))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load(), "at most one holder at a time")
	_, held := l.Holder()
	assert.False(t, held)
	assert.Equal(t, 0, l.Waiters())
}
