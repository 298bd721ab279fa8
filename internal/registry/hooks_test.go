package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHooksAddRemoveList(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t, ModeShared)
	hooks := r.Hooks()

	handles := map[string]int{"pkg.Handle": 10, "pkg.Serve": 11}
	install := func(target string) (int, error) { return handles[target], nil }

	h0, err := hooks.Add(ctx, 1, "pkg.Handle", install)
	require.NoError(t, err)
	h1, err := hooks.Add(ctx, 2, "pkg.Serve", install)
	require.NoError(t, err)

	assert.Equal(t, 0, h0.ID)
	assert.Equal(t, 1, h1.ID)
	assert.Equal(t, 10, h0.Handle)
	assert.Equal(t, "0: pkg.Handle (thread 1)", h0.String())

	_, err = hooks.Add(ctx, 1, "pkg.Handle", install)
	assert.ErrorIs(t, err, ErrHookExists)

	var removed []int
	uninstall := func(handle int) error {
		removed = append(removed, handle)
		return nil
	}
	require.NoError(t, hooks.Remove(ctx, 1, 0, uninstall))
	assert.Equal(t, []int{10}, removed)
	assert.ErrorIs(t, hooks.Remove(ctx, 1, 0, uninstall), ErrUnknownHook)

	list := hooks.List()
	require.Len(t, list, 1)
	assert.Equal(t, "pkg.Serve", list[0].Target)

	// Ids keep increasing after removal.
	h2, err := hooks.Add(ctx, 1, "pkg.Handle", install)
	require.NoError(t, err)
	assert.Equal(t, 2, h2.ID)
}

func TestHooksInstallFailure(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t, ModeShared)
	boom := errors.New("no such function")

	_, err := r.Hooks().Add(ctx, 1, "missing", func(string) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, r.Hooks().List())

	// The hook lock was released despite the failure.
	_, err = r.Hooks().Add(ctx, 2, "other", func(string) (int, error) { return 1, nil })
	require.NoError(t, err)
}

func TestHooksRemoveUninstallFailure(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t, ModeShared)
	_, err := r.Hooks().Add(ctx, 1, "t", func(string) (int, error) { return 5, nil })
	require.NoError(t, err)

	boom := errors.New("engine gone")
	assert.ErrorIs(t, r.Hooks().Remove(ctx, 1, 0, func(int) error { return boom }), boom)
	assert.Len(t, r.Hooks().List(), 1)

	require.NoError(t, r.Hooks().Remove(ctx, 1, 0, nil))
	assert.Empty(t, r.Hooks().List())
}
