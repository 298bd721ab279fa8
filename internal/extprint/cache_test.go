package extprint

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T, limit int) *Cache {
	t.Helper()
	opts := DefaultOptions()
	opts.Root = t.TempDir()
	opts.Limit = limit
	return New(opts, 7)
}

func TestPutAndLookup(t *testing.T) {
	c := newCache(t, -1)
	assert.Equal(t, "7", filepath.Base(c.Dir()))

	e, err := c.Put("x", "42")
	require.NoError(t, err)
	assert.Equal(t, "eval0.txt", e.Name)
	data, err := os.ReadFile(e.Path)
	require.NoError(t, err)
	assert.Equal(t, "42\n", string(data))

	e2, err := c.Put("cfg", `{"a":1,"b":[1,2]}`)
	require.NoError(t, err)
	assert.Equal(t, "eval1.txt", e2.Name)
	data, err = os.ReadFile(e2.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"a\": 1,")

	got, err := c.Lookup("eval1.txt")
	require.NoError(t, err)
	assert.Equal(t, "cfg", got.Expr)

	_, err = c.Lookup("eval9.txt")
	assert.ErrorIs(t, err, ErrNotCached)

	assert.Equal(t, "eval0.txt: x\neval1.txt: cfg\n", c.Listing())
}

func TestEviction(t *testing.T) {
	c := newCache(t, 2)
	first, err := c.Put("a", "1")
	require.NoError(t, err)
	_, err = c.Put("b", "2")
	require.NoError(t, err)
	_, err = c.Put("c", "3")
	require.NoError(t, err)

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Expr)
	assert.Equal(t, "c", entries[1].Expr)
	assert.NoFileExists(t, first.Path)
	_, err = c.Lookup(first.Name)
	assert.ErrorIs(t, err, ErrNotCached)
}

func TestZeroLimitKeepsNothing(t *testing.T) {
	c := newCache(t, 0)
	e, err := c.Put("a", "1")
	require.NoError(t, err)
	assert.FileExists(t, e.Path)
	assert.Empty(t, c.Entries())
}

func TestLookupRemovedFile(t *testing.T) {
	c := newCache(t, -1)
	e, err := c.Put("a", "1")
	require.NoError(t, err)
	require.NoError(t, os.Remove(e.Path))

	_, err = c.Lookup(e.Name)
	assert.ErrorIs(t, err, ErrEntryRemoved)
}

func TestRemove(t *testing.T) {
	c := newCache(t, -1)
	_, err := c.Put("a", "1")
	require.NoError(t, err)

	c.Remove()
	assert.NoDirExists(t, c.Dir())
	assert.Empty(t, c.Entries())
	assert.NotPanics(t, c.Remove)
}

func TestView(t *testing.T) {
	opts := DefaultOptions()
	opts.Root = t.TempDir()
	opts.Command = "cat " + Placeholder
	c := New(opts, 1)

	e, err := c.Put("it's", "hello")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, c.View(context.Background(), e, Stdio{Out: &out, Err: &out}))
	assert.Equal(t, "hello\n", out.String())

	opts.Command = ""
	assert.ErrorIs(t, New(opts, 1).View(context.Background(), e, Stdio{}), ErrNoViewer)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".cache"), expandHome("~/.cache"))
	assert.Equal(t, "/tmp/x", expandHome("/tmp/x"))
}
