// Package extprint writes evaluated values to files under a per-thread
// cache directory so they can be browsed in an external viewer.
package extprint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/opposj/pdbp/internal/engine"
	"github.com/opposj/pdbp/internal/logging"
)

// Placeholder is replaced by the cached file path in the viewer command.
const Placeholder = "<filename>"

var (
	// ErrNotCached is returned when a name is not in the cache.
	ErrNotCached = errors.New("not cached")
	// ErrEntryRemoved is returned when a cached file vanished from disk.
	ErrEntryRemoved = errors.New("cached file already removed")
	// ErrNoViewer is returned by View when no viewer command is configured.
	ErrNoViewer = errors.New("no viewer configured")
)

// Options configure a Cache.
type Options struct {
	// Root is the cache root; "~" expands to the home directory.
	Root    string
	Prefix  string
	Postfix string
	// Limit bounds the number of entries; negative means unbounded.
	Limit int
	// Command is the viewer, run through the shell, with Placeholder
	// standing for the file.
	Command string
	Log     *logging.Logger
}

// DefaultOptions mirrors the stock configuration.
func DefaultOptions() Options {
	return Options{
		Root:    "~/.pdbp_cache",
		Prefix:  "eval",
		Postfix: ".txt",
		Limit:   -1,
		Command: "less -R " + Placeholder,
	}
}

// Entry is one cached print.
type Entry struct {
	Name string
	Expr string
	Path string
}

// Cache holds the prints of one thread, oldest first.
type Cache struct {
	opts Options
	dir  string
	log  *logging.Logger

	mu      sync.Mutex
	counter int
	entries []Entry
}

// New creates the cache for thread id. The directory is created lazily.
func New(opts Options, id engine.ThreadID) *Cache {
	if opts.Log == nil {
		opts.Log = logging.Nop()
	}
	return &Cache{
		opts: opts,
		dir:  filepath.Join(expandHome(opts.Root), strconv.FormatInt(int64(id), 10)),
		log:  opts.Log.WithComponent("extprint").WithField("thread", id),
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Format renders value for the file: JSON is pretty-printed, anything else
// is written as is.
func Format(value string) []byte {
	if gjson.Valid(value) {
		return pretty.Pretty([]byte(value))
	}
	if !strings.HasSuffix(value, "\n") {
		value += "\n"
	}
	return []byte(value)
}

// Put writes value to the next numbered file and records it under expr.
func (c *Cache) Put(expr, value string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return Entry{}, fmt.Errorf("creating cache dir: %w", err)
	}
	name := c.opts.Prefix + strconv.Itoa(c.counter) + c.opts.Postfix
	e := Entry{Name: name, Expr: expr, Path: filepath.Join(c.dir, name)}
	if err := os.WriteFile(e.Path, Format(value), 0o600); err != nil {
		return Entry{}, fmt.Errorf("writing %s: %w", name, err)
	}
	c.counter++

	if c.opts.Limit == 0 {
		return e, nil
	}
	if c.opts.Limit > 0 && len(c.entries) >= c.opts.Limit {
		oldest := c.entries[0]
		c.entries = c.entries[1:]
		if err := os.Remove(oldest.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.log.Debug("evicting cached print", "name", oldest.Name, "error", err)
		}
	}
	c.entries = append(c.entries, e)
	return e, nil
}

// Lookup returns the entry called name.
func (c *Cache) Lookup(name string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.Name != name {
			continue
		}
		if _, err := os.Stat(e.Path); err != nil {
			return e, fmt.Errorf("%w: %s", ErrEntryRemoved, e.Path)
		}
		return e, nil
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNotCached, name)
}

// Entries returns the cached prints, oldest first.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// Listing formats the entries as "name: expr" lines.
func (c *Cache) Listing() string {
	var b strings.Builder
	for _, e := range c.Entries() {
		fmt.Fprintf(&b, "%s: %s\n", e.Name, e.Expr)
	}
	return b.String()
}

// Remove deletes the cache directory. Failures are logged, not returned.
func (c *Cache) Remove() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.RemoveAll(c.dir); err != nil {
		c.log.Debug("removing cache dir", "dir", c.dir, "error", err)
	}
	c.entries = nil
}

// Stdio is where the viewer reads and writes.
type Stdio struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// View runs the viewer command on e and waits for it to exit.
func (c *Cache) View(ctx context.Context, e Entry, stdio Stdio) error {
	if strings.TrimSpace(c.opts.Command) == "" {
		return ErrNoViewer
	}
	line := strings.ReplaceAll(c.opts.Command, Placeholder, shellQuote(e.Path))
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", line)
	cmd.Stdin = stdio.In
	cmd.Stdout = stdio.Out
	cmd.Stderr = stdio.Err
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("viewer: %w", err)
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
