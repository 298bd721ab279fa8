package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opposj/pdbp/internal/logging"
	"github.com/opposj/pdbp/internal/metrics"
	"github.com/opposj/pdbp/internal/render"
)

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	p, err := cfg.Colors.Palette()
	require.NoError(t, err)
	assert.Equal(t, render.DefaultPalette(), p)
}

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
[terminal]
mode = "single"
disable_pty = true

[render]
truncate = true

[colors]
filename = "#ff0000"
current_line = "blue"

[frames]
globs = ["**/vendor/**"]
opt_out = ["retry"]

[ext_print]
limit = 3
`))
	require.NoError(t, err)
	assert.Equal(t, "single", cfg.Terminal.Mode)
	assert.True(t, cfg.Terminal.DisablePTY)
	assert.True(t, cfg.Render.Truncate)
	assert.True(t, cfg.Render.Sticky, "untouched keys keep defaults")
	assert.Equal(t, []string{"**/vendor/**"}, cfg.Frames.Globs)
	assert.Equal(t, []string{"retry"}, cfg.Frames.OptOut)
	assert.Equal(t, 3, cfg.ExtPrint.Limit)

	p, err := cfg.Colors.Palette()
	require.NoError(t, err)
	assert.Equal(t, "38;2;255;0;0", p.Filename)
	assert.Equal(t, "48;2;0;0;255", p.CurrentLine)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"unknown key", "[terminal]\ncolour = 1\n", nil},
		{"bad syntax", "[terminal\n", nil},
		{"bad mode", "[terminal]\nmode = \"many\"\n", ErrValidationFailed},
		{"bad size", "[terminal]\nwidth = 0\n", ErrValidationFailed},
		{"bad color", "[colors]\nstack = \"not-a-color\"\n", render.ErrInvalidColor},
		{"bad glob", "[frames]\nglobs = [\"[\"]\n", ErrValidationFailed},
		{"no placeholder", "[ext_print]\ncommand = \"less\"\n", ErrValidationFailed},
		{"bad level", "[logging]\nlevel = \"loud\"\n", ErrValidationFailed},
		{"two engines", "[engine]\nadapter = \"dlv dap\"\naddr = \"localhost:4711\"\n", ErrValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.body))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			var pe *ParseError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "[terminal]\nmode = \"single\"\nheight = 30\n")
	t.Setenv("PDBP_TERMINAL_MODE", "shared")
	t.Setenv("PDBP_TERMINAL_DISABLE_PTY", "true")
	t.Setenv("PDBP_EXT_PRINT_LIMIT", "5")
	t.Setenv("PDBP_FRAMES_GLOBS", "a/**,b/**")
	t.Setenv("PDBP_FRAMES_OPT_OUT", "retry,wrap")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "shared", cfg.Terminal.Mode)
	assert.Equal(t, 30, cfg.Terminal.Height, "file values survive when no variable is set")
	assert.True(t, cfg.Terminal.DisablePTY)
	assert.Equal(t, 5, cfg.ExtPrint.Limit)
	assert.Equal(t, []string{"a/**", "b/**"}, cfg.Frames.Globs)
	assert.Equal(t, []string{"retry", "wrap"}, cfg.Frames.OptOut)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, ErrFileNotFound)

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	assert.Equal(t, "/cfg/pdbp/config.toml", DefaultPath())
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "debug"
	lc := cfg.Logging.LoggingOptions()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, []string{"stderr"}, lc.OutputPaths)

	ep := cfg.ExtPrint.ExtPrintOptions(nil)
	assert.Equal(t, "eval", ep.Prefix)
	assert.Equal(t, -1, ep.Limit)
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "[render]\ntruncate = false\n")
	m := metrics.New(prometheus.NewRegistry())

	w, err := NewWatcher(path, Default(), logging.Nop(), m)
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond

	var got atomic.Pointer[Config]
	w.Subscribe(func(c *Config) { got.Store(c) })
	removed := 0
	unsubscribe := w.Subscribe(func(*Config) { removed++ })
	unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Other files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x"), 0o600))

	require.NoError(t, os.WriteFile(path, []byte("[render]\ntruncate = true\n"), 0o600))
	require.Eventually(t, func() bool {
		c := got.Load()
		return c != nil && c.Render.Truncate
	}, 5*time.Second, 5*time.Millisecond)
	assert.True(t, w.Current().Render.Truncate)
	assert.Equal(t, 0, removed)

	// A broken file is rejected and the last good config stays current.
	require.NoError(t, os.WriteFile(path, []byte("[render\n"), 0o600))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ConfigReloads.WithLabelValues("error")) >= 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.True(t, w.Current().Render.Truncate)
}
