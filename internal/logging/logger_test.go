package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"nonsense", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "debug", LevelDebug.String())
	assert.Equal(t, "error", LevelError.String())
	assert.Equal(t, "unknown", Level(42).String())
}

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, LevelDebug).WithComponent("registry").WithField("thread", 7)

	log.Info("session registered", "sessions", 1)

	out := buf.String()
	assert.Contains(t, out, "session registered")
	assert.Contains(t, out, "registry")
	assert.Contains(t, out, "7")
	assert.Contains(t, out, "sessions")
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, LevelWarn)

	log.Debug("hidden")
	log.Info("hidden too")
	assert.Empty(t, buf.String())

	log.Warn("visible")
	assert.Contains(t, buf.String(), "visible")

	child := log.WithField("k", "v")
	log.SetLevel(LevelDebug)
	assert.True(t, child.Enabled(LevelDebug), "children share the level")
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, LevelInfo).WithFields(map[string]any{"a": 1, "b": "two"})
	log.Error("boom")

	out := buf.String()
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "two")
}

func TestNopAndGlobal(t *testing.T) {
	nop := Nop()
	nop.Error("discarded")
	assert.False(t, nop.Enabled(LevelError))

	prev := L()
	require.NotNil(t, prev)
	t.Cleanup(func() { SetGlobal(prev) })

	SetGlobal(nop)
	assert.Same(t, nop, L())
}

func TestNewRejectsBadSink(t *testing.T) {
	_, err := New(Config{Level: "info", OutputPaths: []string{"unknown-scheme://nowhere"}})
	assert.Error(t, err)
}
