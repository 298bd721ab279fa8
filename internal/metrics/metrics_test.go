package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionOpened()
		m.SessionClosed()
		m.RecordTerminalWait(time.Second)
		m.RecordHandoff()
		m.RecordSwallowedRelease()
		m.RecordCommand("next", true, "user")
		m.RecordRender(10)
		m.RecordReload(nil)
	})
}

func TestSessionGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsTotal))
}

func TestCommandCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordCommand("up", false, "")
	m.RecordCommand("up", true, "user")
	m.RecordCommand("next", true, "internal")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Commands.WithLabelValues("up")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandErrors.WithLabelValues("up", "user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandErrors.WithLabelValues("next", "internal")))
}

func TestLockAndReloadCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordHandoff()
	m.RecordSwallowedRelease()
	m.RecordSwallowedRelease()
	m.RecordReload(nil)
	m.RecordReload(errors.New("bad toml"))
	m.RecordTerminalWait(20 * time.Millisecond)
	m.RecordRender(4096)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TerminalHandoffs))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReleasesSwallowed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConfigReloads.WithLabelValues("error")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "pdbp_terminal_wait_seconds")
	assert.Contains(t, names, "pdbp_render_bytes")
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
