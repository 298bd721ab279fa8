// Package metrics holds the Prometheus collectors for session, lock and
// render activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pdbp"

// Metrics holds all collectors.
type Metrics struct {
	// Sessions
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter

	// Terminal lock
	TerminalWait      prometheus.Histogram
	TerminalHandoffs  prometheus.Counter
	ReleasesSwallowed prometheus.Counter

	// Commands and rendering
	Commands      *prometheus.CounterVec
	CommandErrors *prometheus.CounterVec
	RenderBytes   prometheus.Histogram

	// Config reloads
	ConfigReloads *prometheus.CounterVec
}

// New registers the collectors on reg. Passing prometheus.DefaultRegisterer
// exposes them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live per-thread debug sessions",
		}),
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of debug sessions opened",
		}),
		TerminalWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "terminal_wait_seconds",
			Help:      "Time threads spent waiting for the terminal lock",
			Buckets:   []float64{.001, .01, .1, .5, 1, 5, 30, 120, 600},
		}),
		TerminalHandoffs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminal_handoffs_total",
			Help:      "Times the terminal lock was handed directly to a waiter",
		}),
		ReleasesSwallowed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_releases_swallowed_total",
			Help:      "Releases of locks that were not held, ignored during cleanup",
		}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Debugger commands executed",
		}, []string{"command"}),
		CommandErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_errors_total",
			Help:      "Debugger commands that produced a diagnostic",
		}, []string{"command", "origin"}),
		RenderBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_bytes",
			Help:      "Size of each sticky repaint in bytes",
			Buckets:   prometheus.ExponentialBuckets(256, 2, 8),
		}),
		ConfigReloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Configuration reload attempts",
		}, []string{"result"}),
	}
}

// SessionOpened records a new session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

// SessionClosed records a session teardown.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// RecordTerminalWait records how long an acquire waited.
func (m *Metrics) RecordTerminalWait(d time.Duration) {
	if m == nil {
		return
	}
	m.TerminalWait.Observe(d.Seconds())
}

// RecordHandoff records a direct lock hand-off.
func (m *Metrics) RecordHandoff() {
	if m == nil {
		return
	}
	m.TerminalHandoffs.Inc()
}

// RecordSwallowedRelease records an ignored not-held release.
func (m *Metrics) RecordSwallowedRelease() {
	if m == nil {
		return
	}
	m.ReleasesSwallowed.Inc()
}

// RecordCommand records a command and, when it failed, its error origin.
func (m *Metrics) RecordCommand(command string, failed bool, origin string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(command).Inc()
	if failed {
		m.CommandErrors.WithLabelValues(command, origin).Inc()
	}
}

// RecordRender records the size of one paint.
func (m *Metrics) RecordRender(bytes int) {
	if m == nil {
		return
	}
	m.RenderBytes.Observe(float64(bytes))
}

// RecordReload records a configuration reload outcome.
func (m *Metrics) RecordReload(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ConfigReloads.WithLabelValues(result).Inc()
}
