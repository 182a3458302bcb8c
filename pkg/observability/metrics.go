// Package observability provides run metrics and tracing for audit log processing.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Row outcomes.
const (
	RowStatusAccepted = "accepted"
	RowStatusRejected = "rejected"
	RowStatusHeader   = "header"
)

// Source outcomes.
const (
	SourceStatusProcessed = "processed"
	SourceStatusFailed    = "failed"
)

// RunMetrics holds the Prometheus counters of one tala run.
type RunMetrics struct {
	registry *prometheus.Registry

	RowsTotal        *prometheus.CounterVec
	RowErrorsTotal   *prometheus.CounterVec
	AdvisoriesTotal  *prometheus.CounterVec
	SessionsTotal    *prometheus.CounterVec
	SourcesTotal     *prometheus.CounterVec
	Meetings         prometheus.Gauge
	DisconnectsTotal *prometheus.CounterVec
}

// NewRunMetrics creates the run counters on a private registry.
func NewRunMetrics() *RunMetrics {
	reg := prometheus.NewRegistry()
	m := newRunMetrics(reg)
	m.registry = reg
	return m
}

func newRunMetrics(reg prometheus.Registerer) *RunMetrics {
	factory := promauto.With(reg)

	return &RunMetrics{
		RowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tala_rows_total",
				Help: "Total CSV rows read, by outcome",
			},
			[]string{"status"},
		),
		RowErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tala_row_errors_total",
				Help: "Total rejected rows and failed sources, by error code",
			},
			[]string{"code"},
		),
		AdvisoriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tala_advisories_total",
				Help: "Total advisories raised while extracting and aggregating rows",
			},
			[]string{"code", "severity"},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tala_sessions_total",
				Help: "Total sessions offered to the store, by outcome",
			},
			[]string{"status"},
		),
		SourcesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tala_sources_total",
				Help: "Total input sources, by outcome",
			},
			[]string{"status"},
		),
		Meetings: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tala_meetings",
				Help: "Meetings seen in the last processed source",
			},
		),
		DisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tala_disconnect_attendees_total",
				Help: "Attendees flagged by the disconnection analysis, by policy",
			},
			[]string{"policy"},
		),
	}
}

// RecordRow records a row read from a source.
func (m *RunMetrics) RecordRow(status string) {
	m.RowsTotal.WithLabelValues(status).Inc()
}

// RecordRowError records a rejected row or a failed source.
func (m *RunMetrics) RecordRowError(code string) {
	m.RowErrorsTotal.WithLabelValues(code).Inc()
}

// RecordAdvisory records an advisory.
func (m *RunMetrics) RecordAdvisory(code, severity string) {
	m.AdvisoriesTotal.WithLabelValues(code, severity).Inc()
}

// RecordSession records a session insert; duplicates are counted apart.
func (m *RunMetrics) RecordSession(inserted bool) {
	status := "inserted"
	if !inserted {
		status = "duplicate"
	}
	m.SessionsTotal.WithLabelValues(status).Inc()
}

// RecordSource records the outcome of a source.
func (m *RunMetrics) RecordSource(status string) {
	m.SourcesTotal.WithLabelValues(status).Inc()
}

// SetMeetings sets the number of meetings of the last source.
func (m *RunMetrics) SetMeetings(n int) {
	m.Meetings.Set(float64(n))
}

// RecordDisconnects adds the attendees flagged by one analysis.
func (m *RunMetrics) RecordDisconnects(policy string, attendees int) {
	m.DisconnectsTotal.WithLabelValues(policy).Add(float64(attendees))
}

// Gatherer returns the registry holding the counters.
func (m *RunMetrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes every counter to path in the Prometheus text format,
// for the node exporter textfile collector.
func (m *RunMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Gatherer()); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}
