// Package metrics exposes Prometheus metrics for provenance capture and
// verification.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors shared by the recorder, format and store.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	EventsRecorded   *prometheus.CounterVec
	CharsRecorded    *prometheus.CounterVec
	SessionsStarted  prometheus.Counter
	SessionsEnded    prometheus.Counter
	Validations      *prometheus.CounterVec
	DocumentsWritten prometheus.Counter
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provenance_events_recorded_total",
				Help: "Total number of chained events recorded",
			},
			[]string{"type"},
		),
		CharsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provenance_chars_recorded_total",
				Help: "Total UTF-16 code units carried by recorded edit events",
			},
			[]string{"type"},
		),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provenance_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provenance_sessions_ended_total",
			Help: "Total number of recording sessions ended",
		}),
		Validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provenance_validations_total",
				Help: "Total number of document validations by outcome",
			},
			[]string{"result"},
		),
		DocumentsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provenance_documents_written_total",
			Help: "Total number of documents persisted",
		}),
	}

	m.registry.MustRegister(
		m.EventsRecorded,
		m.CharsRecorded,
		m.SessionsStarted,
		m.SessionsEnded,
		m.Validations,
		m.DocumentsWritten,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEvent counts one recorded event of the given type.
func (m *Metrics) ObserveEvent(eventType string, chars int) {
	if m == nil {
		return
	}
	m.EventsRecorded.WithLabelValues(eventType).Inc()
	if chars > 0 {
		m.CharsRecorded.WithLabelValues(eventType).Add(float64(chars))
	}
}

// ObserveSessionStart counts a started session.
func (m *Metrics) ObserveSessionStart() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// ObserveSessionEnd counts an ended session.
func (m *Metrics) ObserveSessionEnd() {
	if m == nil {
		return
	}
	m.SessionsEnded.Inc()
}

// ObserveValidation counts a validation outcome.
func (m *Metrics) ObserveValidation(valid bool) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.Validations.WithLabelValues(result).Inc()
}

// ObserveWrite counts a persisted document.
func (m *Metrics) ObserveWrite() {
	if m == nil {
		return
	}
	m.DocumentsWritten.Inc()
}
