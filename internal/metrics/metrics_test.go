package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveEvent(t *testing.T) {
	m := New()
	m.ObserveEvent("insert", 3)
	m.ObserveEvent("insert", 1)
	m.ObserveEvent("session_start", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsRecorded.WithLabelValues("insert")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.CharsRecorded.WithLabelValues("insert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsRecorded.WithLabelValues("session_start")))
}

func TestObserveSessionsAndValidation(t *testing.T) {
	m := New()
	m.ObserveSessionStart()
	m.ObserveSessionEnd()
	m.ObserveValidation(true)
	m.ObserveValidation(false)
	m.ObserveValidation(false)
	m.ObserveWrite()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsEnded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Validations.WithLabelValues("valid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Validations.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsWritten))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveEvent("insert", 1)
	m.ObserveSessionStart()
	m.ObserveSessionEnd()
	m.ObserveValidation(true)
	m.ObserveWrite()
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveEvent("paste", 4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `provenance_events_recorded_total{type="paste"} 1`))
}
