package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestWakeMetrics(t *testing.T) {
	m := NewWakeMetrics(prometheus.NewRegistry())
	m.Observe("etherwake", "sent", 20*time.Millisecond)
	m.Observe("etherwake", "failed", 0)
	m.SetInstalled("wol", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WakesTotal.WithLabelValues("etherwake", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WakesTotal.WithLabelValues("etherwake", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendsPresent.WithLabelValues("wol")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var w *WakeMetrics
	w.Observe("wol", "sent", time.Second)
	w.SetInstalled("wol", false)

	var p *WorkflowMetrics
	p.ObserveRun("pin", "done", true, 3)
}

func TestWorkflowMetrics(t *testing.T) {
	m := NewWorkflowMetrics(prometheus.NewRegistry())
	m.ObserveRun("pin", "done", true, 2)
	m.ObserveRun("unpin", "rejected", false, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("pin", "done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("unpin", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Delayed))
}

func TestHTTPMiddlewareRecordsPattern(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/hosts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := m.Middleware(mux)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/hosts", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "GET /api/hosts", "418")))
}
