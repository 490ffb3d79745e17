package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WakeMetrics holds Prometheus metrics for wake requests.
type WakeMetrics struct {
	WakesTotal      *prometheus.CounterVec
	WakeDuration    prometheus.Histogram
	BackendsPresent *prometheus.GaugeVec
}

// NewWakeMetrics creates and registers wake metrics on the given registry.
func NewWakeMetrics(reg prometheus.Registerer) *WakeMetrics {
	m := &WakeMetrics{
		WakesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wake",
			Name:      "requests_total",
			Help:      "Total number of wake requests, by backend and result.",
		}, []string{"backend", "result"}),
		WakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "wake",
			Name:      "exec_duration_seconds",
			Help:      "Duration of wake utility executions in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		BackendsPresent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wake",
			Name:      "backend_installed",
			Help:      "1 if the wake utility was found at startup.",
		}, []string{"backend"}),
	}

	reg.MustRegister(m.WakesTotal, m.WakeDuration, m.BackendsPresent)
	return m
}

// Observe records one wake attempt. A nil receiver is a no-op.
func (m *WakeMetrics) Observe(backend, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.WakesTotal.WithLabelValues(backend, result).Inc()
	if d > 0 {
		m.WakeDuration.Observe(d.Seconds())
	}
}

// SetInstalled records the startup probe of one backend.
func (m *WakeMetrics) SetInstalled(backend string, installed bool) {
	if m == nil {
		return
	}
	v := 0.0
	if installed {
		v = 1
	}
	m.BackendsPresent.WithLabelValues(backend).Set(v)
}
