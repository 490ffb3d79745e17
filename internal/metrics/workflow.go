package metrics

import "github.com/prometheus/client_golang/prometheus"

// WorkflowMetrics holds Prometheus metrics for pin reconciliation runs.
type WorkflowMetrics struct {
	RunsTotal    *prometheus.CounterVec
	PollAttempts prometheus.Histogram
	Delayed      prometheus.Counter
}

// NewWorkflowMetrics creates and registers workflow metrics on the given registry.
func NewWorkflowMetrics(reg prometheus.Registerer) *WorkflowMetrics {
	m := &WorkflowMetrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pinning",
			Name:      "runs_total",
			Help:      "Total number of pin workflow runs, by operation and outcome.",
		}, []string{"op", "outcome"}),
		PollAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pinning",
			Name:      "poll_attempts",
			Help:      "Number of change polls until the configuration converged.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}),
		Delayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pinning",
			Name:      "delayed_runs_total",
			Help:      "Runs that waited because their own config already had pending changes.",
		}),
	}

	reg.MustRegister(m.RunsTotal, m.PollAttempts, m.Delayed)
	return m
}

// ObserveRun records a finished run. A nil receiver is a no-op.
func (m *WorkflowMetrics) ObserveRun(op, outcome string, delayed bool, polls int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(op, outcome).Inc()
	if delayed {
		m.Delayed.Inc()
	}
	if polls > 0 {
		m.PollAttempts.Observe(float64(polls))
	}
}
