package env

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects per-environment operation counters and latencies.
type Metrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	episodes   *prometheus.CounterVec
	reward     *prometheus.GaugeVec
}

// NewMetrics creates the session metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gymbridge",
				Subsystem: "env",
				Name:      "operations_total",
				Help:      "Environment operations by kind",
			},
			[]string{"env", "op"},
		),
		failures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gymbridge",
				Subsystem: "env",
				Name:      "failures_total",
				Help:      "Failed environment operations by kind",
			},
			[]string{"env", "op"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gymbridge",
				Subsystem: "env",
				Name:      "operation_duration_seconds",
				Help:      "Environment operation latency in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"env", "op"},
		),
		episodes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gymbridge",
				Subsystem: "env",
				Name:      "episodes_total",
				Help:      "Episodes ended by termination or truncation",
			},
			[]string{"env", "reason"},
		),
		reward: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gymbridge",
				Subsystem: "env",
				Name:      "last_reward",
				Help:      "Reward returned by the latest step",
			},
			[]string{"env"},
		),
	}
}

func (m *Metrics) observe(env, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(env, op).Inc()
	m.duration.WithLabelValues(env, op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.failures.WithLabelValues(env, op).Inc()
	}
}

func (m *Metrics) step(env string, r *StepResult) {
	if m == nil || r == nil {
		return
	}
	m.reward.WithLabelValues(env).Set(r.Reward)
	switch {
	case r.Terminated:
		m.episodes.WithLabelValues(env, "terminated").Inc()
	case r.Truncated:
		m.episodes.WithLabelValues(env, "truncated").Inc()
	}
}
