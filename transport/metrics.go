package transport

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts transport requests on either end of a connection.
type Metrics struct {
	requests    *prometheus.CounterVec
	errors      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	connections prometheus.Gauge
}

// NewMetrics creates transport metrics labelled with side ("server" or
// "client") and registers them with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer, side string) *Metrics {
	f := promauto.With(reg)
	labels := prometheus.Labels{"side": side}
	return &Metrics{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "gymbridge",
				Subsystem:   "transport",
				Name:        "requests_total",
				Help:        "Requests by command",
				ConstLabels: labels,
			},
			[]string{"command"},
		),
		errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "gymbridge",
				Subsystem:   "transport",
				Name:        "errors_total",
				Help:        "Failed requests by command",
				ConstLabels: labels,
			},
			[]string{"command"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   "gymbridge",
				Subsystem:   "transport",
				Name:        "request_duration_seconds",
				Help:        "Request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 9),
			},
			[]string{"command"},
		),
		retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "gymbridge",
				Subsystem:   "transport",
				Name:        "retries_total",
				Help:        "Request attempts repeated after a link failure",
				ConstLabels: labels,
			},
			[]string{"command"},
		),
		connections: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   "gymbridge",
				Subsystem:   "transport",
				Name:        "connections",
				Help:        "Open connections",
				ConstLabels: labels,
			},
		),
	}
}

func (m *Metrics) observe(cmd Command, start time.Time, err error) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(cmd.String()).Inc()
	m.duration.WithLabelValues(cmd.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		m.errors.WithLabelValues(cmd.String()).Inc()
	}
}

func (m *Metrics) retry(cmd Command) {
	if m != nil {
		m.retries.WithLabelValues(cmd.String()).Inc()
	}
}

func (m *Metrics) connected(delta float64) {
	if m != nil {
		m.connections.Add(delta)
	}
}
