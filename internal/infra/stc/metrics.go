package stc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ClientMetrics defines the metrics recorded for vendor API calls.
type ClientMetrics interface {
	ObserveRequest(op string, outcome string, d time.Duration)
	IncRetries(op string)
}

// Metrics implements ClientMetrics with prometheus collectors.
type Metrics struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
	Retries  *prometheus.CounterVec
}

var _ ClientMetrics = (*Metrics)(nil)

// NewMetrics creates the vendor client metrics and registers them with reg.
// A nil reg registers with the default prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stc",
			Name:      "requests_total",
			Help:      "Total number of STC API requests by operation and outcome",
		}, []string{"operation", "outcome"}),
		Latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stc",
			Name:      "request_duration_seconds",
			Help:      "Latency of STC API requests",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stc",
			Name:      "retries_total",
			Help:      "Total number of retried STC API reads",
		}, []string{"operation"}),
	}
}

func (m *Metrics) ObserveRequest(op, outcome string, d time.Duration) {
	m.Requests.WithLabelValues(op, outcome).Inc()
	m.Latency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) IncRetries(op string) { m.Retries.WithLabelValues(op).Inc() }

type noopMetrics struct{}

func (noopMetrics) ObserveRequest(string, string, time.Duration) {}
func (noopMetrics) IncRetries(string)                           {}
