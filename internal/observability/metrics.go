package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Failure kinds reported by the bot.
const (
	FailureTranscription = "transcription"
	FailureCompletion    = "completion"
	FailureTransport     = "transport"
)

// Metrics groups all Prometheus instruments used by the bot.
type Metrics struct {
	Updates           *prometheus.CounterVec
	Failures          *prometheus.CounterVec
	CompletionLatency prometheus.Histogram
	ActiveUsers       prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics registers the instruments on a private registry so several
// instances can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Updates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Inbound updates by kind.",
		}, []string{"kind"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Handler failures by kind.",
		}, []string{"kind"}),
		CompletionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_ms",
			Help:      "Chat completion latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		}),
		ActiveUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_users",
			Help:      "Users with conversation state since start.",
		}),
		registry: reg,
	}
}

// IncUpdate counts an inbound update. Safe on a nil receiver.
func (m *Metrics) IncUpdate(kind string) {
	if m == nil {
		return
	}
	m.Updates.WithLabelValues(kind).Inc()
}

// IncFailure counts a failure of the given kind. Safe on a nil receiver.
func (m *Metrics) IncFailure(kind string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(kind).Inc()
}

// ObserveCompletionLatency records one completion round trip. Safe on a nil
// receiver.
func (m *Metrics) ObserveCompletionLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.CompletionLatency.Observe(float64(d.Milliseconds()))
}

// SetActiveUsers publishes the number of known users. Safe on a nil receiver.
func (m *Metrics) SetActiveUsers(n int) {
	if m == nil {
		return
	}
	m.ActiveUsers.Set(float64(n))
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
