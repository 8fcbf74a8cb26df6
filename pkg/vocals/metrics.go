package vocals

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for streaming sessions. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted  *prometheus.CounterVec
	SessionsFinished *prometheus.CounterVec
	SessionsActive   *prometheus.GaugeVec
	SessionDuration  *prometheus.HistogramVec
	ChunksSent       *prometheus.CounterVec
	BytesSent        *prometheus.CounterVec
	EventsReceived   *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vocals"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Streaming sessions opened",
		}, []string{"service"}),
		SessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Streaming sessions finished, by result code",
		}, []string{"service", "result"}),
		SessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Streaming sessions currently open",
		}, []string{"service"}),
		SessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall-clock duration of streaming sessions",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"service"}),
		ChunksSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_sent_total",
			Help:      "Capture chunks written to streams",
		}, []string{"service"}),
		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Capture bytes written to streams",
		}, []string{"service"}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Response events read from streams, by kind",
		}, []string{"service", "kind"}),
	}

	m.registry.MustRegister(
		m.SessionsStarted,
		m.SessionsFinished,
		m.SessionsActive,
		m.SessionDuration,
		m.ChunksSent,
		m.BytesSent,
		m.EventsReceived,
	)
	return m
}

// Registry exposes the private registry, e.g. for a push gateway.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) sessionStarted(service Service) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(string(service)).Inc()
	m.SessionsActive.WithLabelValues(string(service)).Inc()
}

func (m *Metrics) sessionFailed(service Service, result string) {
	if m == nil {
		return
	}
	m.SessionsFinished.WithLabelValues(string(service), result).Inc()
}

func (m *Metrics) sessionFinished(service Service, result string, res *RunResult) {
	if m == nil {
		return
	}
	m.SessionsActive.WithLabelValues(string(service)).Dec()
	m.SessionsFinished.WithLabelValues(string(service), result).Inc()
	m.SessionDuration.WithLabelValues(string(service)).Observe(res.Duration.Seconds())
}

func (m *Metrics) chunkSent(service Service, n int) {
	if m == nil {
		return
	}
	m.ChunksSent.WithLabelValues(string(service)).Inc()
	m.BytesSent.WithLabelValues(string(service)).Add(float64(n))
}

func (m *Metrics) eventReceived(service Service, ev ResponseEvent) {
	if m == nil {
		return
	}
	kind := "partial"
	switch ev.(type) {
	case *CompleteEvent:
		kind = "complete"
	case *ErrorEvent:
		kind = "error"
	}
	m.EventsReceived.WithLabelValues(string(service), kind).Inc()
}
