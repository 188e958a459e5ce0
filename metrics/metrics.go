// Package metrics exports Prometheus metrics for the stream lifecycle.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StreamMetrics tracks stream lifecycle counters. A nil *StreamMetrics is
// valid and records nothing, so instrumentation points never need nil checks.
type StreamMetrics struct {
	registry *prometheus.Registry

	streamsStarted    prometheus.Counter
	streamsTerminated *prometheus.CounterVec
	streamDuration    prometheus.Histogram
	deltasApplied     prometheus.Counter
	activeStreams     prometheus.Gauge
}

// New creates the metrics set registered on its own registry.
func New() *StreamMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &StreamMetrics{registry: registry}

	m.streamsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inkmentor",
		Subsystem: "chat",
		Name:      "streams_started_total",
		Help:      "Number of response streams opened",
	})
	m.streamsTerminated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inkmentor",
		Subsystem: "chat",
		Name:      "streams_terminated_total",
		Help:      "Number of response streams reaching a terminal state, by outcome",
	}, []string{"outcome"})
	m.streamDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "inkmentor",
		Subsystem: "chat",
		Name:      "stream_duration_seconds",
		Help:      "Wall-clock duration of response streams",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})
	m.deltasApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inkmentor",
		Subsystem: "chat",
		Name:      "deltas_applied_total",
		Help:      "Number of delta events applied to placeholder messages",
	})
	m.activeStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "inkmentor",
		Subsystem: "chat",
		Name:      "active_streams",
		Help:      "Number of streams currently in flight",
	})

	registry.MustRegister(m.streamsStarted, m.streamsTerminated, m.streamDuration, m.deltasApplied, m.activeStreams)

	return m
}

// Handler returns the scrape endpoint handler.
func (m *StreamMetrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *StreamMetrics) StreamStarted() {
	if m == nil {
		return
	}
	m.streamsStarted.Inc()
	m.activeStreams.Inc()
}

func (m *StreamMetrics) StreamTerminated(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.streamsTerminated.WithLabelValues(outcome).Inc()
	m.streamDuration.Observe(duration.Seconds())
	m.activeStreams.Dec()
}

func (m *StreamMetrics) DeltaApplied() {
	if m == nil {
		return
	}
	m.deltasApplied.Inc()
}
