// Package metrics exposes Prometheus collectors for the sentence router.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "serialtopics"

// Metrics holds the router's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	LinesRead         prometheus.Counter
	ReadFailures      *prometheus.CounterVec
	LinesDropped      *prometheus.CounterVec
	MessagesPublished *prometheus.CounterVec
	PublishErrors     *prometheus.CounterVec
	Topics            prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go
// runtime collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LinesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_read_total",
			Help:      "Lines read from the serial transport.",
		}),
		ReadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_failures_total",
			Help:      "Acquisition cycles that produced no line, by reason.",
		}, []string{"reason"}),
		LinesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_dropped_total",
			Help:      "Lines dropped before publishing, by reason.",
		}, []string{"reason"}),
		MessagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Payloads published, by topic.",
		}, []string{"topic"}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Publish calls rejected by the bus, by topic.",
		}, []string{"topic"}),
		Topics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "topics",
			Help:      "Output topics created so far.",
		}),
	}
	m.registry.MustRegister(
		m.LinesRead,
		m.ReadFailures,
		m.LinesDropped,
		m.MessagesPublished,
		m.PublishErrors,
		m.Topics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// LineRead counts a line read from the transport.
func (m *Metrics) LineRead() {
	if m == nil {
		return
	}
	m.LinesRead.Inc()
}

// ReadFailed counts a cycle that produced no line.
func (m *Metrics) ReadFailed(reason string) {
	if m == nil {
		return
	}
	m.ReadFailures.WithLabelValues(reason).Inc()
}

// LineDropped counts a line dropped before publishing.
func (m *Metrics) LineDropped(reason string) {
	if m == nil {
		return
	}
	m.LinesDropped.WithLabelValues(reason).Inc()
}

// Published counts a payload published on topic.
func (m *Metrics) Published(topic string) {
	if m == nil {
		return
	}
	m.MessagesPublished.WithLabelValues(topic).Inc()
}

// PublishFailed counts a payload the bus rejected on topic.
func (m *Metrics) PublishFailed(topic string) {
	if m == nil {
		return
	}
	m.PublishErrors.WithLabelValues(topic).Inc()
}

// TopicCreated counts a newly advertised topic.
func (m *Metrics) TopicCreated() {
	if m == nil {
		return
	}
	m.Topics.Inc()
}
