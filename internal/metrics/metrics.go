// Package metrics exposes relay counters and gauges in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgnsrekt/livetiming-relay/internal/broadcast"
	"github.com/dgnsrekt/livetiming-relay/internal/feed"
	"github.com/dgnsrekt/livetiming-relay/internal/signalr"
)

const namespace = "relay"

// Metrics holds the relay's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	frames           *prometheus.CounterVec // by source
	framesDropped    *prometheus.CounterVec // by reason
	telemetry        *prometheus.CounterVec // by result: ok, error
	upstreamState    prometheus.Gauge
	upstreamSessions *prometheus.CounterVec // by result: established, failed
	clients          *prometheus.GaugeVec   // by transport
	published        *prometheus.CounterVec // by kind
	deliveryFailures *prometheus.CounterVec // by transport
	bootstrapTopics  *prometheus.CounterVec // by result: ok, error
}

// New creates and registers all collectors, including Go runtime metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames received by the ingestion pipeline",
		}, []string{"source"}),

		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames or messages discarded before reaching the snapshot",
		}, []string{"reason"}),

		telemetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_samples_total",
			Help:      "Compressed telemetry samples processed",
		}, []string{"result"}),

		upstreamState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_state",
			Help:      "Current upstream session state (0 disconnected, 1 negotiating, 2 connecting, 3 subscribing, 4 streaming, 5 reconnect wait)",
		}),

		upstreamSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_sessions_total",
			Help:      "Upstream session attempts",
		}, []string{"result"}),

		clients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients",
			Help:      "Connected downstream clients",
		}, []string{"transport"}),

		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Messages published to downstream clients",
		}, []string{"kind"}),

		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Downstream deliveries that failed and dropped the client",
		}, []string{"transport"}),

		bootstrapTopics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bootstrap_topics_total",
			Help:      "Archive topic fetches",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.frames,
		m.framesDropped,
		m.telemetry,
		m.upstreamState,
		m.upstreamSessions,
		m.clients,
		m.published,
		m.deliveryFailures,
		m.bootstrapTopics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// FrameReceived counts an ingested frame.
func (m *Metrics) FrameReceived(source string) {
	m.frames.WithLabelValues(source).Inc()
}

// FrameDropped counts a discarded frame or message. It satisfies feed.DropFunc.
func (m *Metrics) FrameDropped(reason string, _ error) {
	m.framesDropped.WithLabelValues(reason).Inc()
	if reason == feed.DropTelemetry {
		m.telemetry.WithLabelValues("error").Inc()
	}
}

// TelemetryDecoded counts a successfully decoded telemetry sample.
func (m *Metrics) TelemetryDecoded() {
	m.telemetry.WithLabelValues("ok").Inc()
}

// UpstreamStateChanged tracks the stream client's state machine.
func (m *Metrics) UpstreamStateChanged(prev, next signalr.State) {
	m.upstreamState.Set(float64(next))
	switch {
	case next == signalr.StateStreaming:
		m.upstreamSessions.WithLabelValues("established").Inc()
	case next == signalr.StateReconnectWait && prev != signalr.StateStreaming:
		m.upstreamSessions.WithLabelValues("failed").Inc()
	}
}

// BootstrapTopic counts an archive topic outcome.
func (m *Metrics) BootstrapTopic(_ string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.bootstrapTopics.WithLabelValues(result).Inc()
}

// ClientsChanged implements broadcast.Observer.
func (m *Metrics) ClientsChanged(t broadcast.Transport, n int) {
	m.clients.WithLabelValues(string(t)).Set(float64(n))
}

// Published implements broadcast.Observer.
func (m *Metrics) Published(kind broadcast.Kind) {
	m.published.WithLabelValues(string(kind)).Inc()
}

// DeliveryFailed implements broadcast.Observer.
func (m *Metrics) DeliveryFailed(t broadcast.Transport) {
	m.deliveryFailures.WithLabelValues(string(t)).Inc()
}
