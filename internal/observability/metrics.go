package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the transport counters of one client. All methods are safe
// on a nil receiver so callers can run without metrics.
type Metrics struct {
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	errors         *prometheus.CounterVec
	connections    *prometheus.CounterVec
	queueDepth     prometheus.Gauge
}

// NewMetrics builds the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "blinkchat",
				Subsystem: "client",
				Name:      "frames_sent_total",
				Help:      "Frames written to the chat server.",
			},
			[]string{"type"},
		),
		framesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "blinkchat",
				Subsystem: "client",
				Name:      "frames_received_total",
				Help:      "Frames decoded from the chat server.",
			},
			[]string{"type"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "blinkchat",
				Subsystem: "client",
				Name:      "errors_total",
				Help:      "Classified errors surfaced to the application.",
			},
			[]string{"kind"},
		),
		connections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "blinkchat",
				Subsystem: "client",
				Name:      "connections_total",
				Help:      "Session lifecycle transitions.",
			},
			[]string{"event"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "blinkchat",
				Subsystem: "client",
				Name:      "command_queue_depth",
				Help:      "Commands waiting for the controller.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.framesSent, m.framesReceived, m.errors, m.connections, m.queueDepth)
	}
	return m
}

func (m *Metrics) RecordFrameSent(frameType string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(frameType).Inc()
}

func (m *Metrics) RecordFrameReceived(frameType string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(frameType).Inc()
}

func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("opened").Inc()
}

func (m *Metrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("closed").Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
