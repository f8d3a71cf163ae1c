// Package metrics exposes Prometheus instrumentation for the voice session.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"voicewire/internal/domain"
)

// Drop reasons used as label values on FramesDropped.
const (
	DropLate        = "late"
	DropSkipped     = "window_skip"
	DropMalformed   = "malformed"
	DropClosed      = "transport_closed"
	DropQueueFull   = "queue_full"
	DropUnsupported = "unsupported_encoding"
	DropDiscarded   = "disconnect_discard"
)

// Metrics contains the Prometheus collectors for one process.
type Metrics struct {
	FramesSent        prometheus.Counter
	FramesReceived    prometheus.Counter
	FramesDropped     *prometheus.CounterVec
	TranscriptsSealed *prometheus.CounterVec
	TransportErrors   prometheus.Counter
	ConnectionStatus  prometheus.Gauge
	RecordingActive   prometheus.Gauge
	FramePayloadBytes prometheus.Histogram
}

// New creates and registers all collectors on reg. Tests pass a private
// registry so repeated construction never collides.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicewire_frames_sent_total",
			Help: "Total number of outbound frames written to the transport",
		}),
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicewire_frames_received_total",
			Help: "Total number of inbound frames decoded from the transport",
		}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicewire_frames_dropped_total",
			Help: "Total number of frames dropped, by reason",
		}, []string{"reason"}),
		TranscriptsSealed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicewire_transcripts_sealed_total",
			Help: "Total number of sealed conversation turns, by role",
		}, []string{"role"}),
		TransportErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicewire_transport_errors_total",
			Help: "Total number of transport-level failures",
		}),
		ConnectionStatus: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicewire_connection_status",
			Help: "Connection status (0 disconnected, 1 connecting, 2 connected, 3 error)",
		}),
		RecordingActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicewire_recording_active",
			Help: "Whether the capture device is armed (0 or 1)",
		}),
		FramePayloadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicewire_frame_payload_bytes",
			Help:    "Size of outbound audio frame payloads in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 2, 10),
		}),
	}
}

// RecordFrameSent records one outbound frame of the given payload size.
func (m *Metrics) RecordFrameSent(payloadBytes int) {
	m.FramesSent.Inc()
	m.FramePayloadBytes.Observe(float64(payloadBytes))
}

// RecordFrameReceived increments the inbound frame counter.
func (m *Metrics) RecordFrameReceived() {
	m.FramesReceived.Inc()
}

// RecordFrameDropped increments the drop counter for the given reason.
func (m *Metrics) RecordFrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordFramesDropped adds n drops at once, used when a jitter window skip
// abandons several sequence slots together.
func (m *Metrics) RecordFramesDropped(reason string, n int) {
	if n <= 0 {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Add(float64(n))
}

// RecordTranscriptSealed increments the sealed-turn counter for the role.
func (m *Metrics) RecordTranscriptSealed(role domain.Role) {
	m.TranscriptsSealed.WithLabelValues(string(role)).Inc()
}

// RecordTransportError increments the transport failure counter.
func (m *Metrics) RecordTransportError() {
	m.TransportErrors.Inc()
}

// SetConnectionStatus maps the status onto the gauge.
func (m *Metrics) SetConnectionStatus(status domain.ConnectionStatus) {
	var v float64
	switch status {
	case domain.StatusDisconnected:
		v = 0
	case domain.StatusConnecting:
		v = 1
	case domain.StatusConnected:
		v = 2
	case domain.StatusError:
		v = 3
	}
	m.ConnectionStatus.Set(v)
}

// SetRecording maps the recording flag onto the gauge.
func (m *Metrics) SetRecording(active bool) {
	if active {
		m.RecordingActive.Set(1)
		return
	}
	m.RecordingActive.Set(0)
}
