package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sled"

// Frame results recorded by the server.
const (
	FrameHandshakeOk     = "handshake_ok"
	FrameHandshakeFailed = "handshake_failed"
	FrameIgnored         = "ignored"
	FrameCommand         = "command"
	FrameUnknown         = "unknown"
	FrameBye             = "bye"
)

// Call outcomes recorded by client channels.
const (
	CallOk         = "ok"
	CallTimeout    = "timeout"
	CallSendFailed = "send_failed"
	CallClosed     = "closed"
	CallCancelled  = "cancelled"
	CallInvalid    = "invalid"
)

var (
	registerOnce sync.Once

	connectionsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_accepted_total",
			Help:      "Connections accepted by the server.",
		},
	)
	connectionsRefused = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_refused_total",
			Help:      "Connections refused because the server was full.",
		},
	)
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_active",
			Help:      "Connections currently open.",
		},
	)
	serverFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "frames_total",
			Help:      "Frames handled by the server.",
		},
		[]string{"result"},
	)
	channelCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "calls_total",
			Help:      "Calls completed by client channels.",
		},
		[]string{"outcome"},
	)
	channelCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "call_duration_seconds",
			Help:      "Time from Call to completion as seen by the caller.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectionsAccepted,
			connectionsRefused,
			connectionsActive,
			serverFrames,
			channelCalls,
			channelCallDuration,
		)
	})
}

func RecordConnectionAccepted() {
	RegisterMetrics()
	connectionsAccepted.Inc()
	connectionsActive.Inc()
}

func RecordConnectionClosed() {
	RegisterMetrics()
	connectionsActive.Dec()
}

func RecordConnectionRefused() {
	RegisterMetrics()
	connectionsRefused.Inc()
}

func RecordFrame(result string) {
	RegisterMetrics()
	serverFrames.WithLabelValues(result).Inc()
}

func RecordCall(outcome string, duration time.Duration) {
	RegisterMetrics()
	channelCalls.WithLabelValues(outcome).Inc()
	channelCallDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}
