package ripple

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ripple_connections_active",
			Help: "Current number of open websocket connections",
		},
	)

	connectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ripple_connections_total",
			Help: "Total number of accepted websocket connections",
		},
	)

	connectionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ripple_connections_closed_total",
			Help: "Total number of closed websocket connections",
		},
		[]string{"initiator"},
	)

	messagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ripple_messages_sent_total",
			Help: "Total number of frames queued for sending",
		},
		[]string{"opcode"},
	)

	messagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ripple_messages_received_total",
			Help: "Total number of frames passed to the message handler",
		},
		[]string{"opcode"},
	)

	messageBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ripple_message_bytes",
			Help:    "Payload size of received frames in bytes",
			Buckets: []float64{16, 128, 1024, 8192, 65536, 1 << 20},
		},
		[]string{"opcode"},
	)

	messageHandleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ripple_message_handle_seconds",
			Help:    "Time spent in the message handler in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"opcode"},
	)
)

// closeInitiator maps a close reason to the initiator label.
func closeInitiator(reason string) string {
	switch reason {
	case ReasonUserInitiated:
		return "local"
	case ReasonPeerClosed:
		return "peer"
	default:
		return "error"
	}
}

// PrometheusConfig holds configuration for Prometheus metrics middleware.
type PrometheusConfig struct {
	// SkipControl skips ping and pong frames
	SkipControl bool
}

// DefaultPrometheusConfig returns a PrometheusConfig with sensible defaults.
func DefaultPrometheusConfig() PrometheusConfig {
	return PrometheusConfig{SkipControl: true}
}

// Prometheus returns a middleware that collects Prometheus metrics.
func Prometheus() Middleware {
	return PrometheusWithConfig(DefaultPrometheusConfig())
}

// PrometheusWithConfig returns a middleware that collects Prometheus metrics with custom configuration.
func PrometheusWithConfig(config PrometheusConfig) Middleware {
	return func(next MessageHandler) MessageHandler {
		return MessageHandlerFunc(func(ctx context.Context, ws *Websocket, msg Message) error {
			if config.SkipControl && msg.Opcode.IsControl() {
				return next.OnMessage(ctx, ws, msg)
			}

			op := msg.Opcode.String()
			start := time.Now()
			err := next.OnMessage(ctx, ws, msg)

			messagesReceived.WithLabelValues(op).Inc()
			messageBytes.WithLabelValues(op).Observe(float64(len(msg.Payload)))
			messageHandleDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
			return err
		})
	}
}
