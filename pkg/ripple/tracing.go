package ripple

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/FumingPower3925/ripple/internal/h1"
)

// TracingConfig defines the configuration options for the OpenTelemetry tracing middleware.
type TracingConfig struct {
	// TracerName is the name of the tracer (default: "ripple")
	TracerName string
	// Propagator extracts the parent span from the handshake headers (default: TraceContext)
	Propagator propagation.TextMapPropagator
	// SkipControl skips ping and pong frames
	SkipControl bool
}

// DefaultTracingConfig returns a TracingConfig with sensible defaults.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		TracerName:  "ripple",
		Propagator:  propagation.TraceContext{},
		SkipControl: true,
	}
}

// Tracing returns a middleware that starts an OpenTelemetry span for every
// handled message.
func Tracing() Middleware {
	return TracingWithConfig(DefaultTracingConfig())
}

// TracingWithConfig returns a tracing middleware with custom configuration.
// The parent of each span is taken from the opening handshake headers.
func TracingWithConfig(config TracingConfig) Middleware {
	if config.TracerName == "" {
		config.TracerName = "ripple"
	}
	if config.Propagator == nil {
		config.Propagator = propagation.TraceContext{}
	}

	tracer := otel.Tracer(config.TracerName)

	return func(next MessageHandler) MessageHandler {
		return MessageHandlerFunc(func(ctx context.Context, ws *Websocket, msg Message) error {
			if config.SkipControl && msg.Opcode.IsControl() {
				return next.OnMessage(ctx, ws, msg)
			}

			parentCtx := config.Propagator.Extract(ctx, headerCarrier{req: ws.request})
			spanCtx, span := tracer.Start(
				parentCtx,
				"websocket "+msg.Opcode.String(),
				trace.WithSpanKind(trace.SpanKindServer),
			)
			defer span.End()

			span.SetAttributes(
				attribute.Int64("websocket.conn_id", int64(ws.ID())),
				attribute.String("websocket.opcode", msg.Opcode.String()),
				attribute.String("websocket.path", ws.Path()),
				attribute.Int("websocket.message_size", len(msg.Payload)),
				attribute.Bool("websocket.fin", msg.Fin),
			)

			err := next.OnMessage(spanCtx, ws, msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return err
		})
	}
}

// headerCarrier adapts the handshake request to propagation.TextMapCarrier.
// It is read-only.
type headerCarrier struct {
	req *h1.Request
}

func (hc headerCarrier) Get(key string) string {
	return hc.req.Header(key)
}

func (hc headerCarrier) Set(string, string) {}

func (hc headerCarrier) Keys() []string {
	keys := make([]string, 0, len(hc.req.Headers))
	for _, h := range hc.req.Headers {
		keys = append(keys, h[0])
	}
	return keys
}
