package messaging

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeaderCarrier(t *testing.T) {
	t.Run("set overwrites existing header", func(t *testing.T) {
		msg := &kafka.Message{Headers: []kafka.Header{{Key: HeaderEventType, Value: []byte("order.placed")}}}
		c := newHeaderCarrier(msg)

		c.Set(HeaderEventType, "order.paid")
		c.Set("traceparent", "abc")

		if got := c.Get(HeaderEventType); got != "order.paid" {
			t.Errorf("expected order.paid, got %q", got)
		}
		if len(msg.Headers) != 2 {
			t.Errorf("expected 2 headers, got %d", len(msg.Headers))
		}
		if keys := c.Keys(); len(keys) != 2 || keys[0] != HeaderEventType {
			t.Errorf("unexpected keys %v", keys)
		}
	})

	t.Run("round trips trace context", func(t *testing.T) {
		traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
		spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: trace.FlagsSampled,
		})
		ctx := trace.ContextWithSpanContext(context.Background(), sc)

		prop := propagation.TraceContext{}
		msg := &kafka.Message{}
		prop.Inject(ctx, newHeaderCarrier(msg))

		got := trace.SpanContextFromContext(prop.Extract(context.Background(), newHeaderCarrier(msg)))
		if got.TraceID() != traceID {
			t.Errorf("expected trace %s, got %s", traceID, got.TraceID())
		}
	})

	t.Run("missing header is empty", func(t *testing.T) {
		if got := header(&kafka.Message{}, "nope"); got != "" {
			t.Errorf("expected empty, got %q", got)
		}
	})
}
