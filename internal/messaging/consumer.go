package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var consumerTracer = otel.Tracer("messaging/consumer")

// Message is what a handler sees of a fetched record.
type Message struct {
	Key       string
	EventType string
	Value     []byte
}

// HandlerFunc processes one message. A handler that wants a message skipped
// returns nil; any error is retried and, once attempts run out, stops the
// consumer without committing so the message is redelivered after a restart.
type HandlerFunc func(ctx context.Context, msg Message) error

type Consumer struct {
	reader   *kafka.Reader
	topic    string
	group    string
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

type consumerConfig struct {
	reader   kafka.ReaderConfig
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

type ConsumerOption func(*consumerConfig)

func WithStartOffset(offset int64) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.reader.StartOffset = offset
	}
}

// WithRetry sets how many times a failing message is handed to the handler
// and the base delay between attempts, doubled on each retry.
func WithRetry(attempts int, backoff time.Duration) ConsumerOption {
	return func(cfg *consumerConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
		cfg.backoff = backoff
	}
}

func WithLogger(logger *slog.Logger) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.logger = logger
	}
}

func NewConsumer(brokers []string, topic, group string, opts ...ConsumerOption) *Consumer {
	cfg := consumerConfig{
		reader: kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: group,
		},
		attempts: 3,
		backoff:  200 * time.Millisecond,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Consumer{
		reader:   kafka.NewReader(cfg.reader),
		topic:    topic,
		group:    group,
		attempts: cfg.attempts,
		backoff:  cfg.backoff,
		logger:   cfg.logger,
	}
}

// Consume fetches, handles and commits messages one at a time until ctx is
// done or a message cannot be handled.
func (c *Consumer) Consume(ctx context.Context, handler HandlerFunc) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		if err := c.handle(ctx, msg, handler); err != nil {
			return fmt.Errorf("handle %s offset %d: %w", c.topic, msg.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handler HandlerFunc) error {
	delay := c.backoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = c.process(ctx, msg, attempt, handler); err == nil {
			return nil
		}
		if attempt >= c.attempts {
			return err
		}

		c.logger.WarnContext(ctx, "message handler failed, retrying",
			"topic", c.topic,
			"key", string(msg.Key),
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message, attempt int, handler HandlerFunc) error {
	parent := otel.GetTextMapPropagator().Extract(ctx, newHeaderCarrier(&msg))
	eventType := header(&msg, HeaderEventType)

	spanCtx, span := consumerTracer.Start(parent, "process "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(c.topic),
			semconv.MessagingKafkaConsumerGroup(c.group),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
			attribute.String("messaging.event_type", eventType),
			attribute.Int("messaging.attempt", attempt),
		),
	)
	defer span.End()

	err := handler(spanCtx, Message{
		Key:       string(msg.Key),
		EventType: eventType,
		Value:     msg.Value,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
