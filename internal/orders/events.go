package orders

import (
	"context"
	"log/slog"
	"time"

	"github.com/joao-fontenele/shopflow/internal/domain"
)

// Publisher ships order events to the message bus.
type Publisher interface {
	Publish(ctx context.Context, key, eventType string, event any) error
}

// PublishEvent emits an order event after its transaction committed. Delivery
// is best effort: a failure is logged and the request still succeeds.
func PublishEvent(ctx context.Context, pub Publisher, logger *slog.Logger, eventType string, o *domain.Order, now time.Time) {
	if pub == nil {
		return
	}
	event := domain.NewOrderEvent(eventType, o, now)
	if err := pub.Publish(ctx, o.ID, eventType, event); err != nil {
		logger.ErrorContext(ctx, "failed to publish order event", "error", err, "order_id", o.ID, "event_type", eventType)
	}
}
