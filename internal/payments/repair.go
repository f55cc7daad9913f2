package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joao-fontenele/shopflow/internal/domain"
	"github.com/joao-fontenele/shopflow/internal/orders"
	"github.com/joao-fontenele/shopflow/internal/store"
)

const repairBatch = 100

// Repairer finds successful payments whose order was never marked paid and
// applies them. It closes the gap left by a crash between the gateway verdict
// and the order update.
type Repairer struct {
	store     store.Store
	publisher orders.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewRepairer(s store.Store, publisher orders.Publisher, logger *slog.Logger) *Repairer {
	return &Repairer{
		store:     s,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run calls RunOnce every interval until ctx is done.
func (r *Repairer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "payment repair pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce applies every pending repair and returns how many orders it marked paid.
func (r *Repairer) RunOnce(ctx context.Context) (int, error) {
	payments, err := r.store.ListUnappliedPayments(ctx, repairBatch)
	if err != nil {
		return 0, fmt.Errorf("list unapplied payments: %w", err)
	}

	repaired := 0
	for _, p := range payments {
		order, err := r.apply(ctx, p)
		switch {
		case errors.Is(err, domain.ErrAlreadyPaid):
			continue
		case err != nil:
			r.logger.WarnContext(ctx, "failed to repair payment", "error", err, "order_id", p.OrderID, "reference", p.Reference)
			continue
		}
		repaired++
		r.logger.InfoContext(ctx, "repaired unapplied payment", "order_id", order.ID, "reference", p.Reference)
		orders.PublishEvent(ctx, r.publisher, r.logger, domain.EventOrderPaid, order, r.now())
	}
	return repaired, nil
}

func (r *Repairer) apply(ctx context.Context, p domain.Payment) (*domain.Order, error) {
	var out *domain.Order
	err := r.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		order, err := tx.LockOrder(ctx, p.OrderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		now := r.now()
		result := domain.PaymentResult{
			ID:         p.TransactionID,
			Status:     string(p.Status),
			UpdateTime: p.UpdatedAt,
			Reference:  p.Reference,
		}
		if err := orders.MarkPaid(order, result, now); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		out = order
		return nil
	})
	return out, err
}
