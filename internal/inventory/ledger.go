package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/joao-fontenele/shopflow/internal/domain"
	"github.com/joao-fontenele/shopflow/internal/store"
)

// MaxQuantity bounds a single request and the merged quantity per product.
// It matches the INTEGER columns that store quantities.
const MaxQuantity = math.MaxInt32

// Request asks for a quantity of one product.
type Request struct {
	ProductID string
	Quantity  int
}

// Ledger is the only writer of product stock counts.
type Ledger struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewLedger(logger *slog.Logger) *Ledger {
	return &Ledger{
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Reserve decrements stock for every request inside tx. All rows are locked
// and validated before any write, so on error nothing was changed and the
// caller's transaction can simply roll back. Duplicate product ids are summed.
// The returned products are in first-seen request order with their new counts.
func (l *Ledger) Reserve(ctx context.Context, tx store.Tx, reqs []Request) ([]*domain.Product, error) {
	merged, err := merge(reqs)
	if err != nil {
		return nil, err
	}

	locked, err := lock(ctx, tx, merged)
	if err != nil {
		return nil, err
	}

	for i, req := range merged {
		p := locked[i]
		if p.CountInStock < req.Quantity {
			return nil, &domain.InsufficientStockError{
				ProductID: p.ID,
				Name:      p.Name,
				Requested: req.Quantity,
				Available: p.CountInStock,
			}
		}
	}

	now := l.now()
	for i, req := range merged {
		p := locked[i]
		p.SetStock(p.CountInStock - req.Quantity)
		p.UpdatedAt = now
		if err := tx.SaveProductStock(ctx, p); err != nil {
			return nil, fmt.Errorf("save stock for %s: %w", p.ID, err)
		}
		if p.IsLowStock || p.CountInStock == 0 {
			l.logger.WarnContext(ctx, "product stock running low", "product_id", p.ID, "count_in_stock", p.CountInStock)
		}
	}

	return locked, nil
}

// Release returns previously reserved quantities to stock.
func (l *Ledger) Release(ctx context.Context, tx store.Tx, reqs []Request) ([]*domain.Product, error) {
	merged, err := merge(reqs)
	if err != nil {
		return nil, err
	}

	locked, err := lock(ctx, tx, merged)
	if err != nil {
		return nil, err
	}

	now := l.now()
	for i, req := range merged {
		p := locked[i]
		p.SetStock(p.CountInStock + req.Quantity)
		p.UpdatedAt = now
		if err := tx.SaveProductStock(ctx, p); err != nil {
			return nil, fmt.Errorf("save stock for %s: %w", p.ID, err)
		}
	}

	return locked, nil
}

// SetStock overwrites a product's count, as done by a catalog restock.
func (l *Ledger) SetStock(ctx context.Context, s store.Store, productID string, count int) (*domain.Product, error) {
	if count < 0 {
		return nil, domain.Validationf("stock count must not be negative")
	}

	var out *domain.Product
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := lock(ctx, tx, []Request{{ProductID: productID, Quantity: 1}})
		if err != nil {
			return err
		}
		p := locked[0]
		p.SetStock(count)
		p.UpdatedAt = l.now()
		if err := tx.SaveProductStock(ctx, p); err != nil {
			return fmt.Errorf("save stock for %s: %w", p.ID, err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "stock set", "product_id", out.ID, "count_in_stock", out.CountInStock, "is_low_stock", out.IsLowStock)
	return out, nil
}

func merge(reqs []Request) ([]Request, error) {
	if len(reqs) == 0 {
		return nil, domain.ErrEmptyOrder
	}

	index := make(map[string]int, len(reqs))
	out := make([]Request, 0, len(reqs))
	for _, r := range reqs {
		if r.ProductID == "" {
			return nil, domain.Validationf("missing product id")
		}
		if r.Quantity <= 0 {
			return nil, domain.Validationf("quantity for %s must be positive", r.ProductID)
		}
		if r.Quantity > MaxQuantity {
			return nil, domain.Validationf("quantity for %s exceeds %d", r.ProductID, MaxQuantity)
		}
		if i, ok := index[r.ProductID]; ok {
			if r.Quantity > MaxQuantity-out[i].Quantity {
				return nil, domain.Validationf("total quantity for %s exceeds %d", r.ProductID, MaxQuantity)
			}
			out[i].Quantity += r.Quantity
			continue
		}
		index[r.ProductID] = len(out)
		out = append(out, r)
	}
	return out, nil
}

// lock returns the locked rows aligned with reqs.
func lock(ctx context.Context, tx store.Tx, reqs []Request) ([]*domain.Product, error) {
	ids := make([]string, len(reqs))
	for i, r := range reqs {
		ids[i] = r.ProductID
	}

	rows, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}

	out := make([]*domain.Product, len(reqs))
	for i, id := range ids {
		p, ok := rows[id]
		if !ok {
			return nil, &domain.ProductNotFoundError{ProductID: id}
		}
		out[i] = p
	}
	return out, nil
}
