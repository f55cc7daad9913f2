package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/joao-fontenele/shopflow/internal/domain"
)

// MemoryStore keeps every record in process. A transaction holds the write
// lock for its whole lifetime, so transactions are trivially serializable.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
	orders   map[string]*domain.Order
	payments map[string]*domain.Payment // by reference
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*domain.Product),
		orders:   make(map[string]*domain.Order),
		payments: make(map[string]*domain.Payment),
	}
}

// PutProduct seeds or replaces a catalog entry.
func (s *MemoryStore) PutProduct(p *domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := p.Clone()
	c.SetStock(c.CountInStock)
	s.products[c.ID] = c
}

func (s *MemoryStore) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetProduct(ctx, id)
}

func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetOrder(ctx, id)
}

func (s *MemoryStore) ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListOrders(ctx, filter)
}

func (s *MemoryStore) GetPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetPaymentByReference(ctx, reference)
}

func (s *MemoryStore) ListPaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListPaymentsByOrder(ctx, orderID)
}

func (s *MemoryStore) ListPayments(ctx context.Context) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListPayments(ctx)
}

func (s *MemoryStore) ListUnappliedPayments(ctx context.Context, limit int) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListUnappliedPayments(ctx, limit)
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.begin()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// view is a read-only transaction over the committed state; callers hold mu.
func (s *MemoryStore) view() *memoryTx {
	return s.begin()
}

func (s *MemoryStore) begin() *memoryTx {
	return &memoryTx{
		base:     s,
		products: make(map[string]*domain.Product),
		orders:   make(map[string]*domain.Order),
		payments: make(map[string]*domain.Payment),
	}
}

// memoryTx buffers writes in overlay maps that are merged on commit.
type memoryTx struct {
	base     *MemoryStore
	products map[string]*domain.Product
	orders   map[string]*domain.Order
	payments map[string]*domain.Payment
}

func (t *memoryTx) commit() {
	for id, p := range t.products {
		t.base.products[id] = p
	}
	for id, o := range t.orders {
		t.base.orders[id] = o
	}
	for ref, p := range t.payments {
		t.base.payments[ref] = p
	}
}

func (t *memoryTx) product(id string) (*domain.Product, bool) {
	if p, ok := t.products[id]; ok {
		return p, true
	}
	p, ok := t.base.products[id]
	return p, ok
}

func (t *memoryTx) order(id string) (*domain.Order, bool) {
	if o, ok := t.orders[id]; ok {
		return o, true
	}
	o, ok := t.base.orders[id]
	return o, ok
}

func (t *memoryTx) payment(ref string) (*domain.Payment, bool) {
	if p, ok := t.payments[ref]; ok {
		return p, true
	}
	p, ok := t.base.payments[ref]
	return p, ok
}

func (t *memoryTx) allOrders() map[string]*domain.Order {
	out := make(map[string]*domain.Order, len(t.base.orders)+len(t.orders))
	for id, o := range t.base.orders {
		out[id] = o
	}
	for id, o := range t.orders {
		out[id] = o
	}
	return out
}

func (t *memoryTx) allPayments() map[string]*domain.Payment {
	out := make(map[string]*domain.Payment, len(t.base.payments)+len(t.payments))
	for ref, p := range t.base.payments {
		out[ref] = p
	}
	for ref, p := range t.payments {
		out[ref] = p
	}
	return out
}

func (t *memoryTx) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	p, ok := t.product(id)
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (t *memoryTx) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	o, ok := t.order(id)
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (t *memoryTx) ListOrders(_ context.Context, filter OrderFilter) ([]domain.Order, error) {
	out := []domain.Order{}
	for _, o := range t.allOrders() {
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		out = append(out, *o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (t *memoryTx) GetPaymentByReference(_ context.Context, reference string) (*domain.Payment, error) {
	p, ok := t.payment(reference)
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (t *memoryTx) ListPaymentsByOrder(_ context.Context, orderID string) ([]domain.Payment, error) {
	out := []domain.Payment{}
	for _, p := range t.allPayments() {
		if p.OrderID == orderID {
			out = append(out, *p.Clone())
		}
	}
	sortPayments(out)
	return out, nil
}

func (t *memoryTx) ListPayments(_ context.Context) ([]domain.Payment, error) {
	out := []domain.Payment{}
	for _, p := range t.allPayments() {
		out = append(out, *p.Clone())
	}
	sortPayments(out)
	return out, nil
}

func (t *memoryTx) ListUnappliedPayments(_ context.Context, limit int) ([]domain.Payment, error) {
	out := []domain.Payment{}
	for _, p := range t.allPayments() {
		if p.Status != domain.PaymentStatusSuccess {
			continue
		}
		o, ok := t.order(p.OrderID)
		if !ok || o.IsPaid || o.Status == domain.OrderStatusCancelled {
			continue
		}
		out = append(out, *p.Clone())
	}
	sortPayments(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortPayments(ps []domain.Payment) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].Reference < ps[j].Reference
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}

func (t *memoryTx) LockProducts(_ context.Context, ids []string) (map[string]*domain.Product, error) {
	out := make(map[string]*domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.product(id); ok {
			out[id] = p.Clone()
		}
	}
	return out, nil
}

func (t *memoryTx) SaveProductStock(_ context.Context, p *domain.Product) error {
	cur, ok := t.product(p.ID)
	if !ok {
		return ErrNotFound
	}
	next := cur.Clone()
	next.SetStock(p.CountInStock)
	next.UpdatedAt = p.UpdatedAt
	t.products[p.ID] = next
	return nil
}

func (t *memoryTx) InsertOrder(_ context.Context, o *domain.Order) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	t.orders[o.ID] = o.Clone()
	return nil
}

func (t *memoryTx) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return t.GetOrder(ctx, id)
}

func (t *memoryTx) UpdateOrder(_ context.Context, o *domain.Order) error {
	if _, ok := t.order(o.ID); !ok {
		return ErrNotFound
	}
	t.orders[o.ID] = o.Clone()
	return nil
}

func (t *memoryTx) UpsertPayment(_ context.Context, p *domain.Payment) (bool, error) {
	cur, exists := t.payment(p.Reference)
	next := p.Clone()
	if exists {
		// Ownership columns are fixed at insert; metadata is only replaced
		// when the update carries some.
		next.ID = cur.ID
		next.CreatedAt = cur.CreatedAt
		next.UserID = cur.UserID
		next.OrderID = cur.OrderID
		next.Method = cur.Method
		if len(next.Metadata) == 0 {
			next.Metadata = cur.Clone().Metadata
		}
	} else if next.ID == "" {
		next.ID = uuid.New().String()
	}
	t.payments[p.Reference] = next
	p.ID = next.ID
	p.CreatedAt = next.CreatedAt
	return !exists, nil
}
