// Package store is the record store behind the order and payment services.
//
// Every mutation of stock, order state or payment records happens inside
// WithTx. Implementations must give the callback serializable isolation over
// the rows it reads through the Lock* methods and discard every write when the
// callback returns an error.
package store

import (
	"context"
	"errors"

	"github.com/joao-fontenele/shopflow/internal/domain"
)

var ErrNotFound = errors.New("record not found")

type OrderFilter struct {
	UserID string
}

type Reader interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error)
	GetPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error)
	ListPaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
	// ListPayments returns every payment record, failed ones included.
	ListPayments(ctx context.Context) ([]domain.Payment, error)
	// ListUnappliedPayments returns successful payments whose order is still
	// unpaid and not cancelled.
	ListUnappliedPayments(ctx context.Context, limit int) ([]domain.Payment, error)
}

type Tx interface {
	Reader

	// LockProducts returns the requested products keyed by id, locked until the
	// transaction ends. Unknown ids are absent from the map.
	LockProducts(ctx context.Context, ids []string) (map[string]*domain.Product, error)
	SaveProductStock(ctx context.Context, p *domain.Product) error

	InsertOrder(ctx context.Context, o *domain.Order) error
	LockOrder(ctx context.Context, id string) (*domain.Order, error)
	UpdateOrder(ctx context.Context, o *domain.Order) error

	// UpsertPayment inserts the payment or updates the record that already
	// holds its reference. It reports whether a new record was created and
	// fills in the stored ID and CreatedAt.
	UpsertPayment(ctx context.Context, p *domain.Payment) (bool, error)
}

type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
