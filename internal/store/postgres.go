package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/shopflow/internal/domain"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db          *sql.DB
	logger      *slog.Logger
	maxAttempts int
	queries
}

type PostgresOption func(*PostgresStore)

// WithMaxAttempts bounds how many times a transaction is replayed after a
// serialization failure or deadlock.
func WithMaxAttempts(n int) PostgresOption {
	return func(s *PostgresStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func NewPostgresStore(db *sql.DB, logger *slog.Logger, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		db:          db,
		logger:      logger,
		maxAttempts: 3,
		queries:     queries{q: db},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if !isRetryable(err) {
			return err
		}
		s.logger.Warn("retrying transaction", "attempt", attempt, "error", err)
	}
	return err
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &postgresTx{queries: queries{q: sqlTx}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == sqlStateSerializationFailure || pqErr.Code == sqlStateDeadlockDetected
}

type postgresTx struct {
	queries
}

// queries holds the statements shared by the pool and by open transactions.
type queries struct {
	q querier
}

const productColumns = `id, name, price, count_in_stock, low_stock_threshold, is_low_stock, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	p := &domain.Product{}
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.CountInStock, &p.LowStockThreshold, &p.IsLowStock, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

func (r queries) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(r.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r queries) LockProducts(ctx context.Context, ids []string) (map[string]*domain.Product, error) {
	// Locking in id order keeps concurrent placements from deadlocking each other.
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]*domain.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (r queries) SaveProductStock(ctx context.Context, p *domain.Product) error {
	result, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET count_in_stock = $2, is_low_stock = $3, updated_at = $4
		WHERE id = $1
	`, p.ID, p.CountInStock, p.IsLowStock, p.UpdatedAt)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

const orderColumns = `id, user_id, customer_email, shipping_address, payment_method,
	items_price, tax_price, shipping_price, total_price, status,
	is_paid, paid_at, payment_result, is_delivered, delivered_at, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	o := &domain.Order{}
	var (
		address       []byte
		paymentResult []byte
		paidAt        sql.NullTime
		deliveredAt   sql.NullTime
	)
	err := row.Scan(&o.ID, &o.UserID, &o.CustomerEmail, &address, &o.PaymentMethod,
		&o.ItemsPrice, &o.TaxPrice, &o.ShippingPrice, &o.TotalPrice, &o.Status,
		&o.IsPaid, &paidAt, &paymentResult, &o.IsDelivered, &deliveredAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if len(paymentResult) > 0 {
		o.PaymentResult = &domain.PaymentResult{}
		if err := json.Unmarshal(paymentResult, o.PaymentResult); err != nil {
			return nil, fmt.Errorf("decode payment result: %w", err)
		}
	}
	if paidAt.Valid {
		o.PaidAt = &paidAt.Time
	}
	if deliveredAt.Valid {
		o.DeliveredAt = &deliveredAt.Time
	}
	o.Items = []domain.LineItem{}
	return o, nil
}

func (r queries) getOrder(ctx context.Context, query, id string) (*domain.Order, error) {
	o, err := scanOrder(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT product_id, name, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return o, nil
}

func (r queries) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return r.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r queries) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return r.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r queries) ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	var args []any
	if filter.UserID != "" {
		query += ` WHERE user_id = $1`
		args = append(args, filter.UserID)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orderMap[o.ID] = o
		orderIDs = append(orderIDs, o.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.q.QueryContext(ctx, `
		SELECT order_id, product_id, name, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.LineItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Name, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		o := orderMap[orderID]
		o.Items = append(o.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

func (r queries) InsertOrder(ctx context.Context, o *domain.Order) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}

	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}
	paymentResult, err := marshalNullable(o.PaymentResult)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, customer_email, shipping_address, payment_method,
			items_price, tax_price, shipping_price, total_price, status,
			is_paid, paid_at, payment_result, is_delivered, delivered_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, o.ID, o.UserID, o.CustomerEmail, address, o.PaymentMethod,
		o.ItemsPrice, o.TaxPrice, o.ShippingPrice, o.TotalPrice, o.Status,
		o.IsPaid, nullTime(o.PaidAt), paymentResult, o.IsDelivered, nullTime(o.DeliveredAt), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}

	for i, item := range o.Items {
		_, err = r.q.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, product_id, name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, o.ID, i, item.ProductID, item.Name, item.Quantity, item.UnitPrice)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r queries) UpdateOrder(ctx context.Context, o *domain.Order) error {
	paymentResult, err := marshalNullable(o.PaymentResult)
	if err != nil {
		return err
	}

	result, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, is_paid = $3, paid_at = $4, payment_result = $5,
			is_delivered = $6, delivered_at = $7, updated_at = $8
		WHERE id = $1
	`, o.ID, o.Status, o.IsPaid, nullTime(o.PaidAt), paymentResult, o.IsDelivered, nullTime(o.DeliveredAt), o.UpdatedAt)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

const paymentColumns = `id, user_id, order_id, transaction_id, reference, amount, currency, status, method, metadata, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*domain.Payment, error) {
	p := &domain.Payment{}
	var metadata []byte
	if err := row.Scan(&p.ID, &p.UserID, &p.OrderID, &p.TransactionID, &p.Reference, &p.Amount,
		&p.Currency, &p.Status, &p.Method, &metadata, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		p.Metadata = json.RawMessage(metadata)
	}
	return p, nil
}

func (r queries) GetPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	p, err := scanPayment(r.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE reference = $1`, reference))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r queries) listPayments(ctx context.Context, query string, args ...any) ([]domain.Payment, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	payments := []domain.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}

func (r queries) ListPaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return []domain.Payment{}, nil
	}
	return r.listPayments(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at, reference
	`, orderID)
}

func (r queries) ListPayments(ctx context.Context) ([]domain.Payment, error) {
	return r.listPayments(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		ORDER BY created_at, reference
	`)
}

func (r queries) ListUnappliedPayments(ctx context.Context, limit int) ([]domain.Payment, error) {
	return r.listPayments(ctx, `
		SELECT p.id, p.user_id, p.order_id, p.transaction_id, p.reference, p.amount, p.currency,
			p.status, p.method, p.metadata, p.created_at, p.updated_at
		FROM payments p
		JOIN orders o ON o.id = p.order_id
		WHERE p.status = 'success' AND NOT o.is_paid AND o.status <> 'Cancelled'
		ORDER BY p.created_at, p.reference
		LIMIT $1
	`, limit)
}

func (r queries) UpsertPayment(ctx context.Context, p *domain.Payment) (bool, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	var metadata any
	if len(p.Metadata) > 0 {
		metadata = []byte(p.Metadata)
	}

	var inserted bool
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO payments (id, user_id, order_id, transaction_id, reference, amount, currency,
			status, method, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (reference) DO UPDATE
		SET transaction_id = EXCLUDED.transaction_id,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			metadata = COALESCE(EXCLUDED.metadata, payments.metadata),
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, (xmax = 0)
	`, p.ID, p.UserID, p.OrderID, p.TransactionID, p.Reference, p.Amount, p.Currency,
		p.Status, p.Method, metadata, p.UpdatedAt).Scan(&p.ID, &p.CreatedAt, &inserted)
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func marshalNullable(v *domain.PaymentResult) (any, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
