// Package payments applies payment gateway verdicts to orders. Every paid
// transition in the service goes through the Reconciler or the Repairer.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joao-fontenele/shopflow/internal/domain"
	"github.com/joao-fontenele/shopflow/internal/lock"
	"github.com/joao-fontenele/shopflow/internal/orders"
	"github.com/joao-fontenele/shopflow/internal/paystack"
	"github.com/joao-fontenele/shopflow/internal/store"
	"github.com/joao-fontenele/shopflow/internal/telemetry"
)

const (
	DefaultGatewayTimeout = 10 * time.Second
	DefaultCurrency       = "GHS"
	// MethodPaystack is recorded on payments verified through the gateway.
	MethodPaystack = "Paystack"

	// lockMargin is added to the gateway timeout so the verification lock
	// outlives the gateway call and the apply transaction.
	lockMargin = 20 * time.Second
)

// Gateway is the part of the payment provider the reconciler needs.
type Gateway interface {
	Verify(ctx context.Context, reference string) (*paystack.Transaction, error)
}

type Result struct {
	Status  domain.PaymentStatus `json:"status"`
	Order   *domain.Order        `json:"order"`
	Payment *domain.Payment      `json:"payment,omitempty"`
}

type Config struct {
	GatewayTimeout time.Duration
	Currency       string
}

type Reconciler struct {
	store     store.Store
	gateway   Gateway
	locker    lock.Locker
	publisher orders.Publisher
	metrics   *telemetry.ShopMetrics
	cfg       Config
	lockTTL   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Reconciler)

func WithPublisher(p orders.Publisher) Option {
	return func(r *Reconciler) { r.publisher = p }
}

func WithMetrics(m *telemetry.ShopMetrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func NewReconciler(s store.Store, gw Gateway, locker lock.Locker, cfg Config, logger *slog.Logger, opts ...Option) *Reconciler {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = DefaultGatewayTimeout
	}
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	r := &Reconciler{
		store:   s,
		gateway: gw,
		locker:  locker,
		cfg:     cfg,
		lockTTL: cfg.GatewayTimeout + lockMargin,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile fetches the gateway's verdict for reference and applies it to
// the order exactly once. A second call after success fails with
// domain.ErrAlreadyPaid before the gateway is contacted.
func (r *Reconciler) Reconcile(ctx context.Context, actor domain.Actor, orderID, reference string) (*Result, error) {
	res, err := r.reconcile(ctx, actor, orderID, reference)
	r.metrics.PaymentReconciled(ctx, outcome(err))
	return res, err
}

func (r *Reconciler) reconcile(ctx context.Context, actor domain.Actor, orderID, reference string) (*Result, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, domain.Validationf("payment reference is required")
	}

	order, err := r.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if !actor.CanAccess(order) {
		return nil, domain.ErrNotAuthorized
	}
	if order.IsPaid {
		return nil, domain.ErrAlreadyPaid
	}

	release, err := r.locker.Acquire(ctx, reference, r.lockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, domain.ErrVerificationInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("lock reference: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			r.logger.WarnContext(ctx, "failed to release verification lock", "error", err, "reference", reference)
		}
	}()

	// A concurrent verification may have committed after the first read.
	if order, err = r.store.GetOrder(ctx, orderID); err != nil {
		return nil, fmt.Errorf("reload order: %w", err)
	}
	if order.IsPaid {
		return nil, domain.ErrAlreadyPaid
	}

	tx, err := r.verify(ctx, reference)
	if errors.Is(err, paystack.ErrRejected) {
		return r.recordFailure(ctx, actor, order, reference, nil, err)
	}
	if err != nil {
		r.logger.WarnContext(ctx, "payment gateway unavailable", "error", err, "order_id", order.ID, "reference", reference)
		return nil, err
	}

	if reason := r.rejectVerdict(order, reference, tx); reason != "" {
		return r.recordFailure(ctx, actor, order, reference, tx, fmt.Errorf("%w: %s", domain.ErrPaymentFailed, reason))
	}

	return r.applySuccess(ctx, actor, order.ID, reference, tx)
}

func (r *Reconciler) verify(ctx context.Context, reference string) (*paystack.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	tx, err := r.gateway.Verify(ctx, reference)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %v", domain.ErrGatewayTimeout, ctx.Err())
	}
	r.metrics.GatewayVerify(ctx, time.Since(start), outcome(err))
	return tx, err
}

// rejectVerdict returns why tx does not pay for order, or "" when it does.
func (r *Reconciler) rejectVerdict(order *domain.Order, reference string, tx *paystack.Transaction) string {
	switch {
	case !tx.Successful():
		return fmt.Sprintf("gateway status %q", tx.Status)
	case tx.Reference != reference:
		return fmt.Sprintf("gateway reference %q does not match", tx.Reference)
	case tx.AmountMinor < domain.ToMinor(order.TotalPrice):
		return fmt.Sprintf("paid %d minor units, order total is %d", tx.AmountMinor, domain.ToMinor(order.TotalPrice))
	case tx.Currency != "" && !strings.EqualFold(tx.Currency, r.cfg.Currency):
		return fmt.Sprintf("currency %s, expected %s", tx.Currency, r.cfg.Currency)
	}
	return ""
}

// recordFailure keeps an audit record of a definitive non-success verdict.
// The order is left untouched and a success record is never downgraded.
func (r *Reconciler) recordFailure(ctx context.Context, actor domain.Actor, order *domain.Order, reference string, tx *paystack.Transaction, cause error) (*Result, error) {
	r.logger.InfoContext(ctx, "payment verification failed", "order_id", order.ID, "reference", reference, "reason", cause.Error())

	err := r.store.WithTx(ctx, func(ctx context.Context, stx store.Tx) error {
		existing, err := stx.GetPaymentByReference(ctx, reference)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("load payment: %w", err)
		}
		if err == nil && (existing.Status == domain.PaymentStatusSuccess || existing.OrderID != order.ID) {
			return nil
		}

		p := r.paymentRecord(order, actor, reference, tx, domain.PaymentStatusFailed)
		if _, err := stx.UpsertPayment(ctx, p); err != nil {
			return fmt.Errorf("upsert failed payment: %w", err)
		}
		return nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to record failed payment", "error", err, "order_id", order.ID, "reference", reference)
	}

	return nil, cause
}

// applySuccess upserts the payment before marking the order paid, both in one
// transaction. The order row is locked so concurrent winners serialize.
func (r *Reconciler) applySuccess(ctx context.Context, actor domain.Actor, orderID, reference string, tx *paystack.Transaction) (*Result, error) {
	var (
		out      *Result
		applyErr error
	)
	err := r.store.WithTx(ctx, func(ctx context.Context, stx store.Tx) error {
		applyErr = nil
		order, err := stx.LockOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if order.IsPaid {
			return domain.ErrAlreadyPaid
		}

		if existing, err := stx.GetPaymentByReference(ctx, reference); err == nil && existing.OrderID != order.ID {
			return fmt.Errorf("%w: reference belongs to another order", domain.ErrPaymentFailed)
		} else if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("load payment: %w", err)
		}

		p := r.paymentRecord(order, actor, reference, tx, domain.PaymentStatusSuccess)
		if _, err := stx.UpsertPayment(ctx, p); err != nil {
			return fmt.Errorf("upsert payment: %w", err)
		}

		// A failed transition still commits the payment so the money stays on record.
		if err := orders.MarkPaid(order, paymentResult(tx, reference, r.now()), r.now()); err != nil {
			applyErr = err
			out = &Result{Status: domain.PaymentStatusSuccess, Order: order, Payment: p}
			return nil
		}
		if err := stx.UpdateOrder(ctx, order); err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		out = &Result{Status: domain.PaymentStatusSuccess, Order: order, Payment: p}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if applyErr != nil {
		r.logger.ErrorContext(ctx, "payment recorded for order that cannot be confirmed",
			"error", applyErr, "order_id", orderID, "reference", reference)
		return nil, applyErr
	}

	r.logger.InfoContext(ctx, "payment reconciled",
		"order_id", out.Order.ID,
		"reference", reference,
		"amount", out.Payment.Amount,
		"status", out.Order.Status,
	)
	orders.PublishEvent(ctx, r.publisher, r.logger, domain.EventOrderPaid, out.Order, r.now())
	return out, nil
}

func (r *Reconciler) paymentRecord(order *domain.Order, actor domain.Actor, reference string, tx *paystack.Transaction, status domain.PaymentStatus) *domain.Payment {
	now := r.now()
	p := &domain.Payment{
		UserID:    order.UserID,
		OrderID:   order.ID,
		Reference: reference,
		Amount:    order.TotalPrice,
		Currency:  r.cfg.Currency,
		Status:    status,
		Method:    MethodPaystack,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if p.UserID == "" {
		p.UserID = actor.UserID
	}
	if tx != nil {
		p.TransactionID = strconv.FormatInt(tx.ID, 10)
		p.Amount = domain.FromMinor(tx.AmountMinor)
		if tx.Currency != "" {
			p.Currency = strings.ToUpper(tx.Currency)
		}
		p.Metadata = tx.Raw
	}
	return p
}

func paymentResult(tx *paystack.Transaction, reference string, now time.Time) domain.PaymentResult {
	updated := now
	if tx.PaidAt != nil {
		updated = tx.PaidAt.UTC()
	}
	return domain.PaymentResult{
		ID:           strconv.FormatInt(tx.ID, 10),
		Status:       tx.Status,
		UpdateTime:   updated,
		EmailAddress: tx.CustomerEmail,
		Reference:    reference,
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrAlreadyPaid):
		return "already_paid"
	case errors.Is(err, domain.ErrPaymentFailed):
		return "failed"
	case errors.Is(err, domain.ErrGatewayTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrVerificationInProgress):
		return "in_progress"
	default:
		return "error"
	}
}
