package orders

import (
	"log/slog"
	"strings"
	"time"

	"github.com/joao-fontenele/shopflow/internal/domain"
)

// Payment methods settled offline start out confirmed.
var offlineMethods = []string{"COD", "Cash on Delivery"}

var validNext = map[domain.OrderStatus]map[domain.OrderStatus]bool{
	domain.OrderStatusPendingPayment: {domain.OrderStatusConfirmed: true, domain.OrderStatusCancelled: true},
	domain.OrderStatusConfirmed:      {domain.OrderStatusCancelled: true},
	domain.OrderStatusCancelled:      {},
}

func CanTransition(from, to domain.OrderStatus) bool {
	return validNext[from][to]
}

func InitialStatus(paymentMethod string) domain.OrderStatus {
	m := strings.TrimSpace(paymentMethod)
	for _, offline := range offlineMethods {
		if strings.EqualFold(m, offline) {
			return domain.OrderStatusConfirmed
		}
	}
	return domain.OrderStatusPendingPayment
}

// Transition moves o along the status graph on behalf of actor.
// Confirmation needs a recorded payment; cancellation needs the order to be
// neither paid nor delivered.
func Transition(o *domain.Order, to domain.OrderStatus, actor domain.Actor, now time.Time) error {
	if !actor.CanAccess(o) {
		return domain.ErrNotAuthorized
	}
	if !to.Valid() {
		return domain.Validationf("unknown order status %q", to)
	}
	if !CanTransition(o.Status, to) {
		return &domain.TransitionError{From: o.Status, To: to}
	}

	switch to {
	case domain.OrderStatusConfirmed:
		if !o.IsPaid {
			return &domain.TransitionError{From: o.Status, To: to, Reason: "order is not paid"}
		}
	case domain.OrderStatusCancelled:
		if o.IsPaid || o.IsDelivered {
			return &domain.TransitionError{From: o.Status, To: to, Reason: "cannot cancel a paid or delivered order"}
		}
	}

	o.Status = to
	o.UpdatedAt = now
	return nil
}

// Override sets any valid status without consulting the graph. Only
// administrators may do this and every use is logged.
func Override(o *domain.Order, to domain.OrderStatus, actor domain.Actor, logger *slog.Logger, now time.Time) error {
	if !actor.Admin {
		return domain.ErrNotAuthorized
	}
	if !to.Valid() {
		return domain.Validationf("unknown order status %q", to)
	}

	logger.Warn("order status overridden",
		"order_id", o.ID,
		"from", o.Status,
		"to", to,
		"actor", actor.UserID,
		"is_paid", o.IsPaid,
		"is_delivered", o.IsDelivered,
	)

	o.Status = to
	o.UpdatedAt = now
	return nil
}

// MarkPaid records the gateway verdict on o and confirms it when it was
// waiting for payment. A cash order that is already confirmed just becomes paid.
func MarkPaid(o *domain.Order, result domain.PaymentResult, now time.Time) error {
	if o.IsPaid {
		return domain.ErrAlreadyPaid
	}
	if o.Status == domain.OrderStatusCancelled {
		return &domain.TransitionError{From: o.Status, To: domain.OrderStatusConfirmed, Reason: "order was cancelled"}
	}

	paidAt := now
	o.IsPaid = true
	o.PaidAt = &paidAt
	o.PaymentResult = &result
	o.UpdatedAt = now

	if o.Status == domain.OrderStatusPendingPayment {
		return Transition(o, domain.OrderStatusConfirmed, domain.System, now)
	}
	return nil
}

func MarkDelivered(o *domain.Order, now time.Time) error {
	if o.Status == domain.OrderStatusCancelled {
		return &domain.TransitionError{From: o.Status, To: o.Status, Reason: "cannot deliver a cancelled order"}
	}
	if o.IsDelivered {
		return &domain.TransitionError{From: o.Status, To: o.Status, Reason: "order is already delivered"}
	}

	deliveredAt := now
	o.IsDelivered = true
	o.DeliveredAt = &deliveredAt
	o.UpdatedAt = now
	return nil
}
