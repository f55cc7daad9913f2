package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrEmptyOrder             = fmt.Errorf("%w: no order items", ErrValidation)
	ErrTotalsMismatch         = fmt.Errorf("%w: order totals do not match catalog prices", ErrValidation)
	ErrProductNotFound        = errors.New("product not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrOrderNotFound          = errors.New("order not found")
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrNotAuthorized          = errors.New("not authorized")
	ErrInvalidTransition      = errors.New("invalid order status transition")
	ErrAlreadyPaid            = errors.New("order is already paid")
	ErrPaymentFailed          = errors.New("payment verification failed")
	ErrGatewayUnavailable     = errors.New("payment gateway unavailable")
	ErrGatewayTimeout         = fmt.Errorf("%w: timed out", ErrGatewayUnavailable)
	ErrVerificationInProgress = errors.New("payment verification already in progress")
)

// Validationf builds an ErrValidation with a caller supplied reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Name, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return "product not found: " + e.ProductID
}

func (e *ProductNotFoundError) Is(target error) bool { return target == ErrProductNotFound }

type TransitionError struct {
	From   OrderStatus
	To     OrderStatus
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot move order from %q to %q", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
