package orders

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/joao-fontenele/shopflow/internal/domain"
)

var (
	owner    = domain.Actor{UserID: "u1", Email: "ama@example.com"}
	stranger = domain.Actor{UserID: "u2"}
	admin    = domain.Actor{UserID: "root", Admin: true}
)

func orderWith(status domain.OrderStatus) *domain.Order {
	return &domain.Order{ID: "o1", UserID: owner.UserID, Status: status}
}

func TestInitialStatus(t *testing.T) {
	tests := []struct {
		method string
		want   domain.OrderStatus
	}{
		{"COD", domain.OrderStatusConfirmed},
		{"cod", domain.OrderStatusConfirmed},
		{"Cash on Delivery", domain.OrderStatusConfirmed},
		{" cash on delivery ", domain.OrderStatusConfirmed},
		{"Paystack", domain.OrderStatusPendingPayment},
		{"", domain.OrderStatusPendingPayment},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			if got := InitialStatus(tt.method); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestTransition(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("cancel unpaid pending order", func(t *testing.T) {
		o := orderWith(domain.OrderStatusPendingPayment)
		if err := Transition(o, domain.OrderStatusCancelled, owner, now); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if o.Status != domain.OrderStatusCancelled || !o.UpdatedAt.Equal(now) {
			t.Errorf("unexpected order %+v", o)
		}
	})

	t.Run("cancel unpaid confirmed cash order", func(t *testing.T) {
		o := orderWith(domain.OrderStatusConfirmed)
		if err := Transition(o, domain.OrderStatusCancelled, admin, now); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("cannot cancel paid order", func(t *testing.T) {
		o := orderWith(domain.OrderStatusConfirmed)
		o.IsPaid = true
		err := Transition(o, domain.OrderStatusCancelled, owner, now)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if o.Status != domain.OrderStatusConfirmed {
			t.Errorf("status changed to %q", o.Status)
		}
	})

	t.Run("cannot cancel delivered order", func(t *testing.T) {
		o := orderWith(domain.OrderStatusConfirmed)
		o.IsDelivered = true
		if err := Transition(o, domain.OrderStatusCancelled, owner, now); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("nothing leaves cancelled", func(t *testing.T) {
		for _, to := range []domain.OrderStatus{domain.OrderStatusPendingPayment, domain.OrderStatusConfirmed, domain.OrderStatusCancelled} {
			o := orderWith(domain.OrderStatusCancelled)
			if err := Transition(o, to, admin, now); !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("to %q: expected ErrInvalidTransition, got %v", to, err)
			}
		}
	})

	t.Run("confirmation requires payment", func(t *testing.T) {
		o := orderWith(domain.OrderStatusPendingPayment)
		if err := Transition(o, domain.OrderStatusConfirmed, admin, now); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("no going back to pending", func(t *testing.T) {
		o := orderWith(domain.OrderStatusConfirmed)
		if err := Transition(o, domain.OrderStatusPendingPayment, admin, now); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("stranger is not authorized", func(t *testing.T) {
		o := orderWith(domain.OrderStatusPendingPayment)
		if err := Transition(o, domain.OrderStatusCancelled, stranger, now); !errors.Is(err, domain.ErrNotAuthorized) {
			t.Fatalf("expected ErrNotAuthorized, got %v", err)
		}
	})

	t.Run("unknown status is a validation error", func(t *testing.T) {
		o := orderWith(domain.OrderStatusPendingPayment)
		if err := Transition(o, "Shipped", owner, now); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})
}

func TestOverride(t *testing.T) {
	now := time.Now().UTC()

	t.Run("admin bypasses the graph and is logged", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		o := orderWith(domain.OrderStatusCancelled)
		if err := Override(o, domain.OrderStatusConfirmed, admin, logger, now); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if o.Status != domain.OrderStatusConfirmed {
			t.Errorf("expected Confirmed, got %q", o.Status)
		}
		out := buf.String()
		if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "actor=root") {
			t.Errorf("expected warn log with actor, got %q", out)
		}
	})

	t.Run("non admin is rejected", func(t *testing.T) {
		o := orderWith(domain.OrderStatusPendingPayment)
		err := Override(o, domain.OrderStatusConfirmed, owner, slog.New(slog.NewTextHandler(io.Discard, nil)), now)
		if !errors.Is(err, domain.ErrNotAuthorized) {
			t.Fatalf("expected ErrNotAuthorized, got %v", err)
		}
	})

	t.Run("invalid status is rejected", func(t *testing.T) {
		o := orderWith(domain.OrderStatusPendingPayment)
		err := Override(o, "Lost", admin, slog.New(slog.NewTextHandler(io.Discard, nil)), now)
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})
}

func TestMarkPaid(t *testing.T) {
	now := time.Now().UTC()
	result := domain.PaymentResult{ID: "tx1", Status: "success", Reference: "ref"}

	t.Run("pending order becomes paid and confirmed", func(t *testing.T) {
		o := orderWith(domain.OrderStatusPendingPayment)
		if err := MarkPaid(o, result, now); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !o.IsPaid || o.PaidAt == nil || o.Status != domain.OrderStatusConfirmed {
			t.Errorf("unexpected order %+v", o)
		}
		if o.PaymentResult == nil || o.PaymentResult.Reference != "ref" {
			t.Errorf("expected payment result snapshot, got %+v", o.PaymentResult)
		}
	})

	t.Run("confirmed cash order just becomes paid", func(t *testing.T) {
		o := orderWith(domain.OrderStatusConfirmed)
		if err := MarkPaid(o, result, now); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !o.IsPaid || o.Status != domain.OrderStatusConfirmed {
			t.Errorf("unexpected order %+v", o)
		}
	})

	t.Run("already paid", func(t *testing.T) {
		o := orderWith(domain.OrderStatusConfirmed)
		o.IsPaid = true
		if err := MarkPaid(o, result, now); !errors.Is(err, domain.ErrAlreadyPaid) {
			t.Fatalf("expected ErrAlreadyPaid, got %v", err)
		}
	})

	t.Run("cancelled order", func(t *testing.T) {
		o := orderWith(domain.OrderStatusCancelled)
		if err := MarkPaid(o, result, now); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if o.IsPaid {
			t.Error("cancelled order must stay unpaid")
		}
	})
}

func TestMarkDelivered(t *testing.T) {
	now := time.Now().UTC()

	o := orderWith(domain.OrderStatusConfirmed)
	if err := MarkDelivered(o, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !o.IsDelivered || o.DeliveredAt == nil {
		t.Errorf("unexpected order %+v", o)
	}
	if err := MarkDelivered(o, now); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("second delivery: expected ErrInvalidTransition, got %v", err)
	}

	cancelled := orderWith(domain.OrderStatusCancelled)
	if err := MarkDelivered(cancelled, now); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("cancelled: expected ErrInvalidTransition, got %v", err)
	}
}
