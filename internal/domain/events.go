package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced    = "order.placed"
	EventOrderPaid      = "order.paid"
	EventOrderCancelled = "order.cancelled"
	EventOrderDelivered = "order.delivered"
)

type OrderEvent struct {
	Type       string          `json:"type"`
	OrderID    string          `json:"order_id"`
	UserID     string          `json:"user_id"`
	Email      string          `json:"email,omitempty"`
	Status     OrderStatus     `json:"status"`
	Total      decimal.Decimal `json:"total"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func NewOrderEvent(eventType string, o *Order, at time.Time) OrderEvent {
	return OrderEvent{
		Type:       eventType,
		OrderID:    o.ID,
		UserID:     o.UserID,
		Email:      o.CustomerEmail,
		Status:     o.Status,
		Total:      o.TotalPrice,
		OccurredAt: at.UTC(),
	}
}
