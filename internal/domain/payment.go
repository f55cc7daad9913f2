package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

type Payment struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	OrderID       string          `json:"order_id"`
	TransactionID string          `json:"transaction_id"`
	Reference     string          `json:"reference"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        PaymentStatus   `json:"status"`
	Method        string          `json:"method"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (p *Payment) Clone() *Payment {
	c := *p
	c.Metadata = append(json.RawMessage(nil), p.Metadata...)
	return &c
}
