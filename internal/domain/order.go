package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "Pending Payment"
	OrderStatusConfirmed      OrderStatus = "Confirmed"
	OrderStatusCancelled      OrderStatus = "Cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPendingPayment, OrderStatusConfirmed, OrderStatusCancelled:
		return true
	}
	return false
}

// LineItem is a snapshot of the catalog entry taken when the order was placed.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type ShippingAddress struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// PaymentResult is the gateway verdict copied onto the order once it is paid.
type PaymentResult struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	UpdateTime   time.Time `json:"update_time"`
	EmailAddress string    `json:"email_address"`
	Reference    string    `json:"reference"`
}

type Totals struct {
	ItemsPrice    decimal.Decimal `json:"items_price"`
	TaxPrice      decimal.Decimal `json:"tax_price"`
	ShippingPrice decimal.Decimal `json:"shipping_price"`
	TotalPrice    decimal.Decimal `json:"total_price"`
}

// Equal compares totals at cent precision.
func (t Totals) Equal(o Totals) bool {
	return t.ItemsPrice.Round(2).Equal(o.ItemsPrice.Round(2)) &&
		t.TaxPrice.Round(2).Equal(o.TaxPrice.Round(2)) &&
		t.ShippingPrice.Round(2).Equal(o.ShippingPrice.Round(2)) &&
		t.TotalPrice.Round(2).Equal(o.TotalPrice.Round(2))
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	CustomerEmail   string          `json:"customer_email,omitempty"`
	Items           []LineItem      `json:"items"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	PaymentMethod   string          `json:"payment_method"`
	Totals
	Status        OrderStatus    `json:"status"`
	IsPaid        bool           `json:"is_paid"`
	PaidAt        *time.Time     `json:"paid_at,omitempty"`
	PaymentResult *PaymentResult `json:"payment_result,omitempty"`
	IsDelivered   bool           `json:"is_delivered"`
	DeliveredAt   *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate it without touching shared state.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		c.DeliveredAt = &t
	}
	if o.PaymentResult != nil {
		pr := *o.PaymentResult
		c.PaymentResult = &pr
	}
	return &c
}
