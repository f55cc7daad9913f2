package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const DefaultLowStockThreshold = 5

type Product struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	CountInStock      int             `json:"count_in_stock"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	IsLowStock        bool            `json:"is_low_stock"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// LowStock reports whether a positive stock count has fallen to the threshold.
// An empty shelf is out of stock, not low.
func LowStock(count, threshold int) bool {
	return count > 0 && count <= threshold
}

// SetStock is the only way a stock count changes; it keeps IsLowStock in sync.
func (p *Product) SetStock(count int) {
	p.CountInStock = count
	p.IsLowStock = LowStock(count, p.LowStockThreshold)
}

func (p *Product) Clone() *Product {
	c := *p
	return &c
}
