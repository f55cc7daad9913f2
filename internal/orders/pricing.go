package orders

import (
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/shopflow/internal/domain"
)

// Pricing derives order totals from line items. Amounts are in major units.
type Pricing struct {
	TaxRate          decimal.Decimal
	FreeShippingOver decimal.Decimal
	ShippingFee      decimal.Decimal
}

func DefaultPricing() Pricing {
	return Pricing{
		TaxRate:          decimal.RequireFromString("0.15"),
		FreeShippingOver: decimal.NewFromInt(100),
		ShippingFee:      decimal.NewFromInt(10),
	}
}

// Compute rounds every component to cents; shipping is free once the items
// total exceeds FreeShippingOver.
func (p Pricing) Compute(items []domain.LineItem) domain.Totals {
	itemsPrice := decimal.Zero
	for _, li := range items {
		itemsPrice = itemsPrice.Add(li.Subtotal())
	}
	itemsPrice = itemsPrice.Round(2)

	shipping := p.ShippingFee
	if itemsPrice.GreaterThan(p.FreeShippingOver) {
		shipping = decimal.Zero
	}
	shipping = shipping.Round(2)

	tax := itemsPrice.Mul(p.TaxRate).Round(2)

	return domain.Totals{
		ItemsPrice:    itemsPrice,
		TaxPrice:      tax,
		ShippingPrice: shipping,
		TotalPrice:    itemsPrice.Add(tax).Add(shipping),
	}
}
