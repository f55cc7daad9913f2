package domain

import "github.com/shopspring/decimal"

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

var minorFactor = decimal.NewFromInt(100)

// ToMinor converts a major-unit amount to the gateway's minor units, rounding half up.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Mul(minorFactor).Round(0).IntPart()
}

func FromMinor(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(minorFactor)
}
