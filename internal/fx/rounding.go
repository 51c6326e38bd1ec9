package fx

import "github.com/shopspring/decimal"

const (
	amountPlaces = 2
	ratePlaces   = 4
)

// RoundAmount rounds a monetary value for storage.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(amountPlaces)
}

// RoundRate rounds a conversion rate for storage.
func RoundRate(d decimal.Decimal) decimal.Decimal {
	return d.Round(ratePlaces)
}
