package fx

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/donorledger-backend/pkg/enums"
)

// Conversion is an unrounded converted amount and the rate that produced it.
type Conversion struct {
	Amount decimal.Decimal
	Rate   decimal.Decimal
}

// Rounded returns the conversion at storage precision.
func (c Conversion) Rounded() Conversion {
	return Conversion{Amount: RoundAmount(c.Amount), Rate: RoundRate(c.Rate)}
}

// Converter applies bridge rates to monetary amounts.
type Converter struct {
	bridge *Bridge
}

func NewConverter(bridge *Bridge) *Converter {
	return &Converter{bridge: bridge}
}

// Convert multiplies amount by the from->to rate on asOf at full precision.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to enums.Currency, asOf time.Time) (Conversion, error) {
	rate, err := c.bridge.Rate(ctx, from, to, asOf)
	if err != nil {
		return Conversion{}, err
	}
	return Conversion{Amount: amount.Mul(rate), Rate: rate}, nil
}

// ToUSD converts amount into USD.
func (c *Converter) ToUSD(ctx context.Context, amount decimal.Decimal, from enums.Currency, asOf time.Time) (Conversion, error) {
	return c.Convert(ctx, amount, from, enums.CurrencyUSD, asOf)
}
