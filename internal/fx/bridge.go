package fx

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/donorledger-backend/pkg/enums"
)

const dateLayout = "2006-01-02"

// RateQuote is a stored USD->currency rate and the date it is effective from.
type RateQuote struct {
	Rate decimal.Decimal
	Date time.Time
}

// RateSource finds the most recent USD->currency rate dated on or before asOf.
// It returns ErrExchangeRateNotFound when there is none.
type RateSource interface {
	LatestUSDRate(ctx context.Context, currency enums.Currency, asOf time.Time) (RateQuote, error)
}

// Bridge resolves conversion factors between currencies through USD.
type Bridge struct {
	source RateSource
}

func NewBridge(source RateSource) *Bridge {
	return &Bridge{source: source}
}

// Rate returns the value of one unit of from expressed in to as of asOf.
func (b *Bridge) Rate(ctx context.Context, from, to enums.Currency, asOf time.Time) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	asOf = dayStart(asOf)
	rFrom, err := b.usdRate(ctx, from, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	rTo, err := b.usdRate(ctx, to, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	return rTo.Div(rFrom), nil
}

func (b *Bridge) usdRate(ctx context.Context, currency enums.Currency, asOf time.Time) (decimal.Decimal, error) {
	if currency.IsUSD() {
		return decimal.NewFromInt(1), nil
	}
	quote, err := b.source.LatestUSDRate(ctx, currency, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	if !quote.Rate.IsPositive() {
		return decimal.Zero, rateNotFound(currency, asOf)
	}
	return quote.Rate, nil
}

func dayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
