package enums

import (
	"fmt"
	"strings"
)

// Currency represents the ISO-4217 denominations the ledger accepts.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyILS Currency = "ILS"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyCAD Currency = "CAD"
	CurrencyAUD Currency = "AUD"
	CurrencyZAR Currency = "ZAR"
)

var validCurrencies = []Currency{
	CurrencyUSD,
	CurrencyILS,
	CurrencyEUR,
	CurrencyGBP,
	CurrencyCAD,
	CurrencyAUD,
	CurrencyZAR,
}

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// IsValid reports whether the currency is recognized.
func (c Currency) IsValid() bool {
	for _, candidate := range validCurrencies {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsUSD reports whether the currency is the bridge currency.
func (c Currency) IsUSD() bool {
	return c == CurrencyUSD
}

// ParseCurrency converts a raw string into a Currency. Lower-case codes are accepted.
func ParseCurrency(value string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validCurrencies {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid currency %q", value)
}
