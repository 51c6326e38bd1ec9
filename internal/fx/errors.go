package fx

import (
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/donorledger-backend/pkg/errors"
)

// ErrExchangeRateNotFound reports that no USD rate exists on or before the
// requested date.
var ErrExchangeRateNotFound = errors.New("exchange rate not found")

func rateNotFound(currency enums.Currency, asOf time.Time) error {
	return pkgerrors.Wrap(
		pkgerrors.CodeExchangeRateNotFound,
		ErrExchangeRateNotFound,
		fmt.Sprintf("no USD->%s rate on or before %s", currency, asOf.Format(dateLayout)),
	).WithDetails(map[string]any{
		"currency": currency,
		"asOf":     asOf.Format(dateLayout),
	})
}
