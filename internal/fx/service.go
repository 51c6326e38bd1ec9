package fx

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	dbpkg "github.com/angelmondragon/donorledger-backend/pkg/db"
	"github.com/angelmondragon/donorledger-backend/pkg/db/models"
	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/donorledger-backend/pkg/errors"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
)

type rateWriter interface {
	Create(ctx context.Context, rate *models.ExchangeRate) error
}

// RecordRateInput is a new USD->Currency rate effective on Date.
type RecordRateInput struct {
	Currency enums.Currency
	Date     time.Time
	Rate     decimal.Decimal
}

// Service maintains the exchange rate table.
type Service struct {
	repo rateWriter
	logg *logger.Logger
}

func NewService(repo rateWriter, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("exchange rate repository required")
	}
	return &Service{repo: repo, logg: logg}, nil
}

// RecordRate appends a rate. Rates are immutable so a second write for the
// same currency and day is a conflict.
func (s *Service) RecordRate(ctx context.Context, input RecordRateInput) (*models.ExchangeRate, error) {
	if !input.Currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported currency %q", input.Currency))
	}
	if input.Currency.IsUSD() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "USD rates are implicit")
	}
	if !input.Rate.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rate must be positive")
	}
	if input.Date.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "date is required")
	}

	row := &models.ExchangeRate{
		BaseCurrency:   enums.CurrencyUSD,
		TargetCurrency: input.Currency,
		Date:           dayStart(input.Date),
		Rate:           input.Rate,
	}
	if err := s.repo.Create(ctx, row); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "rate already recorded for that day").
				WithDetails(map[string]any{"currency": input.Currency, "date": row.Date.Format(dateLayout)})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert exchange rate")
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"currency": input.Currency,
			"date":     row.Date.Format(dateLayout),
			"rate":     row.Rate.String(),
		})
		s.logg.Info(logCtx, "exchange rate recorded")
	}
	return row, nil
}
