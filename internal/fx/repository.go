package fx

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/donorledger-backend/internal/repo"
	"github.com/angelmondragon/donorledger-backend/pkg/db/models"
	"github.com/angelmondragon/donorledger-backend/pkg/enums"
)

// Repository reads and appends exchange_rates rows.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// LatestUSDRate implements RateSource.
func (r *Repository) LatestUSDRate(ctx context.Context, currency enums.Currency, asOf time.Time) (RateQuote, error) {
	asOf = dayStart(asOf)
	var row models.ExchangeRate
	err := r.DB(ctx).
		Where("base_currency = ? AND target_currency = ? AND date <= ?", enums.CurrencyUSD, currency, asOf).
		Order("date DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RateQuote{}, rateNotFound(currency, asOf)
	}
	if err != nil {
		return RateQuote{}, err
	}
	return RateQuote{Rate: row.Rate, Date: row.Date}, nil
}

// Create inserts a new immutable rate row.
func (r *Repository) Create(ctx context.Context, rate *models.ExchangeRate) error {
	return r.DB(ctx).Create(rate).Error
}

// ListForCurrency returns the rate history of currency, newest first.
func (r *Repository) ListForCurrency(ctx context.Context, currency enums.Currency, limit int) ([]models.ExchangeRate, error) {
	if limit <= 0 {
		limit = 30
	}
	var rows []models.ExchangeRate
	err := r.DB(ctx).
		Where("base_currency = ? AND target_currency = ?", enums.CurrencyUSD, currency).
		Order("date DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
