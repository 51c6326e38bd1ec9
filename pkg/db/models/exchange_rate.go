package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/donorledger-backend/pkg/enums"
)

// ExchangeRate stores how many units of TargetCurrency one BaseCurrency
// (always USD) buys on Date. Rows are never updated.
type ExchangeRate struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	BaseCurrency   enums.Currency  `gorm:"column:base_currency;not null;uniqueIndex:ux_exchange_rates_base_target_date"`
	TargetCurrency enums.Currency  `gorm:"column:target_currency;not null;uniqueIndex:ux_exchange_rates_base_target_date"`
	Date           time.Time       `gorm:"column:date;not null;uniqueIndex:ux_exchange_rates_base_target_date"`
	Rate           decimal.Decimal `gorm:"column:rate;type:numeric(18,8);not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (r *ExchangeRate) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}
