package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/donorledger-backend/pkg/enums"
)

// Pledge is a donor commitment. TotalPaid, TotalPaidUSD, Balance and
// BalanceUSD are a derived cache owned by the ledger recalculator.
type Pledge struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ContactID         uuid.UUID       `gorm:"column:contact_id;type:uuid;not null;index"`
	OriginalAmount    decimal.Decimal `gorm:"column:original_amount;type:numeric(14,2);not null"`
	Currency          enums.Currency  `gorm:"column:currency;not null"`
	OriginalAmountUSD decimal.Decimal `gorm:"column:original_amount_usd;type:numeric(14,2);not null"`
	ExchangeRate      decimal.Decimal `gorm:"column:exchange_rate;type:numeric(14,4);not null"`
	TotalPaid         decimal.Decimal `gorm:"column:total_paid;type:numeric(14,2);not null"`
	TotalPaidUSD      decimal.Decimal `gorm:"column:total_paid_usd;type:numeric(14,2);not null"`
	Balance           decimal.Decimal `gorm:"column:balance;type:numeric(14,2);not null"`
	BalanceUSD        decimal.Decimal `gorm:"column:balance_usd;type:numeric(14,2);not null"`
	IsActive          bool            `gorm:"column:is_active;not null"`
	CampaignCode      *string         `gorm:"column:campaign_code"`
	CategoryID        *uuid.UUID      `gorm:"column:category_id;type:uuid"`
	LocationID        uuid.UUID       `gorm:"column:location_id;type:uuid;not null;index"`
	PledgeDate        time.Time       `gorm:"column:pledge_date;not null"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Pledge) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}
