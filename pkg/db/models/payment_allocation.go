package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/donorledger-backend/pkg/enums"
)

// PaymentAllocation credits one slice of a split payment to one pledge.
// AllocatedAmount is in the payment currency.
type PaymentAllocation struct {
	ID                     uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	PaymentID              uuid.UUID       `gorm:"column:payment_id;type:uuid;not null;index"`
	PledgeID               uuid.UUID       `gorm:"column:pledge_id;type:uuid;not null;index"`
	AllocatedAmount        decimal.Decimal `gorm:"column:allocated_amount;type:numeric(14,2);not null"`
	Currency               enums.Currency  `gorm:"column:currency;not null"`
	AllocatedAmountUSD     decimal.Decimal `gorm:"column:allocated_amount_usd;type:numeric(14,2);not null"`
	AmountInPledgeCurrency decimal.Decimal `gorm:"column:amount_in_pledge_currency;type:numeric(14,2);not null"`
	CreatedAt              time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (a *PaymentAllocation) BeforeCreate(*gorm.DB) error {
	assignID(&a.ID)
	return nil
}
