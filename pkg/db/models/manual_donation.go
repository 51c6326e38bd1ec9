package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/donorledger-backend/pkg/enums"
)

// ManualDonation is a gift outside any pledge. It only feeds contact totals.
type ManualDonation struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ContactID    uuid.UUID       `gorm:"column:contact_id;type:uuid;not null;index"`
	Amount       decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null"`
	Currency     enums.Currency  `gorm:"column:currency;not null"`
	AmountUSD    decimal.Decimal `gorm:"column:amount_usd;type:numeric(14,2);not null"`
	ExchangeRate decimal.Decimal `gorm:"column:exchange_rate;type:numeric(14,4);not null"`
	DonationDate time.Time       `gorm:"column:donation_date;not null"`
	LocationID   uuid.UUID       `gorm:"column:location_id;type:uuid;not null"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (d *ManualDonation) BeforeCreate(*gorm.DB) error {
	assignID(&d.ID)
	return nil
}
