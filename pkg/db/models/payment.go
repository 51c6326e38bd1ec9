package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/donorledger-backend/pkg/enums"
)

// Payment is a realized or pending transfer. It is split when allocation
// rows reference it and direct otherwise.
type Payment struct {
	ID                     uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	PledgeID               *uuid.UUID          `gorm:"column:pledge_id;type:uuid;index"`
	Amount                 decimal.Decimal     `gorm:"column:amount;type:numeric(14,2);not null"`
	Currency               enums.Currency      `gorm:"column:currency;not null"`
	AmountUSD              decimal.Decimal     `gorm:"column:amount_usd;type:numeric(14,2);not null"`
	ExchangeRate           decimal.Decimal     `gorm:"column:exchange_rate;type:numeric(14,4);not null"`
	AmountInPledgeCurrency *decimal.Decimal    `gorm:"column:amount_in_pledge_currency;type:numeric(14,2)"`
	PaymentDate            time.Time           `gorm:"column:payment_date;not null"`
	ReceivedDate           *time.Time          `gorm:"column:received_date"`
	Status                 enums.PaymentStatus `gorm:"column:payment_status;not null"`
	IsThirdPartyPayment    bool                `gorm:"column:is_third_party_payment;not null"`
	PayerContactID         *uuid.UUID          `gorm:"column:payer_contact_id;type:uuid"`
	InstallmentScheduleID  *uuid.UUID          `gorm:"column:installment_schedule_id;type:uuid"`
	ExternalReferenceID    *string             `gorm:"column:external_reference_id;uniqueIndex"`
	LocationID             uuid.UUID           `gorm:"column:location_id;type:uuid;not null;index"`
	CreatedAt              time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}
