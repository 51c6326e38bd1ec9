package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BonusCalculation records a solicitor bonus earned on a payment.
type BonusCalculation struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	PaymentID   uuid.UUID       `gorm:"column:payment_id;type:uuid;not null;index"`
	SolicitorID uuid.UUID       `gorm:"column:solicitor_id;type:uuid;not null"`
	BonusAmount decimal.Decimal `gorm:"column:bonus_amount;type:numeric(14,2);not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (b *BonusCalculation) BeforeCreate(*gorm.DB) error {
	assignID(&b.ID)
	return nil
}

// PledgeTag links a pledge to a tag.
type PledgeTag struct {
	PledgeID  uuid.UUID `gorm:"column:pledge_id;type:uuid;primaryKey"`
	TagID     uuid.UUID `gorm:"column:tag_id;type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
