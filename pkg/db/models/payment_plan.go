package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/donorledger-backend/pkg/enums"
)

// PaymentPlan decomposes a pledge balance into dated installments.
type PaymentPlan struct {
	ID                 uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	PledgeID           uuid.UUID               `gorm:"column:pledge_id;type:uuid;not null;index"`
	TotalPlannedAmount decimal.Decimal         `gorm:"column:total_planned_amount;type:numeric(14,2);not null"`
	Currency           enums.Currency          `gorm:"column:currency;not null"`
	InstallmentCount   int                     `gorm:"column:installment_count;not null"`
	Frequency          enums.PlanFrequency     `gorm:"column:frequency;not null"`
	StartDate          time.Time               `gorm:"column:start_date;not null"`
	Status             enums.PaymentPlanStatus `gorm:"column:plan_status;not null"`
	CreatedAt          time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PaymentPlan) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}

// InstallmentSchedule is one dated installment of a plan.
type InstallmentSchedule struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	PaymentPlanID     uuid.UUID               `gorm:"column:payment_plan_id;type:uuid;not null;index"`
	PledgeID          uuid.UUID               `gorm:"column:pledge_id;type:uuid;not null;index"`
	InstallmentDate   time.Time               `gorm:"column:installment_date;not null"`
	InstallmentAmount decimal.Decimal         `gorm:"column:installment_amount;type:numeric(14,2);not null"`
	Currency          enums.Currency          `gorm:"column:currency;not null"`
	Status            enums.InstallmentStatus `gorm:"column:status;not null"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
}

func (s *InstallmentSchedule) BeforeCreate(*gorm.DB) error {
	assignID(&s.ID)
	return nil
}
