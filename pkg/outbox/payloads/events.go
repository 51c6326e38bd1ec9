package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/donorledger-backend/pkg/enums"
)

// PaymentRecordedEvent is emitted when a direct or split payment is written.
type PaymentRecordedEvent struct {
	PaymentID           uuid.UUID           `json:"payment_id"`
	PledgeID            *uuid.UUID          `json:"pledge_id,omitempty"`
	Amount              decimal.Decimal     `json:"amount"`
	Currency            enums.Currency      `json:"currency"`
	AmountUSD           decimal.Decimal     `json:"amount_usd"`
	Status              enums.PaymentStatus `json:"status"`
	PaymentDate         time.Time           `json:"payment_date"`
	AllocatedPledgeIDs  []uuid.UUID         `json:"allocated_pledge_ids,omitempty"`
	ExternalReferenceID *string             `json:"external_reference_id,omitempty"`
}

// PaymentUpdatedEvent carries the post-update state and every pledge touched.
type PaymentUpdatedEvent struct {
	PaymentID         uuid.UUID           `json:"payment_id"`
	PreviousStatus    enums.PaymentStatus `json:"previous_status"`
	Status            enums.PaymentStatus `json:"status"`
	Amount            decimal.Decimal     `json:"amount"`
	Currency          enums.Currency      `json:"currency"`
	AffectedPledgeIDs []uuid.UUID         `json:"affected_pledge_ids"`
}

// PaymentDeletedEvent reports a removed payment and the pledges it credited.
type PaymentDeletedEvent struct {
	PaymentID          uuid.UUID   `json:"payment_id"`
	DeletedAllocations int64       `json:"deleted_allocations"`
	AffectedPledgeIDs  []uuid.UUID `json:"affected_pledge_ids"`
}

// PledgeCreatedEvent is emitted once per new pledge.
type PledgeCreatedEvent struct {
	PledgeID          uuid.UUID       `json:"pledge_id"`
	ContactID         uuid.UUID       `json:"contact_id"`
	OriginalAmount    decimal.Decimal `json:"original_amount"`
	Currency          enums.Currency  `json:"currency"`
	OriginalAmountUSD decimal.Decimal `json:"original_amount_usd"`
}

// PledgeRecalculatedEvent exposes the aggregates produced by a recalculation.
type PledgeRecalculatedEvent struct {
	PledgeID     uuid.UUID       `json:"pledge_id"`
	TotalPaid    decimal.Decimal `json:"total_paid"`
	TotalPaidUSD decimal.Decimal `json:"total_paid_usd"`
	Balance      decimal.Decimal `json:"balance"`
	BalanceUSD   decimal.Decimal `json:"balance_usd"`
}

// PledgeDeletedEvent records the cascade counts of a pledge deletion.
type PledgeDeletedEvent struct {
	PledgeID                 uuid.UUID   `json:"pledge_id"`
	DeletedBonusCalculations int64       `json:"deleted_bonus_calculations"`
	DeletedPayments          int64       `json:"deleted_payments"`
	DeletedAllocations       int64       `json:"deleted_allocations"`
	DeletedPlans             int64       `json:"deleted_plans"`
	DeletedInstallments      int64       `json:"deleted_installments"`
	DeletedTags              int64       `json:"deleted_tags"`
	RecalculatedPledgeIDs    []uuid.UUID `json:"recalculated_pledge_ids,omitempty"`
}
