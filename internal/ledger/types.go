package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	"github.com/angelmondragon/donorledger-backend/pkg/outbox"
)

// Actor is the caller identity a mutation runs on behalf of.
type Actor struct {
	UserID     uuid.UUID
	LocationID *uuid.UUID
	Role       enums.ActorRole
}

// SystemActor is used by workers that act without a caller, such as the
// gateway consumer and the repair sweep.
func SystemActor() Actor {
	return Actor{Role: enums.ActorRoleAdmin}
}

// CanAccess reports whether the actor may touch rows scoped to locationID.
// Admins without a location are unrestricted.
func (a Actor) CanAccess(locationID uuid.UUID) bool {
	if a.LocationID == nil {
		return a.Role == enums.ActorRoleAdmin
	}
	return *a.LocationID == locationID
}

func (a Actor) ref() *outbox.ActorRef {
	return &outbox.ActorRef{UserID: a.UserID, LocationID: a.LocationID, Role: string(a.Role)}
}

// CreatePledgeInput opens a new pledge for a contact.
type CreatePledgeInput struct {
	Actor        Actor
	ContactID    uuid.UUID
	Amount       decimal.Decimal
	Currency     enums.Currency
	PledgeDate   time.Time
	CampaignCode *string
	CategoryID   *uuid.UUID
}

// CreateDirectPaymentInput records a payment credited to one pledge.
type CreateDirectPaymentInput struct {
	Actor                 Actor
	PledgeID              uuid.UUID
	Amount                decimal.Decimal
	Currency              enums.Currency
	PaymentDate           time.Time
	ReceivedDate          *time.Time
	Status                enums.PaymentStatus
	PayerContactID        *uuid.UUID
	InstallmentScheduleID *uuid.UUID
	ExternalReferenceID   *string
}

// AllocationInput is one requested slice of a split payment. An empty
// Currency means the payment currency.
type AllocationInput struct {
	PledgeID uuid.UUID
	Amount   decimal.Decimal
	Currency enums.Currency
}

// CreateSplitPaymentInput records one payment spread across several pledges.
type CreateSplitPaymentInput struct {
	Actor               Actor
	Amount              decimal.Decimal
	Currency            enums.Currency
	PaymentDate         time.Time
	ReceivedDate        *time.Time
	Status              enums.PaymentStatus
	PayerContactID      *uuid.UUID
	ExternalReferenceID *string
	Allocations         []AllocationInput
}

// UpdatePaymentInput patches a payment. Nil fields are left unchanged.
type UpdatePaymentInput struct {
	Actor             Actor
	PaymentID         uuid.UUID
	PledgeID          *uuid.UUID
	Amount            *decimal.Decimal
	Currency          *enums.Currency
	PaymentDate       *time.Time
	Status            *enums.PaymentStatus
	ReceivedDate      *time.Time
	ClearReceivedDate bool
	PayerContactID    *uuid.UUID
	ClearPayerContact bool
}

// GatewayConfirmation is a completed payment reported by the card gateway.
type GatewayConfirmation struct {
	ExternalReferenceID string
	Amount              decimal.Decimal
	Currency            enums.Currency
	PaymentDate         time.Time
	PledgeID            *uuid.UUID
	Allocations         []AllocationInput
	PayerContactID      *uuid.UUID
}

// PledgeAggregates are the derived totals of a pledge after a recalculation.
type PledgeAggregates struct {
	PledgeID     uuid.UUID       `json:"pledgeId"`
	TotalPaid    decimal.Decimal `json:"totalPaid"`
	TotalPaidUSD decimal.Decimal `json:"totalPaidUsd"`
	Balance      decimal.Decimal `json:"balance"`
	BalanceUSD   decimal.Decimal `json:"balanceUsd"`
	Changed      bool            `json:"changed"`
}

// DeletePledgeResult counts the rows removed by a pledge deletion.
type DeletePledgeResult struct {
	PledgeID                 uuid.UUID   `json:"pledgeId"`
	DeletedBonusCalculations int64       `json:"deletedBonusCalculations"`
	DeletedPayments          int64       `json:"deletedPayments"`
	DeletedAllocations       int64       `json:"deletedAllocations"`
	DeletedPlans             int64       `json:"deletedPlans"`
	DeletedInstallments      int64       `json:"deletedInstallments"`
	DeletedTags              int64       `json:"deletedTags"`
	RecalculatedPledgeIDs    []uuid.UUID `json:"recalculatedPledgeIds"`
}

// DeletePaymentResult reports what a payment deletion removed and repaired.
type DeletePaymentResult struct {
	PaymentID                uuid.UUID   `json:"paymentId"`
	DeletedAllocations       int64       `json:"deletedAllocations"`
	DeletedBonusCalculations int64       `json:"deletedBonusCalculations"`
	RecalculatedPledgeIDs    []uuid.UUID `json:"recalculatedPledgeIds"`
}

// Projection splits a pledge balance into scheduled and unscheduled parts.
type Projection struct {
	PledgeID    uuid.UUID       `json:"pledgeId"`
	Currency    enums.Currency  `json:"currency"`
	Balance     decimal.Decimal `json:"balance"`
	Scheduled   decimal.Decimal `json:"scheduled"`
	Unscheduled decimal.Decimal `json:"unscheduled"`
}

// RepairReport summarises a repair sweep.
type RepairReport struct {
	Scanned  int `json:"scanned"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}
