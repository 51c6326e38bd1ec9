package ledger

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/donorledger-backend/pkg/enums"
)

// allocationTolerance is the largest accepted gap between the allocation sum
// and the payment amount, in payment currency units.
var allocationTolerance = decimal.New(1, -2)

// AllocationDraft is an allocation awaiting validation.
type AllocationDraft struct {
	PledgeID uuid.UUID
	Amount   decimal.Decimal
	Currency enums.Currency
}

// ToPaymentCurrency converts an allocation amount into the payment currency.
type ToPaymentCurrency func(amount decimal.Decimal, from enums.Currency) (decimal.Decimal, error)

// ValidateAllocations checks that a split is well formed: at least one slice,
// positive amounts, one slice per pledge and a sum matching the payment
// amount within one cent. Over-allocation against a pledge balance is allowed.
// It returns each slice converted into the payment currency.
func ValidateAllocations(amount decimal.Decimal, currency enums.Currency, drafts []AllocationDraft, convert ToPaymentCurrency) ([]decimal.Decimal, error) {
	if len(drafts) == 0 {
		return nil, allocationMismatch("split payment requires at least one allocation", nil)
	}

	seen := make(map[uuid.UUID]struct{}, len(drafts))
	converted := make([]decimal.Decimal, len(drafts))
	sum := decimal.Zero
	for i, draft := range drafts {
		if draft.PledgeID == uuid.Nil {
			return nil, allocationMismatch("allocation pledge id required", map[string]any{"index": i})
		}
		if _, dup := seen[draft.PledgeID]; dup {
			return nil, allocationMismatch("pledge allocated more than once", map[string]any{"pledgeId": draft.PledgeID})
		}
		seen[draft.PledgeID] = struct{}{}

		if !draft.Amount.IsPositive() {
			return nil, allocationMismatch("allocation amount must be positive", map[string]any{"pledgeId": draft.PledgeID})
		}

		from := draft.Currency
		if from == "" {
			from = currency
		}
		value := draft.Amount
		if from != currency {
			var err error
			value, err = convert(draft.Amount, from)
			if err != nil {
				return nil, err
			}
		}
		converted[i] = value
		sum = sum.Add(value)
	}

	if sum.Sub(amount).Abs().GreaterThan(allocationTolerance) {
		return nil, allocationMismatch("allocations do not sum to the payment amount", map[string]any{
			"paymentAmount":  amount.StringFixed(2),
			"allocatedTotal": sum.StringFixed(2),
		})
	}
	return converted, nil
}
