package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/donorledger-backend/internal/fx"
	pkgerrors "github.com/angelmondragon/donorledger-backend/pkg/errors"
)

// ProjectScheduled splits the stored balance into money that is promised by
// pending, expected or processing payments without a received date, and the
// remainder. It never writes.
func (s *Service) ProjectScheduled(ctx context.Context, actor Actor, pledgeID uuid.UUID) (Projection, error) {
	pledge, err := s.loadPledge(ctx, actor, pledgeID, false)
	if err != nil {
		return Projection{}, err
	}

	direct, err := s.repo.ListScheduledDirectPayments(ctx, pledgeID)
	if err != nil {
		return Projection{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load scheduled payments")
	}
	allocations, err := s.repo.ListScheduledAllocations(ctx, pledgeID)
	if err != nil {
		return Projection{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load scheduled allocations")
	}

	scheduled := decimal.Zero
	for _, p := range direct {
		scheduled = scheduled.Add(paymentInPledgeCurrency(p))
	}
	for _, a := range allocations {
		scheduled = scheduled.Add(a.AmountInPledgeCurrency)
	}
	scheduled = fx.RoundAmount(scheduled)

	return Projection{
		PledgeID:    pledge.ID,
		Currency:    pledge.Currency,
		Balance:     pledge.Balance,
		Scheduled:   scheduled,
		Unscheduled: maxZero(pledge.Balance.Sub(scheduled)),
	}, nil
}
