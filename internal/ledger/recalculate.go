package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/donorledger-backend/internal/fx"
	"github.com/angelmondragon/donorledger-backend/pkg/db/models"
	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/donorledger-backend/pkg/errors"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
	"github.com/angelmondragon/donorledger-backend/pkg/metrics"
	"github.com/angelmondragon/donorledger-backend/pkg/outbox"
	"github.com/angelmondragon/donorledger-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

const defaultRepairBatch = 200

// Recalculator is the only writer of a pledge's total_paid, total_paid_usd,
// balance and balance_usd. Every call derives them from the completed
// payments and allocations on record, so calls may repeat or interleave.
type Recalculator struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	metrics *metrics.LedgerMetrics
	logg    *logger.Logger
	retries int
}

// RecalculatorParams wires a Recalculator.
type RecalculatorParams struct {
	Repo    Repository
	Tx      txRunner
	Outbox  outboxPublisher
	Metrics *metrics.LedgerMetrics
	Logger  *logger.Logger
	// Retries is how many extra attempts a failed recalculation gets after a
	// mutation.
	Retries int
}

func NewRecalculator(p RecalculatorParams) (*Recalculator, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if p.Retries < 0 {
		p.Retries = 0
	}
	return &Recalculator{
		repo:    p.Repo,
		tx:      p.Tx,
		outbox:  p.Outbox,
		metrics: p.Metrics,
		logg:    p.Logger,
		retries: p.Retries,
	}, nil
}

// Recalculate rederives and stores the aggregates of one pledge.
func (r *Recalculator) Recalculate(ctx context.Context, pledgeID uuid.UUID) (PledgeAggregates, error) {
	var agg PledgeAggregates
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		agg, err = r.recalculateIn(ctx, tx, pledgeID)
		return err
	})
	return agg, err
}

// RecalculateMany recalculates each distinct id in order and keeps going past
// failures. The returned error combines every failure.
func (r *Recalculator) RecalculateMany(ctx context.Context, pledgeIDs []uuid.UUID) ([]PledgeAggregates, error) {
	var (
		results []PledgeAggregates
		errs    error
	)
	for _, id := range uniqueIDs(pledgeIDs) {
		agg, err := r.Recalculate(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("pledge %s: %w", id, err))
			continue
		}
		results = append(results, agg)
	}
	return results, errs
}

// RepairAll walks every pledge, active or not, in id order and recalculates it.
func (r *Recalculator) RepairAll(ctx context.Context, batchSize int) (RepairReport, error) {
	if batchSize <= 0 {
		batchSize = defaultRepairBatch
	}
	var (
		report RepairReport
		errs   error
		after  uuid.UUID
	)
	for {
		if err := ctx.Err(); err != nil {
			return report, multierr.Append(errs, err)
		}
		ids, err := r.repo.ListPledgeIDs(ctx, after, batchSize)
		if err != nil {
			return report, multierr.Append(errs, fmt.Errorf("list pledges: %w", err))
		}
		for _, id := range ids {
			report.Scanned++
			agg, err := r.Recalculate(ctx, id)
			if err != nil {
				report.Failed++
				errs = multierr.Append(errs, fmt.Errorf("pledge %s: %w", id, err))
				continue
			}
			if agg.Changed {
				report.Repaired++
			}
		}
		if len(ids) < batchSize {
			return report, errs
		}
		after = ids[len(ids)-1]
	}
}

// recalculateWithRetry is used after mutations. Only this step is retried
// since it only reads source rows and overwrites derived ones.
func (r *Recalculator) recalculateWithRetry(ctx context.Context, pledgeID uuid.UUID) (PledgeAggregates, error) {
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return PledgeAggregates{}, multierr.Append(lastErr, ctx.Err())
			case <-time.After(retryDelay(attempt)):
			}
		}
		agg, err := r.Recalculate(ctx, pledgeID)
		if err == nil {
			return agg, nil
		}
		lastErr = err
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			break
		}
	}
	return PledgeAggregates{}, lastErr
}

func retryDelay(attempt int) time.Duration {
	return time.Duration(attempt) * 50 * time.Millisecond
}

func (r *Recalculator) recalculateIn(ctx context.Context, tx *gorm.DB, pledgeID uuid.UUID) (PledgeAggregates, error) {
	repo := r.repo.WithTx(tx)
	agg, err := r.derive(ctx, repo, pledgeID)
	if err == nil {
		err = repo.UpdatePledgeAggregates(ctx, agg)
		if isNotFound(err) {
			err = pledgeNotFound(pledgeID)
		}
	}
	if err == nil && agg.Changed {
		err = r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPledgeRecalculated,
			AggregateType: enums.AggregatePledge,
			AggregateID:   pledgeID,
			Data: payloads.PledgeRecalculatedEvent{
				PledgeID:     pledgeID,
				TotalPaid:    agg.TotalPaid,
				TotalPaidUSD: agg.TotalPaidUSD,
				Balance:      agg.Balance,
				BalanceUSD:   agg.BalanceUSD,
			},
		})
	}
	r.metrics.ObserveRecalculation(err)
	if err != nil {
		return PledgeAggregates{}, err
	}

	if r.logg != nil {
		logCtx := r.logg.WithPledgeID(ctx, pledgeID.String())
		logCtx = r.logg.WithFields(logCtx, map[string]any{
			"total_paid": agg.TotalPaid.StringFixed(2),
			"balance":    agg.Balance.StringFixed(2),
			"changed":    agg.Changed,
		})
		r.logg.Debug(logCtx, "pledge recalculated")
	}
	return agg, nil
}

func (r *Recalculator) derive(ctx context.Context, repo Repository, pledgeID uuid.UUID) (PledgeAggregates, error) {
	pledge, err := repo.FindPledge(ctx, pledgeID)
	if err != nil {
		if isNotFound(err) {
			return PledgeAggregates{}, pledgeNotFound(pledgeID)
		}
		return PledgeAggregates{}, err
	}
	direct, err := repo.ListCompletedDirectPayments(ctx, pledgeID)
	if err != nil {
		return PledgeAggregates{}, fmt.Errorf("sum direct payments: %w", err)
	}
	allocations, err := repo.ListCompletedAllocations(ctx, pledgeID)
	if err != nil {
		return PledgeAggregates{}, fmt.Errorf("sum allocations: %w", err)
	}
	return computeAggregates(pledge, direct, allocations), nil
}

// computeAggregates sums the credited amounts and clamps balances at zero.
func computeAggregates(pledge *models.Pledge, direct []models.Payment, allocations []models.PaymentAllocation) PledgeAggregates {
	paid := decimal.Zero
	paidUSD := decimal.Zero
	for _, p := range direct {
		paid = paid.Add(paymentInPledgeCurrency(p))
		paidUSD = paidUSD.Add(p.AmountUSD)
	}
	for _, a := range allocations {
		paid = paid.Add(a.AmountInPledgeCurrency)
		paidUSD = paidUSD.Add(a.AllocatedAmountUSD)
	}

	agg := PledgeAggregates{
		PledgeID:     pledge.ID,
		TotalPaid:    fx.RoundAmount(paid),
		TotalPaidUSD: fx.RoundAmount(paidUSD),
	}
	agg.Balance = maxZero(fx.RoundAmount(pledge.OriginalAmount).Sub(agg.TotalPaid))
	agg.BalanceUSD = maxZero(fx.RoundAmount(pledge.OriginalAmountUSD).Sub(agg.TotalPaidUSD))
	agg.Changed = !agg.TotalPaid.Equal(pledge.TotalPaid) ||
		!agg.TotalPaidUSD.Equal(pledge.TotalPaidUSD) ||
		!agg.Balance.Equal(pledge.Balance) ||
		!agg.BalanceUSD.Equal(pledge.BalanceUSD)
	return agg
}

// paymentInPledgeCurrency uses Amount when no converted amount was stored.
func paymentInPledgeCurrency(p models.Payment) decimal.Decimal {
	if p.AmountInPledgeCurrency != nil {
		return *p.AmountInPledgeCurrency
	}
	return p.Amount
}
