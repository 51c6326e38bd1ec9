package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/donorledger-backend/internal/ledger"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
)

const defaultRepairBatchSize = 200

type pledgeRepairer interface {
	RepairAll(ctx context.Context, batchSize int) (ledger.RepairReport, error)
}

type PledgeRepairJobParams struct {
	Logger    *logger.Logger
	Repairer  pledgeRepairer
	BatchSize int
}

// NewPledgeRepairJob builds the sweep that recalculates every pledge, inactive ones included,
// converging aggregates left stale by partial mutations.
func NewPledgeRepairJob(params PledgeRepairJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repairer == nil {
		return nil, fmt.Errorf("pledge repairer required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultRepairBatchSize
	}
	return &pledgeRepairJob{
		logg:      params.Logger,
		repairer:  params.Repairer,
		batchSize: batch,
	}, nil
}

type pledgeRepairJob struct {
	logg      *logger.Logger
	repairer  pledgeRepairer
	batchSize int
}

func (j *pledgeRepairJob) Name() string { return "pledge-repair" }

func (j *pledgeRepairJob) Run(ctx context.Context) error {
	report, err := j.repairer.RepairAll(ctx, j.batchSize)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"batch_size": j.batchSize,
		"scanned":    report.Scanned,
		"repaired":   report.Repaired,
		"failed":     report.Failed,
	})
	if err != nil {
		return fmt.Errorf("pledge repair: %w", err)
	}
	if report.Repaired > 0 {
		j.logg.Warn(logCtx, "pledge aggregates repaired")
		return nil
	}
	j.logg.Info(logCtx, "pledge repair sweep complete")
	return nil
}
