package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/donorledger-backend/pkg/logger"
)

const day = 24 * time.Hour

// retentionPolicy decides which outbox rows are old enough to prune. Rows
// qualify once published, or once they reached minAttempts and were
// dead-lettered.
type retentionPolicy struct {
	window      time.Duration
	minAttempts int
}

func newRetentionPolicy(days, minAttempts int) retentionPolicy {
	if days <= 0 {
		days = 30
	}
	if minAttempts <= 0 {
		minAttempts = 10
	}
	return retentionPolicy{window: time.Duration(days) * day, minAttempts: minAttempts}
}

func (p retentionPolicy) cutoff(now time.Time) time.Time {
	return now.UTC().Add(-p.window)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Repository  outboxPruner
	Retention   int
	MinAttempts int
}

type outboxRetentionJob struct {
	logg   *logger.Logger
	db     txRunner
	pruner outboxPruner
	policy retentionPolicy
	clock  func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	var missing []error
	if params.Logger == nil {
		missing = append(missing, errors.New("logger required"))
	}
	if params.DB == nil {
		missing = append(missing, errors.New("db runner required"))
	}
	if params.Repository == nil {
		missing = append(missing, errors.New("outbox repository required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}
	return &outboxRetentionJob{
		logg:   params.Logger,
		db:     params.DB,
		pruner: params.Repository,
		policy: newRetentionPolicy(params.Retention, params.MinAttempts),
		clock:  time.Now,
	}, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.policy.cutoff(j.clock())

	var pruned int64
	if err := j.db.WithTx(ctx, func(tx *gorm.DB) (err error) {
		pruned, err = j.pruner.DeletePublishedBefore(ctx, tx, cutoff, j.policy.minAttempts)
		return err
	}); err != nil {
		return fmt.Errorf("prune ledger outbox: %w", err)
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff.Format(time.RFC3339),
		"min_attempts": j.policy.minAttempts,
		"rows_pruned":  pruned,
	}), "ledger outbox pruned")
	return nil
}
