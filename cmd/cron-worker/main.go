package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/donorledger-backend/internal/bootstrap"
	"github.com/angelmondragon/donorledger-backend/internal/cron"
	"github.com/angelmondragon/donorledger-backend/internal/ledger"
	"github.com/angelmondragon/donorledger-backend/pkg/metrics"
	"github.com/angelmondragon/donorledger-backend/pkg/outbox"
)

func main() {
	bootstrap.Run("cron-worker", run)
}

func run(ctx context.Context, p *bootstrap.Process) error {
	cfg, logg := p.Config, p.Logger

	dbClient, err := p.Database(ctx)
	if err != nil {
		return err
	}
	redisClient, err := p.Redis(ctx)
	if err != nil {
		return err
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	recalculator, err := ledger.NewRecalculator(ledger.RecalculatorParams{
		Repo:    ledger.NewRepository(dbClient.DB()),
		Tx:      dbClient.Runner(cfg.Ledger.Transactions),
		Outbox:  outbox.NewService(outboxRepo, logg),
		Metrics: metrics.NewLedgerMetrics(prometheus.DefaultRegisterer),
		Logger:  logg,
		Retries: cfg.Ledger.RecalcRetryAttempts,
	})
	if err != nil {
		return fmt.Errorf("recalculator: %w", err)
	}

	repair, err := cron.NewPledgeRepairJob(cron.PledgeRepairJobParams{
		Logger:    logg,
		Repairer:  recalculator,
		BatchSize: cfg.Cron.RepairBatchSize,
	})
	if err != nil {
		return fmt.Errorf("pledge repair job: %w", err)
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outboxRepo,
		Retention:   cfg.Outbox.RetentionDays,
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("outbox retention job: %w", err)
	}
	jobs, err := cron.NewRegistry(repair, retention)
	if err != nil {
		return fmt.Errorf("cron registry: %w", err)
	}

	scope := cfg.App.Env
	if scope == "" {
		scope = "local"
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+scope), cfg.Cron.LockTTL)
	if err != nil {
		return err
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	logg.Info(logg.WithFields(ctx, map[string]any{
		"interval": cfg.Cron.Interval.String(),
		"jobs":     []string{repair.Name(), retention.Name()},
	}), "starting cron worker")
	return service.Run(ctx)
}
