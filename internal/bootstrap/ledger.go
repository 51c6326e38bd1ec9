package bootstrap

import (
	"fmt"

	"github.com/angelmondragon/donorledger-backend/internal/fx"
	"github.com/angelmondragon/donorledger-backend/internal/ledger"
	"github.com/angelmondragon/donorledger-backend/pkg/db"
	"github.com/angelmondragon/donorledger-backend/pkg/metrics"
	"github.com/angelmondragon/donorledger-backend/pkg/outbox"
	"github.com/angelmondragon/donorledger-backend/pkg/redis"
)

// LedgerService wires the mutation orchestrator with its converter,
// recalculator and outbox, as used by the API and the gateway worker.
func (p *Process) LedgerService(dbClient *db.Client, redisClient *redis.Client, m *metrics.LedgerMetrics) (*ledger.Service, error) {
	cfg, logg := p.Config, p.Logger

	rates := fx.NewCachedSource(fx.NewRepository(dbClient.DB()), redisClient, cfg.FX.CacheTTL, logg)
	repo := ledger.NewRepository(dbClient.DB())
	runner := dbClient.Runner(cfg.Ledger.Transactions)
	events := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	recalculator, err := ledger.NewRecalculator(ledger.RecalculatorParams{
		Repo:    repo,
		Tx:      runner,
		Outbox:  events,
		Metrics: m,
		Logger:  logg,
		Retries: cfg.Ledger.RecalcRetryAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("recalculator: %w", err)
	}
	service, err := ledger.NewService(ledger.ServiceParams{
		Repo:          repo,
		Tx:            runner,
		Transactional: cfg.Ledger.Transactions,
		Outbox:        events,
		Converter:     fx.NewConverter(fx.NewBridge(rates)),
		Recalculator:  recalculator,
		Metrics:       m,
		Logger:        logg,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}
	return service, nil
}
