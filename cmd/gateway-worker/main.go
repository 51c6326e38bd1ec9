package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/donorledger-backend/internal/bootstrap"
	"github.com/angelmondragon/donorledger-backend/internal/gateway"
	"github.com/angelmondragon/donorledger-backend/pkg/metrics"
	"github.com/angelmondragon/donorledger-backend/pkg/outbox/idempotency"
)

func main() {
	bootstrap.Run("gateway-worker", run)
}

func run(ctx context.Context, p *bootstrap.Process) error {
	dbClient, err := p.Database(ctx)
	if err != nil {
		return err
	}
	redisClient, err := p.Redis(ctx)
	if err != nil {
		return err
	}
	pubsubClient, err := p.PubSub(ctx)
	if err != nil {
		return err
	}

	ledgerService, err := p.LedgerService(dbClient, redisClient, metrics.NewLedgerMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		return err
	}
	claims, err := idempotency.NewManager(redisClient, p.Config.Eventing.GatewayIdempotencyTTL)
	if err != nil {
		return fmt.Errorf("idempotency manager: %w", err)
	}
	consumer, err := gateway.NewConsumer(ledgerService, pubsubClient.GatewaySubscription(), claims, p.Logger)
	if err != nil {
		return fmt.Errorf("gateway consumer: %w", err)
	}

	service, err := NewService(ServiceParams{
		Config:   p.Config,
		Logger:   p.Logger,
		DB:       dbClient,
		Redis:    redisClient,
		PubSub:   pubsubClient,
		Consumer: consumer,
	})
	if err != nil {
		return fmt.Errorf("gateway worker: %w", err)
	}

	p.Logger.Info(p.Logger.WithField(ctx, "subscription", p.Config.PubSub.GatewaySubscription), "starting gateway worker")
	return service.Run(ctx)
}
