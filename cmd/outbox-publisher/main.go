package main

import (
	"context"
	"fmt"

	"github.com/angelmondragon/donorledger-backend/internal/bootstrap"
	"github.com/angelmondragon/donorledger-backend/pkg/outbox"
	"github.com/angelmondragon/donorledger-backend/pkg/outbox/registry"
)

func main() {
	bootstrap.Run("outbox-publisher", run)
}

func run(ctx context.Context, p *bootstrap.Process) error {
	dbClient, err := p.Database(ctx)
	if err != nil {
		return err
	}
	pubsubClient, err := p.PubSub(ctx)
	if err != nil {
		return err
	}

	events, err := registry.NewEventRegistry(p.Config.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}
	service, err := NewService(ServiceParams{
		Config:        p.Config,
		Logger:        p.Logger,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      events,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
	})
	if err != nil {
		return fmt.Errorf("outbox publisher: %w", err)
	}

	p.Logger.Info(p.Logger.WithField(ctx, "topic", p.Config.PubSub.LedgerTopic), "starting outbox publisher")
	return service.Run(ctx)
}
