package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/donorledger-backend/api/routes"
	"github.com/angelmondragon/donorledger-backend/internal/bootstrap"
	"github.com/angelmondragon/donorledger-backend/internal/fx"
	"github.com/angelmondragon/donorledger-backend/pkg/metrics"
)

const shutdownTimeout = 15 * time.Second

func main() {
	bootstrap.Run("api", run)
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ledgerService, err := p.LedgerService(dbClient, redisClient, metrics.NewLedgerMetrics(registry))
	if err != nil {
		return err
	}
	rateService, err := fx.NewService(fx.NewRepository(dbClient.DB()), logg)
	if err != nil {
		return fmt.Errorf("exchange rate service: %w", err)
	}

	// Platform-assigned PORT wins over the configured one.
	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr: ":" + port,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			ledgerService,
			rateService,
			metrics.NewHTTPMetrics(registry),
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()
	logg.Info(logg.WithFields(ctx, map[string]any{
		"addr":          server.Addr,
		"transactional": cfg.Ledger.Transactions,
	}), "starting api server")

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}
