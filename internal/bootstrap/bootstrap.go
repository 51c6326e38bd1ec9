// Package bootstrap holds the startup and shutdown sequence shared by the
// service binaries under cmd/.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/donorledger-backend/pkg/config"
	"github.com/angelmondragon/donorledger-backend/pkg/db"
	"github.com/angelmondragon/donorledger-backend/pkg/instance"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
	"github.com/angelmondragon/donorledger-backend/pkg/migrate"
	"github.com/angelmondragon/donorledger-backend/pkg/pubsub"
	"github.com/angelmondragon/donorledger-backend/pkg/redis"
)

// Process is a loaded binary: its config, its logger and the resources to
// release on exit.
type Process struct {
	Config *config.Config
	Logger *logger.Logger

	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

func newLogger(service string, cfg *config.Config) *logger.Logger {
	opts := logger.Options{ServiceName: service}
	if cfg != nil {
		opts.Level = logger.ParseLevel(cfg.App.LogLevel)
		opts.Format = cfg.App.LogFormat
		opts.WarnStack = cfg.App.LogWarnStack
		opts.Static = map[string]any{"env": cfg.App.Env, "instance": instance.GetID()}
	}
	return logger.New(opts)
}

// Load reads .env when present, then the environment, and builds the
// service logger from the result. Failures are logged before returning.
func Load(service string) (*Process, error) {
	early := newLogger(service, nil)
	if err := godotenv.Load(); err != nil {
		early.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		early.Error(context.Background(), "failed to load config", err)
		return nil, err
	}
	cfg.Service.Kind = service
	return &Process{Config: cfg, Logger: newLogger(service, cfg)}, nil
}

// OnClose registers fn to run during Close.
func (p *Process) OnClose(name string, fn func() error) {
	p.closers = append(p.closers, closer{name: name, fn: fn})
}

// Close runs the registered closers newest first and returns every failure.
func (p *Process) Close() error {
	var errs error
	for i := len(p.closers) - 1; i >= 0; i-- {
		c := p.closers[i]
		if err := c.fn(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	p.closers = nil
	return errs
}

// Database opens the pool and applies migrations when running in dev.
func (p *Process) Database(ctx context.Context) (*db.Client, error) {
	client, err := db.New(ctx, p.Config.DB, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	p.OnClose("database", client.Close)
	if err := migrate.MaybeRunDev(ctx, p.Config, p.Logger, client); err != nil {
		return nil, fmt.Errorf("dev migrations: %w", err)
	}
	return client, nil
}

func (p *Process) Redis(ctx context.Context) (*redis.Client, error) {
	client, err := redis.New(ctx, p.Config.Redis, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}
	p.OnClose("redis", client.Close)
	return client, nil
}

func (p *Process) PubSub(ctx context.Context) (*pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, p.Config.GCP, p.Config.PubSub, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap pubsub: %w", err)
	}
	p.OnClose("pubsub", client.Close)
	return client, nil
}

// Run is the body of a service main. It calls fn with a context cancelled on
// SIGINT or SIGTERM, releases resources afterwards and exits non-zero when
// fn fails for any reason other than that cancellation.
func Run(service string, fn func(ctx context.Context, p *Process) error) {
	p, err := Load(service)
	if err != nil {
		os.Exit(1)
	}
	os.Exit(p.run(service, fn))
}

func (p *Process) run(service string, fn func(ctx context.Context, p *Process) error) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := fn(ctx, p)
	stop()

	bg := context.Background()
	if cerr := p.Close(); cerr != nil {
		p.Logger.Error(bg, "failed to release resources", cerr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		p.Logger.Error(bg, service+" stopped unexpectedly", err)
		return 1
	}
	p.Logger.Info(bg, service+" shut down gracefully")
	return 0
}
