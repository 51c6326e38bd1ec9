package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/donorledger-backend/pkg/config"
	"github.com/angelmondragon/donorledger-backend/pkg/db/models"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
	"github.com/angelmondragon/donorledger-backend/pkg/outbox/registry"
)

const (
	fallbackBatchSize   = 50
	fallbackPoll        = 500 * time.Millisecond
	fallbackMaxAttempts = 10
	publishTimeout      = 15 * time.Second
	maxBackoff          = 10 * time.Second
	jitterWindow        = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	Stop()
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
}

// Service drains ledger events from the outbox table to Pub/Sub. Events of
// one aggregate share an ordering key so subscribers see a pledge's history
// in commit order.
type Service struct {
	logg     *logger.Logger
	db       dbClient
	pubsub   pubSubClient
	repo     outboxRepository
	registry registryResolver
	dlq      dlqRepository

	publisherFactory publisherFactory
	batchSize        int
	maxAttempts      int
	poll             time.Duration

	mu         sync.Mutex
	publishers map[string]publisher
}

func NewService(p ServiceParams) (*Service, error) {
	required := []struct {
		name    string
		missing bool
	}{
		{"config", p.Config == nil},
		{"logger", p.Logger == nil},
		{"database client", p.DB == nil},
		{"pubsub client", p.PubSub == nil},
		{"outbox repository", p.Repository == nil},
		{"event registry", p.Registry == nil},
		{"dlq repository", p.DLQRepository == nil},
	}
	for _, r := range required {
		if r.missing {
			return nil, fmt.Errorf("outbox publisher: %s is required", r.name)
		}
	}

	s := &Service{
		logg:             p.Logger,
		db:               p.DB,
		pubsub:           p.PubSub,
		repo:             p.Repository,
		registry:         p.Registry,
		dlq:              p.DLQRepository,
		publisherFactory: p.PublisherFactory,
		batchSize:        positiveOr(p.Config.Outbox.BatchSize, fallbackBatchSize),
		maxAttempts:      positiveOr(p.Config.Outbox.MaxAttempts, fallbackMaxAttempts),
		poll:             time.Duration(p.Config.Outbox.PollIntervalMS) * time.Millisecond,
		publishers:       map[string]publisher{},
	}
	if s.poll <= 0 {
		s.poll = fallbackPoll
	}
	if s.publisherFactory == nil {
		s.publisherFactory = func(topic string) publisher {
			return newGCPPublisher(p.PubSub.Publisher(topic))
		}
	}
	return s, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// the next one; an empty batch waits one poll interval and a failed batch
// waits an exponentially growing delay.
func (s *Service) Run(ctx context.Context) error {
	deps := []struct {
		name string
		ping func(context.Context) error
	}{{"database", s.db.Ping}, {"pubsub", s.pubsub.Ping}}
	for _, dep := range deps {
		if err := dep.ping(ctx); err != nil {
			s.logg.Error(ctx, dep.name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	defer s.stopPublishers()

	delay := s.poll
	for ctx.Err() == nil {
		worked, err := s.drainBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "outbox batch failed", err)
			delay = nextBackoff(delay, s.poll, maxBackoff)
		} else {
			delay = s.poll
			if worked {
				continue
			}
		}
		if err := sleepCtx(ctx, jittered(delay)); err != nil {
			break
		}
	}
	s.logg.Info(ctx, "outbox publisher stopping")
	return ctx.Err()
}

func (s *Service) publisherFor(topic string) publisher {
	s.mu.Lock()
	defer s.mu.Unlock()
	pub, ok := s.publishers[topic]
	if !ok {
		pub = s.publisherFactory(topic)
		if pub != nil {
			s.publishers[topic] = pub
		}
	}
	return pub
}

// stopPublishers flushes every cached publisher.
func (s *Service) stopPublishers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, pub := range s.publishers {
		pub.Stop()
		delete(s.publishers, topic)
	}
}

func nextBackoff(current, base, ceiling time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	return min(current*2, ceiling)
}

func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var errNilResult = errors.New("publish result is nil")
