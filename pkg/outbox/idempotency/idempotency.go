package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/donorledger-backend/pkg/redis"
)

var (
	ErrNoConsumer = errors.New("consumer name is required")
	ErrBlankKey   = errors.New("message key is required")
)

// Manager deduplicates redelivered messages per consumer. A claim is a Redis
// key `dl:idempotency:evt:processed:<consumer>:<key>` holding the claim time.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	clock func() time.Time
}

// NewManager keeps claims for ttl; zero keeps them until deleted.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl, clock: time.Now}, nil
}

// CheckAndMarkProcessed claims key for consumer. It reports true when an
// earlier delivery already holds the claim.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer, key string) (bool, error) {
	claim, err := m.claimKey(consumer, key)
	if err != nil {
		return false, err
	}
	won, err := m.store.SetNX(ctx, claim, m.clock().UTC().Format(time.RFC3339), m.ttl)
	if err != nil {
		return false, err
	}
	return !won, nil
}

// Release drops a claim taken by a delivery that then failed, so the
// redelivery is processed.
func (m *Manager) Release(ctx context.Context, consumer, key string) error {
	claim, err := m.claimKey(consumer, key)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, claim)
}

func (m *Manager) claimKey(consumer, key string) (string, error) {
	if consumer == "" {
		return "", ErrNoConsumer
	}
	if key = strings.TrimSpace(key); key == "" {
		return "", ErrBlankKey
	}
	return m.store.IdempotencyKey("evt:processed:"+consumer, key), nil
}
