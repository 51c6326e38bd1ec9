package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgredis "github.com/angelmondragon/donorledger-backend/pkg/redis"
)

// defaultLockTTL stays below the default cycle interval so a crashed worker
// never blocks the next cycle.
const defaultLockTTL = 55 * time.Minute

// ErrLockLost reports that the lock expired and another worker claimed it
// before Release ran.
var ErrLockLost = errors.New("cron lock lost to another owner")

// Lock coordinates exclusive cron cycles across worker replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (pkgredis.Ownership, error)
}

// RedisLock holds key with a per-cycle token. Release deletes the key only
// while it still carries that token.
type RedisLock struct {
	store lockStore
	key   string
	ttl   time.Duration
	token string
}

func NewRedisLock(store lockStore, key string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case store == nil:
		return nil, errors.New("cron lock: redis store required")
	case key == "":
		return nil, errors.New("cron lock: key required")
	case ttl <= 0:
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	won, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("cron lock %s: %w", l.key, err)
	}
	if won {
		l.token = token
	}
	return won, nil
}

// Release is a no-op unless Acquire won. An expired lock releases cleanly; a
// lock that was taken over returns ErrLockLost and is left alone.
func (l *RedisLock) Release(ctx context.Context) error {
	token := l.token
	if token == "" {
		return nil
	}
	l.token = ""

	state, err := l.store.CompareAndDelete(ctx, l.key, token)
	if err != nil {
		return err
	}
	if state == pkgredis.HeldByOther {
		return ErrLockLost
	}
	return nil
}
