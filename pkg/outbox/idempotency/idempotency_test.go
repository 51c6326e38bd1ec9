package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// claimStore keeps claims in a map with the TTL each was written with.
type claimStore struct {
	claims map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newClaimStore() *claimStore {
	return &claimStore{claims: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (s *claimStore) Get(_ context.Context, key string) (string, error) {
	return s.claims[key], nil
}

func (s *claimStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if _, held := s.claims[key]; held {
		return false, nil
	}
	s.claims[key] = value.(string)
	s.ttls[key] = ttl
	return true, nil
}

func (s *claimStore) IdempotencyKey(scope, id string) string {
	return "dl:idempotency:" + scope + ":" + id
}

func (s *claimStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(s.claims, k)
	}
	return nil
}

const chargeKey = "dl:idempotency:evt:processed:gateway-worker:ch_123"

func TestClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newClaimStore()
	m, err := NewManager(store, 24*time.Hour)
	require.NoError(t, err)
	m.clock = func() time.Time { return time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC) }

	seen, err := m.CheckAndMarkProcessed(ctx, "gateway-worker", " ch_123 ")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.Equal(t, "2026-04-02T08:00:00Z", store.claims[chargeKey])
	assert.Equal(t, 24*time.Hour, store.ttls[chargeKey])

	seen, err = m.CheckAndMarkProcessed(ctx, "gateway-worker", "ch_123")
	require.NoError(t, err)
	assert.True(t, seen, "redelivery is reported as already processed")

	require.NoError(t, m.Release(ctx, "gateway-worker", "ch_123"))
	seen, err = m.CheckAndMarkProcessed(ctx, "gateway-worker", "ch_123")
	require.NoError(t, err)
	assert.False(t, seen, "released claim can be taken again")
}

func TestClaimsAreScopedPerConsumer(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(newClaimStore(), time.Hour)
	require.NoError(t, err)

	for _, consumer := range []string{"gateway-worker", "receipts"} {
		seen, err := m.CheckAndMarkProcessed(ctx, consumer, "ch_7")
		require.NoError(t, err)
		assert.False(t, seen, consumer)
	}
}

func TestClaimErrors(t *testing.T) {
	ctx := context.Background()
	store := newClaimStore()
	m, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	_, err = m.CheckAndMarkProcessed(ctx, "gateway-worker", "  ")
	assert.ErrorIs(t, err, ErrBlankKey)
	assert.ErrorIs(t, m.Release(ctx, "", "ch_1"), ErrNoConsumer)

	boom := errors.New("connection reset")
	store.err = boom
	_, err = m.CheckAndMarkProcessed(ctx, "gateway-worker", "ch_1")
	assert.ErrorIs(t, err, boom)
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(nil, time.Hour)
	assert.Error(t, err)
	_, err = NewManager(newClaimStore(), -time.Second)
	assert.Error(t, err)
}
