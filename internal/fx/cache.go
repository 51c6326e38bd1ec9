package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
)

const sharedLookupTimeout = 10 * time.Second

type cacheStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FXRateKey(currency string, date time.Time) string
}

// CachedSource fronts a RateSource with Redis and collapses concurrent
// lookups for the same key into one call. Only quotes dated exactly on the
// requested day are cached since a later backfill cannot change them.
type CachedSource struct {
	next  RateSource
	store cacheStore
	ttl   time.Duration
	logg  *logger.Logger
	group singleflight.Group
}

// NewCachedSource wraps next. A nil store keeps the single-flight guard only.
func NewCachedSource(next RateSource, store cacheStore, ttl time.Duration, logg *logger.Logger) *CachedSource {
	return &CachedSource{next: next, store: store, ttl: ttl, logg: logg}
}

// LatestUSDRate implements RateSource.
func (c *CachedSource) LatestUSDRate(ctx context.Context, currency enums.Currency, asOf time.Time) (RateQuote, error) {
	asOf = dayStart(asOf)
	key := fmt.Sprintf("%s:%s", currency, asOf.Format(dateLayout))
	if c.store != nil {
		key = c.store.FXRateKey(string(currency), asOf)
		if quote, ok := c.read(ctx, key); ok {
			return quote, nil
		}
	}

	// the shared lookup outlives any single caller; each caller still gives
	// up on its own deadline
	ch := c.group.DoChan(key, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()
		quote, err := c.next.LatestUSDRate(shared, currency, asOf)
		if err != nil {
			return RateQuote{}, err
		}
		if c.store != nil && dayStart(quote.Date).Equal(asOf) {
			c.write(shared, key, quote)
		}
		return quote, nil
	})
	select {
	case <-ctx.Done():
		return RateQuote{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return RateQuote{}, res.Err
		}
		return res.Val.(RateQuote), nil
	}
}

func (c *CachedSource) read(ctx context.Context, key string) (RateQuote, bool) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.warn(ctx, key, "fx cache read failed", err)
		}
		return RateQuote{}, false
	}
	quote, err := decodeQuote(raw)
	if err != nil {
		c.warn(ctx, key, "fx cache entry unreadable", err)
		return RateQuote{}, false
	}
	return quote, true
}

func (c *CachedSource) write(ctx context.Context, key string, quote RateQuote) {
	if err := c.store.Set(ctx, key, encodeQuote(quote), c.ttl); err != nil {
		c.warn(ctx, key, "fx cache write failed", err)
	}
}

func (c *CachedSource) warn(ctx context.Context, key, msg string, err error) {
	if c.logg == nil {
		return
	}
	logCtx := c.logg.WithFields(ctx, map[string]any{"cache_key": key, "error": err.Error()})
	c.logg.Warn(logCtx, msg)
}

func encodeQuote(q RateQuote) string {
	return q.Rate.String() + "|" + q.Date.UTC().Format(dateLayout)
}

func decodeQuote(raw string) (RateQuote, error) {
	parts := strings.SplitN(raw, "|", 2)
	if len(parts) != 2 {
		return RateQuote{}, fmt.Errorf("malformed cached rate %q", raw)
	}
	rate, err := decimal.NewFromString(parts[0])
	if err != nil {
		return RateQuote{}, err
	}
	date, err := time.Parse(dateLayout, parts[1])
	if err != nil {
		return RateQuote{}, err
	}
	return RateQuote{Rate: rate, Date: date}, nil
}
