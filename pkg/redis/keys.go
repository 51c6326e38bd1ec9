package redis

import (
	"strings"
	"time"
)

// Every key lives under "dl:<kind>:..." so the ledger can share a Redis
// instance with other services.
const (
	keyNamespace = "dl"

	kindIdempotency = "idempotency"
	kindRateLimit   = "rate_limit"
	kindFXRate      = "fx_rate"
	kindLock        = "lock"
)

func (c *Client) IdempotencyKey(scope, id string) string {
	return key(kindIdempotency, scope, id)
}

func (c *Client) RateLimitKey(scope string) string {
	return key(kindRateLimit, scope)
}

// FXRateKey is keyed by the UTC calendar day of date.
func (c *Client) FXRateKey(currency string, date time.Time) string {
	return key(kindFXRate, currency, date.UTC().Format(time.DateOnly))
}

func (c *Client) LockKey(name string) string {
	return key(kindLock, name)
}

// key joins non-empty trimmed parts under the namespace.
func key(kind string, parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	b.WriteByte(':')
	b.WriteString(kind)
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			b.WriteByte(':')
			b.WriteString(p)
		}
	}
	return b.String()
}
