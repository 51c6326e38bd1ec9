package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/donorledger-backend/api/responses"
	pkgerrors "github.com/angelmondragon/donorledger-backend/pkg/errors"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/donorledger-backend/pkg/redis"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	// Payments can be retried by a gateway or an operator days later.
	criticalIdempotencyTTL = 7 * 24 * time.Hour

	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotency-Replayed"
)

// idempotentRoutes maps "METHOD path-glob" to how long a response is kept.
// Globs use path.Match, so "*" stands for one path segment.
var idempotentRoutes = map[string]time.Duration{
	"POST /api/v1/pledges":                     defaultIdempotencyTTL,
	"POST /api/v1/payments/direct":             criticalIdempotencyTTL,
	"POST /api/v1/payments/split":              criticalIdempotencyTTL,
	"POST /api/admin/v1/exchange-rates":        defaultIdempotencyTTL,
	"POST /api/admin/v1/pledges/recalculate":   defaultIdempotencyTTL,
	"POST /api/admin/v1/pledges/*/recalculate": defaultIdempotencyTTL,
}

// storedResponse is what a replay writes back. Body is base64 in JSON.
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
	RequestHash string `json:"request_hash"`
}

// Idempotency replays the first non-5xx response for an Idempotency-Key on
// ledger-creating routes. Keys are scoped to the user, location, method and
// path, and a key reused with a different body is rejected.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, requestPath(r))
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, idempotencyHeader+" header required"))
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			digest := sha256.Sum256(body)
			hash := hex.EncodeToString(digest[:])
			key := store.IdempotencyKey(strings.Join([]string{
				UserIDFromContext(ctx), LocationIDFromContext(ctx), r.Method, r.URL.Path,
			}, "|"), clientKey)

			prior, err := lookupResponse(r, store, key)
			switch {
			case err != nil:
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency lookup failed"))
				return
			case prior != nil && prior.RequestHash != hash:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
				return
			case prior != nil:
				prior.replay(w)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)
			status := capture.statusOrOK()
			if status >= http.StatusInternalServerError {
				return
			}

			encoded, err := json.Marshal(storedResponse{
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
				RequestHash: hash,
			})
			if err == nil {
				_, err = store.SetNX(ctx, key, string(encoded), ttl)
			}
			if err != nil && logg != nil {
				logg.Error(ctx, "idempotency response not stored", err)
			}
		})
	}
}

func lookupResponse(r *http.Request, store pkgredis.IdempotencyStore, key string) (*storedResponse, error) {
	raw, err := store.Get(r.Context(), key)
	if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *storedResponse) replay(w http.ResponseWriter) {
	if s.ContentType != "" {
		w.Header().Set("Content-Type", s.ContentType)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(s.Status)
	_, _ = w.Write(s.Body)
}

// requestPath is matched instead of the chi pattern: the middleware runs on a
// subrouter before the leaf route is resolved.
func requestPath(r *http.Request) string {
	if r == nil || r.URL == nil {
		return ""
	}
	p := r.URL.Path
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

func routeTTL(method, reqPath string) (time.Duration, bool) {
	if reqPath == "" {
		return 0, false
	}
	for route, ttl := range idempotentRoutes {
		m, glob, _ := strings.Cut(route, " ")
		if m != method {
			continue
		}
		if ok, _ := path.Match(glob, reqPath); ok {
			return ttl, true
		}
	}
	return 0, false
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusOrOK() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
