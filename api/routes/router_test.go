package routes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/donorledger-backend/internal/fx"
	"github.com/angelmondragon/donorledger-backend/internal/ledger"
	"github.com/angelmondragon/donorledger-backend/pkg/auth"
	"github.com/angelmondragon/donorledger-backend/pkg/config"
	"github.com/angelmondragon/donorledger-backend/pkg/db/models"
	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type memoryRedis struct {
	mu       sync.Mutex
	data     map[string]string
	counters map[string]int64
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: map[string]string{}, counters: map[string]int64{}}
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryRedis) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (m *memoryRedis) RateLimitKey(scope string) string {
	return "rate:" + scope
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryRedis) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

func (m *memoryRedis) Ping(context.Context) error {
	return nil
}

// stubLedger answers the routes exercised below; any other call panics on
// the nil embedded interface.
type stubLedger struct {
	LedgerService
	recalculated []uuid.UUID
	lastActor    ledger.Actor
}

func (s *stubLedger) GetPledge(_ context.Context, actor ledger.Actor, id uuid.UUID) (*models.Pledge, error) {
	s.lastActor = actor
	return &models.Pledge{ID: id, Currency: enums.CurrencyUSD, IsActive: true}, nil
}

func (s *stubLedger) CreateDirectPayment(_ context.Context, in ledger.CreateDirectPaymentInput) (*models.Payment, error) {
	s.lastActor = in.Actor
	pledgeID := in.PledgeID
	return &models.Payment{ID: uuid.New(), PledgeID: &pledgeID, Amount: in.Amount, Currency: in.Currency, Status: in.Status, PaymentDate: in.PaymentDate}, nil
}

func (s *stubLedger) Recalculate(_ context.Context, actor ledger.Actor, id uuid.UUID) (ledger.PledgeAggregates, error) {
	s.lastActor = actor
	s.recalculated = append(s.recalculated, id)
	return ledger.PledgeAggregates{PledgeID: id, TotalPaid: decimal.Zero}, nil
}

type stubRates struct{}

func (stubRates) RecordRate(context.Context, fx.RecordRateInput) (*models.ExchangeRate, error) {
	return nil, fmt.Errorf("not implemented")
}

var testConfig = &config.Config{
	App:       config.AppConfig{Env: "test", CORSOrigins: []string{"http://localhost:3000"}},
	JWT:       config.JWTConfig{Secret: "router-secret", Issuer: "donorledger", ExpirationMinutes: 15},
	RateLimit: config.RateLimitConfig{Window: time.Minute, Requests: 100},
}

func newTestRouter(t *testing.T, svc *stubLedger) http.Handler {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard})
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	return NewRouter(testConfig, logg, stubPinger{}, newMemoryRedis(), svc, stubRates{}, nil, metricsHandler)
}

func bearer(t *testing.T, role enums.ActorRole, locationID *uuid.UUID) string {
	t.Helper()
	token, err := auth.MintAccessToken(testConfig.JWT, time.Now(), auth.AccessTokenPayload{
		UserID:     uuid.New(),
		LocationID: locationID,
		Role:       role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func TestHealthRoutes(t *testing.T) {
	router := newTestRouter(t, &stubLedger{})

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}
}

func TestLedgerRoutesRequireAuth(t *testing.T) {
	router := newTestRouter(t, &stubLedger{})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/pledges/"+uuid.NewString(), nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestGetPledgeUsesTokenLocation(t *testing.T) {
	svc := &stubLedger{}
	router := newTestRouter(t, svc)
	locationID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pledges/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", bearer(t, enums.ActorRoleUser, &locationID))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.lastActor.LocationID == nil || *svc.lastActor.LocationID != locationID {
		t.Fatalf("expected actor location %s, got %v", locationID, svc.lastActor.LocationID)
	}
	if resp.Header().Get("X-RateLimit-Limit") != "100" {
		t.Fatalf("expected rate limit header, got %q", resp.Header().Get("X-RateLimit-Limit"))
	}
}

func TestPaymentCreationRequiresIdempotencyKey(t *testing.T) {
	svc := &stubLedger{}
	router := newTestRouter(t, svc)
	locationID := uuid.New()
	token := bearer(t, enums.ActorRoleUser, &locationID)
	body := `{"pledgeId":"` + uuid.NewString() + `","amount":"25","currency":"USD","paymentDate":"2024-03-01","status":"completed"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/direct", strings.NewReader(body))
	req.Header.Set("Authorization", token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without key, got %d", resp.Code)
	}

	for i := 0; i < 2; i++ {
		req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/direct", strings.NewReader(body))
		req.Header.Set("Authorization", token)
		req.Header.Set("Idempotency-Key", "pay-1")
		resp = httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201 got %d: %s", i, resp.Code, resp.Body.String())
		}
	}
	if got := resp.Header().Get("Idempotency-Replayed"); got != "true" {
		t.Fatalf("expected replayed response, got header %q", got)
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	svc := &stubLedger{}
	router := newTestRouter(t, svc)
	locationID := uuid.New()
	pledgeID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/pledges/"+pledgeID.String()+"/recalculate", nil)
	req.Header.Set("Authorization", bearer(t, enums.ActorRoleUser, &locationID))
	req.Header.Set("Idempotency-Key", "recalc-1")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/admin/v1/pledges/"+pledgeID.String()+"/recalculate", nil)
	req.Header.Set("Authorization", bearer(t, enums.ActorRoleAdmin, nil))
	req.Header.Set("Idempotency-Key", "recalc-1")
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if len(svc.recalculated) != 1 || svc.recalculated[0] != pledgeID {
		t.Fatalf("unexpected recalculations %v", svc.recalculated)
	}
	if svc.lastActor.Role != enums.ActorRoleAdmin || svc.lastActor.LocationID != nil {
		t.Fatalf("expected unscoped admin actor, got %+v", svc.lastActor)
	}
}
