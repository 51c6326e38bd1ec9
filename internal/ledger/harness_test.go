package ledger

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/donorledger-backend/internal/fx"
	dbpkg "github.com/angelmondragon/donorledger-backend/pkg/db"
	"github.com/angelmondragon/donorledger-backend/pkg/db/models"
	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
	"github.com/angelmondragon/donorledger-backend/pkg/outbox"
)

type harness struct {
	t        *testing.T
	db       *gorm.DB
	repo     Repository
	recalc   *Recalculator
	svc      *Service
	location uuid.UUID
	actor    Actor
	contact  models.Contact
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	transactional bool
	wrapRepo      func(Repository) Repository
	wrapRecalc    func(Repository) Repository
}

func nonTransactional() harnessOption {
	return func(c *harnessConfig) { c.transactional = false }
}

func withRepo(wrap func(Repository) Repository) harnessOption {
	return func(c *harnessConfig) { c.wrapRepo = wrap }
}

func withRecalcRepo(wrap func(Repository) Repository) harnessOption {
	return func(c *harnessConfig) { c.wrapRecalc = wrap }
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(models.All()...))
	return conn
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{transactional: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	conn := newTestDB(t)
	client := dbpkg.NewFromConn(conn)
	runner := client.Runner(cfg.transactional)
	logg := logger.New(logger.Options{ServiceName: "ledger-test", Level: zerolog.ErrorLevel, Output: io.Discard})
	publisher := outbox.NewService(outbox.NewRepository(conn), logg)

	base := NewRepository(conn)
	repo, recalcRepo := base, base
	if cfg.wrapRepo != nil {
		repo = cfg.wrapRepo(base)
	}
	if cfg.wrapRecalc != nil {
		recalcRepo = cfg.wrapRecalc(base)
	}

	recalc, err := NewRecalculator(RecalculatorParams{
		Repo:    recalcRepo,
		Tx:      runner,
		Outbox:  publisher,
		Logger:  logg,
		Retries: 1,
	})
	require.NoError(t, err)

	rates := fx.NewRepository(conn)
	for _, r := range []struct {
		currency enums.Currency
		date     string
		rate     string
	}{
		{enums.CurrencyILS, "2024-01-01", "3.6"},
		{enums.CurrencyEUR, "2024-01-01", "0.9"},
		{enums.CurrencyGBP, "2024-01-01", "0.8"},
	} {
		require.NoError(t, rates.Create(context.Background(), &models.ExchangeRate{
			BaseCurrency:   enums.CurrencyUSD,
			TargetCurrency: r.currency,
			Date:           day(r.date),
			Rate:           dec(r.rate),
		}))
	}

	svc, err := NewService(ServiceParams{
		Repo:          repo,
		Tx:            runner,
		Transactional: cfg.transactional,
		Outbox:        publisher,
		Converter:     fx.NewConverter(fx.NewBridge(rates)),
		Recalculator:  recalc,
		Logger:        logg,
	})
	require.NoError(t, err)

	location := uuid.New()
	contact := models.Contact{DisplayName: "Dana Levi", LocationID: location}
	require.NoError(t, conn.Create(&contact).Error)

	return &harness{
		t:        t,
		db:       conn,
		repo:     base,
		recalc:   recalc,
		svc:      svc,
		location: location,
		actor:    Actor{UserID: uuid.New(), LocationID: &location, Role: enums.ActorRoleUser},
		contact:  contact,
	}
}

func (h *harness) pledge(amount string, currency enums.Currency) *models.Pledge {
	h.t.Helper()
	pledge, err := h.svc.CreatePledge(context.Background(), CreatePledgeInput{
		Actor:      h.actor,
		ContactID:  h.contact.ID,
		Amount:     dec(amount),
		Currency:   currency,
		PledgeDate: day("2024-01-05"),
	})
	require.NoError(h.t, err)
	return pledge
}

func (h *harness) direct(pledgeID uuid.UUID, amount string, currency enums.Currency, status enums.PaymentStatus) *models.Payment {
	h.t.Helper()
	payment, err := h.svc.CreateDirectPayment(context.Background(), CreateDirectPaymentInput{
		Actor:       h.actor,
		PledgeID:    pledgeID,
		Amount:      dec(amount),
		Currency:    currency,
		PaymentDate: day("2024-01-10"),
		Status:      status,
	})
	require.NoError(h.t, err)
	return payment
}

func (h *harness) reload(id uuid.UUID) *models.Pledge {
	h.t.Helper()
	pledge, err := h.repo.FindPledge(context.Background(), id)
	require.NoError(h.t, err)
	return pledge
}

func (h *harness) count(model any, where string, args ...any) int64 {
	h.t.Helper()
	var n int64
	query := h.db.Model(model)
	if where != "" {
		query = query.Where(where, args...)
	}
	require.NoError(h.t, query.Count(&n).Error)
	return n
}

func day(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func requireMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Equal(t, want, got.StringFixed(2), msgAndArgs...)
}
