package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/donorledger-backend/api/controllers"
	"github.com/angelmondragon/donorledger-backend/api/middleware"
	"github.com/angelmondragon/donorledger-backend/pkg/config"
	"github.com/angelmondragon/donorledger-backend/pkg/db"
	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
	"github.com/angelmondragon/donorledger-backend/pkg/metrics"
	"github.com/angelmondragon/donorledger-backend/pkg/redis"
)

// RedisStore is the Redis surface the HTTP layer needs: idempotency replay,
// rate limit counters and readiness.
type RedisStore interface {
	redis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
	Ping(ctx context.Context) error
}

// LedgerService is everything the pledge, payment and admin routes call.
type LedgerService interface {
	controllers.PledgeService
	controllers.PaymentService
	controllers.RecalculationService
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisStore RedisStore,
	ledgerService LedgerService,
	rateService controllers.ExchangeRateService,
	httpMetrics *metrics.HTTPMetrics,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, httpMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	apiPolicy := middleware.NewRateLimitPolicy("api", cfg.RateLimit.Window, cfg.RateLimit.Requests)
	adminPolicy := middleware.NewRateLimitPolicy("admin", cfg.RateLimit.Window, cfg.RateLimit.Requests)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redisStore,
		}))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.LocationContext(logg))
		r.Use(middleware.RateLimit(apiPolicy, redisStore, logg))
		r.Use(middleware.Idempotency(redisStore, logg))

		r.Route("/pledges", func(r chi.Router) {
			r.Post("/", controllers.CreatePledge(ledgerService, logg))
			r.Get("/{pledgeId}", controllers.GetPledge(ledgerService, logg))
			r.Delete("/{pledgeId}", controllers.DeletePledge(ledgerService, logg))
			r.Get("/{pledgeId}/projection", controllers.PledgeProjection(ledgerService, logg))
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", controllers.ListPayments(ledgerService, logg))
			r.Post("/direct", controllers.CreateDirectPayment(ledgerService, logg))
			r.Post("/split", controllers.CreateSplitPayment(ledgerService, logg))
			r.Get("/{paymentId}", controllers.GetPayment(ledgerService, logg))
			r.Patch("/{paymentId}", controllers.UpdatePayment(ledgerService, logg))
			r.Patch("/{paymentId}/status", controllers.UpdatePaymentStatus(ledgerService, logg))
			r.Delete("/{paymentId}", controllers.DeletePayment(ledgerService, logg))
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
		r.Use(middleware.RateLimit(adminPolicy, redisStore, logg))
		r.Use(middleware.Idempotency(redisStore, logg))

		r.Route("/v1/pledges", func(r chi.Router) {
			r.Post("/recalculate", controllers.AdminRecalculatePledges(ledgerService, logg))
			r.Post("/{pledgeId}/recalculate", controllers.AdminRecalculatePledge(ledgerService, logg))
		})
		r.Post("/v1/exchange-rates", controllers.AdminRecordExchangeRate(rateService, logg))
	})

	return r
}
