package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Ledger       LedgerConfig
	FX           FXConfig
	Cron         CronConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	RateLimit    RateLimitConfig
}

// Load reads the environment, resolves the database DSN and range-checks the
// tuning knobs.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.resolveDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := checkRanges(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func checkRanges(cfg *Config) error {
	err := validator.New().Struct(cfg)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, fmt.Sprintf("%s fails %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}

type AppConfig struct {
	Env          string `envconfig:"DONORLEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"DONORLEDGER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"DONORLEDGER_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"DONORLEDGER_LOG_FORMAT" default:"json" validate:"oneof=json console"`
	LogWarnStack bool   `envconfig:"DONORLEDGER_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"DONORLEDGER_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"DONORLEDGER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"DONORLEDGER_DB_DSN"`
	Driver string `envconfig:"DONORLEDGER_DB_DRIVER" default:"postgres" validate:"oneof=postgres sqlite"`

	LegacyHost     string `envconfig:"DONORLEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"DONORLEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DONORLEDGER_DB_USER"`
	LegacyPassword string `envconfig:"DONORLEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"DONORLEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"DONORLEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DONORLEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DONORLEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DONORLEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DONORLEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"DONORLEDGER_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DONORLEDGER_REDIS_URL" required:"true"`
	Address      string        `envconfig:"DONORLEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"DONORLEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"DONORLEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DONORLEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DONORLEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DONORLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DONORLEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DONORLEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"DONORLEDGER_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"DONORLEDGER_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"DONORLEDGER_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"DONORLEDGER_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"DONORLEDGER_AUTO_MIGRATE" default:"false"`
}

// LedgerConfig tunes the pledge/payment mutation pipeline.
type LedgerConfig struct {
	// Transactions wraps each mutation's writes in one DB transaction. Disable it
	// on stores that only guarantee single-statement atomicity.
	Transactions        bool `envconfig:"DONORLEDGER_LEDGER_TRANSACTIONS" default:"true"`
	RecalcRetryAttempts int  `envconfig:"DONORLEDGER_LEDGER_RECALC_RETRY_ATTEMPTS" default:"2" validate:"min=0,max=10"`
}

type FXConfig struct {
	CacheTTL time.Duration `envconfig:"DONORLEDGER_FX_CACHE_TTL" default:"24h"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"DONORLEDGER_CRON_INTERVAL" default:"1h"`
	RepairBatchSize int           `envconfig:"DONORLEDGER_CRON_REPAIR_BATCH_SIZE" default:"200" validate:"gt=0"`
	LockTTL         time.Duration `envconfig:"DONORLEDGER_CRON_LOCK_TTL" default:"55m"`
}

type EventingConfig struct {
	GatewayIdempotencyTTL time.Duration `envconfig:"DONORLEDGER_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"DONORLEDGER_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	LedgerTopic         string `envconfig:"DONORLEDGER_PUBSUB_LEDGER_TOPIC" default:"ledger-events"`
	GatewaySubscription string `envconfig:"DONORLEDGER_PUBSUB_GATEWAY_SUBSCRIPTION" default:"gateway-confirmations-sub"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"DONORLEDGER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50" validate:"gt=0,max=1000"`
	PollIntervalMS int `envconfig:"DONORLEDGER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"DONORLEDGER_OUTBOX_MAX_ATTEMPTS" default:"10" validate:"gt=0"`
	RetentionDays  int `envconfig:"DONORLEDGER_OUTBOX_RETENTION_DAYS" default:"30"`
}

// RateLimitConfig bounds authenticated API traffic per caller.
type RateLimitConfig struct {
	Window   time.Duration `envconfig:"DONORLEDGER_RATE_LIMIT_WINDOW" default:"1m"`
	Requests int           `envconfig:"DONORLEDGER_RATE_LIMIT_REQUESTS" default:"300" validate:"gt=0"`
}
