package config

// EnvPrefix is handed to envconfig; every field carries an explicit name so the
// prefix only matters for fields that omit one.
const EnvPrefix = "DONORLEDGER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const defaultSQLiteDSN = "file:donorledger.db?_foreign_keys=on"

const (
	EnvAppEnv             = "DONORLEDGER_APP_ENV"
	EnvPort               = "DONORLEDGER_APP_PORT"
	EnvDBDSN              = "DONORLEDGER_DB_DSN"
	EnvDBHost             = "DONORLEDGER_DB_HOST"
	EnvDBUser             = "DONORLEDGER_DB_USER"
	EnvDBName             = "DONORLEDGER_DB_NAME"
	EnvDBPassword         = "DONORLEDGER_DB_PASSWORD"
	EnvRedisURL           = "DONORLEDGER_REDIS_URL"
	EnvJWTSecret          = "DONORLEDGER_JWT_SECRET"
	EnvJWTIssuer          = "DONORLEDGER_JWT_ISSUER"
	EnvUseSQLite          = "DONORLEDGER_USE_SQLITE"
	EnvLedgerTransactions = "DONORLEDGER_LEDGER_TRANSACTIONS"
	EnvCronInterval       = "DONORLEDGER_CRON_INTERVAL"
	EnvPubSubLedgerTopic  = "DONORLEDGER_PUBSUB_LEDGER_TOPIC"
	EnvPubSubGatewaySub   = "DONORLEDGER_PUBSUB_GATEWAY_SUBSCRIPTION"
	EnvGCPProjectID       = "DONORLEDGER_GCP_PROJECT_ID"
)
