package config

// EnvPrefix is passed to envconfig; every field carries its full variable name.
const EnvPrefix = "QUICKBRUSH"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv    = "QUICKBRUSH_APP_ENV"
	EnvPort      = "QUICKBRUSH_APP_PORT"
	EnvDBDSN     = "QUICKBRUSH_DB_DSN"
	EnvDBHost    = "QUICKBRUSH_DB_HOST"
	EnvDBUser    = "QUICKBRUSH_DB_USER"
	EnvDBName    = "QUICKBRUSH_DB_NAME"
	EnvRedisURL  = "QUICKBRUSH_REDIS_URL"
	EnvJWTSecret = "QUICKBRUSH_JWT_SECRET"
	EnvJWTIssuer = "QUICKBRUSH_JWT_ISSUER"
	EnvUseSQLite = "QUICKBRUSH_USE_SQLITE"

	EnvS3Bucket       = "QUICKBRUSH_S3_BUCKET"
	EnvGeneratorURL   = "QUICKBRUSH_GENERATOR_URL"
	EnvArchiveCap     = "QUICKBRUSH_ARCHIVE_CAP"
	EnvShortLimit     = "QUICKBRUSH_RATE_LIMIT_SHORT_LIMIT"
	EnvStripePricePro = "QUICKBRUSH_STRIPE_PRICE_PRO"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
