package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Billing      BillingConfig
	RateLimit    RateLimitConfig
	Archive      ArchiveConfig
	Storage      StorageConfig
	Generation   GenerationConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"QUICKBRUSH_APP_ENV" required:"true"`
	Port         string `envconfig:"QUICKBRUSH_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"QUICKBRUSH_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"QUICKBRUSH_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"QUICKBRUSH_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"QUICKBRUSH_DB_DSN"`
	Driver string `envconfig:"QUICKBRUSH_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"QUICKBRUSH_DB_HOST"`
	LegacyPort     int    `envconfig:"QUICKBRUSH_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"QUICKBRUSH_DB_USER"`
	LegacyPassword string `envconfig:"QUICKBRUSH_DB_PASSWORD"`
	LegacyName     string `envconfig:"QUICKBRUSH_DB_NAME"`
	LegacySSLMode  string `envconfig:"QUICKBRUSH_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"QUICKBRUSH_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"QUICKBRUSH_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"QUICKBRUSH_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"QUICKBRUSH_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"QUICKBRUSH_REDIS_URL" required:"true"`
	Address      string        `envconfig:"QUICKBRUSH_REDIS_ADDR"`
	Password     string        `envconfig:"QUICKBRUSH_REDIS_PASSWORD"`
	DB           int           `envconfig:"QUICKBRUSH_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"QUICKBRUSH_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"QUICKBRUSH_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"QUICKBRUSH_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"QUICKBRUSH_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"QUICKBRUSH_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the shared secret used to verify tokens minted by the identity service.
type JWTConfig struct {
	Secret string `envconfig:"QUICKBRUSH_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"QUICKBRUSH_JWT_ISSUER" required:"true"`
	// ExpirationMinutes only applies to tokens minted locally (dev tooling and tests).
	ExpirationMinutes int `envconfig:"QUICKBRUSH_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"QUICKBRUSH_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"QUICKBRUSH_AUTO_MIGRATE" default:"false"`
}

// StripeConfig carries the API key plus the price ids that map to tiers and packs.
type StripeConfig struct {
	APIKey string `envconfig:"QUICKBRUSH_STRIPE_API_KEY"`
	Env    string `envconfig:"QUICKBRUSH_STRIPE_ENV" default:"test"`

	PriceBasic    string `envconfig:"QUICKBRUSH_STRIPE_PRICE_BASIC"`
	PricePro      string `envconfig:"QUICKBRUSH_STRIPE_PRICE_PRO"`
	PricePremium  string `envconfig:"QUICKBRUSH_STRIPE_PRICE_PREMIUM"`
	PriceUltimate string `envconfig:"QUICKBRUSH_STRIPE_PRICE_ULTIMATE"`

	PricePack250  string `envconfig:"QUICKBRUSH_STRIPE_PRICE_PACK_250"`
	PricePack500  string `envconfig:"QUICKBRUSH_STRIPE_PRICE_PACK_500"`
	PricePack1000 string `envconfig:"QUICKBRUSH_STRIPE_PRICE_PACK_1000"`
	PricePack2500 string `envconfig:"QUICKBRUSH_STRIPE_PRICE_PACK_2500"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type BillingConfig struct {
	ReconcileMinInterval time.Duration `envconfig:"QUICKBRUSH_BILLING_RECONCILE_MIN_INTERVAL" default:"0s"`
	ProviderTimeout      time.Duration `envconfig:"QUICKBRUSH_BILLING_PROVIDER_TIMEOUT" default:"5s"`
}

type RateLimitConfig struct {
	ShortWindow  time.Duration `envconfig:"QUICKBRUSH_RATE_LIMIT_SHORT_WINDOW" default:"10s"`
	ShortLimit   int           `envconfig:"QUICKBRUSH_RATE_LIMIT_SHORT_LIMIT" default:"1"`
	HourlyWindow time.Duration `envconfig:"QUICKBRUSH_RATE_LIMIT_HOURLY_WINDOW" default:"1h"`
	HourlyLimit  int           `envconfig:"QUICKBRUSH_RATE_LIMIT_HOURLY_LIMIT" default:"50"`
}

type ArchiveConfig struct {
	Cap       int    `envconfig:"QUICKBRUSH_ARCHIVE_CAP" default:"100"`
	KeyPrefix string `envconfig:"QUICKBRUSH_ARCHIVE_KEY_PREFIX" default:"artifacts"`
}

// StorageConfig points at an S3-compatible bucket holding artifact payloads.
type StorageConfig struct {
	Bucket          string `envconfig:"QUICKBRUSH_S3_BUCKET" required:"true"`
	Region          string `envconfig:"QUICKBRUSH_S3_REGION" default:"us-east-1"`
	Endpoint        string `envconfig:"QUICKBRUSH_S3_ENDPOINT"`
	AccessKeyID     string `envconfig:"QUICKBRUSH_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"QUICKBRUSH_S3_SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `envconfig:"QUICKBRUSH_S3_USE_PATH_STYLE" default:"false"`
}

type GenerationConfig struct {
	Endpoint    string        `envconfig:"QUICKBRUSH_GENERATOR_URL"`
	APIKey      string        `envconfig:"QUICKBRUSH_GENERATOR_API_KEY"`
	Timeout     time.Duration `envconfig:"QUICKBRUSH_GENERATOR_TIMEOUT" default:"120s"`
	CostLow     int           `envconfig:"QUICKBRUSH_COST_LOW" default:"1"`
	CostMedium  int           `envconfig:"QUICKBRUSH_COST_MEDIUM" default:"3"`
	CostHigh    int           `envconfig:"QUICKBRUSH_COST_HIGH" default:"5"`
	ContentType string        `envconfig:"QUICKBRUSH_GENERATOR_CONTENT_TYPE" default:"image/webp"`
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"QUICKBRUSH_CRON_INTERVAL" default:"1h"`
	LockTTL           time.Duration `envconfig:"QUICKBRUSH_CRON_LOCK_TTL" default:"55m"`
	ReconcileLimit    int           `envconfig:"QUICKBRUSH_CRON_RECONCILE_LIMIT" default:"250"`
	ReconcileLookback time.Duration `envconfig:"QUICKBRUSH_CRON_RECONCILE_LOOKBACK" default:"24h"`
	AuditLimit        int           `envconfig:"QUICKBRUSH_CRON_AUDIT_LIMIT" default:"500"`
	AuditLookback     time.Duration `envconfig:"QUICKBRUSH_CRON_AUDIT_LOOKBACK" default:"2h"`
}

func (db *DBConfig) ensureDSN(sqlite bool) error {
	if db.DSN != "" {
		return nil
	}
	if sqlite {
		db.DSN = "file:quickbrush.db?cache=shared"
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
