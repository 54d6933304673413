package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "BILLINGZ"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "BILLINGZ_DB_DSN"
	EnvDBHost = "BILLINGZ_DB_HOST"
	EnvDBUser = "BILLINGZ_DB_USER"
	EnvDBName = "BILLINGZ_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Scheduler    SchedulerConfig
	Ledger       LedgerConfig
	Outbox       OutboxConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BILLINGZ_APP_ENV" required:"true"`
	Port         string `envconfig:"BILLINGZ_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BILLINGZ_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BILLINGZ_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BILLINGZ_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BILLINGZ_DB_DSN"`
	Driver string `envconfig:"BILLINGZ_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BILLINGZ_DB_HOST"`
	LegacyPort     int    `envconfig:"BILLINGZ_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BILLINGZ_DB_USER"`
	LegacyPassword string `envconfig:"BILLINGZ_DB_PASSWORD"`
	LegacyName     string `envconfig:"BILLINGZ_DB_NAME"`
	LegacySSLMode  string `envconfig:"BILLINGZ_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BILLINGZ_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BILLINGZ_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BILLINGZ_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BILLINGZ_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BILLINGZ_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BILLINGZ_REDIS_ADDR"`
	Password     string        `envconfig:"BILLINGZ_REDIS_PASSWORD"`
	DB           int           `envconfig:"BILLINGZ_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BILLINGZ_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BILLINGZ_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BILLINGZ_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BILLINGZ_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BILLINGZ_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BILLINGZ_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey string `envconfig:"BILLINGZ_STRIPE_API_KEY"`
	Secret string `envconfig:"BILLINGZ_STRIPE_SECRET"`
	Env    string `envconfig:"BILLINGZ_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// SchedulerConfig drives the recurring billing tick.
type SchedulerConfig struct {
	TickInterval      time.Duration `envconfig:"BILLINGZ_SCHEDULER_TICK_INTERVAL" default:"1m"`
	ClaimTTL          time.Duration `envconfig:"BILLINGZ_SCHEDULER_CLAIM_TTL" default:"5m"`
	BatchSize         int           `envconfig:"BILLINGZ_SCHEDULER_BATCH_SIZE" default:"100"`
	Parallelism       int           `envconfig:"BILLINGZ_SCHEDULER_PARALLELISM" default:"8"`
	RetryFailedCycles bool          `envconfig:"BILLINGZ_SCHEDULER_RETRY_FAILED_CYCLES" default:"false"`
}

// LedgerConfig bounds processor submission retries.
type LedgerConfig struct {
	SubmitMaxAttempts int           `envconfig:"BILLINGZ_LEDGER_SUBMIT_MAX_ATTEMPTS" default:"4"`
	SubmitBackoffBase time.Duration `envconfig:"BILLINGZ_LEDGER_SUBMIT_BACKOFF_BASE" default:"500ms"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"BILLINGZ_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"BILLINGZ_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"BILLINGZ_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BILLINGZ_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"BILLINGZ_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BILLINGZ_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	BillingTopic        string `envconfig:"BILLINGZ_PUBSUB_BILLING_TOPIC" default:"bz-billing-events"`
	BillingSubscription string `envconfig:"BILLINGZ_PUBSUB_BILLING_SUBSCRIPTION"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
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
