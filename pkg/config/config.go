package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix  = "airmesh"
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Admin        AdminConfig
	FeatureFlags FeatureFlagsConfig
	Carrier      CarrierConfig
	Stripe       StripeConfig
	Sendgrid     SendgridConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
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
	Env          string `envconfig:"AIRMESH_APP_ENV" required:"true"`
	Port         string `envconfig:"AIRMESH_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"AIRMESH_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"AIRMESH_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"AIRMESH_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"AIRMESH_DB_DSN"`
	Driver string `envconfig:"AIRMESH_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"AIRMESH_DB_HOST"`
	LegacyPort     int    `envconfig:"AIRMESH_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"AIRMESH_DB_USER"`
	LegacyPassword string `envconfig:"AIRMESH_DB_PASSWORD"`
	LegacyName     string `envconfig:"AIRMESH_DB_NAME"`
	LegacySSLMode  string `envconfig:"AIRMESH_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"AIRMESH_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"AIRMESH_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"AIRMESH_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"AIRMESH_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"AIRMESH_REDIS_URL" required:"true"`
	Address      string        `envconfig:"AIRMESH_REDIS_ADDR"`
	Password     string        `envconfig:"AIRMESH_REDIS_PASSWORD"`
	DB           int           `envconfig:"AIRMESH_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"AIRMESH_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"AIRMESH_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"AIRMESH_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"AIRMESH_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"AIRMESH_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// AdminConfig holds the shared-secret credentials protecting operator endpoints.
type AdminConfig struct {
	APIKey            string `envconfig:"AIRMESH_ADMIN_API_KEY" required:"true"`
	WebhookPathSecret string `envconfig:"AIRMESH_WEBHOOK_PATH_SECRET" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"AIRMESH_AUTO_MIGRATE" default:"false"`
}

// CarrierConfig configures the OXIO provisioning API connection.
type CarrierConfig struct {
	BaseURL           string        `envconfig:"AIRMESH_CARRIER_BASE_URL" required:"true"`
	APIKey            string        `envconfig:"AIRMESH_CARRIER_API_KEY" required:"true"`
	AuthToken         string        `envconfig:"AIRMESH_CARRIER_AUTH_TOKEN" required:"true"`
	Timeout           time.Duration `envconfig:"AIRMESH_CARRIER_TIMEOUT" default:"30s"`
	BrandID           string        `envconfig:"AIRMESH_CARRIER_BRAND_ID"`
	DefaultCountry    string        `envconfig:"AIRMESH_CARRIER_DEFAULT_COUNTRY" default:"US"`
	PreferredAreaCode string        `envconfig:"AIRMESH_CARRIER_PREFERRED_AREA_CODE" default:"212"`
	LPAHost           string        `envconfig:"AIRMESH_CARRIER_LPA_HOST" default:"rsp.oxio.com"`
}

type StripeConfig struct {
	APIKey string `envconfig:"AIRMESH_STRIPE_API_KEY"`
	Secret string `envconfig:"AIRMESH_STRIPE_SECRET"`
	Env    string `envconfig:"AIRMESH_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SendgridConfig struct {
	APIKey      string `envconfig:"AIRMESH_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"AIRMESH_SENDGRID_FROM_EMAIL"`
	FromName    string `envconfig:"AIRMESH_SENDGRID_FROM_NAME" default:"AirMesh Mobile"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"AIRMESH_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	ActivationTopic string `envconfig:"AIRMESH_PUBSUB_ACTIVATION_TOPIC" default:"am-activation-events"`
}

// CronConfig tunes the background worker cadence and the inventory reclaim policy.
type CronConfig struct {
	Interval time.Duration `envconfig:"AIRMESH_CRON_INTERVAL" default:"1h"`
	// ReclaimTTL is how long an assigned ICCID may sit without a successful
	// activation before the reclaim job returns it to the pool. Zero disables
	// reclamation (inventory is consumed on payment regardless of outcome).
	ReclaimTTL time.Duration `envconfig:"AIRMESH_INVENTORY_RECLAIM_TTL" default:"0"`
}

type RateLimitConfig struct {
	AdminWindow time.Duration `envconfig:"AIRMESH_ADMIN_RATE_LIMIT_WINDOW" default:"1m"`
	AdminLimit  int           `envconfig:"AIRMESH_ADMIN_RATE_LIMIT" default:"30"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		"AIRMESH_DB_HOST": db.LegacyHost,
		"AIRMESH_DB_USER": db.LegacyUser,
		"AIRMESH_DB_NAME": db.LegacyName,
	}
	for _, env := range []string{"AIRMESH_DB_HOST", "AIRMESH_DB_USER", "AIRMESH_DB_NAME"} {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either AIRMESH_DB_DSN or %s are required", strings.Join(missing, ", "))
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
