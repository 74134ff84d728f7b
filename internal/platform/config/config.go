package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Env       string `envconfig:"APP_ENV" default:"development"`
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	DB       Database
	Redis    Redis
	Rabbit   Rabbit
	Omise    Omise
	Webhooks Webhooks

	JWTSecret          string `envconfig:"JWT_SECRET"`
	NewRelicLicenseKey string `envconfig:"NEW_RELIC_LICENSE_KEY"`
	NewRelicAppName    string `envconfig:"NEW_RELIC_APP_NAME" default:"escrow-ledger"`

	PlatformFeeBps      int64         `envconfig:"PLATFORM_FEE_BPS" default:"1000"`
	AutoConfirmAfter    time.Duration `envconfig:"AUTO_CONFIRM_AFTER" default:"72h"`
	SweepInterval       time.Duration `envconfig:"SWEEP_INTERVAL" default:"15m"`
	SweepBatchSize      int           `envconfig:"SWEEP_BATCH_SIZE" default:"100"`
	PayoutRetryInterval time.Duration `envconfig:"PAYOUT_RETRY_INTERVAL" default:"5m"`
	IdempotencyTTL      time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"72h"`
}

type Database struct {
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     string `envconfig:"PORT" default:"5432"`
	User     string `envconfig:"USER" default:"postgres"`
	Password string `envconfig:"PASSWORD"`
	Name     string `envconfig:"NAME" default:"escrow_ledger"`
	SSLMode  string `envconfig:"SSLMODE" default:"disable"`
}

type Redis struct {
	Addr     string `envconfig:"ADDR"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
}

type Rabbit struct {
	URL      string `envconfig:"URL"`
	Exchange string `envconfig:"EXCHANGE" default:"escrow.events"`
}

type Omise struct {
	PublicKey string `envconfig:"PUBLIC_KEY"`
	SecretKey string `envconfig:"SECRET_KEY"`
}

type Webhooks struct {
	GatewaySecret string `envconfig:"GATEWAY_SECRET"`
	PayoutSecret  string `envconfig:"PAYOUT_SECRET"`
}

// Load reads .env (when present) into the process environment and then
// decodes the environment. Variables already set win over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return &cfg, nil
}

// ValidateServer checks the settings the HTTP server cannot start without.
func (c *Config) ValidateServer() error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Webhooks.GatewaySecret == "" {
		errs = append(errs, errors.New("WEBHOOKS_GATEWAY_SECRET is required"))
	}
	if c.Webhooks.PayoutSecret == "" {
		errs = append(errs, errors.New("WEBHOOKS_PAYOUT_SECRET is required"))
	}
	if c.PlatformFeeBps < 0 || c.PlatformFeeBps > 10000 {
		errs = append(errs, fmt.Errorf("PLATFORM_FEE_BPS out of range: %d", c.PlatformFeeBps))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
