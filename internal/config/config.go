package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port     string `env:"APP_PORT" envDefault:"8080"`
	Env      string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"debug"`

	TrustProxyHeaders bool `env:"APP_TRUST_PROXY_HEADERS" envDefault:"false"`
}

type PostgresConfig struct {
	Host            string        `env:"DB_HOST"`
	Port            string        `env:"DB_PORT" envDefault:"5432"`
	User            string        `env:"DB_USER"`
	Password        string        `env:"DB_PASSWORD"`
	DBName          string        `env:"DB_NAME"`
	SSLMode         string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	MinConns        int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"30m"`
	MigrationsPath  string        `env:"DB_MIGRATIONS_PATH" envDefault:"migrations"`
}

type SweeperConfig struct {
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"60s"`
	Deadline time.Duration `env:"SWEEPER_DEADLINE" envDefault:"5m"`
}

type PaymentConfig struct {
	StripeAPIKey  string `env:"STRIPE_API_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	Currency      string `env:"PAYMENT_CURRENCY" envDefault:"brl"`
}

type NotifyConfig struct {
	GatewayURL    string        `env:"NOTIFY_GATEWAY_URL"`
	GatewayToken  string        `env:"NOTIFY_GATEWAY_TOKEN"`
	CountryCode   string        `env:"NOTIFY_COUNTRY_CODE" envDefault:"55"`
	InboundToken  string        `env:"NOTIFY_INBOUND_TOKEN"`
	PollInterval time.Duration `env:"NOTIFY_POLL_INTERVAL" envDefault:"30s"`
	Timeout       time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s"`
}

type PubSubConfig struct {
	ProjectID      string `env:"PUBSUB_PROJECT_ID"`
	TopicID        string `env:"PUBSUB_TOPIC_ID" envDefault:"order-events"`
	SubscriptionID string `env:"PUBSUB_SUBSCRIPTION_ID"`
}

type AuthConfig struct {
	JWTSecret string `env:"AUTH_JWT_SECRET"`
}

type RateLimitConfig struct {
	RPS   float64 `env:"POLL_RATE_RPS" envDefault:"2"`
	Burst int     `env:"POLL_RATE_BURST" envDefault:"5"`
}

type MetricsConfig struct {
	Exporter string        `env:"METRICS_EXPORTER" envDefault:"stdout"`
	Interval time.Duration `env:"METRICS_INTERVAL" envDefault:"60s"`
}

type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Sweeper   SweeperConfig
	Payment   PaymentConfig
	Notify    NotifyConfig
	PubSub    PubSubConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Metrics   MetricsConfig
}

// Load reads an optional .env file and then the process environment. Database
// settings are checked separately by Postgres.Validate so that commands which
// never connect can run without them.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		err := godotenv.Load(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("SWEEPER_INTERVAL must be positive, got %s", c.Sweeper.Interval)
	}
	if c.Sweeper.Deadline <= 0 {
		return fmt.Errorf("SWEEPER_DEADLINE must be positive, got %s", c.Sweeper.Deadline)
	}
	switch c.Metrics.Exporter {
	case "stdout", "none":
	default:
		return fmt.Errorf("METRICS_EXPORTER must be stdout or none, got %q", c.Metrics.Exporter)
	}
	if c.Metrics.Exporter != "none" && c.Metrics.Interval <= 0 {
		return fmt.Errorf("METRICS_INTERVAL must be positive, got %s", c.Metrics.Interval)
	}
	return nil
}

// Validate reports missing or inconsistent connection settings.
func (c PostgresConfig) Validate() error {
	required := map[string]string{
		"DB_HOST":     c.Host,
		"DB_USER":     c.User,
		"DB_PASSWORD": c.Password,
		"DB_NAME":     c.DBName,
	}
	for _, name := range []string{"DB_HOST", "DB_USER", "DB_PASSWORD", "DB_NAME"} {
		if required[name] == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.MinConns, c.MaxConns)
	}
	return nil
}

// IsDevelopment reports whether console logging should be used.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "" || c.App.Env == "development" || c.App.Env == "dev"
}
