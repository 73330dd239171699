package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/order-lifecycle/internal/config"
)

func setRequiredDBEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_PASSWORD", "123456")
	t.Setenv("DB_NAME", "orders")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredDBEnv(t)

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, "5432", cfg.Postgres.Port)
	assert.Equal(t, "disable", cfg.Postgres.SSLMode)
	assert.Equal(t, int32(10), cfg.Postgres.MaxConns)
	assert.Equal(t, 60*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Sweeper.Deadline)
	assert.Equal(t, "brl", cfg.Payment.Currency)
	assert.Equal(t, "55", cfg.Notify.CountryCode)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredDBEnv(t)
	t.Setenv("APP_PORT", "9090")
	t.Setenv("APP_ENV", "production")
	t.Setenv("SWEEPER_INTERVAL", "15s")
	t.Setenv("SWEEPER_DEADLINE", "10m")
	t.Setenv("POLL_RATE_RPS", "0.5")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, 15*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, 10*time.Minute, cfg.Sweeper.Deadline)
	assert.Equal(t, 0.5, cfg.RateLimit.RPS)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoad_WithoutDatabaseSettings(t *testing.T) {
	for _, name := range []string{"DB_HOST", "DB_USER", "DB_PASSWORD", "DB_NAME"} {
		t.Setenv(name, "")
	}
	t.Setenv("AUTH_JWT_SECRET", "secret")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Auth.JWTSecret)

	err = cfg.Postgres.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_HOST is required")
}

func TestPostgresConfig_Validate(t *testing.T) {
	valid := config.PostgresConfig{Host: "localhost", User: "postgres", Password: "123456", DBName: "orders", MaxConns: 10, MinConns: 2}

	tests := []struct {
		name        string
		mutate      func(c *config.PostgresConfig)
		expectedErr string
	}{
		{name: "valid", mutate: func(*config.PostgresConfig) {}},
		{name: "missing_user", mutate: func(c *config.PostgresConfig) { c.User = "" }, expectedErr: "DB_USER is required"},
		{name: "missing_name", mutate: func(c *config.PostgresConfig) { c.DBName = "" }, expectedErr: "DB_NAME is required"},
		{name: "min_above_max", mutate: func(c *config.PostgresConfig) { c.MinConns = 20 }, expectedErr: "DB_MIN_CONNS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if tt.expectedErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestLoad_Metrics(t *testing.T) {
	setRequiredDBEnv(t)

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "stdout", cfg.Metrics.Exporter)
	assert.Equal(t, time.Minute, cfg.Metrics.Interval)

	t.Setenv("METRICS_EXPORTER", "prometheus")
	_, err = config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "METRICS_EXPORTER")
}

func TestLoad_InvalidSweeperInterval(t *testing.T) {
	setRequiredDBEnv(t)
	t.Setenv("SWEEPER_INTERVAL", "0s")

	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SWEEPER_INTERVAL")
}

func TestLoad_EnvFile(t *testing.T) {
	setRequiredDBEnv(t)
	t.Setenv("PUBSUB_TOPIC_ID", "")
	os.Unsetenv("PUBSUB_TOPIC_ID")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PUBSUB_TOPIC_ID=orders-test\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PUBSUB_TOPIC_ID") })

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "orders-test", cfg.PubSub.TopicID)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	setRequiredDBEnv(t)

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}
