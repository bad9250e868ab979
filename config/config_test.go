package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "tracking-carrera", cfg.App.Name)
	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.NotNil(t, cfg.App.Location)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.ReevaluateInterval)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.Lookback)
	assert.Equal(t, 10*time.Minute, cfg.Engine.CatalogCacheTTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Redis.Enabled())
	assert.NotNil(t, cfg.Features)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("STORE_POSTGRES_URL", "postgres://u:p@localhost:5432/carrera")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("SCHEDULER_LOOKBACK", "72h")
	t.Setenv("LOG_FORMAT", "console")
	t.Setenv("APP_TIMEZONE", "Not/AZone")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 72*time.Hour, cfg.Scheduler.Lookback)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, time.UTC, cfg.App.Location)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("STORE_MIN_CONNS", "20")
	t.Setenv("LOG_OUTPUT", "syslog")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration errors:")
	assert.Contains(t, err.Error(), "STORE_DRIVER must be postgres in production")
	assert.Contains(t, err.Error(), "STORE_MIN_CONNS cannot exceed STORE_MAX_CONNS")
	assert.Contains(t, err.Error(), "LOG_OUTPUT must be stdout, stderr, file or both")
}

func TestTracingFromEnv(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, 0.1, cfg.Tracing.SampleRatio)

	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-team=grades,x-env=dev")
	t.Setenv("OTEL_SAMPLER_RATIO", "1")

	cfg, err = LoadFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "collector:4318", cfg.Tracing.Endpoint)
	assert.Equal(t, map[string]string{"x-team": "grades", "x-env": "dev"}, cfg.Tracing.Headers)

	t.Setenv("OTEL_SAMPLER_RATIO", "1.5")
	_, err = LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OTEL_SAMPLER_RATIO must be between 0 and 1")
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mysql")
	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER must be")
}

func TestRedisDisabledFlag(t *testing.T) {
	r := RedisConfig{Addr: "localhost:6379", Disabled: true}
	assert.False(t, r.Enabled())
}
