package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 1.0, cfg.Tracing.SamplingRate)
	assert.Equal(t, time.Hour, cfg.Tracing.MaxTraceDuration)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("TRACING_SAMPLING_RATE", "0.25")
	t.Setenv("RATE_LIMIT_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 0.25, cfg.Tracing.SamplingRate)
	assert.False(t, cfg.RateLimit.Enabled)

	// Unset values fall back to tag defaults.
	assert.Equal(t, "opsconductor", cfg.Tracing.ServiceName)
	assert.Equal(t, 2*time.Second, cfg.Redis.OpTimeout)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("TRACING_SAMPLING_RATE", "not-a-float")

	_, err := Load()
	assert.Error(t, err)
}
