package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "hearth-orchestrator", cfg.ServiceName)
	assert.Equal(t, 30*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, 200, cfg.TraceRingSize)

	// Health monitoring is opt-in.
	assert.Equal(t, time.Duration(0), cfg.HealthInterval)
}

func TestConfigEnvOverrides(t *testing.T) {
	t.Setenv("HEARTH_REDIS_URL", "redis://localhost:6390")
	t.Setenv("HEARTH_NAMESPACE", "hearth-test")
	t.Setenv("HEARTH_DEFAULT_TIMEOUT", "10s")
	t.Setenv("HEARTH_TRACE_RING_SIZE", "50")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6390", cfg.RedisURL)
	assert.Equal(t, "hearth-test", cfg.Namespace)
	assert.Equal(t, 10*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, 50, cfg.TraceRingSize)
}

func TestConfigOptionsBeatEnv(t *testing.T) {
	t.Setenv("HEARTH_NAMESPACE", "from-env")

	cfg, err := NewConfig(WithNamespace("from-option"), WithDefaultTimeout(5*time.Second))
	require.NoError(t, err)

	assert.Equal(t, "from-option", cfg.Namespace, "options should win over env")
	assert.Equal(t, 5*time.Second, cfg.DefaultTimeout)
}

func TestConfigRejectsBadEnv(t *testing.T) {
	t.Setenv("HEARTH_DEFAULT_TIMEOUT", "soon")

	_, err := NewConfig()
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultTimeout = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)

	cfg = DefaultConfig()
	cfg.ServiceName = ""
	assert.ErrorIs(t, cfg.Validate(), ErrMissingConfiguration)
}
