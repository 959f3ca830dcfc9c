package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("SENTINEL_SECRET", "")
	t.Setenv("FAIL_OPEN", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.False(t, cfg.FailOpen, "fail-closed is the default")
	assert.Equal(t, DefaultSessionTTL, cfg.SessionTTL)
	assert.NotEmpty(t, cfg.SecretKey, "dev secret is injected outside production")
	assert.True(t, cfg.IsDevelopment())
}

func TestProductionRequiresSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("SENTINEL_SECRET", "")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("SENTINEL_SECRET", "prod-secret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "prod-secret", cfg.SecretKey)
}

func TestOverrides(t *testing.T) {
	t.Setenv("FAIL_OPEN", "true")
	t.Setenv("SESSION_TTL", "45m")
	t.Setenv("POLICY_URL", "https://policy.internal")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.FailOpen)
	assert.Equal(t, 45*time.Minute, cfg.SessionTTL)
	assert.Equal(t, "https://policy.internal", cfg.PolicyURL)
}
