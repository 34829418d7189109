package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/fingerflow")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 100, cfg.RateLimitRequests)
	assert.Equal(t, 60, cfg.RateLimitWindowSeconds)
	assert.True(t, cfg.RateLimitEnabled)
	assert.True(t, cfg.AuthRateLimitEnabled)
	assert.True(t, cfg.CSRFProtectionEnabled)
	assert.Equal(t, 3600, cfg.CSRFTokenMaxAgeSeconds)
	assert.True(t, cfg.SecurityHeadersEnabled)
	assert.False(t, cfg.HTTPSRedirectEnabled)
	assert.Equal(t, "console", cfg.EmailProvider)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:3000"}, cfg.CORSAllowedOrigins)
}

func TestLoadMissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "test-secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadMissingJWTSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/fingerflow")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoadRejectsNonPositiveLimits(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RATE_LIMIT_REQUESTS", "0")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RATE_LIMIT_REQUESTS", "5")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "30")
	t.Setenv("CSRF_PROTECTION_ENABLED", "false")
	t.Setenv("HTTPS_REDIRECT_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.RateLimitRequests)
	assert.Equal(t, 30, cfg.RateLimitWindowSeconds)
	assert.False(t, cfg.CSRFProtectionEnabled)
	assert.True(t, cfg.HTTPSRedirectEnabled)
}
