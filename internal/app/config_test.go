package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/covenant-app/covenant/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "config-test-secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 5*time.Minute, cfg.LockTTL)
	assert.Equal(t, "covenant:lock-events", cfg.NotifyChannel)
	assert.Equal(t, 10, cfg.LoginRateLimit)
	assert.Empty(t, cfg.RolesFile)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "config-test-secret")
	t.Setenv("LOCK_TTL", "90s")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("ROLES_FILE", "/etc/covenant/roles.yaml")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.LockTTL)
	assert.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, "/etc/covenant/roles.yaml", cfg.RolesFile)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"empty secret":       {"JWT_SECRET": ""},
		"short prod secret":  {"JWT_SECRET": "short", "APP_ENV": "production"},
		"refresh too short":  {"JWT_SECRET": "s3cret", "ACCESS_TOKEN_TTL": "1h", "REFRESH_TOKEN_TTL": "30m"},
		"non positive lock":  {"JWT_SECRET": "s3cret", "LOCK_TTL": "0s"},
		"non positive limit": {"JWT_SECRET": "s3cret", "LOGIN_RATE_LIMIT": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestInTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	assert.True(t, InTestMode())

	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	assert.False(t, InTestMode())

	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
}
