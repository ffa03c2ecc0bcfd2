package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearYummyEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"SERVER_NAME", "BIND_IP", "BIND_PORT", "CLIENT_TIMEOUT", "HEARTBEAT_INTERVAL",
		"HEARTBEAT_TIMEOUT", "CONNECTION_RESTORE_WAIT_TIMEOUT", "TOKEN_LIFETIME",
		"API_KEY_NAME", "INTEGRATION_KEY", "SALT_KEY", "DATABASE_PATH",
		"MAX_USER_META", "MAX_ROOM_META", "REDIS_URL", "REDIS_PREFIX",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestValidateEnv_MissingRequired(t *testing.T) {
	clearYummyEnv(t)
	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INTEGRATION_KEY is required")
	assert.Contains(t, err.Error(), "SALT_KEY is required")
}

func TestValidateEnv_Defaults(t *testing.T) {
	clearYummyEnv(t)
	os.Setenv("INTEGRATION_KEY", "integration-key-value")
	os.Setenv("SALT_KEY", "at-least-16-characters-long")
	defer clearYummyEnv(t)

	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, "yummy-1", cfg.ServerName)
	assert.Equal(t, "9090", cfg.BindPort)
	assert.False(t, cfg.Stateless())
	assert.Equal(t, 16, cfg.MaxUserMeta)
}

func TestValidateEnv_Stateless(t *testing.T) {
	clearYummyEnv(t)
	os.Setenv("INTEGRATION_KEY", "integration-key-value")
	os.Setenv("SALT_KEY", "at-least-16-characters-long")
	os.Setenv("REDIS_URL", "redis://localhost:6379/0")
	defer clearYummyEnv(t)

	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.True(t, cfg.Stateless())
	assert.Equal(t, "yummy", cfg.RedisPrefix)
}

func TestValidateEnv_BadPort(t *testing.T) {
	clearYummyEnv(t)
	os.Setenv("INTEGRATION_KEY", "integration-key-value")
	os.Setenv("SALT_KEY", "at-least-16-characters-long")
	os.Setenv("BIND_PORT", "not-a-port")
	defer clearYummyEnv(t)

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BIND_PORT")
}
