package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.PostgresHost)
	assert.Equal(t, uint16(6379), cfg.RedisPort)
	assert.Equal(t, 30, cfg.DisconnectGraceSeconds)
	assert.Equal(t, uint16(8085), cfg.HttpServerPort)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("DISCONNECT_GRACE_SECONDS", "5")
	t.Setenv("HTTP_SERVER_PORT", "9090")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.PostgresHost)
	assert.Equal(t, 5, cfg.DisconnectGraceSeconds)
	assert.Equal(t, uint16(9090), cfg.HttpServerPort)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("HTTP_SERVER_PORT", "80") // below the allowed range
	_, err := LoadConfig()
	assert.Error(t, err)
}
