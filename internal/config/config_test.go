package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)

	assert.Equal(t, 40000, cfg.Ingest.Port)
	assert.Equal(t, 5*time.Second, cfg.Ingest.IdleTimeout)
	assert.Equal(t, time.Second, cfg.Ingest.RetryDelay)
	assert.Equal(t, 3, cfg.Ingest.ProvisionAttempts)

	assert.Equal(t, int64(65536), cfg.Hub.MaxMessageSize)
	assert.Equal(t, 60*time.Second, cfg.Hub.PongWait)
	assert.Equal(t, 256, cfg.Hub.SendBuffer)

	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("INGEST_PORT", "41000")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 41000, cfg.Ingest.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestGetICEServers(t *testing.T) {
	wc := WebRTCConfig{ICEServers: []ICEServerConfig{{
		URLs:       []string{"stun:stun.example.com:3478"},
		Username:   "user",
		Credential: "pass",
	}}}

	servers := wc.GetICEServers()
	require.Len(t, servers, 1)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, servers[0].URLs)
	assert.Equal(t, "user", servers[0].Username)
}
