package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 5*time.Second, cfg.ConsentTxTimeout)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Equal(t, 30, cfg.ApplyRateLimit)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PRIVILEGES_ADDR", ":9090")
	t.Setenv("STORE_BACKEND", BackendRedis)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CONSENT_TX_TIMEOUT", "2s")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 2*time.Second, cfg.ConsentTxTimeout)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestValidate(t *testing.T) {
	base, err := FromEnv()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Server)
	}{
		{"postgres without url", func(c *Server) { c.StoreBackend = BackendPostgres }},
		{"redis without url", func(c *Server) { c.StoreBackend = BackendRedis }},
		{"unknown backend", func(c *Server) { c.StoreBackend = "cassandra" }},
		{"bad log format", func(c *Server) { c.LogFormat = "xml" }},
		{"dev key in production", func(c *Server) { c.ProductionMode = true }},
		{"zero rate limit", func(c *Server) { c.ApplyRateLimit = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFromEnvRejectsMalformedDuration(t *testing.T) {
	t.Setenv("CONSENT_TX_TIMEOUT", "soon")
	_, err := FromEnv()
	assert.Error(t, err)
}
