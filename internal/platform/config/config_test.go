package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LIVEKIT_API_KEY", "APIkey123")
	t.Setenv("LIVEKIT_API_SECRET", "secret-with-enough-entropy")
}

func TestLoad_AllRequiredVarsSet(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "APIkey123", cfg.LiveKitAPIKey)
	assert.Equal(t, "secret-with-enough-entropy", cfg.LiveKitAPISecret)
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "http://localhost:5173", cfg.FrontendURL)
	assert.Empty(t, cfg.RedisURL)
	assert.False(t, cfg.WebhookAllowHeaderCredentials)
	assert.InDelta(t, 50.0, cfg.WebhookRateLimit, 0)
	assert.Equal(t, 100, cfg.WebhookRateBurst)
	assert.Equal(t, 1000, cfg.MaxStreamConnections)
	assert.Equal(t, 50, cfg.MaxStreamsPerIP)
	assert.InDelta(t, 5.0, cfg.StreamConnectRate, 0)
	assert.Equal(t, 10, cfg.StreamConnectBurst)
	assert.Equal(t, 64, cfg.StreamQueueDepth)
	assert.Equal(t, 10*time.Second, cfg.StreamWriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, cfg.EvictionInterval)
	assert.Equal(t, 24*time.Hour, cfg.MaxConnectionAge)
	assert.Equal(t, 5*time.Minute, cfg.MaxIdleTime)
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "production")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("MAX_STREAM_CONNECTIONS", "25")
	t.Setenv("HEARTBEAT_INTERVAL", "10s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.AppEnv)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "redis://localhost:6379/1", cfg.RedisURL)
	assert.Equal(t, 25, cfg.MaxStreamConnections)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
}

func TestLoad_HeaderCredentialsWithoutStaticPair(t *testing.T) {
	t.Setenv("LIVEKIT_API_KEY", "")
	t.Setenv("LIVEKIT_API_SECRET", "")
	t.Setenv("WEBHOOK_ALLOW_HEADER_CREDENTIALS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.WebhookAllowHeaderCredentials)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"no credentials at all", map[string]string{"LIVEKIT_API_KEY": "", "LIVEKIT_API_SECRET": ""}, "LIVEKIT_API_KEY is required unless WEBHOOK_ALLOW_HEADER_CREDENTIALS is enabled"},
		{"key without secret", map[string]string{"LIVEKIT_API_SECRET": ""}, "LIVEKIT_API_KEY and LIVEKIT_API_SECRET must be set together"},
		{"secret without key", map[string]string{"LIVEKIT_API_KEY": ""}, "LIVEKIT_API_KEY and LIVEKIT_API_SECRET must be set together"},
		{"bad redis scheme", map[string]string{"REDIS_URL": "http://localhost:6379"}, "REDIS_URL must use redis:// or rediss://"},
		{"zero capacity", map[string]string{"MAX_STREAM_CONNECTIONS": "0"}, "MAX_STREAM_CONNECTIONS must be positive"},
		{"negative queue depth", map[string]string{"STREAM_QUEUE_DEPTH": "-1"}, "STREAM_QUEUE_DEPTH must be positive"},
		{"zero webhook rate", map[string]string{"WEBHOOK_RATE_LIMIT": "0"}, "WEBHOOK_RATE_LIMIT and STREAM_CONNECT_RATE must be positive"},
		{"zero write timeout", map[string]string{"STREAM_WRITE_TIMEOUT": "0s"}, "STREAM_WRITE_TIMEOUT must be positive"},
		{"heartbeat slower than idle window", map[string]string{"HEARTBEAT_INTERVAL": "10m"}, "HEARTBEAT_INTERVAL (10m0s) must be shorter than MAX_IDLE_TIME (5m0s)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
