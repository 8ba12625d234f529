package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`
	FrontendURL string `env:"FRONTEND_URL" default:"http://localhost:5173"`
	RedisURL    string `env:"REDIS_URL"`

	LiveKitAPIKey                 string  `env:"LIVEKIT_API_KEY"`
	LiveKitAPISecret              string  `env:"LIVEKIT_API_SECRET"`
	WebhookAllowHeaderCredentials bool    `env:"WEBHOOK_ALLOW_HEADER_CREDENTIALS" default:"false"`
	WebhookRateLimit              float64 `env:"WEBHOOK_RATE_LIMIT" default:"50"`
	WebhookRateBurst              int     `env:"WEBHOOK_RATE_BURST" default:"100"`

	MaxStreamConnections int           `env:"MAX_STREAM_CONNECTIONS" default:"1000"`
	MaxStreamsPerIP      int           `env:"MAX_STREAMS_PER_IP" default:"50"`
	StreamConnectRate    float64       `env:"STREAM_CONNECT_RATE" default:"5"`
	StreamConnectBurst   int           `env:"STREAM_CONNECT_BURST" default:"10"`
	StreamQueueDepth     int           `env:"STREAM_QUEUE_DEPTH" default:"64"`
	StreamWriteTimeout   time.Duration `env:"STREAM_WRITE_TIMEOUT" default:"10s"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	EvictionInterval  time.Duration `env:"EVICTION_INTERVAL" default:"60s"`
	MaxConnectionAge  time.Duration `env:"MAX_CONNECTION_AGE" default:"24h"`
	MaxIdleTime       time.Duration `env:"MAX_IDLE_TIME" default:"5m"`
}

// IsDevelopment reports whether development-only routes should be served.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if (cfg.LiveKitAPIKey == "") != (cfg.LiveKitAPISecret == "") {
		return errors.New("LIVEKIT_API_KEY and LIVEKIT_API_SECRET must be set together")
	}
	if cfg.LiveKitAPIKey == "" && !cfg.WebhookAllowHeaderCredentials {
		return errors.New("LIVEKIT_API_KEY is required unless WEBHOOK_ALLOW_HEADER_CREDENTIALS is enabled")
	}

	if cfg.RedisURL != "" {
		u, err := url.Parse(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("REDIS_URL is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("REDIS_URL must use redis:// or rediss://, got %q", u.Scheme)
		}
	}

	positive := map[string]int{
		"MAX_STREAM_CONNECTIONS": cfg.MaxStreamConnections,
		"MAX_STREAMS_PER_IP":     cfg.MaxStreamsPerIP,
		"STREAM_CONNECT_BURST":   cfg.StreamConnectBurst,
		"STREAM_QUEUE_DEPTH":     cfg.StreamQueueDepth,
		"WEBHOOK_RATE_BURST":     cfg.WebhookRateBurst,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}

	if cfg.WebhookRateLimit <= 0 || cfg.StreamConnectRate <= 0 {
		return errors.New("WEBHOOK_RATE_LIMIT and STREAM_CONNECT_RATE must be positive")
	}

	durations := map[string]time.Duration{
		"STREAM_WRITE_TIMEOUT": cfg.StreamWriteTimeout,
		"HEARTBEAT_INTERVAL":   cfg.HeartbeatInterval,
		"EVICTION_INTERVAL":    cfg.EvictionInterval,
		"MAX_CONNECTION_AGE":   cfg.MaxConnectionAge,
		"MAX_IDLE_TIME":        cfg.MaxIdleTime,
	}
	for name, value := range durations {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, value)
		}
	}

	// A healthy stream must see a heartbeat before it can be evicted as idle.
	if cfg.HeartbeatInterval >= cfg.MaxIdleTime {
		return fmt.Errorf("HEARTBEAT_INTERVAL (%s) must be shorter than MAX_IDLE_TIME (%s)", cfg.HeartbeatInterval, cfg.MaxIdleTime)
	}

	return nil
}
