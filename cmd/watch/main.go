package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pscheid92/roomstream/internal/adapter/metrics"
	"github.com/pscheid92/roomstream/internal/adapter/redis"
	"github.com/pscheid92/roomstream/internal/domain"
	"github.com/pscheid92/roomstream/internal/eventstream"
	"github.com/pscheid92/roomstream/internal/platform/logging"
)

// logInvalidator stands in for a cache when no Redis is configured.
type logInvalidator struct{}

func (logInvalidator) Invalidate(ctx context.Context, keys []string) error {
	slog.InfoContext(ctx, "Would invalidate cache keys", "keys", keys)
	return nil
}

func main() {
	var (
		streamURL        = flag.String("url", envOr("STREAM_URL", "http://localhost:8080/api/events"), "Event stream URL (or set STREAM_URL env)")
		redisURL         = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL for cache invalidation (or set REDIS_URL env)")
		logLevel         = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		logFormat        = flag.String("log-format", "text", "Log format (text, json)")
		maxAttempts      = flag.Int("max-attempts", 10, "Reconnect attempts before giving up")
		heartbeatTimeout = flag.Duration("heartbeat-timeout", 60*time.Second, "Reconnect when the stream is silent this long")
		follow           = flag.Bool("follow-invalidations", false, "Log invalidations published by any watcher (requires --redis)")
	)
	flag.Parse()

	if _, err := url.ParseRequestURI(*streamURL); err != nil {
		log.Fatalf("Invalid stream URL %q: %v", *streamURL, err)
	}

	logging.InitLogger(*logLevel, *logFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var invalidator domain.CacheInvalidator = logInvalidator{}
	if *redisURL != "" {
		redisMetrics := metrics.NewRedisMetrics(metrics.NewRegistry())
		rdb, err := redis.NewClient(ctx, *redisURL, redisMetrics)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer func() { _ = rdb.Close() }()
		slog.Info("Connected to Redis", "url", redactURL(*redisURL))

		invalidator = redis.NewCacheInvalidator(rdb, redisMetrics)
		if *follow {
			go redis.SubscribeInvalidations(ctx, rdb, func(inv redis.Invalidation) {
				slog.Info("Cache invalidation published", "keys", inv.Keys)
			})
		}
	}

	client := eventstream.NewClient(eventstream.Options{
		URL:              *streamURL,
		Dispatcher:       eventstream.NewCacheDispatcher(invalidator),
		MaxAttempts:      *maxAttempts,
		HeartbeatTimeout: *heartbeatTimeout,
		OnStateChange: func(s eventstream.State) {
			slog.Info("Stream state changed", "state", s)
		},
	})

	// SIGHUP forces a fresh connection, also after the client has given up.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-hup:
				slog.Info("Manual reconnect requested")
				client.ManualReconnect()
			case <-ctx.Done():
				return
			}
		}
	}()

	slog.Info("Watching event stream", "url", *streamURL)
	if err := client.Run(ctx); err != nil {
		log.Fatalf("Event stream stopped: %v", err)
	}
	slog.Info("Watcher stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}
