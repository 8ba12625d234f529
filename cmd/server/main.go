package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/roomstream/internal/adapter/eventpublisher"
	"github.com/pscheid92/roomstream/internal/adapter/httpserver"
	"github.com/pscheid92/roomstream/internal/adapter/livekit"
	"github.com/pscheid92/roomstream/internal/adapter/metrics"
	"github.com/pscheid92/roomstream/internal/adapter/redis"
	"github.com/pscheid92/roomstream/internal/broadcast"
	"github.com/pscheid92/roomstream/internal/domain"
	"github.com/pscheid92/roomstream/internal/platform/config"
	"github.com/pscheid92/roomstream/internal/platform/logging"
	"github.com/pscheid92/roomstream/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

type streamStack struct {
	registry    *broadcast.Registry
	broadcaster *broadcast.Broadcaster
	scheduler   *broadcast.Scheduler
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupStreams(cfg *config.Config, clock clockwork.Clock, streamMetrics *metrics.StreamMetrics) streamStack {
	registry := broadcast.NewRegistry(broadcast.Options{
		Capacity:      cfg.MaxStreamConnections,
		QueueDepth:    cfg.StreamQueueDepth,
		WriteTimeout:  cfg.StreamWriteTimeout,
		ServerVersion: domain.ProtocolVersion,
		Clock:         clock,
		Metrics:       streamMetrics,
	})
	broadcaster := broadcast.NewBroadcaster(registry)
	scheduler := broadcast.NewScheduler(registry, broadcaster, clock, streamMetrics, broadcast.SchedulerConfig{
		HeartbeatInterval: cfg.HeartbeatInterval,
		EvictionInterval:  cfg.EvictionInterval,
		MaxConnectionAge:  cfg.MaxConnectionAge,
		MaxIdleTime:       cfg.MaxIdleTime,
	})

	return streamStack{registry: registry, broadcaster: broadcaster, scheduler: scheduler}
}

func setupRedis(ctx context.Context, cfg *config.Config, m *metrics.RedisMetrics) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL, m)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *httpserver.Server, streams streamStack, stopBackground context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		stopBackground()
		streams.scheduler.Stop()

		// Streams must be closed before Shutdown, which waits for active handlers.
		streams.registry.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Version, "protocol", domain.ProtocolVersion)

	promRegistry := metrics.NewRegistry()
	streamMetrics := metrics.NewStreamMetrics(promRegistry)
	webhookMetrics := metrics.NewWebhookMetrics(promRegistry)

	backgroundCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	streams := setupStreams(cfg, clock, streamMetrics)
	streams.scheduler.Start(backgroundCtx)

	// Without Redis the webhook publishes straight to local streams. With Redis
	// every instance, this one included, receives the event through the fan-out channel.
	var publisher domain.EventPublisher = streams.broadcaster
	var healthChecks []httpserver.HealthCheck
	if cfg.RedisURL != "" {
		redisMetrics := metrics.NewRedisMetrics(promRegistry)
		redisClient := setupRedis(backgroundCtx, cfg, redisMetrics)
		defer func() { _ = redisClient.Close() }()

		publisher = eventpublisher.New(redis.NewFanoutPublisher(redisClient, redisMetrics), streams.broadcaster)
		go redis.NewFanoutSubscriber(redisClient, streams.broadcaster, redisMetrics).Start(backgroundCtx)

		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	ingestor := livekit.NewIngestor(publisher, clock, livekit.Credentials{
		APIKey:    cfg.LiveKitAPIKey,
		APISecret: cfg.LiveKitAPISecret,
	}, cfg.WebhookAllowHeaderCredentials)
	webhookHandler := livekit.NewWebhookHandler(ingestor, webhookMetrics)

	srv := httpserver.NewServer(cfg, clock, streams.registry, webhookHandler.Handle, promRegistry, streamMetrics, healthChecks)

	done := runGracefulShutdown(srv, streams, stopBackground)

	if err := srv.Start(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
