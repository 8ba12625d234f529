package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/roomstream/internal/adapter/metrics"
	"github.com/pscheid92/roomstream/internal/platform/correlation"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultEvictionInterval  = 60 * time.Second
	defaultMaxConnectionAge  = 24 * time.Hour
	defaultMaxIdleTime       = 5 * time.Minute
)

// SchedulerConfig holds the heartbeat and eviction timings. Zero values fall back to defaults.
type SchedulerConfig struct {
	HeartbeatInterval time.Duration
	EvictionInterval  time.Duration
	MaxConnectionAge  time.Duration
	MaxIdleTime       time.Duration
}

// Scheduler keeps streams alive with heartbeat comments and evicts connections
// that are too old or idle.
type Scheduler struct {
	registry    *Registry
	broadcaster *Broadcaster
	clock       clockwork.Clock
	metrics     *metrics.StreamMetrics
	cfg         SchedulerConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewScheduler(registry *Registry, broadcaster *Broadcaster, clock clockwork.Clock, m *metrics.StreamMetrics, cfg SchedulerConfig) *Scheduler {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.EvictionInterval <= 0 {
		cfg.EvictionInterval = defaultEvictionInterval
	}
	if cfg.MaxConnectionAge <= 0 {
		cfg.MaxConnectionAge = defaultMaxConnectionAge
	}
	if cfg.MaxIdleTime <= 0 {
		cfg.MaxIdleTime = defaultMaxIdleTime
	}
	if m == nil {
		m = registry.metrics
	}

	return &Scheduler{
		registry:    registry,
		broadcaster: broadcaster,
		clock:       clock,
		metrics:     m,
		cfg:         cfg,
	}
}

// Start launches the heartbeat and eviction loops. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(2)
	go s.loop(ctx, s.cfg.HeartbeatInterval, s.heartbeat)
	go s.loop(ctx, s.cfg.EvictionInterval, s.evict)

	slog.Info("Stream scheduler started",
		"heartbeat_interval", s.cfg.HeartbeatInterval,
		"eviction_interval", s.cfg.EvictionInterval,
	)
}

// Stop cancels both loops and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	slog.Info("Stream scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			tick(correlation.WithID(ctx, correlation.NewID()))
		}
	}
}

func (s *Scheduler) heartbeat(ctx context.Context) {
	delivered, err := s.broadcaster.Heartbeat(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Heartbeat round failed", "error", err)
		return
	}
	s.metrics.Heartbeats.Inc()
	slog.DebugContext(ctx, "Heartbeat sent", "clients", delivered)
}

func (s *Scheduler) evict(ctx context.Context) {
	evicted := s.registry.Evict(s.cfg.MaxConnectionAge, s.cfg.MaxIdleTime)
	for _, e := range evicted {
		slog.InfoContext(ctx, "Evicted stale stream client",
			"connection_id", e.ID,
			"reason", e.Reason,
			"age", e.Age.Round(time.Second),
			"idle", e.Idle.Round(time.Second),
		)
	}
	if len(evicted) > 0 {
		slog.InfoContext(ctx, "Eviction removed stale connections", "count", len(evicted))
	}
}
