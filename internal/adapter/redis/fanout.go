package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pscheid92/roomstream/internal/adapter/metrics"
	"github.com/pscheid92/roomstream/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const eventsChannel = "roomstream:events"

// FanoutPublisher publishes envelopes to every instance through Redis
// pub/sub. It implements domain.EventPublisher.
type FanoutPublisher struct {
	rdb     *goredis.Client
	metrics *metrics.RedisMetrics
}

var _ domain.EventPublisher = (*FanoutPublisher)(nil)

func NewFanoutPublisher(rdb *goredis.Client, m *metrics.RedisMetrics) *FanoutPublisher {
	return &FanoutPublisher{rdb: rdb, metrics: m}
}

func (p *FanoutPublisher) Publish(ctx context.Context, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		p.metrics.FanoutErrors.WithLabelValues("encode").Inc()
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := p.rdb.Publish(ctx, eventsChannel, data).Err(); err != nil {
		p.metrics.FanoutErrors.WithLabelValues("publish").Inc()
		return fmt.Errorf("failed to publish envelope %s: %w", env.ID, err)
	}

	p.metrics.FanoutPublished.Inc()
	return nil
}

// FanoutSubscriber relays envelopes from the fan-out channel to the local
// publisher, normally the Broadcaster of this instance.
type FanoutSubscriber struct {
	rdb     *goredis.Client
	local   domain.EventPublisher
	metrics *metrics.RedisMetrics
}

func NewFanoutSubscriber(rdb *goredis.Client, local domain.EventPublisher, m *metrics.RedisMetrics) *FanoutSubscriber {
	return &FanoutSubscriber{rdb: rdb, local: local, metrics: m}
}

// Start blocks until ctx is cancelled or the subscription is closed.
func (s *FanoutSubscriber) Start(ctx context.Context) {
	pubsub := s.rdb.Subscribe(ctx, eventsChannel)
	defer func() { _ = pubsub.Close() }()

	slog.InfoContext(ctx, "Fan-out subscriber started", "channel", eventsChannel)

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				return
			}
			s.handleMessage(ctx, msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (s *FanoutSubscriber) handleMessage(ctx context.Context, payload string) {
	var env domain.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		s.metrics.FanoutErrors.WithLabelValues("decode").Inc()
		slog.WarnContext(ctx, "Dropping undecodable fan-out message", "error", err)
		return
	}
	s.metrics.FanoutReceived.Inc()

	if err := s.local.Publish(ctx, env); err != nil {
		s.metrics.FanoutErrors.WithLabelValues("deliver").Inc()
		slog.WarnContext(ctx, "Failed to deliver fan-out envelope", "envelope_id", env.ID, "error", err)
		return
	}

	slog.DebugContext(ctx, "Fan-out envelope delivered", "envelope_id", env.ID, "event", env.Event)
}
