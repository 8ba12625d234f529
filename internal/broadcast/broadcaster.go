package broadcast

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pscheid92/roomstream/internal/domain"
)

// Broadcaster fans envelopes out to every connection in a Registry.
// It implements domain.EventPublisher for delivery within this process.
type Broadcaster struct {
	registry *Registry
}

func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// Publish is Broadcast under the domain.EventPublisher name.
func (b *Broadcaster) Publish(ctx context.Context, env domain.Envelope) error {
	return b.Broadcast(ctx, env)
}

// Broadcast encodes the envelope once and queues it on every connection.
// Connections that cannot take the frame are unregistered; the others are unaffected.
func (b *Broadcaster) Broadcast(ctx context.Context, env domain.Envelope) error {
	frame, err := EncodeFrame(env)
	if err != nil {
		return err
	}

	delivered, failed, err := b.fanOut(outbound{frame: frame, envelope: true})
	if err != nil {
		return err
	}

	if len(failed) > 0 {
		slog.WarnContext(ctx, "Broadcast completed with failures",
			"event", env.Event,
			"envelope_id", env.ID,
			"succeeded", delivered,
			"failed", len(failed),
		)
	} else {
		slog.DebugContext(ctx, "Broadcast completed", "event", env.Event, "envelope_id", env.ID, "clients", delivered)
	}
	return nil
}

// SendTo queues an envelope on a single connection. It returns false for unknown
// ids and for connections that could not take the frame, which are unregistered.
func (b *Broadcaster) SendTo(id string, env domain.Envelope) bool {
	found := false
	var sendErr error
	err := b.registry.ForEach(func(conn *Connection) {
		if conn.id != id {
			return
		}
		found = true
		sendErr = conn.send(env)
	})
	if err != nil || !found {
		return false
	}

	switch {
	case errors.Is(sendErr, errQueueFull):
		b.registry.unregister(id, ReasonSlowClient, true)
		return false
	case sendErr != nil:
		slog.Error("Failed to send envelope", "connection_id", id, "envelope_id", env.ID, "error", sendErr)
		return false
	}
	return true
}

// Heartbeat queues the heartbeat comment on every connection and returns how
// many connections took it.
func (b *Broadcaster) Heartbeat(ctx context.Context) (int, error) {
	delivered, failed, err := b.fanOut(outbound{frame: heartbeatFrame})
	if err != nil {
		return 0, err
	}
	if len(failed) > 0 {
		slog.WarnContext(ctx, "Heartbeat failed for some clients", "failed", len(failed))
	}
	return delivered, nil
}

func (b *Broadcaster) fanOut(msg outbound) (int, []string, error) {
	delivered := 0
	var failed []string
	err := b.registry.ForEach(func(conn *Connection) {
		if conn.writer.enqueue(msg) {
			delivered++
			return
		}
		failed = append(failed, conn.id)
	})
	if err != nil {
		return 0, nil, err
	}

	for _, id := range failed {
		b.registry.unregister(id, ReasonSlowClient, true)
	}
	return delivered, failed, nil
}
