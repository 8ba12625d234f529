package eventpublisher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pscheid92/roomstream/internal/domain"
)

// EventPublisher implements domain.EventPublisher by composing the cross-instance
// fan-out with the local broadcaster. Envelopes normally travel through the
// fan-out, which delivers them back to this instance as well. When the fan-out
// fails the envelope is delivered to local streams only.
type EventPublisher struct {
	fanout domain.EventPublisher
	local  domain.EventPublisher
}

func New(fanout, local domain.EventPublisher) *EventPublisher {
	return &EventPublisher{fanout: fanout, local: local}
}

func (ep *EventPublisher) Publish(ctx context.Context, env domain.Envelope) error {
	err := ep.fanout.Publish(ctx, env)
	if err == nil {
		return nil
	}

	slog.WarnContext(ctx, "Fan-out publish failed, delivering locally", "envelope_id", env.ID, "event", env.Event, "error", err)
	if err := ep.local.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish locally: %w", err)
	}
	return nil
}
