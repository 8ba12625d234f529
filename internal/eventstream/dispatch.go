package eventstream

import (
	"context"

	"github.com/pscheid92/roomstream/internal/domain"
)

// Dispatcher receives every non-duplicate domain envelope in the advertised set.
type Dispatcher interface {
	Dispatch(ctx context.Context, env domain.Envelope) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, env domain.Envelope) error

func (f DispatcherFunc) Dispatch(ctx context.Context, env domain.Envelope) error {
	return f(ctx, env)
}

// CacheDispatcher invalidates the cached views an event affects.
type CacheDispatcher struct {
	invalidator domain.CacheInvalidator
}

func NewCacheDispatcher(invalidator domain.CacheInvalidator) *CacheDispatcher {
	return &CacheDispatcher{invalidator: invalidator}
}

func (d *CacheDispatcher) Dispatch(ctx context.Context, env domain.Envelope) error {
	keys := InvalidationKeys(env)
	if len(keys) == 0 {
		return nil
	}
	return d.invalidator.Invalidate(ctx, keys)
}

// InvalidationKeys returns the cache keys made stale by env, in invalidation order.
func InvalidationKeys(env domain.Envelope) []string {
	room := env.RoomName()

	switch env.Event {
	case domain.EventRoomStarted, domain.EventRoomFinished:
		return []string{"rooms"}
	case domain.EventParticipantJoined, domain.EventParticipantLeft:
		if room == "" {
			return []string{"rooms"}
		}
		return []string{"rooms:" + room, "participants:" + room, "rooms"}
	case domain.EventTrackPublished, domain.EventTrackUnpublished:
		if room == "" {
			return nil
		}
		return []string{"participants:" + room, "rooms:" + room}
	default:
		return nil
	}
}
