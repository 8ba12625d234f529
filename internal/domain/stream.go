package domain

import (
	"context"
	"time"
)

// EventPublisher hands an envelope to every subscriber reachable from this process.
type EventPublisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// CacheInvalidator is the external collaborator that drops cached views
// affected by an event.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, keys []string) error
}

// Stats is a point-in-time view of registry counters.
type Stats struct {
	TotalConnections  int64
	ActiveConnections int
	MessagesSent      int64
	ErrorCount        int64
	StartTime         time.Time
	MessagesPerSecond float64
}
