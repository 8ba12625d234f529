// Package domain defines the envelope wire format and the contracts shared by
// the webhook ingestor, the stream registry and the stream client.
//
// No transport code lives here. Interfaces such as EventPublisher and
// CacheInvalidator are implemented in internal/broadcast and internal/adapter.
package domain
