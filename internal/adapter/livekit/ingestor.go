package livekit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/roomstream/internal/domain"
)

// Headers carrying per-request credentials when header credentials are enabled.
const (
	HeaderAPIKey    = "X-LiveKit-Key"
	HeaderAPISecret = "X-LiveKit-Secret"
)

// Ingestor verifies LiveKit webhooks, maps them to envelopes and publishes them.
type Ingestor struct {
	verifier         *Verifier
	publisher        domain.EventPublisher
	clock            clockwork.Clock
	static           Credentials
	allowHeaderCreds bool
}

func NewIngestor(publisher domain.EventPublisher, clock clockwork.Clock, static Credentials, allowHeaderCreds bool) *Ingestor {
	return &Ingestor{
		verifier:         NewVerifier(clock),
		publisher:        publisher,
		clock:            clock,
		static:           static,
		allowHeaderCreds: allowHeaderCreds,
	}
}

// ResolveCredentials picks the key pair used to verify a request. Static
// credentials always win; request headers are consulted only when enabled
// and no static pair is configured.
func (i *Ingestor) ResolveCredentials(h http.Header) Credentials {
	if i.static.Valid() {
		return i.static
	}
	if !i.allowHeaderCreds {
		return Credentials{}
	}
	return Credentials{
		APIKey:    h.Get(HeaderAPIKey),
		APISecret: h.Get(HeaderAPISecret),
	}
}

// Ingest verifies rawBody against authHeader, maps it and publishes the
// resulting envelope. Nothing is published unless verification succeeds.
func (i *Ingestor) Ingest(ctx context.Context, rawBody []byte, authHeader string, creds Credentials) (domain.Envelope, error) {
	if err := i.verifier.Verify(rawBody, authHeader, creds); err != nil {
		return domain.Envelope{}, err
	}

	var evt webhookEvent
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		return domain.Envelope{}, fmt.Errorf("%w: %w", domain.ErrMalformedWebhook, err)
	}
	if evt.Event == "" {
		return domain.Envelope{}, fmt.Errorf("%w: missing event name", domain.ErrMalformedWebhook)
	}

	env := toEnvelope(evt, i.clock.Now())
	if err := i.publisher.Publish(ctx, env); err != nil {
		return env, fmt.Errorf("publish %s: %w", env.Event, err)
	}
	return env, nil
}
