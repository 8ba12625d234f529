package livekit

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/roomstream/internal/domain"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey    = "APIkey123"
	testAPISecret = "s3cr3t-s3cr3t-s3cr3t-s3cr3t-s3cr3t"
)

var (
	testNow   = time.Date(2024, 11, 14, 22, 13, 20, 0, time.UTC)
	testCreds = Credentials{APIKey: testAPIKey, APISecret: testAPISecret}
)

func testClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(testNow)
}

type tokenOption func(*webhookClaims)

func withIssuer(iss string) tokenOption {
	return func(c *webhookClaims) { c.Issuer = iss }
}

func withExpiry(at time.Time) tokenOption {
	return func(c *webhookClaims) { c.ExpiresAt = jwt.NewNumericDate(at) }
}

func withBodyHash(hash string) tokenOption {
	return func(c *webhookClaims) { c.SHA256 = hash }
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// signWebhook builds the Authorization header LiveKit would send for body.
func signWebhook(t *testing.T, body []byte, secret string, opts ...tokenOption) string {
	t.Helper()

	claims := &webhookClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testAPIKey,
			IssuedAt:  jwt.NewNumericDate(testNow),
			NotBefore: jwt.NewNumericDate(testNow),
			ExpiresAt: jwt.NewNumericDate(testNow.Add(5 * time.Minute)),
		},
		SHA256: bodyHash(body),
	}
	for _, opt := range opts {
		opt(claims)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

type mockPublisher struct {
	mu        sync.Mutex
	envelopes []domain.Envelope
	err       error
}

func (m *mockPublisher) Publish(_ context.Context, env domain.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.envelopes = append(m.envelopes, env)
	return nil
}

func (m *mockPublisher) calls() []domain.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Envelope, len(m.envelopes))
	copy(out, m.envelopes)
	return out
}

const roomStartedBody = `{"event":"room_started","id":"EV_abc","createdAt":"1731622400","room":{"sid":"RM_1","name":"standup","emptyTimeout":300,"maxParticipants":20,"creationTime":"1731622399","numParticipants":0}}`
