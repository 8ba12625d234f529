package livekit

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/roomstream/internal/domain"
)

const tokenLeeway = time.Minute

// Credentials is a LiveKit API key and secret pair.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Valid reports whether both halves of the pair are set.
func (c Credentials) Valid() bool {
	return c.APIKey != "" && c.APISecret != ""
}

type webhookClaims struct {
	jwt.RegisteredClaims
	SHA256 string `json:"sha256"`
}

// Verifier checks the signed token LiveKit sends in the Authorization header.
// The token is HS256 signed with the API secret, issued by the API key, and
// carries the base64 SHA-256 of the raw body in its sha256 claim.
type Verifier struct {
	clock clockwork.Clock
}

func NewVerifier(clock clockwork.Clock) *Verifier {
	return &Verifier{clock: clock}
}

// Verify returns a *domain.VerificationError for any failure.
func (v *Verifier) Verify(rawBody []byte, authHeader string, creds Credentials) error {
	token := strings.TrimSpace(authHeader)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return &domain.VerificationError{Reason: "missing authorization header"}
	}
	if !creds.Valid() {
		return &domain.VerificationError{Reason: "missing credentials"}
	}

	claims := &webhookClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return []byte(creds.APISecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(creds.APIKey),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithLeeway(tokenLeeway),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return &domain.VerificationError{Reason: "issuer mismatch", Cause: err}
	case err != nil:
		return &domain.VerificationError{Reason: "invalid token", Cause: err}
	}

	if !bodyHashMatches(rawBody, claims.SHA256) {
		return &domain.VerificationError{Reason: "body hash mismatch"}
	}
	return nil
}

func bodyHashMatches(rawBody []byte, claimed string) bool {
	if claimed == "" {
		return false
	}
	sum := sha256.Sum256(rawBody)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding} {
		if subtle.ConstantTimeCompare([]byte(enc.EncodeToString(sum[:])), []byte(claimed)) == 1 {
			return true
		}
	}
	return false
}
