package livekit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/roomstream/internal/adapter/metrics"
	"github.com/pscheid92/roomstream/internal/domain"
	apperrors "github.com/pscheid92/roomstream/internal/platform/errors"
)

const (
	maxWebhookBodyBytes      = 1 << 20
	webhookProcessingTimeout = 5 * time.Second
)

// Result labels for webhook_requests_total.
const (
	resultAccepted  = "accepted"
	resultRejected  = "rejected"
	resultMalformed = "malformed"
	resultFailed    = "failed"
)

type WebhookHandler struct {
	ingestor *Ingestor
	metrics  *metrics.WebhookMetrics
}

func NewWebhookHandler(ingestor *Ingestor, m *metrics.WebhookMetrics) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor, metrics: m}
}

// Handle serves POST /api/webhooks/livekit. The body is read unmodified so the
// signature covers exactly the bytes LiveKit sent.
func (h *WebhookHandler) Handle(c echo.Context) error {
	start := time.Now()
	defer func() { h.metrics.ProcessingDuration.Observe(time.Since(start).Seconds()) }()

	req := c.Request()
	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBodyBytes+1))
	if err != nil {
		h.metrics.Requests.WithLabelValues(resultMalformed).Inc()
		return apperrors.ValidationError("failed to read webhook body")
	}
	if len(body) > maxWebhookBodyBytes {
		h.metrics.Requests.WithLabelValues(resultMalformed).Inc()
		return apperrors.ValidationError("webhook body too large")
	}

	ctx, cancel := context.WithTimeout(req.Context(), webhookProcessingTimeout)
	defer cancel()

	creds := h.ingestor.ResolveCredentials(req.Header)
	env, err := h.ingestor.Ingest(ctx, body, req.Header.Get(echo.HeaderAuthorization), creds)

	var verr *domain.VerificationError
	switch {
	case errors.As(err, &verr):
		h.metrics.Requests.WithLabelValues(resultRejected).Inc()
		slog.WarnContext(ctx, "Rejected webhook", "remote_ip", c.RealIP(), "reason", verr.Reason)
		return apperrors.UnauthorizedError("webhook verification failed", err).WithField("reason", verr.Reason)
	case errors.Is(err, domain.ErrMalformedWebhook):
		h.metrics.Requests.WithLabelValues(resultMalformed).Inc()
		slog.WarnContext(ctx, "Malformed webhook payload", "remote_ip", c.RealIP(), "error", err)
		return apperrors.ValidationError("malformed webhook payload")
	case err != nil:
		h.metrics.Requests.WithLabelValues(resultFailed).Inc()
		return apperrors.InternalError("failed to publish webhook event", err).WithField("event", env.Event)
	}

	h.metrics.Requests.WithLabelValues(resultAccepted).Inc()
	h.metrics.EventsByName.WithLabelValues(env.Event).Inc()
	slog.InfoContext(ctx, "Webhook received", "event", env.Event, "envelope_id", env.ID, "room", env.RoomName(), "participant", env.ParticipantIdentity())

	return c.String(http.StatusOK, "OK")
}
