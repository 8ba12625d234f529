package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/roomstream/internal/broadcast"
	"github.com/pscheid92/roomstream/internal/domain"
	apperrors "github.com/pscheid92/roomstream/internal/platform/errors"
)

type streamHealthResponse struct {
	Status                 string `json:"status"`
	Connections            int    `json:"connections"`
	TotalConnectionsServed int64  `json:"totalConnectionsServed"`
	MessagesSent           int64  `json:"messagesSent"`
	MessagesPerSecond      string `json:"messagesPerSecond"`
	Errors                 int64  `json:"errors"`
	Timestamp              string `json:"timestamp"`
}

type streamClientsResponse struct {
	Count   int      `json:"count"`
	Clients []string `json:"clients"`
}

// handleStream serves GET /api/events. The handler owns the request until the
// registry has released the connection, so the writer goroutine never touches
// the response after the handler returns.
func (s *Server) handleStream(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()
	ip := c.RealIP()

	if ok, reason := s.limits.Acquire(ip); !ok {
		s.streamMetrics.RejectedConnections.WithLabelValues(string(reason)).Inc()
		slog.WarnContext(ctx, "Stream connection limited", "remote_ip", ip, "reason", reason)
		return s.reject(c, "Too many stream connections from this address. Please try again later.", nil)
	}
	defer s.limits.Release(ip)

	conn, err := s.registry.Register(broadcast.NewResponseSink(c.Response()), broadcast.ConnectionInfo{
		RemoteAddr: ip,
		UserAgent:  req.UserAgent(),
	})
	var capErr *domain.CapacityError
	switch {
	case errors.As(err, &capErr):
		slog.WarnContext(ctx, "Stream connection rejected, registry full", "remote_ip", ip, "limit", capErr.Limit)
		return s.reject(c, "Server connection limit reached. Please try again later.", err)
	case err != nil:
		return apperrors.InternalError("failed to open event stream", err)
	}

	slog.InfoContext(ctx, "Stream client connected", "connection_id", conn.ID(), "remote_ip", ip)

	select {
	case <-conn.Done():
		slog.InfoContext(ctx, "Stream closed by server", "connection_id", conn.ID())
	case <-ctx.Done():
		s.registry.Unregister(conn.ID(), broadcast.ReasonClientClosed)
		<-conn.Done()
		slog.InfoContext(ctx, "Stream client disconnected", "connection_id", conn.ID(), "duration", s.clock.Since(conn.ConnectedAt()))
	}
	return nil
}

// reject answers 429 before any stream frame has been written.
func (s *Server) reject(c echo.Context, message string, cause error) error {
	return HandleError(c, apperrors.TooManyRequestsError(message, cause).WithTitle("Too many connections"))
}

func (s *Server) handleStreamHealth(c echo.Context) error {
	stats := s.registry.Stats()

	response := streamHealthResponse{
		Status:                 "healthy",
		Connections:            stats.ActiveConnections,
		TotalConnectionsServed: stats.TotalConnections,
		MessagesSent:           stats.MessagesSent,
		MessagesPerSecond:      fmt.Sprintf("%.2f", stats.MessagesPerSecond),
		Errors:                 stats.ErrorCount,
		Timestamp:              s.clock.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write stream health response: %w", err)
	}
	return nil
}

func (s *Server) handleStreamClients(c echo.Context) error {
	ids := s.registry.IDs()
	if ids == nil {
		ids = []string{}
	}

	if err := c.JSON(http.StatusOK, streamClientsResponse{Count: len(ids), Clients: ids}); err != nil {
		return fmt.Errorf("failed to write stream clients response: %w", err)
	}
	return nil
}
