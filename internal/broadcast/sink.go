package broadcast

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Sink is the write side of one stream. It is owned by exactly one connection writer.
type Sink interface {
	WriteFrame(frame []byte, deadline time.Time) error
	Close()
}

// ResponseSink writes SSE frames to an http.ResponseWriter.
// Headers are committed on the first write, so a rejected registration can still
// answer with a regular error response.
type ResponseSink struct {
	w          http.ResponseWriter
	controller *http.ResponseController
	headerOnce sync.Once
}

func NewResponseSink(w http.ResponseWriter) *ResponseSink {
	return &ResponseSink{
		w:          w,
		controller: http.NewResponseController(w),
	}
}

func (s *ResponseSink) WriteFrame(frame []byte, deadline time.Time) error {
	s.headerOnce.Do(s.writeHeader)

	if err := s.controller.SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := s.controller.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}

// Close clears the write deadline. The response itself ends when the handler returns.
func (s *ResponseSink) Close() {
	_ = s.controller.SetWriteDeadline(time.Time{})
}

func (s *ResponseSink) writeHeader() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}
