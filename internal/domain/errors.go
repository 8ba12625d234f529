package domain

import (
	"errors"
	"fmt"
)

var (
	ErrCapacityExceeded = errors.New("stream capacity exceeded")
	ErrWriteFailure     = errors.New("stream write failed")
	ErrVerification     = errors.New("webhook verification failed")
	ErrMalformedWebhook = errors.New("malformed webhook payload")
	ErrProtocolDrift    = errors.New("event outside advertised set")
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
	ErrConnectionClosed = errors.New("connection closed")
)

// CapacityError is returned when the registry refuses a connection.
type CapacityError struct {
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("stream capacity exceeded (limit %d)", e.Limit)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }

// VerificationError describes why an inbound webhook was rejected.
type VerificationError struct {
	Reason string
	Cause  error
}

func (e *VerificationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("webhook verification failed: %s: %v", e.Reason, e.Cause)
	}
	return "webhook verification failed: " + e.Reason
}

func (e *VerificationError) Is(target error) bool { return target == ErrVerification }

func (e *VerificationError) Unwrap() error { return e.Cause }
