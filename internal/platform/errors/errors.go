// Package errors provides structured HTTP errors with status code mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error for logging and response formatting.
type ErrorType string

const (
	TypeValidation      ErrorType = "validation"        // 400
	TypeUnauthorized    ErrorType = "unauthorized"      // 401
	TypeNotFound        ErrorType = "not_found"         // 404
	TypeConflict        ErrorType = "conflict"          // 409
	TypeTooManyRequests ErrorType = "too_many_requests" // 429
	TypeInternal        ErrorType = "internal"          // 500
	TypeExternal        ErrorType = "external"          // 502
)

// Error represents a structured error with type, message, and context.
// Title replaces the status text in the response when set.
type Error struct {
	Type    ErrorType
	Title   string
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status code for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeUnauthorized:
		return http.StatusUnauthorized
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeTooManyRequests:
		return http.StatusTooManyRequests
	case TypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    t,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// ValidationError creates a new validation error (HTTP 400).
func ValidationError(message string) *Error {
	return newError(TypeValidation, message, nil)
}

// UnauthorizedError creates a new authentication failure (HTTP 401).
func UnauthorizedError(message string, cause error) *Error {
	return newError(TypeUnauthorized, message, cause)
}

// TooManyRequestsError creates a new rate or capacity limit error (HTTP 429).
func TooManyRequestsError(message string, cause error) *Error {
	return newError(TypeTooManyRequests, message, cause)
}

// InternalError creates a new internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

// FromHTTP creates an error whose type follows the given status code.
func FromHTTP(code int, message string, cause error) *Error {
	return newError(FromStatus(code), message, cause)
}

// WithField adds a context field to the error (chainable).
func (e *Error) WithField(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithTitle sets the short error text sent to clients (chainable).
func (e *Error) WithTitle(title string) *Error {
	e.Title = title
	return e
}

// ErrorResponse is the JSON body sent to clients. Error carries the status
// text, Message the detail.
type ErrorResponse struct {
	Error   string    `json:"error"`
	Message string    `json:"message"`
	Type    ErrorType `json:"type"`
}

func (e *Error) ToResponse() ErrorResponse {
	title := e.Title
	if title == "" {
		title = http.StatusText(e.HTTPStatus())
	}
	return ErrorResponse{
		Error:   title,
		Message: e.Message,
		Type:    e.Type,
	}
}

// AsStructuredError converts any error into a structured Error.
// Errors that are not already structured become internal errors.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}
	return InternalError("internal server error", err)
}

// FromStatus maps an HTTP status code to an error type.
func FromStatus(code int) ErrorType {
	switch code {
	case http.StatusBadRequest, http.StatusMethodNotAllowed, http.StatusRequestEntityTooLarge:
		return TypeValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return TypeUnauthorized
	case http.StatusNotFound:
		return TypeNotFound
	case http.StatusConflict:
		return TypeConflict
	case http.StatusTooManyRequests:
		return TypeTooManyRequests
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return TypeExternal
	default:
		return TypeInternal
	}
}
