// Package errors defines the service-wide error taxonomy and its mapping to
// HTTP status codes.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInputTooShort       = errors.New("input too short")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUpstreamRequest     = errors.New("upstream request failed")
	ErrUpstreamSchema      = errors.New("upstream response violates schema")
	ErrInvalidIdeaShape    = errors.New("invalid idea shape")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("already exists")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrInternal            = errors.New("internal error")
	ErrTimeout             = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Wrap attaches a sentinel to cause so that both errors.Is(err, sentinel)
// and errors.Is(err, cause) hold.
func Wrap(sentinel error, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInputTooShort), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInsufficientCredits), errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrUpstreamRequest), errors.Is(err, ErrUpstreamSchema), errors.Is(err, ErrInvalidIdeaShape):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show a caller for err.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	switch {
	case errors.Is(err, ErrInputTooShort):
		return "Content too short (min 150 chars) or empty for effective analysis."
	case errors.Is(err, ErrInsufficientCredits):
		return "Credit limit reached. Upgrade to Pro for unlimited ideas."
	case errors.Is(err, ErrUpstreamRequest):
		return "External API Request Failed."
	case errors.Is(err, ErrUpstreamSchema):
		return "Invalid JSON structure returned by LLM."
	case errors.Is(err, ErrInvalidIdeaShape):
		return "LLM returned ideas in an unexpected shape."
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrUnauthorized):
		return "Invalid authentication credentials"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, ErrInvalidInput):
		return "invalid input"
	default:
		return "An unexpected error occurred."
	}
}
