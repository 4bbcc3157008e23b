package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrUpstream     = errors.New("upstream request failed")
	ErrTimeout      = errors.New("operation timed out")
	ErrStreamClosed = errors.New("stream closed")
	ErrInternal     = errors.New("internal error")
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

// UpstreamError describes a failed call to an external API. Keyword is set
// for search fan-out calls, PersonID for per-candidate calls. StatusCode is 0
// when no HTTP response was received or the body could not be decoded.
type UpstreamError struct {
	Operation  string
	Keyword    string
	PersonID   string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	subject := ""
	switch {
	case e.Keyword != "":
		subject = fmt.Sprintf(" keyword=%q", e.Keyword)
	case e.PersonID != "":
		subject = fmt.Sprintf(" person=%s", e.PersonID)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s%s: status %d: %s", e.Operation, subject, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s%s: %v", e.Operation, subject, e.Err)
}

// Unwrap exposes ErrTimeout for deadline failures and ErrUpstream otherwise,
// along with the underlying cause.
func (e *UpstreamError) Unwrap() []error {
	kind := ErrUpstream
	if errors.Is(e.Err, context.DeadlineExceeded) || errors.Is(e.Err, ErrTimeout) {
		kind = ErrTimeout
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}

// IsRetryable reports whether a repeated call could plausibly succeed.
func (e *UpstreamError) IsRetryable() bool {
	if e.StatusCode == 0 {
		return errors.Is(e.Err, context.DeadlineExceeded)
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsServerFault reports whether err says the remote side is unhealthy:
// a 5xx or 429 answer, a timeout, or no usable answer at all. Errors the
// caller caused (4xx, bad input, cancellation) are not server faults, so
// they never count against a circuit breaker shared by other callers.
func IsServerFault(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) && upErr.StatusCode != 0 {
		return upErr.StatusCode >= 500 || upErr.StatusCode == http.StatusTooManyRequests
	}
	var appErr *AppError
	if errors.As(err, &appErr) || errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrUnauthorized) {
		return false
	}
	return true
}

// PublicMessage returns a message that is safe to show a caller. Upstream
// response bodies and wrapped causes are never included.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		subject := upErr.Operation
		if upErr.Keyword != "" {
			subject = fmt.Sprintf("%s for keyword %q", upErr.Operation, upErr.Keyword)
		}
		switch {
		case errors.Is(err, ErrTimeout):
			return subject + " timed out"
		case upErr.StatusCode != 0:
			return fmt.Sprintf("%s failed with status %d", subject, upErr.StatusCode)
		default:
			return subject + " failed"
		}
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return ErrUnauthorized.Error()
	case errors.Is(err, ErrInvalidInput):
		return ErrInvalidInput.Error()
	case errors.Is(err, ErrNotFound):
		return ErrNotFound.Error()
	case errors.Is(err, ErrRateLimited):
		return ErrRateLimited.Error()
	case errors.Is(err, ErrTimeout):
		return ErrTimeout.Error()
	default:
		return ErrInternal.Error()
	}
}
