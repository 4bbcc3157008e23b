package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error wins", New(ErrUpstream, http.StatusTeapot, "x"), http.StatusTeapot},
		{"wrapped unauthorized", fmt.Errorf("resolve: %w", ErrUnauthorized), http.StatusUnauthorized},
		{"invalid input", ErrInvalidInput, http.StatusBadRequest},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests},
		{"not found", ErrNotFound, http.StatusNotFound},
		{"upstream status", &UpstreamError{Operation: "search", Keyword: "go", StatusCode: 500, Body: "boom"}, http.StatusBadGateway},
		{"upstream timeout", &UpstreamError{Operation: "search", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusCode(tt.err); got != tt.want {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUpstreamError_Message(t *testing.T) {
	err := &UpstreamError{Operation: "people_search", Keyword: "engineer", StatusCode: 500, Body: "oops"}
	want := `people_search keyword="engineer": status 500: oops`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, ErrUpstream) {
		t.Error("expected errors.Is(err, ErrUpstream)")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("status failures are not timeouts")
	}
}

func TestUpstreamError_Retryable(t *testing.T) {
	tests := []struct {
		err  *UpstreamError
		want bool
	}{
		{&UpstreamError{StatusCode: 503}, true},
		{&UpstreamError{StatusCode: 429}, true},
		{&UpstreamError{StatusCode: 404}, false},
		{&UpstreamError{Err: context.DeadlineExceeded}, true},
		{&UpstreamError{Err: errors.New("invalid character")}, false},
	}
	for _, tt := range tests {
		if got := tt.err.IsRetryable(); got != tt.want {
			t.Errorf("IsRetryable(%+v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestPublicMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"app message", New(ErrUnauthorized, 401, "invalid or expired session"), "invalid or expired session"},
		{"upstream status hides body", &UpstreamError{Operation: "ats.search", Keyword: "go", StatusCode: 500, Body: "secret stack"}, `ats.search for keyword "go" failed with status 500`},
		{"upstream timeout", &UpstreamError{Operation: "ats.search", Keyword: "go", Err: context.DeadlineExceeded}, `ats.search for keyword "go" timed out`},
		{"wrapped sentinel", fmt.Errorf("x: %w", ErrRateLimited), "rate limit exceeded"},
		{"unknown", errors.New("db password wrong"), "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PublicMessage(tt.err); got != tt.want {
				t.Errorf("PublicMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsServerFault(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"5xx", &UpstreamError{Operation: "openai", StatusCode: 503}, true},
		{"429", &UpstreamError{Operation: "openai", StatusCode: 429}, true},
		{"caller key rejected", &UpstreamError{Operation: "openai", StatusCode: 401}, false},
		{"caller bad request", fmt.Errorf("wrapped: %w", &UpstreamError{Operation: "ats.notes", StatusCode: 404}), false},
		{"deadline", &UpstreamError{Operation: "ats.notes", Err: context.DeadlineExceeded}, true},
		{"caller went away", &UpstreamError{Operation: "ats.notes", Err: context.Canceled}, false},
		{"missing key", New(ErrInvalidInput, http.StatusBadRequest, "no key"), false},
		{"transport", errors.New("dial tcp: connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsServerFault(tt.err); got != tt.want {
				t.Errorf("IsServerFault(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
