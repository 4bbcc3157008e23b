// Package resilience provides fault-tolerance primitives: circuit breakers
// built on sony/gobreaker, exponential-backoff retry, and a context-based
// timeout wrapper.
package resilience

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig controls failure thresholds and recovery timing.
type CircuitBreakerConfig struct {
	MinRequests   uint32
	FailureRatio  float64
	OpenTimeout   time.Duration
	HalfOpenCalls uint32
	// IsFailure decides whether an error counts against the breaker.
	// Defaults to every non-nil error.
	IsFailure func(err error) bool
	// OnStateChange observes transitions, e.g. to export a gauge.
	OnStateChange func(name string, state float64)
}

func defaultCBConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MinRequests:   10,
		FailureRatio:  0.5,
		OpenTimeout:   30 * time.Second,
		HalfOpenCalls: 2,
	}
}

// CircuitBreaker trips open when the failure ratio over a window of at least
// MinRequests calls reaches FailureRatio. After OpenTimeout it lets
// HalfOpenCalls trial calls through.
type CircuitBreaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[any]
}

// NewCircuitBreaker creates a CircuitBreaker with the given config, filling
// in defaults for zero values.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	defaults := defaultCBConfig()
	if cfg.MinRequests == 0 {
		cfg.MinRequests = defaults.MinRequests
	}
	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		cfg.FailureRatio = defaults.FailureRatio
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaults.OpenTimeout
	}
	if cfg.HalfOpenCalls == 0 {
		cfg.HalfOpenCalls = defaults.HalfOpenCalls
	}
	logger := slog.Default().With("component", "circuit-breaker", "name", name)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenCalls,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if cfg.IsFailure != nil {
				return !cfg.IsFailure(err)
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit state change", "from", from.String(), "to", to.String())
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, stateValue(to))
			}
		},
	}
	return &CircuitBreaker{
		name: name,
		cb:   gobreaker.NewCircuitBreaker[any](settings),
	}
}

// Execute runs fn if the circuit allows it, recording success or failure.
// Rejections wrap ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	_, err := cb.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrCircuitOpen, err)
	}
	return err
}

// State returns the breaker state name (closed, half-open, open).
func (cb *CircuitBreaker) State() string {
	return cb.cb.State().String()
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
