// Package circuitbreaker guards outbound calls with github.com/sony/gobreaker.
//
// A breaker trips once enough calls have been seen (MinRequests) and the
// failure ratio reaches FailureThreshold. While open, calls are rejected
// without running and the returned error matches ErrOpen.
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"director/internal/observability/metrics"
)

// ErrOpen is returned (wrapped) when the breaker rejects a call without running it.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds the settings of one breaker.
type Config struct {
	// Name labels logs and the director_circuit_* metrics.
	Name string

	// MaxRequests is the number of trial calls let through while half-open.
	MaxRequests uint32

	// Interval clears the closed-state counts periodically; zero never clears.
	Interval time.Duration

	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration

	// FailureThreshold is the failure ratio (0..1) that trips the breaker.
	FailureThreshold float64

	// MinRequests is the number of calls needed before the ratio is considered.
	MinRequests uint32

	// IsFailure classifies a call's error. Nil counts every non-nil error.
	IsFailure func(err error) bool

	// Logger receives state changes. Nil uses slog.Default().
	Logger *slog.Logger
}

// OutboundHTTPConfig returns the policy used per remote host by the HTTP
// client component.
func OutboundHTTPConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.7,
		MinRequests:      10,
	}
}

// CircuitBreaker is a named gobreaker instance reporting its transitions.
type CircuitBreaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// New builds a breaker from cfg.
func New(cfg Config) *CircuitBreaker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= cfg.MinRequests &&
				float64(c.TotalFailures)/float64(c.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.RecordCircuitTransition(name, to.String(), stateCode(to))
			level := slog.LevelInfo
			if to == gobreaker.StateOpen {
				level = slog.LevelWarn
			}
			logger.Log(context.Background(), level, "circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}
	if cfg.IsFailure != nil {
		settings.IsSuccessful = func(err error) bool { return !cfg.IsFailure(err) }
	}

	metrics.RecordCircuitTransition(cfg.Name, gobreaker.StateClosed.String(), stateCode(gobreaker.StateClosed))
	return &CircuitBreaker{name: cfg.Name, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn unless the breaker is open. A rejection (open, or
// half-open with its trial calls in flight) returns an error matching
// ErrOpen; fn's own error is returned unchanged.
func (b *CircuitBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	out, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &openError{name: b.name, cause: err}
	}
	return out, err
}

// Name returns the breaker name.
func (b *CircuitBreaker) Name() string { return b.name }

// State returns the current state.
func (b *CircuitBreaker) State() gobreaker.State { return b.cb.State() }

// IsOpen reports whether calls are currently rejected outright.
func (b *CircuitBreaker) IsOpen() bool { return b.cb.State() == gobreaker.StateOpen }

func stateCode(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

type openError struct {
	name  string
	cause error
}

func (e *openError) Error() string { return "circuit " + e.name + ": " + e.cause.Error() }

func (e *openError) Is(target error) bool { return target == ErrOpen }

func (e *openError) Unwrap() error { return e.cause }
