// Package retry provides bounded retry loops.
//
// Connect is the fixed-delay loop components use during Prepare to establish
// an external connection before declaring themselves ready. WithBackoff is the
// exponential loop used by long-running loops to ride out transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"syscall"
	"time"

	"director/internal/lifecycle"
)

// Sleeper waits for d or until ctx is done. It is replaceable in tests.
type Sleeper func(ctx context.Context, d time.Duration) error

// sleep is the default Sleeper.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectConfig holds the parameters of a connect-with-retry loop.
type ConnectConfig struct {
	// MaxAttempts is the number of retries allowed after the first attempt.
	// The attempt function runs at most MaxAttempts+1 times.
	MaxAttempts int

	// Delay is the constant pause between attempts.
	Delay time.Duration

	// Sleep overrides the pause implementation (tests). Defaults to a timer.
	Sleep Sleeper

	// Logger receives one warning per failed attempt. Defaults to slog.Default().
	Logger *slog.Logger
}

// Connect repeatedly invokes attempt until it succeeds.
//
// After a failure it logs the error, waits cfg.Delay and retries. Once the
// first attempt and cfg.MaxAttempts retries have all failed it returns a
// *lifecycle.PrepareError for component wrapping the last error. The delay is
// constant: Connect bounds startup against fast-recovering local dependencies,
// it is not a general backoff policy.
//
// Cancelling ctx during a pause aborts the loop with a *lifecycle.PrepareError
// wrapping ctx.Err().
//
// Example:
//
//	err := retry.Connect(ctx, "db", retry.ConnectConfig{MaxAttempts: 10, Delay: time.Second},
//	    func(ctx context.Context) error { return pool.PingContext(ctx) })
func Connect(ctx context.Context, component string, cfg ConnectConfig, attempt func(ctx context.Context) error) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wait := cfg.Sleep
	if wait == nil {
		wait = sleep
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	total := maxAttempts + 1

	var lastErr error
	for n := 1; n <= total; n++ {
		lastErr = attempt(ctx)
		if lastErr == nil {
			if n > 1 {
				logger.Info("connected after retry",
					slog.String("component", component),
					slog.Int("attempt", n))
			}
			return nil
		}

		logger.Warn("connection attempt failed",
			slog.String("component", component),
			slog.Int("attempt", n),
			slog.Int("max_attempts", total),
			slog.Duration("delay", cfg.Delay),
			slog.Any("error", lastErr))

		if n == total {
			break
		}
		if err := wait(ctx, cfg.Delay); err != nil {
			return &lifecycle.PrepareError{
				Component: component,
				Err:       fmt.Errorf("connect aborted after %d attempt(s): %w", n, err),
			}
		}
	}

	return &lifecycle.PrepareError{
		Component: component,
		Err:       fmt.Errorf("could not connect after %d attempt(s): %w", total, lastErr),
	}
}

// Config holds the configuration for exponential retry logic.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first one
	MaxAttempts int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration

	// Multiplier is the multiplier for exponential backoff
	Multiplier float64

	// JitterFraction is the fraction of delay to add as random jitter (0.0 to 1.0)
	JitterFraction float64

	// Sleep overrides the pause implementation (tests). Defaults to a timer.
	Sleep Sleeper

	// Logger receives retry warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   1 * time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// PollConfig returns configuration for long-poll loops.
// Polling should recover quickly from a dropped connection but not hammer the
// remote API while it is down.
func PollConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       15 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

// WithBackoff calls fn until it succeeds, backing off exponentially between
// attempts. Errors IsRetryable rejects are returned immediately and unwrapped;
// exhausting cfg.MaxAttempts returns the last error wrapped.
func WithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wait := cfg.Sleep
	if wait == nil {
		wait = sleep
	}

	var err error
	delay := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			if attempt > 1 {
				logger.Debug("operation succeeded after retry", slog.Int("attempt", attempt))
			}
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			return fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, err)
		}

		logger.Warn("operation failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", cfg.MaxAttempts),
			slog.Duration("delay", delay),
			slog.Any("error", err))
		if werr := wait(ctx, delay); werr != nil {
			return fmt.Errorf("retry aborted: %w", werr)
		}
		delay = addJitter(min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay), cfg.JitterFraction)
	}
}

// IsRetryable reports whether err is a transient failure worth retrying:
// network timeouts, refused or reset connections, and HTTP 5xx, 429 and 408
// responses. Context cancellation never is.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch code := httpErr.StatusCode; {
		case code >= 500 && code < 600:
			return true
		case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

var transientErrnos = []error{
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.ETIMEDOUT,
	syscall.ENETUNREACH,
	syscall.EPIPE,
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// addJitter adds random jitter to a duration to prevent thundering herd.
func addJitter(duration time.Duration, jitterFraction float64) time.Duration {
	if jitterFraction <= 0 {
		return duration
	}
	if jitterFraction > 1.0 {
		jitterFraction = 1.0
	}
	// #nosec G404 -- Using math/rand is acceptable for jitter calculation.
	jitter := time.Duration(rand.Float64() * float64(duration) * jitterFraction)
	return duration + jitter
}
