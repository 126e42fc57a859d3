package httpclient

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"director/internal/observability/metrics"
	"director/internal/resilience/circuitbreaker"
)

// errServerFailure marks a 5xx response as a breaker failure while the
// response itself is still returned to the caller.
var errServerFailure = errors.New("server error response")

// breakerTransport routes each host through its own circuit breaker.
// Transport errors and 5xx responses count as failures.
type breakerTransport struct {
	name   string
	base   http.RoundTripper
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.CircuitBreaker
}

func newBreakerTransport(name string, base http.RoundTripper, logger *slog.Logger) *breakerTransport {
	return &breakerTransport{
		name:     name,
		base:     base,
		logger:   logger,
		breakers: make(map[string]*circuitbreaker.CircuitBreaker),
	}
}

func (t *breakerTransport) breaker(host string) *circuitbreaker.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, ok := t.breakers[host]
	if !ok {
		cfg := circuitbreaker.OutboundHTTPConfig(t.name + ":" + host)
		cfg.Logger = t.logger
		// A caller giving up says nothing about the remote host.
		cfg.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
		cb = circuitbreaker.New(cfg)
		t.breakers[host] = cb
	}
	return cb
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	result, err := t.breaker(req.URL.Host).Execute(func() (interface{}, error) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, errServerFailure
		}
		return resp, nil
	})

	resp, _ := result.(*http.Response)
	if errors.Is(err, errServerFailure) {
		return resp, nil
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		t.logger.Warn("outbound request rejected by open circuit",
			slog.String("host", req.URL.Host))
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// metricsTransport records outbound request counts and latency per host.
type metricsTransport struct {
	base http.RoundTripper
}

func (t *metricsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)

	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	} else if errors.Is(err, circuitbreaker.ErrOpen) {
		status = "circuit_open"
	}
	metrics.RecordClientRequest(req.URL.Host, status, time.Since(start))
	return resp, err
}
