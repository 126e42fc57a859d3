// Package httpclient provides the outbound HTTP client component.
//
// Every request sent through a Client gets a client span whose context is
// propagated in the request headers, is counted in the outbound request
// metrics and, when enabled, passes through a per-host circuit breaker.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"director/internal/observability/tracing"
)

// DefaultMaxResponseBytes bounds the body Post reads before decoding.
const DefaultMaxResponseBytes = 10 << 20

// ErrResponseTooLarge is returned by Post when the body exceeds MaxResponseBytes.
var ErrResponseTooLarge = errors.New("response body too large")

// Config holds client settings.
type Config struct {
	// Timeout bounds a whole request including reading the body.
	Timeout time.Duration
	// Breaker enables a circuit breaker per remote host.
	Breaker bool
	// MaxResponseBytes bounds the body read by Post. Defaults to DefaultMaxResponseBytes.
	MaxResponseBytes int64
	// UserAgent is sent when the request has none.
	UserAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseTransport replaces the network transport (tests).
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.base = rt }
}

// Client is a lifecycle component owning a pooled http.Client.
type Client struct {
	name   string
	cfg    Config
	tp     trace.TracerProvider
	tracer trace.Tracer
	logger *slog.Logger
	base   http.RoundTripper

	mu     sync.RWMutex
	traced *http.Client // spans opened by tracing.Transport
	plain  *http.Client // spans opened by Post itself
}

// New creates a client component named name.
func New(name string, cfg Config, tp trace.TracerProvider, logger *slog.Logger, opts ...Option) *Client {
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	c := &Client{
		name:   name,
		cfg:    cfg,
		tp:     tp,
		tracer: tp.Tracer("director/internal/infra/httpclient"),
		logger: logger.With(slog.String("component", name)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Prepare builds the transport chain.
func (c *Client) Prepare(ctx context.Context) error {
	base := c.base
	if base == nil {
		base = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		}
	}

	var rt http.RoundTripper = &userAgentTransport{base: base, userAgent: c.cfg.UserAgent}
	if c.cfg.Breaker {
		rt = newBreakerTransport(c.name, rt, c.logger)
	}
	rt = &metricsTransport{base: rt}

	c.mu.Lock()
	c.plain = &http.Client{Transport: rt, Timeout: c.cfg.Timeout}
	c.traced = &http.Client{Transport: tracing.NewTransport(rt, c.tp), Timeout: c.cfg.Timeout}
	c.mu.Unlock()

	c.logger.Info("http client prepared",
		slog.Duration("timeout", c.cfg.Timeout),
		slog.Bool("breaker", c.cfg.Breaker))
	return nil
}

// Start does nothing; the client is usable once prepared.
func (c *Client) Start(ctx context.Context) error {
	return nil
}

// Stop releases idle keep-alive connections.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.traced != nil {
		c.traced.CloseIdleConnections()
	}
	return nil
}

func (c *Client) clients() (traced, plain *http.Client, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.traced == nil {
		return nil, nil, fmt.Errorf("http client %s not prepared", c.name)
	}
	return c.traced, c.plain, nil
}

// Do sends req with a client span customized by params. The span ends when
// the caller closes or drains the response body.
func (c *Client) Do(ctx context.Context, params tracing.SpanParams, req *http.Request) (*http.Response, error) {
	traced, _, err := c.clients()
	if err != nil {
		return nil, err
	}
	return traced.Do(req.WithContext(tracing.WithSpanParams(ctx, params)))
}

// Post sends body to url and hands the fully read response to dec. The
// client span stays open while dec runs, so spans dec opens from its context
// nest under the request.
//
// Example:
//
//	out, err := client.Post(ctx, tracing.SpanParams{Name: "charge", Endpoint: "billing"},
//	    httpclient.JSON[ChargeResult](), billingURL+"/charges", payload, nil)
func (c *Client) Post(ctx context.Context, params tracing.SpanParams, dec ResponseDecoder, url string, body []byte, headers http.Header) (any, error) {
	_, plain, err := c.clients()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	ctx, span := c.tracer.Start(ctx, tracing.ClientSpanName(req, params),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracing.ClientAttributes(req, params)...))
	defer span.End()

	req = req.WithContext(ctx)
	tracing.Inject(ctx, req.Header)

	resp, err := plain.Do(req)
	if err != nil {
		tracing.MarkError(span, err)
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes+1))
	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Int("http.response_size", len(data)),
	)
	if err != nil {
		err = fmt.Errorf("read response: %w", err)
		tracing.MarkError(span, err)
		return nil, err
	}
	if int64(len(data)) > c.cfg.MaxResponseBytes {
		err = fmt.Errorf("%w: limit %d bytes", ErrResponseTooLarge, c.cfg.MaxResponseBytes)
		tracing.MarkError(span, err)
		return nil, err
	}

	out, err := dec.Decode(ctx, resp, data)
	if err != nil {
		tracing.MarkError(span, err)
		return nil, err
	}
	return out, nil
}

// userAgentTransport sets a default User-Agent.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent == "" || req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	out := req.Clone(req.Context())
	out.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(out)
}
