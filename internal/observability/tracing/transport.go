package tracing

import (
	"context"
	"io"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// SpanParams customizes the client span of one outbound request.
type SpanParams struct {
	// Name overrides the default span name "METHOD host".
	Name string
	// Endpoint names the remote service (peer.service).
	Endpoint string
	// Tags are added to the span verbatim.
	Tags []attribute.KeyValue
}

type spanParamsKey struct{}

// WithSpanParams attaches p to ctx for the next request sent through a Transport.
func WithSpanParams(ctx context.Context, p SpanParams) context.Context {
	return context.WithValue(ctx, spanParamsKey{}, p)
}

func spanParamsFrom(ctx context.Context) SpanParams {
	p, _ := ctx.Value(spanParamsKey{}).(SpanParams)
	return p
}

// Transport is an http.RoundTripper opening a client span per request and
// injecting its context into the request headers.
type Transport struct {
	base       http.RoundTripper
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, tp trace.TracerProvider) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		base:       base,
		tracer:     tp.Tracer(instrumentationName),
		propagator: Propagator(),
	}
}

// ClientSpanName returns the client span name for req: params.Name, or
// "METHOD host" when unset.
func ClientSpanName(req *http.Request, params SpanParams) string {
	if params.Name != "" {
		return params.Name
	}
	return req.Method + " " + req.URL.Host
}

// ClientAttributes returns the request attributes of a client span.
func ClientAttributes(req *http.Request, params SpanParams) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", req.Method),
		attribute.String("http.host", req.URL.Host),
		attribute.String("http.path", req.URL.Path),
		attribute.String("http.url", req.URL.String()),
	}
	if req.ContentLength > 0 {
		attrs = append(attrs, attribute.Int64("http.request_size", req.ContentLength))
	}
	if params.Endpoint != "" {
		attrs = append(attrs, attribute.String("peer.service", params.Endpoint))
	}
	return append(attrs, params.Tags...)
}

// Inject writes the span context of ctx into h.
func Inject(ctx context.Context, h http.Header) {
	Propagator().Inject(ctx, propagation.HeaderCarrier(h))
}

// RoundTrip implements http.RoundTripper. The span ends when the response
// body is closed or read to EOF, or immediately when the round trip fails.
// Errors are returned unchanged.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	params := spanParamsFrom(req.Context())
	ctx, span := t.tracer.Start(req.Context(), ClientSpanName(req, params),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(ClientAttributes(req, params)...))

	out := req.Clone(ctx)
	t.propagator.Inject(ctx, propagation.HeaderCarrier(out.Header))

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		MarkError(span, err)
		span.End()
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.ContentLength >= 0 {
		span.SetAttributes(attribute.Int64("http.response_size", resp.ContentLength))
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetAttributes(attribute.Bool("error", true))
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		span.End()
		return resp, nil
	}
	resp.Body = &spanBody{ReadCloser: resp.Body, span: span}
	return resp, nil
}

// spanBody ends its span once, on EOF, read error or Close.
type spanBody struct {
	io.ReadCloser
	span trace.Span
	once sync.Once
}

func (b *spanBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err == io.EOF {
		b.finish(nil)
	} else if err != nil {
		b.finish(err)
	}
	return n, err
}

func (b *spanBody) Close() error {
	err := b.ReadCloser.Close()
	b.finish(nil)
	return err
}

func (b *spanBody) finish(err error) {
	b.once.Do(func() {
		MarkError(b.span, err)
		b.span.End()
	})
}
