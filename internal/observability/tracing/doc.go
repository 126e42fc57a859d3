// Package tracing provides OpenTelemetry tracing for components.
//
// A Provider owns the SDK tracer provider and the OTLP/gRPC exporter and is
// itself a lifecycle component: its Stop flushes buffered spans, so it should
// be stopped after everything that emits spans. When tracing is disabled the
// Provider hands out a no-op tracer provider and every span is non-recording.
//
// Inbound requests are traced by Server, outbound requests by Transport, and
// handler code opens nested spans with StartSpan. Context is read from and
// written to both W3C traceparent and B3 headers.
//
// Example usage:
//
//	provider := tracing.NewProvider(cfg, logger)
//	srv := tracing.NewServer(provider.TracerProvider(), logger)
//	mux.Handle("GET /orders/{id}", srv.Wrap(getOrder, onError))
//
//	func getOrder(w http.ResponseWriter, r *http.Request) error {
//	    ctx, span := tracing.StartSpan(r.Context(), "load-order")
//	    defer span.End()
//	    // ... load order ...
//	}
package tracing
