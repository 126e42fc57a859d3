package tracing

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"director/internal/handler/http/responsewriter"
)

// TraceIDHeader echoes the request's trace id back to the client.
const TraceIDHeader = "X-Trace-Id"

// HandlerFunc is an HTTP handler that reports failure by returning an error
// instead of writing an error response itself.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// ErrorHandler writes the response for a failed HandlerFunc.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error) error

// Server wraps request handlers in a server span.
type Server struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	logger     *slog.Logger
}

// NewServer creates inbound tracing middleware from tp.
func NewServer(tp trace.TracerProvider, logger *slog.Logger) *Server {
	return &Server{
		tracer:     tp.Tracer(instrumentationName),
		propagator: Propagator(),
		logger:     logger,
	}
}

// Wrap returns an http.Handler tracing h.
//
// For each request it:
//   - Extracts the remote context from traceparent or B3 headers
//   - Starts a server span "METHOD /path" (a child of the remote span if any)
//   - Sets X-Trace-Id on the response
//   - Runs h, converting a panic into an error
//   - On error, tags the span and calls onError; if that fails too a bare
//     500 is written when nothing has been sent yet
//   - Tags the status code and response size and ends the span
func (s *Server) Wrap(h HandlerFunc, onError ErrorHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := s.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctx, span := s.tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			),
		)
		defer span.End()

		if r.ContentLength >= 0 {
			span.SetAttributes(attribute.Int64("http.request_size", r.ContentLength))
		}
		if sc := span.SpanContext(); sc.HasTraceID() {
			w.Header().Set(TraceIDHeader, sc.TraceID().String())
		}

		rw := responsewriter.Wrap(w)
		r = r.WithContext(ctx)

		if err := s.call(h, rw, r); err != nil {
			MarkError(span, err)
			if onError == nil {
				fallback(rw)
			} else if herr := onError(rw, r, err); herr != nil {
				s.logger.Error("error handler failed",
					slog.String("path", r.URL.Path),
					slog.Any("error", err),
					slog.Any("handler_error", herr))
				fallback(rw)
			}
		}

		span.SetAttributes(
			attribute.Int("http.status_code", rw.StatusCode()),
			attribute.Int("http.response_size", rw.BytesWritten()),
		)
		if rw.StatusCode() >= http.StatusInternalServerError {
			span.SetAttributes(attribute.Bool("error", true))
		}
	})
}

func (s *Server) call(h HandlerFunc, w http.ResponseWriter, r *http.Request) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("panic recovered",
				slog.Any("panic", rec),
				slog.String("path", r.URL.Path),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h(w, r)
}

func fallback(rw *responsewriter.ResponseWriter) {
	if rw.Written() {
		return
	}
	http.Error(rw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
