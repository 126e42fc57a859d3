package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"director/internal/drain"
	"director/internal/handler/http/requestid"
	"director/internal/handler/http/respond"
	"director/internal/handler/http/responsewriter"
	"director/internal/observability/metrics"
	"director/internal/observability/tracing"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies mws so that the first one is the outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Logging returns middleware that logs HTTP requests with structured logging.
// It captures request details, response status, size, and processing duration,
// along with the request id and the trace id of the request span.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := responsewriter.Wrap(w)

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if wrapped.StatusCode() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}

			logger.LogAttrs(r.Context(), level, "request completed",
				slog.String("request_id", requestid.FromContext(r.Context())),
				slog.String("trace_id", wrapped.Header().Get(tracing.TraceIDHeader)),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("query", r.URL.RawQuery),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("user_agent", r.Header.Get("User-Agent")),
				slog.Int("status", wrapped.StatusCode()),
				slog.Int("bytes", wrapped.BytesWritten()),
				slog.Duration("duration", duration),
				slog.String("duration_ms", fmt.Sprintf("%.2f", duration.Seconds()*1000)),
			)
		})
	}
}

// Recover returns middleware that catches panics escaping the traced handler
// chain (for example in other middleware) and answers 500.
func Recover(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				reqID := requestid.FromContext(r.Context())
				logger.Error("panic recovered",
					slog.String("request_id", reqID),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
				)
				respond.Error(w, reqID, errors.New("internal error"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// LimitRequestBody returns middleware that limits the size of request bodies.
func LimitRequestBody(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Track registers every request with tracker for its whole duration, so
// Stop can wait for handlers still running after the listener closed.
func Track(tracker *drain.Tracker) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			done := tracker.Track()
			defer done()
			next.ServeHTTP(w, r)
		})
	}
}

// Metrics records request count, latency and sizes labelled with the route
// pattern rather than the raw path, keeping label cardinality bounded.
func Metrics(pattern string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := responsewriter.Wrap(w)
			start := time.Now()

			next.ServeHTTP(wrapped, r)

			requestSize := 0
			if r.ContentLength > 0 {
				requestSize = int(r.ContentLength)
			}
			metrics.RecordHTTPRequest(r.Method, pattern, strconv.Itoa(wrapped.StatusCode()),
				time.Since(start), requestSize, wrapped.BytesWritten())
		})
	}
}
