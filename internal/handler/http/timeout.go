package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"director/internal/handler/http/requestid"
	"director/internal/handler/http/respond"
)

// Timeout returns middleware that enforces request timeouts.
// If a request takes longer than d, the client gets 504 Gateway Timeout and
// the request context is cancelled. The handler keeps running until it notices
// the cancellation; its later writes are discarded.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			r = r.WithContext(ctx)

			tw := &timeoutResponseWriter{ResponseWriter: w, h: make(http.Header)}
			done := make(chan struct{})
			panicked := make(chan any, 1)

			go func() {
				defer func() {
					if rec := recover(); rec != nil {
						panicked <- rec
					}
				}()
				next.ServeHTTP(tw, r)
				close(done)
			}()

			select {
			case <-done:
				tw.mu.Lock()
				defer tw.mu.Unlock()
				if !tw.written {
					tw.copyHeader()
				}
			case rec := <-panicked:
				panic(rec)
			case <-ctx.Done():
				tw.mu.Lock()
				defer tw.mu.Unlock()
				tw.timedOut = true
				if !tw.written {
					respond.Error(w, requestid.FromContext(r.Context()),
						respond.NewAppError(http.StatusGatewayTimeout, "request timeout", ctx.Err()))
				}
			}
		})
	}
}

// timeoutResponseWriter drops writes once the request has timed out.
// The handler edits its own header map, copied to the real writer on the
// first write, so a late handler never touches the headers of the 504.
type timeoutResponseWriter struct {
	http.ResponseWriter
	h        http.Header
	mu       sync.Mutex
	timedOut bool
	written  bool
}

func (w *timeoutResponseWriter) Header() http.Header { return w.h }

// copyHeader must be called with w.mu held.
func (w *timeoutResponseWriter) copyHeader() {
	dst := w.ResponseWriter.Header()
	for k, vv := range w.h {
		dst[k] = append([]string(nil), vv...)
	}
}

func (w *timeoutResponseWriter) WriteHeader(statusCode int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.timedOut && !w.written {
		w.written = true
		w.copyHeader()
		w.ResponseWriter.WriteHeader(statusCode)
	}
}

func (w *timeoutResponseWriter) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	if !w.written {
		w.written = true
		w.copyHeader()
		w.ResponseWriter.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(data)
}
