package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTimeout_Success(t *testing.T) {
	handler := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "success" {
		t.Errorf("expected body 'success', got '%s'", rec.Body.String())
	}
}

func TestTimeout_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	handler := Timeout(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		<-release
		_, _ = w.Write([]byte("too late"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slow", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected status 504, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "request timeout") {
		t.Errorf("expected timeout message, got '%s'", rec.Body.String())
	}
}

func TestTimeout_WriteAfterTimeoutIsDropped(t *testing.T) {
	tw := &timeoutResponseWriter{ResponseWriter: httptest.NewRecorder(), timedOut: true}

	n, err := tw.Write([]byte("data"))
	if err != http.ErrHandlerTimeout {
		t.Errorf("expected ErrHandlerTimeout, got %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 bytes written, got %d", n)
	}
}

func TestTimeout_RepanicsHandlerPanic(t *testing.T) {
	handler := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	defer func() {
		if rec := recover(); rec != "boom" {
			t.Errorf("expected panic 'boom' to propagate, got %v", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestTimeout_LateHeaderChangesDoNotReachResponse(t *testing.T) {
	finished := make(chan struct{})
	handler := Timeout(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(finished)
		<-r.Context().Done()
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("X-Late", "1")
		_, _ = w.Write([]byte("too late"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slow", nil))
	<-finished

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected status 504, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("expected JSON content type, got %q", ct)
	}
	if rec.Header().Get("X-Late") != "" {
		t.Error("header set after the timeout leaked into the response")
	}
}

func TestTimeout_HeadersCopiedOnWrite(t *testing.T) {
	tests := []struct {
		name  string
		write bool
	}{
		{name: "with body", write: true},
		{name: "headers only", write: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Custom", "yes")
				if tt.write {
					w.WriteHeader(http.StatusCreated)
					w.Header().Set("X-After", "ignored")
				}
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

			if got := rec.Header().Get("X-Custom"); got != "yes" {
				t.Errorf("expected X-Custom header, got %q", got)
			}
			if rec.Header().Get("X-After") != "" {
				t.Error("header set after WriteHeader should not be sent")
			}
		})
	}
}
