package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	httpapi "director/internal/handler/http"
)

// HealthServer is a lifecycle component serving operational endpoints on a
// dedicated listener:
//   - GET /health: liveness probe (always 200 while the process serves)
//   - GET /health/ready: readiness probe (200 once every component runs, 503 otherwise)
//   - GET /health/detail: component states and database pool statistics
//   - GET /metrics: Prometheus exposition
//
// It is meant to be registered last and stopped last, so readiness flips to
// 503 as soon as shutdown begins while probes keep being answered.
type HealthServer struct {
	addr    string
	status  httpapi.StatusSource
	db      func() *sql.DB
	version string
	logger  *slog.Logger

	mu       sync.Mutex
	srv      *http.Server
	ln       net.Listener
	serveErr chan error
}

// HealthOption configures a HealthServer.
type HealthOption func(*HealthServer)

// WithDatabase adds a database check to /health/detail. db is resolved in
// Prepare, after the pool component has connected.
func WithDatabase(db func() *sql.DB) HealthOption {
	return func(h *HealthServer) { h.db = db }
}

// WithVersion sets the version reported by /health/detail.
func WithVersion(version string) HealthOption {
	return func(h *HealthServer) { h.version = version }
}

// NewHealthServer creates a health server listening on addr.
func NewHealthServer(addr string, status httpapi.StatusSource, logger *slog.Logger, opts ...HealthOption) *HealthServer {
	h := &HealthServer{
		addr:   addr,
		status: status,
		logger: logger.With(slog.String("component", "health")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Addr returns the bound listener address, or "" before Prepare.
func (h *HealthServer) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ln == nil {
		return ""
	}
	return h.ln.Addr().String()
}

// Prepare builds the mux and binds the listener.
func (h *HealthServer) Prepare(ctx context.Context) error {
	detail := &httpapi.HealthHandler{Status: h.status, Version: h.version}
	if h.db != nil {
		detail.DB = h.db()
	}

	mux := http.NewServeMux()
	mux.Handle("GET /health", &httpapi.LiveHandler{})
	mux.Handle("GET /health/ready", &httpapi.ReadyHandler{Status: h.status})
	mux.Handle("GET /health/detail", detail)
	mux.Handle("GET /metrics", httpapi.MetricsHandler())

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.addr, err)
	}

	h.mu.Lock()
	h.ln = ln
	h.srv = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	h.mu.Unlock()
	return nil
}

// Start serves probes in the background.
func (h *HealthServer) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.srv == nil {
		return errors.New("health server not prepared")
	}

	h.serveErr = make(chan error, 1)
	srv, ln, serveErr := h.srv, h.ln, h.serveErr
	go func() {
		h.logger.Info("health server starting", slog.String("addr", ln.Addr().String()))
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			h.logger.Error("health server failed", slog.Any("error", err))
		}
		serveErr <- err
	}()
	return nil
}

// Stop shuts the listener down within five seconds.
func (h *HealthServer) Stop(ctx context.Context) error {
	h.mu.Lock()
	srv, ln, serveErr := h.srv, h.ln, h.serveErr
	h.mu.Unlock()

	if srv == nil {
		return nil
	}
	if serveErr == nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		h.logger.Error("health server shutdown failed", slog.Any("error", err))
		_ = srv.Close()
	}
	return errors.Join(err, <-serveErr)
}
