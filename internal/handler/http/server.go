// Package http adapts application request handlers to a managed HTTP server.
//
// A Handler declares its routes; Server is the lifecycle component that binds
// the listener in Prepare, serves in Start, and in Stop shuts the listener
// down before waiting for in-flight handlers to finish.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"director/internal/drain"
	"director/internal/handler/http/requestid"
	"director/internal/handler/http/respond"
	"director/internal/observability/tracing"
)

// DefaultShutdownTimeout bounds graceful listener shutdown.
const DefaultShutdownTimeout = 60 * time.Second

// Route binds a handler to a method and a ServeMux path pattern.
type Route struct {
	Method  string
	Pattern string
	Handler tracing.HandlerFunc
}

// Handler is implemented by application code served by a Server.
type Handler interface {
	// Init runs once during Prepare, before routes are read.
	Init(ctx context.Context) error
	// Routes lists the endpoints to register.
	Routes() []Route
	// ErrorHandler writes the response for an error returned by a route.
	ErrorHandler(w http.ResponseWriter, r *http.Request, err error) error
}

// Base provides default Init and ErrorHandler implementations for embedding.
type Base struct{}

// Init does nothing.
func (Base) Init(ctx context.Context) error { return nil }

// ErrorHandler writes err as a JSON error response.
func (Base) ErrorHandler(w http.ResponseWriter, r *http.Request, err error) error {
	respond.Error(w, requestid.FromContext(r.Context()), err)
	return nil
}

// ServerConfig holds listener and timeout settings.
type ServerConfig struct {
	Addr              string
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
	RequestTimeout    time.Duration // 0 disables the per-request timeout
	MaxBodyBytes      int64         // 0 disables the body limit
}

// Server is a lifecycle component serving a Handler.
type Server struct {
	name    string
	cfg     ServerConfig
	handler Handler
	logger  *slog.Logger
	tracing *tracing.Server
	drain   *drain.Tracker

	mu       sync.Mutex
	srv      *http.Server
	ln       net.Listener
	serving  bool
	serveErr chan error
}

// NewServer creates a server component named name.
func NewServer(name string, cfg ServerConfig, h Handler, tp trace.TracerProvider, logger *slog.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	logger = logger.With(slog.String("component", name))
	return &Server{
		name:    name,
		cfg:     cfg,
		handler: h,
		logger:  logger,
		tracing: tracing.NewServer(tp, logger),
		drain:   drain.New(name),
	}
}

// Addr returns the bound listener address, or "" before Prepare.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Drain exposes the tracker counting in-flight requests.
func (s *Server) Drain() *drain.Tracker {
	return s.drain
}

// Prepare initializes the handler, registers its routes and binds the listener.
func (s *Server) Prepare(ctx context.Context) error {
	if err := s.handler.Init(ctx); err != nil {
		return fmt.Errorf("init handler: %w", err)
	}

	mux := http.NewServeMux()
	for _, route := range s.handler.Routes() {
		pattern := route.Pattern
		if route.Method != "" {
			pattern = route.Method + " " + route.Pattern
		}
		mux.Handle(pattern, Chain(
			s.tracing.Wrap(route.Handler, s.handler.ErrorHandler),
			Track(s.drain),
			Metrics(pattern),
		))
	}

	mws := []Middleware{requestid.Middleware, Logging(s.logger), Recover(s.logger)}
	if s.cfg.MaxBodyBytes > 0 {
		mws = append(mws, LimitRequestBody(s.cfg.MaxBodyBytes))
	}
	if s.cfg.RequestTimeout > 0 {
		mws = append(mws, Timeout(s.cfg.RequestTimeout))
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.srv = &http.Server{
		Handler:           Chain(mux, mws...),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.mu.Unlock()

	s.logger.Info("http server prepared", slog.String("addr", ln.Addr().String()))
	return nil
}

// Start serves on the prepared listener in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return errors.New("http server not prepared")
	}

	s.serving = true
	s.serveErr = make(chan error, 1)
	srv, ln, serveErr := s.srv, s.ln, s.serveErr
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.logger.Error("http server failed", slog.Any("error", err))
		}
		serveErr <- err
	}()
	return nil
}

// Stop closes the listener and idle connections, waits up to ShutdownTimeout
// for active connections, then waits without limit for tracked handlers.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, ln, serving, serveErr := s.srv, s.ln, s.serving, s.serveErr
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if !serving {
		// Prepared but never started: only the listener is open.
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown timed out, closing connections", slog.Any("error", err))
		if cerr := srv.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			errs = append(errs, cerr)
		}
	}
	if err := <-serveErr; err != nil {
		errs = append(errs, err)
	}

	s.drain.BeginDrain()
	if active := s.drain.Active(); active > 0 {
		s.logger.Info("waiting for in-flight requests", slog.Int("active", active))
	}
	if err := s.drain.AwaitDrained(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("http server stopped")
	return errors.Join(errs...)
}

// MetricsHandler returns an HTTP handler for the Prometheus metrics endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
