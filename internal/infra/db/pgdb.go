// Package db provides the PostgreSQL database component.
//
// PgDB opens a pgx-backed database/sql pool during Prepare, pinging it with
// bounded retries so a database that is still booting does not fail the
// process. Queries issued through PgDB get a client span and a latency sample.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"director/internal/observability/metrics"
	"director/internal/observability/tracing"
	"director/internal/resilience/retry"
)

// DriverName is the database/sql driver registered by pgx.
const DriverName = "pgx"

// Config holds connection settings for PgDB.
type Config struct {
	DSN  string
	Pool ConnectionConfig
	// ConnectMaxAttempts is the number of ping retries after the first attempt.
	ConnectMaxAttempts int
	ConnectRetryDelay  time.Duration
	// Migrations are applied in version order once the pool is reachable.
	Migrations []Migration
}

// Opener opens a database handle. sql.Open satisfies it.
type Opener func(driverName, dsn string) (*sql.DB, error)

// Option customizes a PgDB.
type Option func(*PgDB)

// WithOpener replaces sql.Open (tests use go-sqlmock).
func WithOpener(open Opener) Option {
	return func(p *PgDB) { p.open = open }
}

// WithSleeper replaces the pause between connection attempts.
func WithSleeper(s retry.Sleeper) Option {
	return func(p *PgDB) { p.sleep = s }
}

// PgDB is a lifecycle component owning a PostgreSQL connection pool.
type PgDB struct {
	name   string
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
	open   Opener
	sleep  retry.Sleeper
	db     *sql.DB
}

// New creates a PgDB component named name.
func New(name string, cfg Config, tp trace.TracerProvider, logger *slog.Logger, opts ...Option) *PgDB {
	p := &PgDB{
		name:   name,
		cfg:    cfg,
		logger: logger.With(slog.String("component", name)),
		tracer: tp.Tracer("director/db"),
		open:   sql.Open,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DB returns the underlying pool, or nil before Prepare.
func (p *PgDB) DB() *sql.DB {
	return p.db
}

// Prepare opens the pool, waits until the database answers a ping and runs
// pending migrations.
func (p *PgDB) Prepare(ctx context.Context) error {
	if p.cfg.DSN == "" {
		return errors.New("database DSN not configured")
	}

	db, err := p.open(DriverName, p.cfg.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	pool := p.cfg.Pool.apply(db)

	err = retry.Connect(ctx, p.name, retry.ConnectConfig{
		MaxAttempts: p.cfg.ConnectMaxAttempts,
		Delay:       p.cfg.ConnectRetryDelay,
		Sleep:       p.sleep,
		Logger:      p.logger,
	}, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := db.PingContext(pingCtx)
		metrics.RecordConnectAttempt(err)
		return err
	})
	if err != nil {
		_ = db.Close()
		return err
	}

	if len(p.cfg.Migrations) > 0 {
		if err := Migrate(ctx, db, p.cfg.Migrations); err != nil {
			_ = db.Close()
			return fmt.Errorf("migrate: %w", err)
		}
	}

	p.db = db
	p.logger.Info("database connection established",
		slog.Int("max_open_conns", pool.MaxOpenConns),
		slog.Int("max_idle_conns", pool.MaxIdleConns),
		slog.Duration("conn_max_lifetime", pool.ConnMaxLifetime),
		slog.Duration("conn_max_idle_time", pool.ConnMaxIdleTime))
	return nil
}

// Start is a no-op; the pool is usable once prepared.
func (p *PgDB) Start(ctx context.Context) error {
	return nil
}

// Stop closes the pool. database/sql waits for checked-out connections to be
// returned before closing them.
func (p *PgDB) Stop(ctx context.Context) error {
	if p.db == nil {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	p.logger.Info("database connection closed")
	return nil
}

func (p *PgDB) startSpan(ctx context.Context, name, query string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", name),
			attribute.String("db.statement", query),
		))
}

// Row is the result of QueryOne. Its span ends when Scan is called.
type Row struct {
	row   *sql.Row
	span  trace.Span
	name  string
	start time.Time
}

// Scan copies the row into dest. sql.ErrNoRows is returned as-is and is not
// treated as a failure on the span.
func (r *Row) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		tracing.MarkError(r.span, err)
	}
	metrics.RecordOperationDuration(r.name, time.Since(r.start))
	r.span.End()
	return err
}

// QueryOne runs a query expected to return at most one row inside a span
// named name.
func (p *PgDB) QueryOne(ctx context.Context, name, query string, args ...any) *Row {
	ctx, span := p.startSpan(ctx, name, query)
	return &Row{row: p.db.QueryRowContext(ctx, query, args...), span: span, name: name, start: time.Now()}
}

// Query runs query and calls scan for every row, all inside one span.
func (p *PgDB) Query(ctx context.Context, name, query string, scan func(*sql.Rows) error, args ...any) (err error) {
	ctx, span := p.startSpan(ctx, name, query)
	start := time.Now()
	defer func() {
		tracing.MarkError(span, err)
		metrics.RecordOperationDuration(name, time.Since(start))
		span.End()
	}()

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	n := 0
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
		n++
	}
	span.SetAttributes(attribute.Int("db.rows", n))
	return rows.Err()
}

// Exec runs a statement inside a span named name.
func (p *PgDB) Exec(ctx context.Context, name, query string, args ...any) (sql.Result, error) {
	ctx, span := p.startSpan(ctx, name, query)
	defer span.End()
	start := time.Now()

	res, err := p.db.ExecContext(ctx, query, args...)
	metrics.RecordOperationDuration(name, time.Since(start))
	if err != nil {
		tracing.MarkError(span, err)
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil {
		span.SetAttributes(attribute.Int64("db.rows_affected", n))
	}
	return res, nil
}
