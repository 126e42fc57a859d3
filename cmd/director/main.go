// Command director runs an example service on the lifecycle orchestrator:
// an HTTP API, an optional PostgreSQL pool, an optional Telegram bot, a cron
// scheduler and a health server, all stopped in dependency order on SIGINT
// or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"director/internal/config"
	httpapi "director/internal/handler/http"
	"director/internal/infra/chat"
	"director/internal/infra/db"
	"director/internal/infra/httpclient"
	"director/internal/infra/worker"
	"director/internal/lifecycle"
	"director/internal/observability/logging"
	"director/internal/observability/metrics"
	"director/internal/observability/tracing"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("director exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, fallbacks, err := config.Load(nil)
	if err != nil {
		// The logger is not configured yet; fall back to the default one.
		slog.Error("failed to load configuration", slog.Any("error", err))
		return err
	}

	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	for _, fb := range fallbacks {
		metrics.RecordConfigFallback(fb.Key)
		logger.Warn("invalid configuration value, using fallback",
			slog.String("key", fb.Key),
			slog.String("fallback", fb.Value),
			slog.String("reason", fb.Reason))
	}
	logger.Info("configuration loaded", slog.Any("config", cfg), slog.String("version", version))

	app, err := buildApplication(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = app.Run(ctx)
	var shutdownErr *lifecycle.ShutdownError
	if errors.As(err, &shutdownErr) {
		for _, e := range shutdownErr.Errs {
			logger.Error("component failed to stop cleanly", slog.Any("error", e))
		}
	}
	return err
}

// buildApplication constructs every enabled component and registers them.
// Declaration order is prepare and start order, so tracing and the database
// come first. stop_after edges make shared resources outlive the components
// using them: the database and outbound client stop after the request paths,
// the health server after those, and tracing last of all.
func buildApplication(cfg *config.AppConfig, logger *slog.Logger) (*lifecycle.Application, error) {
	app := lifecycle.New(logger)

	tp := tracing.NewProvider(tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		SampleRate:     cfg.Tracing.SampleRate,
		Insecure:       cfg.Tracing.Insecure,
	}, logger)
	traces := tp.TracerProvider()

	var pg *db.PgDB
	if cfg.Database.Enabled() {
		pg = db.New("db", db.Config{
			DSN: cfg.Database.URL,
			Pool: db.ConnectionConfig{
				MaxOpenConns:    cfg.Database.MaxOpenConns,
				MaxIdleConns:    cfg.Database.MaxIdleConns,
				ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
				ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
			},
			ConnectMaxAttempts: cfg.Database.ConnectMaxAttempts,
			ConnectRetryDelay:  cfg.Database.ConnectRetryDelay,
			Migrations:         migrations,
		}, traces, logger)
	}

	client := httpclient.New("outbound", httpclient.Config{
		Timeout:   cfg.Outbound.Timeout,
		Breaker:   cfg.Outbound.BreakerEnabled,
		UserAgent: "director/" + version,
	}, traces, logger)

	var bot *chat.Bot
	if cfg.Telegram.Enabled() {
		api := chat.NewTelegramAPI(chat.APIConfig{
			Token:          cfg.Telegram.Token,
			BaseURL:        cfg.Telegram.BaseURL,
			SendRate:       cfg.Telegram.SendRate,
			RequestTimeout: cfg.Outbound.Timeout,
			Transport:      tracing.NewTransport(nil, traces),
		})
		bot = chat.NewBot("telegram", chat.BotConfig{
			ConnectMaxAttempts: cfg.Telegram.ConnectMaxAttempts,
			ConnectRetryDelay:  cfg.Telegram.ConnectRetryDelay,
			PollTimeout:        cfg.Telegram.PollTimeout,
		}, api, &telegramHandler{pause: 2 * time.Second}, traces, logger)
	}

	var scheduler *worker.Scheduler
	if cfg.Worker.CronSchedule != "" {
		scheduler = worker.NewScheduler("scheduler", worker.SchedulerConfig{
			Timezone:   cfg.Worker.Timezone,
			JobTimeout: cfg.Worker.JobTimeout,
		}, traces, logger)
		hb := &heartbeat{
			client:  client,
			url:     cfg.Worker.HeartbeatURL,
			status:  app,
			chatID:  cfg.Worker.NotifyChatID,
			version: version,
			logger:  logger,
		}
		// Typed nils would defeat the nil checks in heartbeat.
		if pg != nil {
			hb.store = pg
		}
		if bot != nil {
			hb.notify = bot
		}
		if err := scheduler.AddJob("heartbeat", cfg.Worker.CronSchedule, hb.Run); err != nil {
			return nil, fmt.Errorf("register heartbeat job: %w", err)
		}
	}

	server := httpapi.NewServer("http", httpapi.ServerConfig{
		Addr:              cfg.HTTP.Addr,
		ShutdownTimeout:   cfg.HTTP.ShutdownTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		RequestTimeout:    cfg.HTTP.RequestTimeout,
		MaxBodyBytes:      cfg.HTTP.MaxBodyBytes,
	}, &apiHandler{db: pg, scheduler: scheduler, pause: 100 * time.Millisecond}, traces, logger)

	healthOpts := []worker.HealthOption{worker.WithVersion(version)}
	if pg != nil {
		healthOpts = append(healthOpts, worker.WithDatabase(pg.DB))
	}
	health := worker.NewHealthServer(cfg.Health.Addr, app, logger, healthOpts...)

	// Front-line components: nothing depends on them stopping first.
	users := []string{"http"}
	if bot != nil {
		users = append(users, "telegram")
	}
	if scheduler != nil {
		users = append(users, "scheduler")
	}
	backends := []string{"outbound"}
	if pg != nil {
		backends = append(backends, "db")
	}
	everything := append(append(append([]string(nil), users...), backends...), "health")

	// Dependencies are declared first so they are prepared before their users,
	// and name those users in stop_after so they outlive them.
	if err := app.Add("tracing", tp, everything...); err != nil {
		return nil, err
	}
	if pg != nil {
		if err := app.Add("db", pg, users...); err != nil {
			return nil, err
		}
	}
	if err := app.Add("outbound", client, users...); err != nil {
		return nil, err
	}
	if err := app.Add("http", server); err != nil {
		return nil, err
	}
	if bot != nil {
		if err := app.Add("telegram", bot); err != nil {
			return nil, err
		}
	}
	if scheduler != nil {
		if err := app.Add("scheduler", scheduler); err != nil {
			return nil, err
		}
	}
	if err := app.Add("health", health, append(append([]string(nil), users...), backends...)...); err != nil {
		return nil, err
	}

	logger.Info("components registered", slog.Any("components", app.Names()))
	return app, nil
}
