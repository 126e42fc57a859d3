package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	httpapi "director/internal/handler/http"
	"director/internal/infra/httpclient"
	"director/internal/observability/tracing"
)

// notifier sends a chat message; *chat.Bot implements it.
type notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// execer runs a statement; *db.PgDB implements it.
type execer interface {
	Exec(ctx context.Context, name, query string, args ...any) (sql.Result, error)
}

type heartbeatReport struct {
	Service    string            `json:"service"`
	Version    string            `json:"version"`
	Ready      bool              `json:"ready"`
	Components map[string]string `json:"components"`
	Time       time.Time         `json:"time"`
}

// heartbeat reports component states to an external status endpoint and
// alerts a chat when the report cannot be delivered.
type heartbeat struct {
	client  *httpclient.Client
	url     string
	status  httpapi.StatusSource
	store   execer
	notify  notifier
	chatID  int64
	version string
	logger  *slog.Logger
}

// Run is the scheduled job.
func (h *heartbeat) Run(ctx context.Context) (err error) {
	report := h.report()
	defer func() { h.record(ctx, report.Ready, err) }()

	if h.url == "" {
		h.logger.Info("heartbeat",
			slog.Bool("ready", report.Ready),
			slog.Any("components", report.Components))
		return nil
	}

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}
	_, err = h.client.Post(ctx, tracing.SpanParams{Name: "heartbeat", Endpoint: "status"},
		httpclient.Raw(), h.url, body, nil)
	if err == nil {
		return nil
	}

	err = fmt.Errorf("deliver heartbeat: %w", err)
	if h.notifyEnabled() {
		if nerr := h.notify.Send(ctx, h.chatID, "heartbeat failed: "+err.Error()); nerr != nil {
			err = errors.Join(err, fmt.Errorf("notify chat: %w", nerr))
		}
	}
	return err
}

func (h *heartbeat) notifyEnabled() bool {
	return h.notify != nil && h.chatID != 0
}

// record stores the outcome of a run; failures are logged, not returned.
func (h *heartbeat) record(ctx context.Context, ready bool, runErr error) {
	if h.store == nil {
		return
	}
	var msg sql.NullString
	if runErr != nil {
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	if _, err := h.store.Exec(ctx, "record_heartbeat",
		"INSERT INTO heartbeats (ready, error) VALUES ($1, $2)", ready, msg); err != nil {
		h.logger.Warn("failed to record heartbeat", slog.Any("error", err))
	}
}

func (h *heartbeat) report() heartbeatReport {
	components := make(map[string]string)
	for _, name := range h.status.Names() {
		if state, ok := h.status.State(name); ok {
			components[name] = state.String()
		}
	}
	return heartbeatReport{
		Service:    "director",
		Version:    h.version,
		Ready:      h.status.Ready(),
		Components: components,
		Time:       time.Now().UTC(),
	}
}
