package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	httpapi "director/internal/handler/http"
	"director/internal/handler/http/respond"
	"director/internal/infra/chat"
	"director/internal/infra/db"
	"director/internal/infra/worker"
	"director/internal/observability/tracing"
)

// migrations create the table the heartbeat job records its runs in.
var migrations = []db.Migration{
	{
		Version: 1,
		Name:    "create_heartbeats",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS heartbeats (
				id         BIGSERIAL PRIMARY KEY,
				ready      BOOLEAN NOT NULL,
				error      TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
		},
	},
}

// apiHandler serves the example HTTP API. db and scheduler are nil when the
// corresponding component is disabled.
type apiHandler struct {
	httpapi.Base
	db        *db.PgDB
	scheduler *worker.Scheduler
	// pause simulates work in the home handler.
	pause time.Duration
}

func (h *apiHandler) Routes() []httpapi.Route {
	return []httpapi.Route{
		{Method: http.MethodGet, Pattern: "/{$}", Handler: h.home},
		{Method: http.MethodGet, Pattern: "/jobs", Handler: h.listJobs},
		{Method: http.MethodPost, Pattern: "/jobs/{name}", Handler: h.triggerJob},
	}
}

func (h *apiHandler) home(w http.ResponseWriter, r *http.Request) error {
	ctx, span := tracing.StartSpan(r.Context(), "home:sleep")
	_, inner := tracing.StartSpan(ctx, "home:sleep:inner")
	err := sleep(ctx, h.pause)
	inner.End()
	span.End()
	if err != nil {
		return err
	}

	answer := 0
	if h.db != nil {
		if err := h.db.QueryOne(r.Context(), "test_query", "SELECT $1::int AS a", 123).Scan(&answer); err != nil {
			return fmt.Errorf("test query: %w", err)
		}
	}

	respond.JSON(w, http.StatusOK, map[string]any{
		"message": "Hello world!",
		"answer":  answer,
	})
	return nil
}

func (h *apiHandler) listJobs(w http.ResponseWriter, r *http.Request) error {
	jobs := []string{}
	if h.scheduler != nil {
		jobs = h.scheduler.Jobs()
	}
	respond.JSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	return nil
}

func (h *apiHandler) triggerJob(w http.ResponseWriter, r *http.Request) error {
	name := r.PathValue("name")
	if h.scheduler == nil {
		return respond.NotFound("scheduler is disabled")
	}
	if err := h.scheduler.Trigger(name); err != nil {
		return respond.NewAppError(http.StatusNotFound, "unknown job", err)
	}
	respond.JSON(w, http.StatusAccepted, map[string]string{"job": name, "status": "triggered"})
	return nil
}

// telegramHandler is the example bot: /start greets, /echo repeats and
// anything else in a private chat is answered after a pause.
type telegramHandler struct {
	// pause delays the default reply; handlers keep running through shutdown.
	pause time.Duration
}

func (h *telegramHandler) Init(r chat.Registrar) error {
	commands := []struct {
		pattern string
		fn      chat.HandlerFunc
	}{
		{`/start`, h.start},
		{`/echo (.*)`, h.echo},
	}
	for _, c := range commands {
		if err := r.AddCommand(c.pattern, c.fn); err != nil {
			return err
		}
	}
	if err := r.AddCallback(`ack:(\w+)`, h.ack); err != nil {
		return err
	}
	r.SetDefault(h.fallback)
	return nil
}

func (h *telegramHandler) start(ctx context.Context, req *chat.Request) error {
	return req.Send(ctx, "hello")
}

func (h *telegramHandler) echo(ctx context.Context, req *chat.Request) error {
	return req.Reply(ctx, req.Match[1])
}

func (h *telegramHandler) ack(ctx context.Context, req *chat.Request) error {
	return req.AnswerCallback(ctx, "acknowledged "+req.Match[1])
}

func (h *telegramHandler) fallback(ctx context.Context, req *chat.Request) error {
	ctx, span := tracing.StartSpan(ctx, "chat:default",
		attribute.Int("chat.text_length", len(req.Text())))
	defer span.End()
	if err := sleep(ctx, h.pause); err != nil {
		return err
	}
	return req.Send(ctx, "what?")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
