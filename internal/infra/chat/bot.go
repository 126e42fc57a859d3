// Package chat runs a Telegram bot as a lifecycle component.
//
// Bot connects in Prepare, long-polls for updates once started and runs
// every routed update in its own goroutine. Stop ends polling at once and
// then waits for handlers that are still running.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"director/internal/drain"
	"director/internal/observability/metrics"
	"director/internal/observability/tracing"
	"director/internal/resilience/retry"
)

// BotConfig holds bot settings.
type BotConfig struct {
	// ConnectMaxAttempts is the number of getMe retries allowed in Prepare.
	ConnectMaxAttempts int
	// ConnectRetryDelay is the pause between getMe attempts.
	ConnectRetryDelay time.Duration
	// PollTimeout is the long-poll duration of a getUpdates call.
	PollTimeout time.Duration
	// PollBackoff governs retries of failed polls.
	PollBackoff retry.Config
	// DefaultInGroups routes unmatched group messages to the default handler.
	DefaultInGroups bool
}

// Bot is a lifecycle component serving a Handler over a Transport.
type Bot struct {
	name      string
	cfg       BotConfig
	transport Transport
	handler   Handler
	tracer    trace.Tracer
	logger    *slog.Logger
	drain     *drain.Tracker
	router    *router

	mu       sync.Mutex
	me       User
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// NewBot creates a bot component named name.
func NewBot(name string, cfg BotConfig, transport Transport, h Handler, tp trace.TracerProvider, logger *slog.Logger) *Bot {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.PollBackoff.MaxAttempts <= 0 {
		cfg.PollBackoff = retry.PollConfig()
	}
	logger = logger.With(slog.String("component", name))
	if cfg.PollBackoff.Logger == nil {
		cfg.PollBackoff.Logger = logger
	}
	b := &Bot{
		name:      name,
		cfg:       cfg,
		transport: transport,
		handler:   h,
		tracer:    tp.Tracer("director/internal/infra/chat"),
		logger:    logger,
		drain:     drain.New(name),
	}
	b.router = newRouter(b.graceful)
	return b
}

// Me returns the bot identity resolved in Prepare.
func (b *Bot) Me() User {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.me
}

// Drain exposes the tracker counting running handlers.
func (b *Bot) Drain() *drain.Tracker {
	return b.drain
}

// Send posts text to chatID outside of any update, e.g. from a scheduled job.
func (b *Bot) Send(ctx context.Context, chatID int64, text string) error {
	return b.transport.SendMessage(ctx, chatID, text, 0)
}

// Prepare registers the handler's routes and resolves the bot identity,
// retrying getMe as configured.
func (b *Bot) Prepare(ctx context.Context) error {
	if err := b.handler.Init(b.router); err != nil {
		return fmt.Errorf("init chat handler: %w", err)
	}

	b.logger.Info("connecting to telegram")
	var me User
	err := retry.Connect(ctx, b.name, retry.ConnectConfig{
		MaxAttempts: b.cfg.ConnectMaxAttempts,
		Delay:       b.cfg.ConnectRetryDelay,
		Logger:      b.logger,
	}, func(ctx context.Context) error {
		u, err := b.transport.GetMe(ctx)
		if err != nil {
			return err
		}
		me = u
		return nil
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.me = me
	b.mu.Unlock()

	b.logger.Info("connected to telegram",
		slog.Int64("bot_id", me.ID),
		slog.String("first_name", me.FirstName),
		slog.String("username", me.Username))
	return nil
}

// Start launches the polling loop.
func (b *Bot) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	b.mu.Lock()
	b.cancel = cancel
	b.loopDone = done
	b.mu.Unlock()

	go func() {
		defer close(done)
		b.poll(loopCtx)
	}()
	return nil
}

// Stop cancels polling immediately, waits for the loop to exit, then waits
// without limit for running handlers.
func (b *Bot) Stop(ctx context.Context) error {
	b.mu.Lock()
	cancel, done := b.cancel, b.loopDone
	b.mu.Unlock()

	b.logger.Info("stopping telegram bot")
	if cancel != nil {
		cancel()
		<-done
	}

	b.drain.BeginDrain()
	if active := b.drain.Active(); active > 0 {
		b.logger.Info("waiting for chat handlers to finish", slog.Int("active", active))
	}
	return b.drain.AwaitDrained(context.WithoutCancel(ctx))
}

func (b *Bot) poll(ctx context.Context) {
	var offset int64
	for {
		var updates []Update
		err := retry.WithBackoff(ctx, b.cfg.PollBackoff, func() error {
			var err error
			updates, err = b.transport.GetUpdates(ctx, offset, b.cfg.PollTimeout)
			return err
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			b.logger.Error("polling telegram failed", slog.Any("error", err))
			if wait(ctx, b.pause(err)) != nil {
				return
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			b.dispatch(ctx, u)
		}
	}
}

func (b *Bot) pause(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter
	}
	return b.cfg.PollBackoff.MaxDelay
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bot) dispatch(ctx context.Context, u Update) {
	run, m := b.router.resolve(u, b.cfg.DefaultInGroups)
	if run == nil {
		b.logger.Debug("no handler for update",
			slog.Int64("update_id", u.UpdateID),
			slog.String("kind", u.Kind()))
		return
	}
	// Handlers outlive the polling loop; only drain bounds them.
	run(context.WithoutCancel(ctx), &Request{
		Update:        u,
		Match:         m,
		CorrelationID: uuid.NewString(),
		transport:     b.transport,
	})
}

// graceful wraps fn so that each invocation runs in a goroutine registered
// with the drain tracker before graceful's result returns, inside a span.
func (b *Bot) graceful(pattern string, fn HandlerFunc) dispatchFunc {
	return func(ctx context.Context, req *Request) {
		b.drain.Go(ctx, func(ctx context.Context) error {
			return b.handle(ctx, pattern, fn, req)
		}, nil)
	}
}

func (b *Bot) handle(ctx context.Context, pattern string, fn HandlerFunc, req *Request) (err error) {
	kind := req.Update.Kind()
	ctx, span := b.tracer.Start(ctx, "chat "+kind,
		trace.WithNewRoot(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.Int64("chat.update_id", req.Update.UpdateID),
			attribute.Int64("chat.chat_id", req.ChatID()),
			attribute.String("chat.pattern", pattern),
			attribute.String("chat.correlation_id", req.CorrelationID),
		))
	defer span.End()

	logger := b.logger.With(
		slog.String("correlation_id", req.CorrelationID),
		slog.String("kind", kind),
		slog.String("trace_id", tracing.TraceID(ctx)))

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("chat handler panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", rec)
		}
		metrics.RecordChatUpdate(kind, err)
		if err != nil {
			tracing.MarkError(span, err)
			logger.Error("chat handler failed", slog.Any("error", err))
		}
	}()

	// Errors are logged and recorded above, never returned to the loop.
	return fn(ctx, req)
}
