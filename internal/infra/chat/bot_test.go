package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"director/internal/lifecycle"
	"director/internal/resilience/retry"
)

type sent struct {
	ChatID  int64
	Text    string
	ReplyTo int64
}

// fakeTransport serves queued update batches, then blocks until the poll
// context is cancelled.
type fakeTransport struct {
	mu        sync.Mutex
	meErrs    []error
	meCalls   int
	batches   [][]Update
	pollErrs  []error
	offsets   []int64
	sent      []sent
	answered  []string
	sentCh    chan sent
	pollCalls chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sentCh: make(chan sent, 16), pollCalls: make(chan struct{}, 64)}
}

func (f *fakeTransport) GetMe(ctx context.Context) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meCalls++
	if len(f.meErrs) > 0 {
		err := f.meErrs[0]
		f.meErrs = f.meErrs[1:]
		return User{}, err
	}
	return User{ID: 42, IsBot: true, FirstName: "Director", Username: "director_bot"}, nil
}

func (f *fakeTransport) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	f.mu.Lock()
	f.offsets = append(f.offsets, offset)
	var (
		batch []Update
		err   error
		ok    bool
	)
	if len(f.pollErrs) > 0 {
		err, f.pollErrs = f.pollErrs[0], f.pollErrs[1:]
		ok = true
	} else if len(f.batches) > 0 {
		batch, f.batches = f.batches[0], f.batches[1:]
		ok = true
	}
	f.mu.Unlock()

	select {
	case f.pollCalls <- struct{}{}:
	default:
	}
	if ok {
		return batch, err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeTransport) SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) error {
	s := sent{ChatID: chatID, Text: text, ReplyTo: replyTo}
	f.mu.Lock()
	f.sent = append(f.sent, s)
	f.mu.Unlock()
	f.sentCh <- s
	return nil
}

func (f *fakeTransport) AnswerCallback(ctx context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id+":"+text)
	return nil
}

func (f *fakeTransport) recordedOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.offsets...)
}

type handlerFunc func(r Registrar) error

func (h handlerFunc) Init(r Registrar) error { return h(r) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() BotConfig {
	return BotConfig{
		ConnectMaxAttempts: 3,
		ConnectRetryDelay:  time.Millisecond,
		PollTimeout:        time.Second,
		PollBackoff:        retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2},
	}
}

func textUpdate(id int64, chatType, text string) Update {
	return Update{UpdateID: id, Message: &Message{
		MessageID: id * 10,
		Chat:      Chat{ID: 1000 + id, Type: chatType},
		Text:      text,
	}}
}

func recvSent(t *testing.T, ch <-chan sent) sent {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a sent message")
		return sent{}
	}
}

func TestBot_PrepareRetriesGetMeAndRecordsIdentity(t *testing.T) {
	tr := newFakeTransport()
	tr.meErrs = []error{errors.New("dial tcp: i/o timeout"), errors.New("dial tcp: i/o timeout")}
	bot := NewBot("tg", fastConfig(), tr, handlerFunc(func(Registrar) error { return nil }), noop.NewTracerProvider(), quietLogger())

	require.NoError(t, bot.Prepare(context.Background()))
	assert.Equal(t, 3, tr.meCalls)
	assert.Equal(t, User{ID: 42, IsBot: true, FirstName: "Director", Username: "director_bot"}, bot.Me())
}

func TestBot_PrepareGivesUpAfterConfiguredRetries(t *testing.T) {
	tr := newFakeTransport()
	unreachable := errors.New("connection refused")
	tr.meErrs = []error{unreachable, unreachable, unreachable, unreachable, unreachable}
	bot := NewBot("tg", fastConfig(), tr, handlerFunc(func(Registrar) error { return nil }), noop.NewTracerProvider(), quietLogger())

	err := bot.Prepare(context.Background())
	var prepErr *lifecycle.PrepareError
	require.ErrorAs(t, err, &prepErr)
	assert.Equal(t, "tg", prepErr.Component)
	assert.ErrorIs(t, err, unreachable)
	assert.Equal(t, 4, tr.meCalls)
}

func TestBot_PrepareFailsWhenInitFails(t *testing.T) {
	tr := newFakeTransport()
	bot := NewBot("tg", fastConfig(), tr, handlerFunc(func(r Registrar) error {
		return r.AddCommand("/broken(", func(context.Context, *Request) error { return nil })
	}), noop.NewTracerProvider(), quietLogger())

	err := bot.Prepare(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pattern")
	assert.Zero(t, tr.meCalls)
}

func TestBot_RoutesUpdates(t *testing.T) {
	tr := newFakeTransport()
	tr.batches = [][]Update{{
		textUpdate(1, "private", "/echo hello there"),
		textUpdate(2, "private", "what is this"),
		textUpdate(3, "group", "ignored in groups"),
		{UpdateID: 4, CallbackQuery: &CallbackQuery{ID: "cb-1", Data: "vote:yes", Message: &Message{Chat: Chat{ID: 77, Type: "group"}}}},
		{UpdateID: 5, InlineQuery: &InlineQuery{ID: "iq-1", Query: "weather tokyo"}},
	}}

	inline := make(chan []string, 1)
	h := handlerFunc(func(r Registrar) error {
		if err := r.AddCommand(`/echo (.*)`, func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, req.Match[1])
		}); err != nil {
			return err
		}
		r.SetDefault(func(ctx context.Context, req *Request) error {
			return req.Send(ctx, "what?")
		})
		if err := r.AddCallback(`vote:(\w+)`, func(ctx context.Context, req *Request) error {
			if err := req.AnswerCallback(ctx, "counted"); err != nil {
				return err
			}
			return req.Send(ctx, "vote "+req.Match[1])
		}); err != nil {
			return err
		}
		return r.AddInline(`weather (\w+)`, func(ctx context.Context, req *Request) error {
			inline <- req.Match
			return nil
		})
	})

	bot := NewBot("tg", fastConfig(), tr, h, noop.NewTracerProvider(), quietLogger())
	ctx := context.Background()
	require.NoError(t, bot.Prepare(ctx))
	require.NoError(t, bot.Start(ctx))

	got := map[int64]sent{}
	for i := 0; i < 3; i++ {
		s := recvSent(t, tr.sentCh)
		got[s.ChatID] = s
	}
	assert.Equal(t, []string{"weather tokyo", "tokyo"}, <-inline)

	require.NoError(t, bot.Stop(ctx))

	want := map[int64]sent{
		1001: {ChatID: 1001, Text: "hello there", ReplyTo: 10},
		1002: {ChatID: 1002, Text: "what?"},
		77:   {ChatID: 77, Text: "vote yes"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sent messages mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"cb-1:counted"}, tr.answered)

	offsets := tr.recordedOffsets()
	require.GreaterOrEqual(t, len(offsets), 2)
	assert.Equal(t, []int64{0, 6}, offsets[:2])
}

func TestBot_DefaultInGroupsWhenEnabled(t *testing.T) {
	tr := newFakeTransport()
	tr.batches = [][]Update{{textUpdate(1, "supergroup", "hi all")}}
	cfg := fastConfig()
	cfg.DefaultInGroups = true

	bot := NewBot("tg", cfg, tr, handlerFunc(func(r Registrar) error {
		r.SetDefault(func(ctx context.Context, req *Request) error { return req.Send(ctx, "hello group") })
		return nil
	}), noop.NewTracerProvider(), quietLogger())

	ctx := context.Background()
	require.NoError(t, bot.Prepare(ctx))
	require.NoError(t, bot.Start(ctx))
	assert.Equal(t, "hello group", recvSent(t, tr.sentCh).Text)
	require.NoError(t, bot.Stop(ctx))
}

func TestBot_StopWaitsForRunningHandler(t *testing.T) {
	tr := newFakeTransport()
	tr.batches = [][]Update{{textUpdate(1, "private", "/slow")}}

	started := make(chan struct{})
	release := make(chan struct{})
	var handlerCtxErr error
	bot := NewBot("tg", fastConfig(), tr, handlerFunc(func(r Registrar) error {
		return r.AddCommand("/slow", func(ctx context.Context, req *Request) error {
			close(started)
			<-release
			handlerCtxErr = ctx.Err()
			return nil
		})
	}), noop.NewTracerProvider(), quietLogger())

	ctx := context.Background()
	require.NoError(t, bot.Prepare(ctx))
	require.NoError(t, bot.Start(ctx))
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- bot.Stop(ctx) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a handler was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopped)
	assert.NoError(t, handlerCtxErr, "stopping the poll loop does not cancel handlers")
}

func TestBot_HandlerErrorsAndPanicsAreContained(t *testing.T) {
	tr := newFakeTransport()
	tr.batches = [][]Update{
		{textUpdate(1, "private", "/fail")},
		{textUpdate(2, "private", "/panic")},
		{textUpdate(3, "private", "/ok")},
	}

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	bot := NewBot("tg", fastConfig(), tr, handlerFunc(func(r Registrar) error {
		_ = r.AddCommand("/fail", func(context.Context, *Request) error { return errors.New("lookup failed") })
		_ = r.AddCommand("/panic", func(context.Context, *Request) error { panic("boom") })
		return r.AddCommand("/ok", func(ctx context.Context, req *Request) error { return req.Send(ctx, "fine") })
	}), tp, quietLogger())

	ctx := context.Background()
	require.NoError(t, bot.Prepare(ctx))
	require.NoError(t, bot.Start(ctx))
	assert.Equal(t, "fine", recvSent(t, tr.sentCh).Text, "the loop survives failing handlers")
	require.NoError(t, bot.Stop(ctx))

	spans := rec.Ended()
	require.Len(t, spans, 3)
	byPattern := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		assert.Equal(t, "chat message", s.Name())
		assert.Equal(t, trace.SpanKindServer, s.SpanKind())
		for _, kv := range s.Attributes() {
			if kv.Key == "chat.pattern" {
				byPattern[kv.Value.AsString()] = s
			}
		}
	}
	assert.Equal(t, codes.Error, byPattern["/fail"].Status().Code)
	assert.Equal(t, codes.Error, byPattern["/panic"].Status().Code)
	assert.Equal(t, codes.Unset, byPattern["/ok"].Status().Code)
}

func TestBot_PollRecoversFromTransientErrors(t *testing.T) {
	tr := newFakeTransport()
	tr.pollErrs = []error{
		&APIError{Method: "getUpdates", Code: http.StatusBadGateway, Description: "Bad Gateway"},
		&APIError{Method: "getUpdates", Code: http.StatusBadGateway, Description: "Bad Gateway"},
		&APIError{Method: "getUpdates", Code: http.StatusConflict, Description: "terminated by other getUpdates request"},
	}
	tr.batches = [][]Update{{textUpdate(9, "private", "/ping")}}

	bot := NewBot("tg", fastConfig(), tr, handlerFunc(func(r Registrar) error {
		return r.AddCommand("/ping", func(ctx context.Context, req *Request) error { return req.Send(ctx, "pong") })
	}), noop.NewTracerProvider(), quietLogger())

	ctx := context.Background()
	require.NoError(t, bot.Prepare(ctx))
	require.NoError(t, bot.Start(ctx))
	assert.Equal(t, "pong", recvSent(t, tr.sentCh).Text)
	require.NoError(t, bot.Stop(ctx))
}

func TestBot_StopWithoutStart(t *testing.T) {
	bot := NewBot("tg", fastConfig(), newFakeTransport(), handlerFunc(func(Registrar) error { return nil }), noop.NewTracerProvider(), quietLogger())
	require.NoError(t, bot.Prepare(context.Background()))
	assert.NoError(t, bot.Stop(context.Background()))
}

func TestUpdateKind(t *testing.T) {
	tests := []struct {
		update Update
		want   string
	}{
		{Update{Message: &Message{}}, KindMessage},
		{Update{InlineQuery: &InlineQuery{}}, KindInline},
		{Update{CallbackQuery: &CallbackQuery{}}, KindCallback},
		{Update{}, KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.update.Kind())
	}
}
