package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"director/internal/handler/http/respond"
	"director/internal/infra/chat"
	"director/internal/infra/db"
	"director/internal/infra/worker"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHome_NestsSpansAndQueriesDatabase(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	mock.ExpectPing()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	pg := db.New("db", db.Config{DSN: "postgres://test"}, tp, quietLogger(),
		db.WithOpener(func(string, string) (*sql.DB, error) { return mockDB, nil }))
	require.NoError(t, pg.Prepare(context.Background()))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT $1::int AS a")).WithArgs(123).
		WillReturnRows(sqlmock.NewRows([]string{"a"}).AddRow(123))

	ctx, root := tp.Tracer("test").Start(context.Background(), "GET /")
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	h := &apiHandler{db: pg, pause: time.Millisecond}
	require.NoError(t, h.home(rec, req))
	root.End()

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Hello world!", body["message"])
	assert.Equal(t, float64(123), body["answer"])
	require.NoError(t, mock.ExpectationsWereMet())

	names := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range sr.Ended() {
		names[s.Name()] = s
	}
	require.Contains(t, names, "home:sleep")
	require.Contains(t, names, "home:sleep:inner")
	require.Contains(t, names, "test_query")
	assert.Equal(t, names["home:sleep"].SpanContext().SpanID(), names["home:sleep:inner"].Parent().SpanID())
	assert.Equal(t, root.SpanContext().SpanID(), names["test_query"].Parent().SpanID())
}

func TestHome_WithoutDatabase(t *testing.T) {
	rec := httptest.NewRecorder()
	h := &apiHandler{}
	require.NoError(t, h.home(rec, httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJobs(t *testing.T) {
	ran := make(chan struct{}, 1)
	s := worker.NewScheduler("scheduler", worker.SchedulerConfig{}, noop.NewTracerProvider(), quietLogger())
	require.NoError(t, s.AddJob("heartbeat", "@hourly", func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}))
	h := &apiHandler{scheduler: s}

	rec := httptest.NewRecorder()
	require.NoError(t, h.listJobs(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil)))
	assert.JSONEq(t, `{"jobs":["heartbeat"]}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/jobs/heartbeat", nil)
	req.SetPathValue("name", "heartbeat")
	rec = httptest.NewRecorder()
	require.NoError(t, h.triggerJob(rec, req))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered job did not run")
	}
	require.NoError(t, s.Stop(context.Background()))

	req = httptest.NewRequest(http.MethodPost, "/jobs/nope", nil)
	req.SetPathValue("name", "nope")
	err := h.triggerJob(httptest.NewRecorder(), req)
	assert.Equal(t, http.StatusNotFound, respond.Status(err))
}

func TestJobs_SchedulerDisabled(t *testing.T) {
	h := &apiHandler{}

	rec := httptest.NewRecorder()
	require.NoError(t, h.listJobs(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil)))
	assert.JSONEq(t, `{"jobs":[]}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/jobs/x", nil)
	req.SetPathValue("name", "x")
	assert.Equal(t, http.StatusNotFound, respond.Status(h.triggerJob(httptest.NewRecorder(), req)))
}

type recordingRegistrar struct {
	commands  []string
	callbacks []string
	inline    []string
	fallback  bool
}

func (r *recordingRegistrar) AddCommand(p string, fn chat.HandlerFunc) error {
	if _, err := regexp.Compile(p); err != nil {
		return err
	}
	r.commands = append(r.commands, p)
	return nil
}

func (r *recordingRegistrar) SetDefault(fn chat.HandlerFunc) { r.fallback = fn != nil }

func (r *recordingRegistrar) AddInline(p string, fn chat.HandlerFunc) error {
	r.inline = append(r.inline, p)
	return nil
}

func (r *recordingRegistrar) AddCallback(p string, fn chat.HandlerFunc) error {
	r.callbacks = append(r.callbacks, p)
	return nil
}

func TestTelegramHandler_Init(t *testing.T) {
	r := &recordingRegistrar{}
	require.NoError(t, (&telegramHandler{}).Init(r))

	assert.Equal(t, []string{`/start`, `/echo (.*)`}, r.commands)
	assert.Equal(t, []string{`ack:(\w+)`}, r.callbacks)
	assert.Empty(t, r.inline)
	assert.True(t, r.fallback)
}
