// Package worker hosts background work that is not driven by inbound
// requests: cron-scheduled jobs and the health/metrics listener.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"director/internal/drain"
	"director/internal/observability/metrics"
	"director/internal/observability/tracing"
)

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

// SchedulerConfig holds scheduler settings.
type SchedulerConfig struct {
	// Timezone is the IANA location schedules are evaluated in. Defaults to UTC.
	Timezone string
	// JobTimeout bounds a single run. Zero means unbounded.
	JobTimeout time.Duration
}

type scheduledJob struct {
	name string
	spec string
	run  drain.Op
}

// Scheduler is a lifecycle component running jobs on cron schedules.
//
// A job never overlaps with itself: a tick that fires while the previous run
// is still active is skipped. Every run gets a root span and is tracked by
// the drain tracker, so Stop returns only after the last run finished.
type Scheduler struct {
	name   string
	cfg    SchedulerConfig
	tracer trace.Tracer
	logger *slog.Logger
	drain  *drain.Tracker

	mu      sync.Mutex
	jobs    map[string]*scheduledJob
	order   []string
	cron    *cron.Cron
	started bool
}

// NewScheduler creates a scheduler component named name.
func NewScheduler(name string, cfg SchedulerConfig, tp trace.TracerProvider, logger *slog.Logger) *Scheduler {
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	return &Scheduler{
		name:   name,
		cfg:    cfg,
		tracer: tp.Tracer("director/internal/infra/worker"),
		logger: logger.With(slog.String("component", name)),
		drain:  drain.New(name),
		jobs:   make(map[string]*scheduledJob),
	}
}

// AddJob registers job under name to run on the cron spec. Jobs must be
// added before Prepare.
func (s *Scheduler) AddJob(name, spec string, job Job) error {
	if name == "" {
		return errors.New("job name must not be empty")
	}
	if job == nil {
		return fmt.Errorf("job %q: nil function", name)
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("job %q: invalid schedule %q: %w", name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("job %q: scheduler already prepared", name)
	}
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}

	s.jobs[name] = &scheduledJob{
		name: name,
		spec: spec,
		run: func(ctx context.Context) error {
			return s.run(ctx, name, job)
		},
	}
	s.order = append(s.order, name)
	return nil
}

// Prepare resolves the timezone and registers every job with cron.
func (s *Scheduler) Prepare(ctx context.Context) error {
	loc, err := time.LoadLocation(s.cfg.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", s.cfg.Timezone, err)
	}

	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.SkipIfStillRunning(cl)),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range s.order {
		j := s.jobs[name]
		tracked := s.drain.Wrap(j.run)
		if _, err := c.AddFunc(j.spec, func() {
			_ = tracked(context.Background())
		}); err != nil {
			return fmt.Errorf("schedule job %q: %w", name, err)
		}
		s.logger.Info("job scheduled",
			slog.String("job", name),
			slog.String("schedule", j.spec),
			slog.String("timezone", loc.String()))
	}
	s.cron = c
	return nil
}

// Start begins firing schedules.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return errors.New("scheduler not prepared")
	}
	s.cron.Start()
	s.started = true
	return nil
}

// Stop halts the schedule, then waits without limit for running jobs and
// triggered runs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, started := s.cron, s.started
	s.mu.Unlock()

	if c != nil && started {
		<-c.Stop().Done()
	}

	s.drain.BeginDrain()
	if active := s.drain.Active(); active > 0 {
		s.logger.Info("waiting for triggered jobs", slog.Int("active", active))
	}
	return s.drain.AwaitDrained(context.WithoutCancel(ctx))
}

// Trigger runs the named job once in the background, outside its schedule.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}

	s.drain.Go(context.Background(), j.run, nil)
	return nil
}

// Jobs returns the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Drain exposes the tracker counting running jobs.
func (s *Scheduler) Drain() *drain.Tracker {
	return s.drain
}

func (s *Scheduler) run(ctx context.Context, name string, job Job) (err error) {
	ctx, span := s.tracer.Start(ctx, "job "+name,
		trace.WithNewRoot(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("job.name", name)))
	defer span.End()

	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		metrics.RecordJobRun(name, elapsed, err)
		if err != nil {
			tracing.MarkError(span, err)
			s.logger.Error("job failed",
				slog.String("job", name),
				slog.Duration("duration", elapsed),
				slog.Any("error", err))
			return
		}
		s.logger.Info("job completed",
			slog.String("job", name),
			slog.Duration("duration", elapsed))
	}()

	return s.safeRun(ctx, name, job)
}

func (s *Scheduler) safeRun(ctx context.Context, name string, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("job panicked",
				slog.String("job", name),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return job(ctx)
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.Any("error", err))...)
}
