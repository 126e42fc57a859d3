package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"director/internal/observability/metrics"
)

// entry is a registered component and its bookkeeping.
type entry struct {
	name      string
	component Component
	stopAfter []string
	state     State
	prepared  bool
}

// Option configures an Application.
type Option func(*Application)

// WithConcurrentStop lets components of the same stop wave stop concurrently.
// Without it they stop one by one in reverse declaration order.
func WithConcurrentStop(enabled bool) Option {
	return func(a *Application) {
		a.concurrentStop = enabled
	}
}

// Application owns the registry of named components and drives their lifecycle.
//
// The Application is the only caller of Prepare, Start and Stop. Component
// lifecycle methods are invoked only between Run (or Start) and the end of
// Shutdown.
type Application struct {
	logger         *slog.Logger
	concurrentStop bool

	mu       sync.RWMutex
	entries  []*entry
	index    map[string]*entry
	started  bool
	stopping bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an empty Application.
func New(logger *slog.Logger, opts ...Option) *Application {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Application{
		logger: logger.With(slog.String("component", "lifecycle")),
		index:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Add registers a component under name.
//
// stopAfter names components that must finish stopping before this one stops;
// this component outlives them. The names may refer to components registered
// later, so a dependency can be declared (and prepared) before its users.
// References are resolved when the application starts.
//
// Returns *ConfigError for an empty name, a nil component, a duplicate name,
// a self reference, or registration after the application started.
func (a *Application) Add(name string, component Component, stopAfter ...string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if name == "" {
		return &ConfigError{Reason: "component name must not be empty"}
	}
	if component == nil {
		return &ConfigError{Component: name, Reason: "component must not be nil"}
	}
	if a.started {
		return &ConfigError{Component: name, Reason: "cannot register after the application started"}
	}
	if _, exists := a.index[name]; exists {
		return &ConfigError{Component: name, Reason: "already registered"}
	}

	seen := make(map[string]bool, len(stopAfter))
	deps := make([]string, 0, len(stopAfter))
	for _, dep := range stopAfter {
		if dep == name {
			return &ConfigError{Component: name, Reason: "cannot stop after itself"}
		}
		if !seen[dep] {
			seen[dep] = true
			deps = append(deps, dep)
		}
	}

	e := &entry{name: name, component: component, stopAfter: deps, state: Unprepared}
	a.entries = append(a.entries, e)
	a.index[name] = e
	metrics.SetComponentState(name, int(Unprepared))

	a.logger.Debug("component registered",
		slog.String("name", name),
		slog.Any("stop_after", deps))
	return nil
}

// Component returns the component registered under name.
func (a *Application) Component(name string) (Component, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	e, ok := a.index[name]
	if !ok {
		return nil, false
	}
	return e.component, true
}

// State returns the lifecycle state of the named component.
func (a *Application) State(name string) (State, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	e, ok := a.index[name]
	if !ok {
		return Unprepared, false
	}
	return e.state, true
}

// Names returns the registered component names in declaration order.
func (a *Application) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		names = append(names, e.name)
	}
	return names
}

// Ready reports whether every registered component is running and shutdown
// has not begun.
func (a *Application) Ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.started || a.stopping || len(a.entries) == 0 {
		return false
	}
	for _, e := range a.entries {
		if e.state != Running {
			return false
		}
	}
	return true
}

// Run prepares and starts every component, blocks until ctx is cancelled,
// then shuts everything down.
//
// ctx is the termination signal: the binary derives it from SIGINT/SIGTERM,
// tests cancel it directly. Components receive ctx during Prepare and Start;
// Shutdown runs on a context detached from its cancellation.
//
// Returns *PrepareError or *StartError when boot fails (after unwinding), or
// the *ShutdownError collected while stopping.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	a.logger.Info("shutdown requested", slog.Any("cause", context.Cause(ctx)))

	return a.Shutdown(context.WithoutCancel(ctx))
}

// Start runs Prepare for every component in declaration order, then Start for
// every component in declaration order. The first failure stops the sequence;
// every component whose Prepare succeeded is then stopped in reverse
// declaration order, best effort.
//
// The stop-after graph is checked before the first Prepare: an unknown
// reference or a cycle returns *ConfigError and nothing is prepared.
func (a *Application) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	if err := a.validateStopGraph(); err != nil {
		a.mu.Unlock()
		a.logger.Error("invalid stop order", slog.Any("error", err))
		return err
	}
	a.started = true
	entries := append([]*entry(nil), a.entries...)
	a.mu.Unlock()

	bootStart := time.Now()
	a.logger.Info("preparing components", slog.Int("count", len(entries)))

	for _, e := range entries {
		err := a.runPhase(ctx, e, "prepare", e.component.Prepare)
		if err != nil {
			a.setState(e, Failed)
			a.unwind(ctx, entries)
			var prepErr *PrepareError
			if errors.As(err, &prepErr) && prepErr.Component == e.name {
				return prepErr
			}
			return &PrepareError{Component: e.name, Err: err}
		}
		a.mu.Lock()
		e.prepared = true
		a.mu.Unlock()
		a.setState(e, Prepared)
	}

	a.logger.Info("starting components", slog.Int("count", len(entries)))

	for _, e := range entries {
		if err := a.runPhase(ctx, e, "start", e.component.Start); err != nil {
			a.setState(e, Failed)
			a.unwind(ctx, entries)
			return &StartError{Component: e.name, Err: err}
		}
		a.setState(e, Running)
	}

	a.logger.Info("all components running",
		slog.Int("count", len(entries)),
		slog.Duration("boot_duration", time.Since(bootStart)))
	return nil
}

// Shutdown stops every prepared component according to the stop-after graph.
//
// Components in the same wave have no ordering relationship. Stop failures are
// collected and do not prevent later components from stopping. Components
// caught in a stop-order cycle are not stopped and are reported as a
// *ConfigError. Shutdown runs once; later calls return the first result.
func (a *Application) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return ErrNotStarted
	}
	a.mu.Unlock()

	a.shutdownOnce.Do(func() {
		a.shutdownErr = a.shutdown(ctx)
	})
	return a.shutdownErr
}

// validateStopGraph must be called with a.mu held.
func (a *Application) validateStopGraph() error {
	nodes := make([]stopNode, 0, len(a.entries))
	for _, e := range a.entries {
		for _, dep := range e.stopAfter {
			if _, ok := a.index[dep]; !ok {
				return &ConfigError{Component: e.name, Reason: fmt.Sprintf("stop_after references unknown component %q", dep)}
			}
		}
		nodes = append(nodes, stopNode{name: e.name, stopAfter: e.stopAfter})
	}
	if _, unresolved := planStop(nodes); len(unresolved) > 0 {
		return &ConfigError{
			Reason: fmt.Sprintf("stop_after cycle: %s", strings.Join(unresolved, ", ")),
		}
	}
	return nil
}

func (a *Application) shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.stopping = true
	var nodes []stopNode
	for _, e := range a.entries {
		if e.prepared && e.state != Stopped {
			nodes = append(nodes, stopNode{name: e.name, stopAfter: e.stopAfter})
		}
	}
	a.mu.Unlock()

	start := time.Now()
	a.logger.Info("stopping components", slog.Int("count", len(nodes)))

	waves, unresolved := planStop(nodes)

	var (
		errMu sync.Mutex
		errs  []error
	)
	collect := func(err error) {
		errMu.Lock()
		errs = append(errs, err)
		errMu.Unlock()
	}

	if len(unresolved) > 0 {
		cfgErr := &ConfigError{
			Reason: fmt.Sprintf("stop_after cycle prevents stopping: %s", strings.Join(unresolved, ", ")),
		}
		a.logger.Error("stop order cannot be resolved", slog.Any("components", unresolved))
		collect(cfgErr)
	}

	for i, wave := range waves {
		a.logger.Debug("stopping wave", slog.Int("wave", i), slog.Any("components", wave))
		a.stopWave(ctx, wave, collect)
	}

	if len(errs) > 0 {
		a.logger.Error("shutdown finished with errors",
			slog.Int("errors", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return &ShutdownError{Errs: errs}
	}

	a.logger.Info("all components stopped", slog.Duration("duration", time.Since(start)))
	return nil
}

func (a *Application) stopWave(ctx context.Context, wave []string, collect func(error)) {
	stopOne := func(name string) {
		a.mu.RLock()
		e := a.index[name]
		a.mu.RUnlock()

		if err := a.stopEntry(ctx, e); err != nil {
			collect(&StopError{Component: name, Err: err})
		}
	}

	if !a.concurrentStop || len(wave) == 1 {
		for _, name := range wave {
			stopOne(name)
		}
		return
	}

	var g errgroup.Group
	for _, name := range wave {
		name := name
		g.Go(func() error {
			stopOne(name)
			return nil
		})
	}
	_ = g.Wait()
}

// unwind stops every prepared component in reverse declaration order after a
// failed boot. Errors are logged and otherwise ignored.
func (a *Application) unwind(ctx context.Context, entries []*entry) {
	a.mu.Lock()
	a.stopping = true
	a.mu.Unlock()

	stopCtx := context.WithoutCancel(ctx)
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		a.mu.RLock()
		prepared := e.prepared
		a.mu.RUnlock()
		if !prepared {
			continue
		}
		a.logger.Info("rolling back component", slog.String("name", e.name))
		if err := a.stopEntry(stopCtx, e); err != nil {
			a.logger.Warn("error stopping component during rollback",
				slog.String("name", e.name),
				slog.Any("error", err))
		}
	}

	// Shutdown after a failed boot has nothing left to do.
	a.shutdownOnce.Do(func() {})
}

func (a *Application) stopEntry(ctx context.Context, e *entry) error {
	err := a.runPhase(ctx, e, "stop", e.component.Stop)
	a.mu.Lock()
	e.prepared = false
	failed := e.state == Failed
	a.mu.Unlock()
	if err != nil || failed {
		a.setState(e, Failed)
	} else {
		a.setState(e, Stopped)
	}
	return err
}

// runPhase invokes one lifecycle method with logging and metrics. A panic in
// the component is converted into an error so the sequence can unwind.
func (a *Application) runPhase(ctx context.Context, e *entry, phase string, fn func(context.Context) error) (err error) {
	a.logger.Info("component phase starting",
		slog.String("name", e.name),
		slog.String("phase", phase))
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during %s: %v", phase, rec)
		}
		duration := time.Since(start)
		metrics.RecordPhase(e.name, phase, duration, err)
		if err != nil {
			a.logger.Error("component phase failed",
				slog.String("name", e.name),
				slog.String("phase", phase),
				slog.Duration("duration", duration),
				slog.Any("error", err))
			return
		}
		a.logger.Info("component phase finished",
			slog.String("name", e.name),
			slog.String("phase", phase),
			slog.Duration("duration", duration))
	}()

	return fn(ctx)
}

func (a *Application) setState(e *entry, s State) {
	a.mu.Lock()
	e.state = s
	a.mu.Unlock()
	metrics.SetComponentState(e.name, int(s))
}
