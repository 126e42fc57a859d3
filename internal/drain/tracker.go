// Package drain tracks in-flight operations of a component so that shutdown
// can wait for accepted work to finish instead of cutting it off.
//
// A Tracker is owned by one component. Every externally triggered unit of work
// (an HTTP request, a chat command, a scheduled job) is registered with the
// tracker while it runs. On shutdown the owner calls BeginDrain and then
// AwaitDrained, which returns once the active count reaches zero.
//
// The tracker never rejects work: operations started after BeginDrain still
// run to completion and are waited for. Refusing new work is a policy of the
// caller (for example, closing the listener first).
package drain

import (
	"context"
	"sync"

	"director/internal/observability/metrics"
)

// Op is a unit of work registered with a Tracker.
type Op func(ctx context.Context) error

// Tracker counts active operations and signals once when draining completes.
type Tracker struct {
	name string

	mu       sync.Mutex
	active   int
	draining bool
	done     chan struct{}
	closed   bool
}

// New creates a tracker for the named component.
// The name is used as the label of the active operations gauge.
func New(name string) *Tracker {
	return &Tracker{
		name: name,
		done: make(chan struct{}),
	}
}

// Name returns the component name the tracker was created with.
func (t *Tracker) Name() string {
	return t.name
}

// Track registers the start of an operation and returns the function that
// must be called exactly once when the operation completes.
//
// Track is meant for call sites that cannot hand over a closure, such as HTTP
// middleware:
//
//	done := tracker.Track()
//	defer done()
func (t *Tracker) Track() (done func()) {
	t.enter()
	var once sync.Once
	return func() {
		once.Do(t.exit)
	}
}

// Wrap returns an operation with the same signature as op that is counted
// while it runs. The error returned by op, and any panic it raises, are
// propagated unchanged after the bookkeeping is done.
func (t *Tracker) Wrap(op Op) Op {
	return func(ctx context.Context) error {
		t.enter()
		defer t.exit()
		return op(ctx)
	}
}

// Go runs op in its own goroutine and counts it until it returns.
// The operation is registered before Go returns, so an AwaitDrained that
// starts afterwards always observes it.
func (t *Tracker) Go(ctx context.Context, op Op, onError func(error)) {
	t.enter()
	go func() {
		defer t.exit()
		if err := op(ctx); err != nil && onError != nil {
			onError(err)
		}
	}()
}

// BeginDrain marks the tracker as draining. It is idempotent.
// If nothing is in flight the completion signal fires immediately.
func (t *Tracker) BeginDrain() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.draining {
		return
	}
	t.draining = true
	if t.active == 0 {
		t.fire()
	}
}

// Draining reports whether BeginDrain has been called.
func (t *Tracker) Draining() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.draining
}

// Active returns the number of operations currently in flight.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Done returns a channel that is closed once the tracker is draining and no
// operation is in flight.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// AwaitDrained blocks until every in-flight operation has completed after
// BeginDrain, or until ctx is done. Components pass a context without a
// deadline so in-flight work is always allowed to finish.
func (t *Tracker) AwaitDrained(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// The gauge is set under t.mu so concurrent enters and exits publish in order.
func (t *Tracker) enter() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active++
	metrics.DrainActiveOperations.WithLabelValues(t.name).Set(float64(t.active))
}

func (t *Tracker) exit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active--
	metrics.DrainActiveOperations.WithLabelValues(t.name).Set(float64(t.active))
	if t.draining && t.active == 0 {
		t.fire()
	}
}

// fire closes the completion channel once. Callers hold t.mu.
func (t *Tracker) fire() {
	if t.closed {
		return
	}
	t.closed = true
	close(t.done)
}
