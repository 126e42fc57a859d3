package drain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"director/internal/observability/metrics"
)

func TestTracker_AwaitDrainedReturnsImmediatelyWhenIdle(t *testing.T) {
	tr := New("idle")
	tr.BeginDrain()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, tr.AwaitDrained(ctx))
	assert.True(t, tr.Draining())
}

func TestTracker_WaitsForEveryInFlightOperation(t *testing.T) {
	tests := []struct {
		name     string
		inFlight int
		failing  int
	}{
		{name: "single success", inFlight: 1},
		{name: "many successes", inFlight: 25},
		{name: "mixed outcomes", inFlight: 10, failing: 4},
		{name: "all failures", inFlight: 5, failing: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New("inflight")
			release := make(chan struct{})
			var started sync.WaitGroup
			var finished sync.WaitGroup

			for i := 0; i < tt.inFlight; i++ {
				fail := i < tt.failing
				op := tr.Wrap(func(ctx context.Context) error {
					started.Done()
					<-release
					if fail {
						return errors.New("operation failed")
					}
					return nil
				})
				started.Add(1)
				finished.Add(1)
				go func() {
					defer finished.Done()
					_ = op(context.Background())
				}()
			}
			started.Wait()
			require.Equal(t, tt.inFlight, tr.Active())

			tr.BeginDrain()

			select {
			case <-tr.Done():
				t.Fatal("drain completed while operations were still running")
			case <-time.After(20 * time.Millisecond):
			}

			close(release)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			require.NoError(t, tr.AwaitDrained(ctx))
			finished.Wait()
			assert.Equal(t, 0, tr.Active())
		})
	}
}

func TestTracker_WrapPropagatesErrorUnchanged(t *testing.T) {
	tr := New("errors")
	sentinel := errors.New("sentinel")

	err := tr.Wrap(func(ctx context.Context) error { return sentinel })(context.Background())

	assert.Same(t, sentinel, err)
	assert.Equal(t, 0, tr.Active())
}

func TestTracker_WrapDecrementsOnPanic(t *testing.T) {
	tr := New("panics")
	op := tr.Wrap(func(ctx context.Context) error { panic("boom") })

	assert.PanicsWithValue(t, "boom", func() { _ = op(context.Background()) })
	assert.Equal(t, 0, tr.Active())

	tr.BeginDrain()
	select {
	case <-tr.Done():
	default:
		t.Fatal("expected drain to complete after panicking operation")
	}
}

func TestTracker_BeginDrainIsIdempotent(t *testing.T) {
	tr := New("idempotent")
	done := tr.Track()

	tr.BeginDrain()
	tr.BeginDrain()
	done()
	done()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tr.AwaitDrained(ctx))
	assert.Equal(t, 0, tr.Active())
}

func TestTracker_OperationsAfterDrainStillRun(t *testing.T) {
	tr := New("late")
	hold := tr.Track()
	tr.BeginDrain()

	ran := false
	err := tr.Wrap(func(ctx context.Context) error {
		ran = true
		return nil
	})(context.Background())

	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, tr.Active())

	hold()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tr.AwaitDrained(ctx))
}

func TestTracker_GoRegistersBeforeReturning(t *testing.T) {
	tr := New("go")
	release := make(chan struct{})
	var got error
	var mu sync.Mutex

	tr.Go(context.Background(), func(ctx context.Context) error {
		<-release
		return errors.New("late failure")
	}, func(err error) {
		mu.Lock()
		got = err
		mu.Unlock()
	})

	tr.BeginDrain()
	assert.Equal(t, 1, tr.Active())

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tr.AwaitDrained(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.EqualError(t, got, "late failure")
}

func TestTracker_AwaitDrainedHonorsContext(t *testing.T) {
	tr := New("ctx")
	done := tr.Track()
	defer done()
	tr.BeginDrain()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := tr.AwaitDrained(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTracker_GaugeSettlesAtZeroUnderConcurrency(t *testing.T) {
	tr := New("gauge-concurrency")
	op := tr.Wrap(func(ctx context.Context) error { return nil })

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = op(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, tr.Active())
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.DrainActiveOperations.WithLabelValues("gauge-concurrency")))
}
