package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func noop(context.Context) error { return nil }

func TestQueue_TickExecutesAndDeliversContinuations(t *testing.T) {
	q := New(Config{Workers: 2, BatchInterval: 5 * time.Millisecond, MaxBatchSize: 8})
	defer q.Shutdown(context.Background())

	var ran atomic.Int32
	successes := 0
	for i := 0; i < 5; i++ {
		err := q.Submit(Task{
			Description: "balance",
			Execute: func(context.Context) error {
				ran.Add(1)
				return nil
			},
			OnSuccess: func() { successes++ },
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	waitFor(t, "tasks to complete", func() bool { return q.Stats().Completed == 5 })
	if successes != 0 {
		t.Fatalf("continuations must not run before DispatchResults")
	}
	<-q.Ready()
	delivered := 0
	waitFor(t, "results", func() bool {
		delivered += q.DispatchResults()
		return delivered == 5
	})
	if successes != 5 || ran.Load() != 5 {
		t.Fatalf("successes=%d ran=%d", successes, ran.Load())
	}
	st := q.Stats()
	if st.Pending != 0 || st.Failed != 0 || st.Ticks == 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestQueue_FailureIsIsolatedPerTask(t *testing.T) {
	q := New(Config{Workers: 3, BatchInterval: 5 * time.Millisecond, MaxBatchSize: 16})
	defer q.Shutdown(context.Background())

	boom := errors.New("db down")
	var gotErr error
	okCount := 0
	for i := 0; i < 6; i++ {
		i := i
		_ = q.Submit(Task{
			Description: "experience",
			Execute: func(context.Context) error {
				if i == 2 {
					return boom
				}
				if i == 4 {
					panic("bad row")
				}
				return nil
			},
			OnSuccess: func() { okCount++ },
			OnFailure: func(err error) {
				if gotErr == nil {
					gotErr = err
				}
			},
		})
	}

	waitFor(t, "batch", func() bool {
		st := q.Stats()
		return st.Completed+st.Failed == 6
	})
	st := q.Stats()
	if st.Completed != 4 || st.Failed != 2 {
		t.Fatalf("completed=%d failed=%d", st.Completed, st.Failed)
	}
	delivered := 0
	waitFor(t, "results", func() bool {
		delivered += q.DispatchResults()
		return delivered == 6
	})
	if okCount != 4 {
		t.Fatalf("okCount=%d want 4", okCount)
	}
	if gotErr == nil {
		t.Fatalf("failure continuation not called")
	}
}

func TestQueue_BackpressureTriggersImmediateDrain(t *testing.T) {
	const batch = 4
	q := New(Config{Workers: 2, BatchInterval: time.Hour, MaxBatchSize: batch})
	defer q.Shutdown(context.Background())

	for i := 0; i < 2*batch+1; i++ {
		if err := q.Submit(Task{Execute: noop}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	waitFor(t, "backpressure drain", func() bool {
		st := q.Stats()
		return st.BackpressureDrains >= 1 && st.Completed >= batch
	})
	if st := q.Stats(); st.Ticks != 0 {
		t.Fatalf("scheduled tick fired unexpectedly: %+v", st)
	}
}

func TestQueue_BelowThresholdWaitsForTick(t *testing.T) {
	q := New(Config{Workers: 1, BatchInterval: time.Hour, MaxBatchSize: 4})
	defer q.Shutdown(context.Background())

	for i := 0; i < 8; i++ {
		_ = q.Submit(Task{Execute: noop})
	}
	time.Sleep(30 * time.Millisecond)
	st := q.Stats()
	if st.Completed != 0 || st.BackpressureDrains != 0 || st.Queued != 8 {
		t.Fatalf("tasks ran without a tick: %+v", st)
	}
}

func TestQueue_ShutdownDrainsEverything(t *testing.T) {
	q := New(Config{Workers: 2, BatchInterval: time.Hour, MaxBatchSize: 50})

	var ran atomic.Int32
	for i := 0; i < 40; i++ {
		i := i
		_ = q.Submit(Task{Execute: func(context.Context) error {
			ran.Add(1)
			if i%10 == 0 {
				return errors.New("constraint violation")
			}
			return nil
		}})
	}
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	st := q.Stats()
	if st.Completed+st.Failed != st.Submitted || st.Submitted != 40 {
		t.Fatalf("unaccounted tasks: %+v", st)
	}
	if st.Failed != 4 || ran.Load() != 40 || st.Pending != 0 || st.Queued != 0 {
		t.Fatalf("unexpected stats after drain: %+v ran=%d", st, ran.Load())
	}

	if err := q.Submit(Task{Execute: noop}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Submit after shutdown err=%v want ErrClosed", err)
	}
	if err := q.Shutdown(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Shutdown err=%v want ErrClosed", err)
	}
}

func TestQueue_ShutdownNowDropsBacklog(t *testing.T) {
	q := New(Config{Workers: 1, BatchInterval: time.Hour, MaxBatchSize: 50})
	for i := 0; i < 10; i++ {
		_ = q.Submit(Task{Execute: noop})
	}
	if err := q.ShutdownNow(context.Background()); err != nil {
		t.Fatalf("ShutdownNow: %v", err)
	}
	st := q.Stats()
	if st.Dropped != 10 || st.Completed != 0 || st.Pending != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestQueue_ShutdownCancelsStragglers(t *testing.T) {
	q := New(Config{Workers: 1, BatchInterval: 2 * time.Millisecond, MaxBatchSize: 4, ShutdownTimeout: 20 * time.Millisecond})

	started := make(chan struct{})
	var once sync.Once
	_ = q.Submit(Task{
		Description: "slow write",
		Execute: func(ctx context.Context) error {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return ctx.Err()
		},
	})
	<-started

	err := q.Shutdown(context.Background())
	if !errors.Is(err, ErrShutdownTimeout) {
		t.Fatalf("Shutdown err=%v want ErrShutdownTimeout", err)
	}
	st := q.Stats()
	if st.Failed != 1 || st.Completed+st.Failed != st.Submitted {
		t.Fatalf("straggler not accounted: %+v", st)
	}
}

func TestQueue_RejectsInvalidTask(t *testing.T) {
	q := New(Config{})
	defer q.Shutdown(context.Background())
	if err := q.Submit(Task{Description: "nothing"}); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("err=%v want ErrInvalidTask", err)
	}
	if st := q.Stats(); st.Submitted != 0 {
		t.Fatalf("invalid task counted: %+v", st)
	}
}

func TestQueue_ConcurrentSubmitters(t *testing.T) {
	q := New(Config{Workers: 4, BatchInterval: time.Millisecond, MaxBatchSize: 8})
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				_ = q.Submit(Task{Execute: noop})
			}
		}()
	}
	wg.Wait()
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if st := q.Stats(); st.Completed != 1000 {
		t.Fatalf("completed=%d want 1000", st.Completed)
	}
}
