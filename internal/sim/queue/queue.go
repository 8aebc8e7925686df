// Package queue defers persistence work off the producer goroutine.
//
// Submitted tasks sit in a FIFO backlog until the dispatcher (its own ticker,
// never the producer) hands up to MaxBatchSize of them to a fixed worker pool,
// one task per hand-off. Workers post results into a mailbox that the
// producer drains with DispatchResults, so continuations run on the producer
// goroutine and never on a worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrClosed          = errors.New("queue closed")
	ErrInvalidTask     = errors.New("invalid task: nil execute")
	ErrShutdownTimeout = errors.New("queue shutdown: workers did not stop in time")
)

const (
	DefaultWorkers         = 4
	DefaultBatchInterval   = 50 * time.Millisecond
	DefaultMaxBatchSize    = 64
	DefaultShutdownTimeout = 5 * time.Second

	tracerName = "jobeconomy.ai/internal/sim/queue"
)

type Config struct {
	Workers         int
	BatchInterval   time.Duration
	MaxBatchSize    int
	ShutdownTimeout time.Duration

	Logger         *log.Logger
	TracerProvider trace.TracerProvider
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = DefaultBatchInterval
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return c
}

// Task is one unit of persistence work. Execute must capture everything it
// needs; it runs exactly once on a worker (or on the shutdown drain).
type Task struct {
	ID          string
	Description string
	Execute     func(ctx context.Context) error

	OnSuccess func()
	OnFailure func(error)
}

// Result is the message a worker posts for a finished task that has a
// continuation.
type Result struct {
	TaskID      string
	Description string
	Err         error
	Duration    time.Duration

	onSuccess func()
	onFailure func(error)
}

type Stats struct {
	Workers            int    `json:"workers"`
	Submitted          uint64 `json:"submitted"`
	Queued             int    `json:"queued"`
	Pending            int64  `json:"pending"`
	Completed          uint64 `json:"completed"`
	Failed             uint64 `json:"failed"`
	Dropped            uint64 `json:"dropped"`
	Ticks              uint64 `json:"ticks"`
	BackpressureDrains uint64 `json:"backpressure_drains"`
	MailboxDepth       int    `json:"mailbox_depth"`
}

type Queue struct {
	cfg    Config
	tracer trace.Tracer

	mu      sync.Mutex
	backlog []Task

	kick           chan struct{}
	work           chan Task
	stop           chan struct{}
	dispatcherDone chan struct{}
	workers        sync.WaitGroup

	// Cancelled to force-stop tasks still running after the shutdown wait.
	ctx    context.Context
	cancel context.CancelFunc

	closed   atomic.Bool
	stopOnce sync.Once

	mailboxMu sync.Mutex
	mailbox   []Result
	ready     chan struct{}

	submitted          atomic.Uint64
	completed          atomic.Uint64
	failed             atomic.Uint64
	dropped            atomic.Uint64
	ticks              atomic.Uint64
	backpressureDrains atomic.Uint64
}

// New starts the dispatcher and worker pool.
func New(cfg Config) *Queue {
	cfg = cfg.normalized()
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:            cfg,
		tracer:         tp.Tracer(tracerName),
		kick:           make(chan struct{}, 1),
		work:           make(chan Task, cfg.MaxBatchSize),
		stop:           make(chan struct{}),
		dispatcherDone: make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
		ready:          make(chan struct{}, 1),
	}
	for i := 0; i < cfg.Workers; i++ {
		q.workers.Add(1)
		go func() {
			defer q.workers.Done()
			for t := range q.work {
				q.execute(q.ctx, t)
			}
		}()
	}
	go q.dispatchLoop()
	return q
}

// Submit enqueues t without blocking. Once the backlog exceeds twice the
// batch size an immediate out-of-band drain is requested.
func (q *Queue) Submit(t Task) error {
	if q == nil {
		return ErrClosed
	}
	if t.Execute == nil {
		return ErrInvalidTask
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	q.mu.Lock()
	if q.closed.Load() {
		q.mu.Unlock()
		return ErrClosed
	}
	q.backlog = append(q.backlog, t)
	depth := len(q.backlog)
	q.submitted.Add(1)
	q.mu.Unlock()

	if depth > 2*q.cfg.MaxBatchSize {
		q.requestDrain()
	}
	return nil
}

func (q *Queue) requestDrain() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

func (q *Queue) dispatchLoop() {
	defer close(q.dispatcherDone)
	ticker := time.NewTicker(q.cfg.BatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.ticks.Add(1)
			q.dispatchBatch()
		case <-q.kick:
			q.backpressureDrains.Add(1)
			if remaining := q.dispatchBatch(); remaining > 2*q.cfg.MaxBatchSize {
				q.requestDrain()
			}
		}
	}
}

// dispatchBatch hands up to MaxBatchSize tasks to the pool and returns the
// backlog depth left behind.
func (q *Queue) dispatchBatch() int {
	batch := q.take(q.cfg.MaxBatchSize)
	for i, t := range batch {
		select {
		case q.work <- t:
		case <-q.stop:
			q.requeueFront(batch[i:])
			return q.Queued()
		}
	}
	return q.Queued()
}

func (q *Queue) take(n int) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.backlog) {
		n = len(q.backlog)
	}
	if n == 0 {
		return nil
	}
	batch := make([]Task, n)
	copy(batch, q.backlog[:n])
	// Clear references so drained closures can be collected.
	for i := range q.backlog[:n] {
		q.backlog[i] = Task{}
	}
	q.backlog = q.backlog[n:]
	return batch
}

func (q *Queue) requeueFront(ts []Task) {
	if len(ts) == 0 {
		return
	}
	q.mu.Lock()
	q.backlog = append(append(make([]Task, 0, len(ts)+len(q.backlog)), ts...), q.backlog...)
	q.mu.Unlock()
}

func (q *Queue) execute(ctx context.Context, t Task) {
	start := time.Now()
	spanCtx, span := q.tracer.Start(ctx, "queue.task", trace.WithAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("task.description", t.Description),
	))
	err := run(spanCtx, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	// Post before counting: once a task shows as completed its result is
	// already in the mailbox.
	if (err == nil && t.OnSuccess != nil) || (err != nil && t.OnFailure != nil) {
		q.post(Result{
			TaskID:      t.ID,
			Description: t.Description,
			Err:         err,
			Duration:    time.Since(start),
			onSuccess:   t.OnSuccess,
			onFailure:   t.OnFailure,
		})
	}

	if err != nil {
		q.failed.Add(1)
		q.printf("task failed id=%s desc=%q err=%v", t.ID, t.Description, err)
	} else {
		q.completed.Add(1)
	}
}

func run(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return t.Execute(ctx)
}

func (q *Queue) post(r Result) {
	q.mailboxMu.Lock()
	q.mailbox = append(q.mailbox, r)
	q.mailboxMu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled whenever results are waiting in the mailbox.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

// DispatchResults runs every waiting continuation on the calling goroutine
// and returns how many ran. The producer loop calls it once per tick.
func (q *Queue) DispatchResults() int {
	if q == nil {
		return 0
	}
	q.mailboxMu.Lock()
	results := q.mailbox
	q.mailbox = nil
	q.mailboxMu.Unlock()

	for _, r := range results {
		q.runContinuation(r)
	}
	return len(results)
}

func (q *Queue) runContinuation(r Result) {
	defer func() {
		if p := recover(); p != nil {
			q.printf("continuation panic id=%s desc=%q: %v", r.TaskID, r.Description, p)
		}
	}()
	if r.Err == nil {
		if r.onSuccess != nil {
			r.onSuccess()
		}
		return
	}
	if r.onFailure != nil {
		r.onFailure(r.Err)
	}
}

// Shutdown stops the dispatcher, runs every task still in the backlog on the
// calling goroutine, then waits up to ShutdownTimeout for the workers before
// cancelling whatever they are still running. Cancelling ctx cancels running
// tasks early.
func (q *Queue) Shutdown(ctx context.Context) error {
	return q.shutdown(ctx, true)
}

// ShutdownNow is the degraded path: the backlog is discarded and counted as
// dropped instead of drained.
func (q *Queue) ShutdownNow(ctx context.Context) error {
	return q.shutdown(ctx, false)
}

func (q *Queue) shutdown(ctx context.Context, drain bool) error {
	if q == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := ErrClosed
	q.stopOnce.Do(func() {
		err = nil
		q.mu.Lock()
		q.closed.Store(true)
		q.mu.Unlock()

		close(q.stop)
		<-q.dispatcherDone

		stopWatch := context.AfterFunc(ctx, q.cancel)
		defer stopWatch()

		if drain {
			if n := q.drainBacklog(); n > 0 {
				q.printf("shutdown drained %d queued tasks", n)
			}
		} else if n := q.dropBacklog(); n > 0 {
			q.printf("shutdown dropped %d queued tasks", n)
		}

		close(q.work)
		done := make(chan struct{})
		go func() {
			q.workers.Wait()
			close(done)
		}()

		timer := time.NewTimer(q.cfg.ShutdownTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			err = ErrShutdownTimeout
			q.forceStop(done)
		case <-ctx.Done():
			err = ctx.Err()
			q.forceStop(done)
		}
		q.cancel()

		st := q.Stats()
		q.printf("queue stopped submitted=%d completed=%d failed=%d dropped=%d", st.Submitted, st.Completed, st.Failed, st.Dropped)
	})
	return err
}

// forceStop cancels running tasks and gives them one more ShutdownTimeout to
// return.
func (q *Queue) forceStop(done <-chan struct{}) {
	q.cancel()
	grace := time.NewTimer(q.cfg.ShutdownTimeout)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		q.printf("shutdown: abandoning workers still running after cancel")
	}
}

func (q *Queue) drainBacklog() int {
	q.mu.Lock()
	limit := len(q.backlog)
	q.mu.Unlock()

	n := 0
	for n < limit {
		batch := q.take(1)
		if len(batch) == 0 {
			break
		}
		q.execute(q.ctx, batch[0])
		n++
	}
	return n
}

func (q *Queue) dropBacklog() int {
	q.mu.Lock()
	n := len(q.backlog)
	q.backlog = nil
	q.mu.Unlock()
	q.dropped.Add(uint64(n))
	return n
}

func (q *Queue) Queued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

func (q *Queue) Closed() bool { return q == nil || q.closed.Load() }

func (q *Queue) Stats() Stats {
	if q == nil {
		return Stats{}
	}
	// Terminal counters first so Pending never goes negative.
	st := Stats{
		Workers:            q.cfg.Workers,
		Completed:          q.completed.Load(),
		Failed:             q.failed.Load(),
		Dropped:            q.dropped.Load(),
		Ticks:              q.ticks.Load(),
		BackpressureDrains: q.backpressureDrains.Load(),
	}
	st.Submitted = q.submitted.Load()
	st.Queued = q.Queued()
	st.Pending = int64(st.Submitted) - int64(st.Completed) - int64(st.Failed) - int64(st.Dropped)
	q.mailboxMu.Lock()
	st.MailboxDepth = len(q.mailbox)
	q.mailboxMu.Unlock()
	return st
}

func (q *Queue) printf(format string, args ...any) {
	if q != nil && q.cfg.Logger != nil {
		q.cfg.Logger.Printf(format, args...)
	}
}
