// Package worker runs asynchronous trace jobs.
//
// Jobs are routed to a worker by hashing their (student, course) key, so all
// attempts of one student in one course are traced in arrival order while
// different keys proceed in parallel.
package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/ktrace/internal/adapters/mq/queue"
	"github.com/okian/ktrace/internal/domain/model"
	"github.com/okian/ktrace/pkg/logger"
	"github.com/okian/ktrace/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2
	defaultQueueCapacity    = 10000
	metricsUpdateInterval   = 5 * time.Second
)

// Tracer applies one attempt to the mastery state.
type Tracer interface {
	TraceAttempt(ctx context.Context, a model.Attempt) error
}

// TracerFunc adapts a function to Tracer.
type TracerFunc func(ctx context.Context, a model.Attempt) error

// TraceAttempt calls f.
func (f TracerFunc) TraceAttempt(ctx context.Context, a model.Attempt) error { return f(ctx, a) }

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// CompletionFunc observes every processed job.
type CompletionFunc func(j queue.Job, err error)

// Worker processes jobs until its queue closes.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)

	// Shutdown stops the worker without draining.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for one queue.
type InMemoryWorker struct {
	queue  Queue
	tracer Tracer
	name   string
	onDone CompletionFunc

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	processed atomic.Int64
	failed    atomic.Int64

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, tracer Tracer, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		tracer:   tracer,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.process(ctx, j); err != nil {
				w.logger.Error(ctx, "trace job failed",
					logger.String("job_id", j.ID),
					logger.String("attempt_id", j.Attempt.AttemptID),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown stops the worker loop and waits for the job in flight.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

func (w *InMemoryWorker) process(ctx context.Context, j queue.Job) (err error) { //nolint:gocritic // hugeParam: jobs travel by value
	start := time.Now()
	metrics.AddWorkerActive(1)
	defer func() {
		metrics.AddWorkerActive(-1)
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
		if w.onDone != nil {
			w.onDone(j, err)
		}
	}()

	w.processed.Add(1)
	if err = w.tracer.TraceAttempt(ctx, j.Attempt); err != nil {
		w.failed.Add(1)
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "trace_error")
		return fmt.Errorf("trace attempt %s: %w", j.Attempt.AttemptID, err)
	}
	return nil
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Capacity  int   `json:"capacity"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// Pool owns one queue per worker and routes jobs by key.
type Pool struct {
	workers  []*InMemoryWorker
	queues   []*queue.InMemoryQueue
	capacity int

	mu      sync.RWMutex
	started bool
	closed  bool

	stopMetrics chan struct{}
	stopOnce    sync.Once

	logger logger.Logger
}

// NewPool creates a worker pool that hands jobs to tracer.
func NewPool(tracer Tracer, opts ...PoolOption) *Pool {
	cfg := poolConfig{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers < 1 {
		cfg.workers = runtime.NumCPU() * defaultWorkerMultiplier
	}
	per := cfg.capacity / cfg.workers
	if per < 1 {
		per = 1
	}

	p := &Pool{
		workers:     make([]*InMemoryWorker, cfg.workers),
		queues:      make([]*queue.InMemoryQueue, cfg.workers),
		capacity:    per * cfg.workers,
		stopMetrics: make(chan struct{}),
		logger:      logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		p.queues[i] = queue.NewInMemoryQueue(queue.WithCapacity(per))
		p.workers[i] = NewInMemoryWorker(p.queues[i], tracer,
			WithName("worker-"+strconv.Itoa(i)),
			WithCompletion(cfg.onDone),
		)
	}

	metrics.UpdateWorkerCount(cfg.workers)
	metrics.UpdateQueueCapacity(p.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0)
	return p
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.metricsLoop(ctx)
	p.logger.Info(ctx, "worker pool started",
		logger.Int("workers", len(p.workers)),
		logger.Int("capacity", p.capacity),
	)
}

// Submit routes j to the worker owning its key. It never blocks.
func (p *Pool) Submit(ctx context.Context, j queue.Job) error { //nolint:gocritic // hugeParam: jobs travel by value
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch {
	case p.closed:
		return ErrPoolClosed
	case !p.started:
		return ErrNotStarted
	}
	if !p.queues[p.shard(j.Key())].Enqueue(ctx, j) {
		return ErrQueueFull
	}
	return nil
}

func (p *Pool) shard(k model.Key) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.String()))
	return int(h.Sum32() % uint32(len(p.queues))) //nolint:gosec // len(p.queues) is small and positive
}

// Len returns the number of jobs waiting across all queues.
func (p *Pool) Len(ctx context.Context) int {
	n := 0
	for _, q := range p.queues {
		n += q.Len(ctx)
	}
	return n
}

// Stats reports queue depth and processed job counts.
func (p *Pool) Stats(ctx context.Context) Stats {
	s := Stats{Workers: len(p.workers), Queued: p.Len(ctx), Capacity: p.capacity}
	for _, w := range p.workers {
		s.Processed += w.processed.Load()
		s.Failed += w.failed.Load()
	}
	return s
}

func (p *Pool) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopMetrics:
			return
		case <-ticker.C:
			p.updateMetrics(ctx)
		}
	}
}

func (p *Pool) updateMetrics(ctx context.Context) {
	n := p.Len(ctx)
	metrics.UpdateQueueSize(n)
	metrics.UpdateQueueUtilization(float64(n) / float64(p.capacity))
}

// Shutdown stops accepting jobs and lets every worker drain its queue. When
// ctx expires first the remaining workers are stopped without draining.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	p.stopOnce.Do(func() { close(p.stopMetrics) })
	for _, q := range p.queues {
		if err := q.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	if !started {
		return nil
	}

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.Done():
		case <-ctx.Done():
			timedOut = true
			if err := w.Shutdown(context.Background()); err != nil {
				p.logger.Warn(ctx, "worker shutdown failed", logger.Int("worker_id", i), logger.Error(err))
			}
		}
	}
	p.updateMetrics(ctx)
	if timedOut {
		return fmt.Errorf("worker pool drain: %w", ctx.Err())
	}
	return nil
}
