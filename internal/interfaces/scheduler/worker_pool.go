package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	jobTracer          = otel.Tracer("bankline/scheduler")
	jobMeter           = otel.Meter("bankline/scheduler")
	jobDuration, _     = jobMeter.Float64Histogram("scheduler.job.duration", metric.WithDescription("Job execution duration in seconds"), metric.WithUnit("s"))
	jobTotal, _        = jobMeter.Int64Counter("scheduler.job.total", metric.WithDescription("Total jobs executed by status"))
	jobQueueDropped, _ = jobMeter.Int64Counter("scheduler.job.queue_dropped", metric.WithDescription("Jobs dropped due to full queue"))
)

const defaultJobTimeout = 120 * time.Second

var (
	ErrQueueFull  = errors.New("job queue full")
	ErrPoolClosed = errors.New("worker pool closed")
	ErrDuplicate  = errors.New("job already pending")
)

// WorkerPool runs submitted jobs on a fixed number of goroutines. At most one
// job per key is queued or running at a time.
type WorkerPool struct {
	workerCount int
	jobDelay    time.Duration
	jobTimeout  time.Duration
	jobs        chan Job
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	mu      sync.Mutex
	closed  bool
	pending map[string]struct{}
}

// NewWorkerPool sizes the pool. jobDelay is a pause each worker takes after
// a job; queueSize bounds how many jobs may wait.
func NewWorkerPool(workerCount int, jobDelay time.Duration, queueSize int) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workerCount: max(workerCount, 1),
		jobDelay:    jobDelay,
		jobTimeout:  defaultJobTimeout,
		jobs:        make(chan Job, max(queueSize, 0)),
		ctx:         ctx,
		cancel:      cancel,
		pending:     make(map[string]struct{}),
	}
}

func (wp *WorkerPool) Start() {
	log.Printf("Starting worker pool with %d workers", wp.workerCount)
	for id := 1; id <= wp.workerCount; id++ {
		wp.wg.Add(1)
		go wp.worker(id)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobs {
		wp.run(id, job)
		wp.release(job.Key())

		if wp.jobDelay <= 0 {
			continue
		}
		select {
		case <-time.After(wp.jobDelay):
		case <-wp.ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) run(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(wp.ctx, wp.jobTimeout)
	defer cancel()

	ctx, span := jobTracer.Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.description", job.Description()),
			attribute.String("job.key", job.Key()),
		),
	)
	defer span.End()

	start := time.Now()
	err := job.Execute(ctx)
	jobDuration.Record(ctx, time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("Worker %d: Error processing %s (%s): %v", workerID, job.Description(), job.Key(), err)
	}
	jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (wp *WorkerPool) release(key string) {
	wp.mu.Lock()
	delete(wp.pending, key)
	wp.mu.Unlock()
}

// Submit queues a job without blocking. It returns ErrQueueFull when the
// queue has no room and ErrDuplicate when a job with the same key is still
// queued or running.
func (wp *WorkerPool) Submit(job Job) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.closed {
		return ErrPoolClosed
	}
	if _, ok := wp.pending[job.Key()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, job.Key())
	}

	select {
	case wp.jobs <- job:
		wp.pending[job.Key()] = struct{}{}
		return nil
	default:
		jobQueueDropped.Add(context.Background(), 1)
		return fmt.Errorf("%w: %s", ErrQueueFull, job.Key())
	}
}

// SubmitBatch submits jobs one by one and logs the ones that were refused.
func (wp *WorkerPool) SubmitBatch(jobs []Job) {
	submitted := 0
	for _, job := range jobs {
		if err := wp.Submit(job); err != nil {
			log.Printf("Warning: job %s not submitted: %v", job.Key(), err)
			continue
		}
		submitted++
	}
	log.Printf("Submitted %d/%d jobs to worker pool", submitted, len(jobs))
}

// Shutdown stops accepting jobs and waits for the queue to drain.
func (wp *WorkerPool) Shutdown() {
	wp.ShutdownWithTimeout(0)
}

// ShutdownWithTimeout stops accepting jobs and waits up to timeout for the
// queue to drain, then cancels whatever is still running. A zero timeout
// waits indefinitely.
func (wp *WorkerPool) ShutdownWithTimeout(timeout time.Duration) {
	wp.mu.Lock()
	if !wp.closed {
		wp.closed = true
		close(wp.jobs)
	}
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-done:
	case <-expired:
		log.Println("Worker pool: Timeout reached, cancelling running jobs")
	}
	wp.cancel()
	log.Println("Worker pool: Shutdown complete")
}
