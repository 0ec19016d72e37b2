package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/timecapsule/internal/logger"
)

var (
	// ErrDispatcherClosed is returned by Enqueue after Shutdown has begun.
	ErrDispatcherClosed = errors.New("dispatcher is shut down")
	// ErrQueueFull is returned by Enqueue when every queue slot is taken.
	ErrQueueFull = errors.New("generation queue is full")
	// ErrShutdownTimeout is returned by Shutdown when workers outlive the deadline.
	ErrShutdownTimeout = errors.New("dispatcher shutdown timed out")
)

// JobRunner executes one generation job to completion. Abandon is called
// instead of Run for jobs that were queued but never started.
type JobRunner interface {
	Run(ctx context.Context, job GenerationJob) error
	Abandon(ctx context.Context, job GenerationJob, cause error)
}

// DispatcherConfig holds configuration for the dispatcher.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
}

// Dispatcher runs generation jobs on a fixed pool of worker goroutines.
// Workers use their own context so a job outlives the request that
// submitted it. Each job is handled by exactly one worker.
type Dispatcher struct {
	runner  JobRunner
	jobs    chan GenerationJob
	workers int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewDispatcher creates a dispatcher. Call Start before enqueueing.
func NewDispatcher(runner JobRunner, cfg DispatcherConfig) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = workers * 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.SetComponent(ctx, "dispatcher")

	return &Dispatcher{
		runner:  runner,
		jobs:    make(chan GenerationJob, queueSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(workerID int) {
			defer d.wg.Done()
			d.worker(workerID)
		}(i)
	}

	logger.CtxInfo(d.ctx, "Dispatcher started: workers=%d queue=%d", d.workers, cap(d.jobs))
}

// Enqueue hands a job to the pool without blocking.
func (d *Dispatcher) Enqueue(job GenerationJob) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops intake and waits for queued and in-flight jobs. If they
// do not finish within timeout, jobs still queued are abandoned, the worker
// context is cancelled, which aborts in-flight model calls, and
// ErrShutdownTimeout is returned.
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	logger.CtxInfo(d.ctx, "Shutdown requested. Draining generation queue...")

	doneCh := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		// Only non-empty if the pool was never started.
		if n := d.abandonQueued(ErrDispatcherClosed); n > 0 {
			logger.CtxWarn(d.ctx, "Abandoned %d queued runs that were never started.", n)
		}
		d.cancel()
		logger.CtxInfo(d.ctx, "All workers exited cleanly.")
		return nil
	case <-time.After(timeout):
		n := d.abandonQueued(ErrShutdownTimeout)
		d.cancel()
		logger.CtxError(d.ctx, "Shutdown timed out after %v. Abandoned %d queued runs, cancelling in-flight runs.", timeout, n)
		return ErrShutdownTimeout
	}
}

// abandonQueued empties the closed job channel, handing each job to the
// runner's Abandon. Workers may still take jobs concurrently; those run.
func (d *Dispatcher) abandonQueued(cause error) int {
	n := 0
	for job := range d.jobs {
		d.abandonJob(job, cause)
		n++
	}
	return n
}

func (d *Dispatcher) abandonJob(job GenerationJob, cause error) {
	defer func() {
		if r := recover(); r != nil {
			logger.CtxError(d.ctx, "Abandoning run %s panicked: %v", job.RunID, r)
		}
	}()
	d.runner.Abandon(d.ctx, job, cause)
}

func (d *Dispatcher) worker(workerID int) {
	ctx := logger.WithField(d.ctx, logger.FieldWorkerID, workerID)

	for job := range d.jobs {
		start := time.Now()
		err := d.runJob(ctx, job)

		entry := logger.With(logger.Fields{logger.FieldRunID: job.RunID}).Since(start)
		if err != nil {
			entry.Warn(ctx, "Generation job finished with failure: %v", err)
			continue
		}
		entry.Info(ctx, "Generation job finished")
	}
}

// runJob keeps a panicking runner from taking its worker down.
func (d *Dispatcher) runJob(ctx context.Context, job GenerationJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return d.runner.Run(ctx, job)
}
