package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/dormshare/pkg/observability"
)

var (
	// ErrPoolClosed is returned when submitting to a pool after Shutdown
	ErrPoolClosed = errors.New("worker pool shut down")
	// ErrQueueFull is returned by TrySubmit when every queue slot is taken
	ErrQueueFull = errors.New("worker pool queue full")
)

// Task is a unit of work run by a WorkerPool
type Task func(ctx context.Context) error

// SafeGo runs fn in a goroutine with a timeout and panic recovery. Errors
// are logged, never returned.
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn Task) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}

// WorkerPool runs tasks on a fixed number of goroutines fed from a bounded
// queue. Task errors and panics are logged.
type WorkerPool struct {
	taskName string
	timeout  time.Duration
	logger   *observability.Logger

	mu       sync.RWMutex
	closed   bool
	workCh   chan Task
	doneCh   chan struct{}
	quitCh   chan struct{}
	quitOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorkerPool starts workers goroutines. Each task runs under its own
// timeout derived from ctx. queueSize <= 0 uses twice the worker count.
//
//	pool := NewWorkerPool(ctx, 4, 64, "audit webhook", 10*time.Second, logger)
//	defer pool.Shutdown(shutdownCtx)
//
//	pool.TrySubmit(func(ctx context.Context) error {
//	    return deliver(ctx, payload)
//	})
func NewWorkerPool(ctx context.Context, workers, queueSize int, taskName string, timeout time.Duration, logger *observability.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	ctx, cancel := context.WithCancel(ctx)

	p := &WorkerPool{
		taskName: taskName,
		timeout:  timeout,
		logger:   logger.WithField("pool", taskName),
		workCh:   make(chan Task, queueSize),
		doneCh:   make(chan struct{}),
		quitCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(id)
		}(i)
	}
	go func() {
		wg.Wait()
		close(p.doneCh)
	}()

	return p
}

// Submit queues fn, blocking while the queue is full
func (p *WorkerPool) Submit(ctx context.Context, fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quitCh:
		return ErrPoolClosed
	}
}

// TrySubmit queues fn without blocking
func (p *WorkerPool) TrySubmit(fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish. When
// ctx expires first, running tasks are cancelled.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	// Wake blocked Submit calls so they release the read lock.
	p.quitOnce.Do(func() { close(p.quitCh) })

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.workCh)
	}
	p.mu.Unlock()

	select {
	case <-p.doneCh:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-p.doneCh
		return fmt.Errorf("%s: shutdown interrupted: %w", p.taskName, ctx.Err())
	}
}

func (p *WorkerPool) worker(id int) {
	for fn := range p.workCh {
		p.run(id, fn)
	}
}

func (p *WorkerPool) run(id int, fn Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	defer observability.RecoverPanic(p.logger.WithField("worker", id), p.taskName)

	if err := fn(ctx); err != nil {
		p.logger.WithError(err).WithField("worker", id).Warn("task failed")
	}
}
