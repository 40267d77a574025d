// Package dispatch hands page jobs to the worker pool. Submission is
// confirm-or-timeout: a task is either accepted into the queue within the
// confirmation window or reported as unconfirmed so the sweeper can pick the
// job up later.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Task identifies one page job to process.
type Task struct {
	JobID      string
	DocumentID string
	PageNumber int
}

// Handler processes an accepted task. It owns all persistence for the task's
// outcome; the pool only reports whether the task was accepted.
type Handler func(ctx context.Context, task Task)

// ErrNotConfirmed is returned when the queue cannot accept a task within the
// confirmation window. The job stays queued in the store and is recovered by
// the sweeper.
var ErrNotConfirmed = errors.New("dispatch not confirmed before timeout")

// Dispatcher accepts page tasks for asynchronous processing.
type Dispatcher interface {
	// Submit offers a task to the pool, waiting at most the configured
	// confirmation timeout. A nil return means accepted, nothing more.
	Submit(ctx context.Context, task Task) error
}

// PoolConfig configures an in-process worker pool.
type PoolConfig struct {
	Workers        int
	QueueSize      int
	ConfirmTimeout time.Duration
	Handler        Handler
	Logger         *slog.Logger
}

// Pool is an in-process Dispatcher backed by a bounded queue and a fixed set
// of worker goroutines.
type Pool struct {
	workers        int
	confirmTimeout time.Duration
	handler        Handler
	logger         *slog.Logger

	queue    chan Task
	inFlight atomic.Int64

	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewPool creates a pool. Start must be called before tasks are processed.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		workers:        cfg.Workers,
		confirmTimeout: cfg.ConfirmTimeout,
		handler:        cfg.Handler,
		logger:         logger.With("component", "dispatch"),
		queue:          make(chan Task, cfg.QueueSize),
	}
}

// Start launches the worker goroutines. Workers drain until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.logger.Info("worker pool started", "workers", p.workers, "queue_size", cap(p.queue))
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.run(ctx, i)
		}
	})
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With("worker", id)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopping")
			return
		case task := <-p.queue:
			p.inFlight.Add(1)
			p.handler(ctx, task)
			p.inFlight.Add(-1)
		}
	}
}

// Submit implements Dispatcher.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	timer := time.NewTimer(p.confirmTimeout)
	defer timer.Stop()

	select {
	case p.queue <- task:
		return nil
	case <-timer.C:
		p.logger.Warn("dispatch not confirmed",
			"job_id", task.JobID,
			"document_id", task.DocumentID,
			"page", task.PageNumber,
			"timeout", p.confirmTimeout)
		return ErrNotConfirmed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports current pool load.
func (p *Pool) Status() Status {
	return Status{
		Workers:    p.workers,
		QueueDepth: len(p.queue),
		InFlight:   int(p.inFlight.Load()),
	}
}

// Status is a point-in-time snapshot of pool load.
type Status struct {
	Workers    int `json:"workers"`
	QueueDepth int `json:"queue_depth"`
	InFlight   int `json:"in_flight"`
}
