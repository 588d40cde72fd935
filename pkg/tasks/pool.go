package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type PoolConfig struct {
	Workers   int
	QueueSize int
	// Timeout bounds each task. Zero disables it.
	Timeout time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:   8,
		QueueSize: 256,
		Timeout:   15 * time.Minute,
	}
}

// Pool runs tasks on a fixed number of goroutines fed by a bounded queue.
type Pool struct {
	logger  *slog.Logger
	handler Handler
	config  PoolConfig

	queue chan Task
	group errgroup.Group
	base  context.Context
	stop  context.CancelCauseFunc

	mu      sync.Mutex
	closed  bool
	started bool
	running map[string]runningTask
	delayed map[string]delayedTask
	seq     uint64
}

type runningTask struct {
	cancel context.CancelCauseFunc
	seq    uint64
}

type delayedTask struct {
	timer *time.Timer
	seq   uint64
}

// redispatchDelay spaces out retries of delayed tasks that met a full queue.
const redispatchDelay = time.Second

func NewPool(logger *slog.Logger, handler Handler, config PoolConfig) *Pool {
	if config.Workers <= 0 {
		config.Workers = 1
	}

	if config.QueueSize < 0 {
		config.QueueSize = 0
	}

	base, stop := context.WithCancelCause(context.Background())

	return &Pool{
		logger:  logger.With("module", "task_pool"),
		handler: handler,
		config:  config,
		queue:   make(chan Task, config.QueueSize),
		base:    base,
		stop:    stop,
		running: make(map[string]runningTask),
		delayed: make(map[string]delayedTask),
	}
}

// Start launches the workers. Calling it twice has no effect.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.closed {
		return
	}

	p.started = true

	for range p.config.Workers {
		p.group.Go(func() error {
			for task := range p.queue {
				if p.base.Err() != nil {
					continue
				}

				p.run(task)
			}

			return nil
		})
	}

	p.logger.Info("Task pool started", "workers", p.config.Workers, "queue_size", p.config.QueueSize)
}

// Dispatch queues task without blocking. It fails with ErrQueueFull when the
// queue is at capacity.
func (p *Pool) Dispatch(_ context.Context, task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	select {
	case p.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// DispatchAt queues task once at has passed. Until then the task holds a
// timer, not a worker. A later call for the same id replaces the earlier one.
func (p *Pool) DispatchAt(_ context.Context, task Task, at time.Time) error {
	delay := max(time.Until(at), 0)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	if pending, ok := p.delayed[task.ID]; ok {
		pending.timer.Stop()
	}

	p.seq++
	seq := p.seq

	p.delayed[task.ID] = delayedTask{
		timer: time.AfterFunc(delay, func() { p.release(task, seq) }),
		seq:   seq,
	}

	return nil
}

func (p *Pool) release(task Task, seq uint64) {
	p.mu.Lock()

	pending, ok := p.delayed[task.ID]
	if !ok || pending.seq != seq {
		p.mu.Unlock()

		return
	}

	delete(p.delayed, task.ID)
	p.mu.Unlock()

	logger := p.logger.With("task_type", task.Type, "task_id", task.ID)

	err := p.Dispatch(context.Background(), task)
	switch {
	case err == nil:
	case errors.Is(err, ErrQueueFull):
		logger.Warn("Queue full, retrying delayed task", "retry_in", redispatchDelay)

		err = p.DispatchAt(context.Background(), task, time.Now().Add(redispatchDelay))
		if err != nil {
			logger.Error("Failed to retry delayed task", "error", err)
		}
	default:
		logger.Error("Failed to dispatch delayed task", "error", err)
	}
}

// Cancel interrupts a running task and drops a delayed one.
func (p *Pool) Cancel(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if running, ok := p.running[id]; ok {
		running.cancel(ErrCancelled)
	}

	if pending, ok := p.delayed[id]; ok {
		pending.timer.Stop()
		delete(p.delayed, id)
	}

	return nil
}

// Delayed returns the number of tasks waiting for their dispatch time.
func (p *Pool) Delayed() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.delayed)
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.running)
}

// Close stops accepting tasks, interrupts running ones, drops queued ones
// and waits for the workers to return.
func (p *Pool) Close() error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return nil
	}

	p.closed = true
	close(p.queue)

	for id, pending := range p.delayed {
		pending.timer.Stop()
		delete(p.delayed, id)
	}

	p.mu.Unlock()

	p.stop(ErrInterrupted)

	err := p.group.Wait()

	p.logger.Info("Task pool stopped")

	return err
}

func (p *Pool) run(task Task) {
	ctx, cancel := context.WithCancelCause(p.base)
	defer cancel(nil)

	if p.config.Timeout > 0 {
		var cancelTimeout context.CancelFunc

		ctx, cancelTimeout = context.WithTimeoutCause(ctx, p.config.Timeout, ErrTimeout)
		defer cancelTimeout()
	}

	// A resumed execution may start before the run that parked it returns.
	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.running[task.ID] = runningTask{cancel: cancel, seq: seq}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.running[task.ID].seq == seq {
			delete(p.running, task.ID)
		}
		p.mu.Unlock()
	}()

	logger := p.logger.With("task_type", task.Type, "task_id", task.ID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Task panicked", "panic", fmt.Sprint(r))
		}
	}()

	err := p.handler(ctx, task)
	if err != nil {
		logger.Error("Task failed", "error", err)
	}
}
