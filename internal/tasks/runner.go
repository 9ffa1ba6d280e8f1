// Package tasks runs fire-and-forget background work such as ledger
// adjustments and webhook fan-out, off the request path.
package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Task is one unit of background work.
type Task struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Runner executes tasks on a fixed pool of workers fed by a buffered queue.
// Submit never blocks: when the queue is full the task runs on its own
// goroutine.
type Runner struct {
	queue  chan Task
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	pending sync.WaitGroup
	workers sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRunner starts workers goroutines reading from a queue of size queueSize.
func NewRunner(workers, queueSize int, log zerolog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		queue:  make(chan Task, queueSize),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		r.workers.Add(1)
		go r.work()
	}
	return r
}

// Submit schedules t. After Close, tasks run inline so late callers still
// get their side effects.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) {
	t := Task{Name: name, Fn: fn}
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		r.run(t)
		return
	}
	r.pending.Add(1)
	select {
	case r.queue <- t:
		r.mu.RUnlock()
	default:
		r.mu.RUnlock()
		go func() {
			defer r.pending.Done()
			r.run(t)
		}()
	}
}

// Wait blocks until every submitted task has finished.
func (r *Runner) Wait() {
	r.pending.Wait()
}

// Close drains the queue and stops the workers, or gives up when ctx ends.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.workers.Wait()
		r.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// Abandon stragglers; tasks observing ctx stop early.
		r.cancel()
		return fmt.Errorf("tasks: drain interrupted: %w", ctx.Err())
	}
}

func (r *Runner) work() {
	defer r.workers.Done()
	for t := range r.queue {
		r.run(t)
		r.pending.Done()
	}
}

func (r *Runner) run(t Task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Str("task", t.Name).Interface("panic", rec).Msg("background task panicked")
		}
	}()
	if err := t.Fn(r.ctx); err != nil {
		r.log.Error().Err(err).Str("task", t.Name).Msg("background task failed")
	}
}

// Inline runs tasks synchronously on Submit. Useful for CLI commands and tests
// that want side effects applied before returning.
type Inline struct {
	Log zerolog.Logger
}

// Submit runs fn immediately.
func (i Inline) Submit(name string, fn func(ctx context.Context) error) {
	defer func() {
		if rec := recover(); rec != nil {
			i.Log.Error().Str("task", name).Interface("panic", rec).Msg("background task panicked")
		}
	}()
	if err := fn(context.Background()); err != nil {
		i.Log.Error().Err(err).Str("task", name).Msg("background task failed")
	}
}

// Submitter is what services depend on.
type Submitter interface {
	Submit(name string, fn func(ctx context.Context) error)
}
