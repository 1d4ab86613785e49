// Package tasks runs work detached from the request that produced it.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull means every slot of the queue is taken.
	ErrQueueFull = errors.New("task queue is full")
	// ErrClosed means the queue no longer accepts work.
	ErrClosed = errors.New("task queue is closed")
)

// Task is a unit of background work.
type Task func(ctx context.Context) error

type job struct {
	name string
	fn   Task
}

// Queue is a bounded queue served by a fixed number of workers.
type Queue struct {
	jobs    chan job
	workers int
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	eg     *errgroup.Group
}

// New creates a queue. A zero timeout leaves tasks unbounded.
func New(workers, depth int, timeout time.Duration) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if depth < 0 {
		depth = 0
	}
	return &Queue{
		jobs:    make(chan job, depth),
		workers: workers,
		timeout: timeout,
	}
}

// Start launches the workers. Tasks run on a context derived from ctx that
// is not cancelled when ctx is; Close is what stops the workers.
func (q *Queue) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	eg := &errgroup.Group{}
	for i := 0; i < q.workers; i++ {
		eg.Go(func() error {
			for j := range q.jobs {
				q.run(base, j)
			}
			return nil
		})
	}
	q.mu.Lock()
	q.eg = eg
	q.mu.Unlock()
}

func (q *Queue) run(ctx context.Context, j job) {
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panicked", "task", j.name, "panic", r)
		}
	}()
	start := time.Now()
	if err := j.fn(ctx); err != nil {
		slog.Error("task failed", "task", j.name, "duration", time.Since(start).String(), "error", err)
		return
	}
	slog.Debug("task done", "task", j.name, "duration", time.Since(start).String())
}

// Submit enqueues fn without blocking.
func (q *Queue) Submit(name string, fn Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job{name: name, fn: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting work and waits for queued tasks to finish.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	eg := q.eg
	q.mu.Unlock()

	if eg == nil {
		return nil
	}
	return eg.Wait()
}
