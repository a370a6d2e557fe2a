package cart

import (
	"context"
	"sync"
)

// Task is a unit of offer work. It must check ctx before and after every
// blocking call and leave the cart untouched once ctx is done.
type Task func(ctx context.Context) error

type queued struct {
	task Task
	done chan error
}

// TaskQueue runs at most one task at a time. A task submitted while another
// runs waits in a single slot; a later submission replaces it, and the
// replaced task completes with ErrCancelled without running.
type TaskQueue struct {
	mu      sync.Mutex
	base    context.Context
	stop    context.CancelFunc
	running bool
	cancel  context.CancelFunc
	pending *queued
	closed  bool
	wg      sync.WaitGroup
}

// NewTaskQueue creates an idle queue.
func NewTaskQueue() *TaskQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskQueue{base: ctx, stop: cancel}
}

// Enqueue submits task. The returned channel receives its result exactly once.
func (q *TaskQueue) Enqueue(task Task) <-chan error {
	item := &queued{task: task, done: make(chan error, 1)}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		item.done <- ErrCancelled
		return item.done
	}
	if q.running {
		if q.pending != nil {
			q.pending.done <- ErrCancelled
		}
		q.pending = item
		return item.done
	}
	q.startLocked(item)
	return item.done
}

func (q *TaskQueue) startLocked(item *queued) {
	ctx, cancel := context.WithCancel(q.base)
	q.running = true
	q.cancel = cancel
	q.wg.Add(1)
	go q.run(ctx, cancel, item)
}

func (q *TaskQueue) run(ctx context.Context, cancel context.CancelFunc, item *queued) {
	defer q.wg.Done()

	err := item.task(ctx)
	if err == nil && ctx.Err() != nil {
		err = ErrCancelled
	}
	cancel()
	item.done <- err

	q.mu.Lock()
	defer q.mu.Unlock()
	q.running = false
	q.cancel = nil
	if next := q.pending; next != nil && !q.closed {
		q.pending = nil
		q.startLocked(next)
	}
}

// Cancel aborts the running task and drops the queued one.
func (q *TaskQueue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		q.cancel()
	}
	if q.pending != nil {
		q.pending.done <- ErrCancelled
		q.pending = nil
	}
}

// Busy reports whether a task is running.
func (q *TaskQueue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Close cancels all work and waits for the running task to return.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.Cancel()
	q.stop()
	q.wg.Wait()
}
