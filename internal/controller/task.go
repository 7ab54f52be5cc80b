package controller

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/lectern/lectern/internal/domain"
)

// TaskHandle is the asynchronous result of one submitted unit of work.
// Cancelling before the task starts prevents it from starting; cancelling
// mid-flight is best-effort via the task's context.
type TaskHandle struct {
	id     uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	err       error
	started   bool
	cancelled bool
}

func newTaskHandle() *TaskHandle {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskHandle{
		id:     uuid.New(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ID returns the unique identifier of this task.
func (h *TaskHandle) ID() uuid.UUID { return h.id }

// Done is closed once the task has finished, failed or been cancelled.
func (h *TaskHandle) Done() <-chan struct{} { return h.done }

// Err returns the task's outcome. Only meaningful once Done is closed.
func (h *TaskHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the task finishes or ctx expires.
func (h *TaskHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel requests cancellation. A task that has not started will never
// run; a running task sees its context cancelled.
func (h *TaskHandle) Cancel() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
	h.cancel()
}

// markStarted transitions the handle to running. Returns false if the
// handle was cancelled before the task started.
func (h *TaskHandle) markStarted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return false
	}
	h.started = true
	return true
}

// finish records the outcome and releases waiters.
func (h *TaskHandle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	h.cancel()
	close(h.done)
}

type workItem struct {
	handle *TaskHandle
	run    func(ctx context.Context) error
}

func (c *Controller) worker() {
	defer c.wg.Done()

	for {
		item, ok := c.dequeue()
		if !ok {
			return
		}
		if !item.handle.markStarted() {
			item.handle.finish(domain.ErrTaskCancelled)
			continue
		}
		item.handle.finish(item.run(item.handle.ctx))
	}
}

// dequeue blocks until work is available. It keeps draining after Close
// so already-accepted tasks still run; ok is false once the queue is
// empty and the controller is closed.
func (c *Controller) dequeue() (workItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.queue) == 0 && !c.closed {
		c.cond.Wait()
	}
	if len(c.queue) == 0 {
		return workItem{}, false
	}
	item := c.queue[0]
	c.queue = c.queue[1:]
	return item, true
}

// submit enqueues a unit of work and returns its handle without waiting
// for a free worker. The queue is unbounded, so submission never blocks.
func (c *Controller) submit(run func(ctx context.Context) error) *TaskHandle {
	handle := newTaskHandle()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		handle.finish(domain.ErrControllerClosed)
		return handle
	}
	c.queue = append(c.queue, workItem{handle: handle, run: run})
	c.mu.Unlock()
	c.cond.Signal()

	return handle
}
