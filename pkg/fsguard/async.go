package fsguard

import (
	"context"

	"github.com/pkg/errors"
)

// task is one queued asynchronous operation.
type task struct {
	run func()
}

// ReadResult carries the outcome of an asynchronous read.
type ReadResult struct {
	Value interface{}
	Err   error
}

// CSVReadResult carries the outcome of an asynchronous CSV read.
type CSVReadResult struct {
	Records []map[string]string
	Err     error
}

// The Async call forms exist so callers with their own event loop can offload
// blocking disk work onto the coordinator's worker pool. They provide the
// same per-path mutual exclusion as the synchronous forms. Abandoning the
// returned channel does not interrupt an operation that already acquired its
// lock; cancellation only prevents operations that have not started.

// SafeWriteJSONAsync queues a JSON write and returns a channel that yields
// the result exactly once. The channel is buffered; the caller may drop it.
func (c *Coordinator) SafeWriteJSONAsync(ctx context.Context, path string, value interface{}) <-chan error {
	result := make(chan error, 1)
	c.submit(ctx,
		func() { result <- c.SafeWriteJSONContext(ctx, path, value) },
		func(err error) { result <- err },
	)
	return result
}

// SafeWriteCSVAsync queues a CSV write and returns a channel that yields the
// result exactly once.
func (c *Coordinator) SafeWriteCSVAsync(ctx context.Context, path string, records []map[string]interface{}) <-chan error {
	result := make(chan error, 1)
	c.submit(ctx,
		func() { result <- c.SafeWriteCSVContext(ctx, path, records) },
		func(err error) { result <- err },
	)
	return result
}

// SafeReadJSONAsync queues a JSON read and returns a channel that yields the
// result exactly once.
func (c *Coordinator) SafeReadJSONAsync(ctx context.Context, path string) <-chan ReadResult {
	result := make(chan ReadResult, 1)
	c.submit(ctx,
		func() {
			value, err := c.SafeReadJSONContext(ctx, path)
			result <- ReadResult{Value: value, Err: err}
		},
		func(err error) { result <- ReadResult{Err: err} },
	)
	return result
}

// SafeReadCSVAsync queues a CSV read and returns a channel that yields the
// result exactly once.
func (c *Coordinator) SafeReadCSVAsync(ctx context.Context, path string) <-chan CSVReadResult {
	result := make(chan CSVReadResult, 1)
	c.submit(ctx,
		func() {
			records, err := c.SafeReadCSVContext(ctx, path)
			result <- CSVReadResult{Records: records, Err: err}
		},
		func(err error) { result <- CSVReadResult{Err: err} },
	)
	return result
}

// submit enqueues run, or reports failure through fail when the coordinator
// is closed or ctx is canceled before the operation could be queued. The
// closed check and the enqueue happen under closeMu, so a task can never
// slip into the queue after Close has started the final drain; without that
// a submission racing Close could be enqueued after the workers exited and
// leave its caller blocked forever on the result channel.
func (c *Coordinator) submit(ctx context.Context, run func(), fail func(error)) {
	c.closeMu.RLock()
	if c.closed.Load() {
		c.closeMu.RUnlock()
		fail(ErrClosed)
		return
	}
	select {
	case c.tasks <- task{run: run}:
		c.closeMu.RUnlock()
	case <-ctx.Done():
		c.closeMu.RUnlock()
		fail(errors.Wrap(ctx.Err(), "queue operation"))
	}
}

// worker drains the task queue. On close it finishes everything already
// queued before exiting; queued writes are never dropped.
func (c *Coordinator) worker() {
	defer c.workers.Done()
	for {
		select {
		case t := <-c.tasks:
			t.run()
		case <-c.closedCh:
			for {
				select {
				case t := <-c.tasks:
					t.run()
				default:
					return
				}
			}
		}
	}
}
