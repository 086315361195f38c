package fsguard

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// flockRetryDelay is how often a pending cross-process lock re-polls.
const flockRetryDelay = 25 * time.Millisecond

// pathLockTable maps absolute file paths to mutual-exclusion primitives.
// Entries are reference counted and removed when the last interested
// operation releases them, so the table is bounded by the number of
// concurrently-active paths rather than every path ever touched.
//
// At most one in-flight operation per path; operations on distinct paths
// proceed fully in parallel. No operation holds more than one path lock at a
// time, which rules out cross-path deadlock.
type pathLockTable struct {
	mu      sync.Mutex
	entries map[string]*pathLock
}

type pathLock struct {
	sem  chan struct{} // capacity 1
	refs int
}

func newPathLockTable() *pathLockTable {
	return &pathLockTable{
		entries: make(map[string]*pathLock),
	}
}

// acquire blocks until the path's lock is held, the context is canceled, or
// the timeout elapses (zero timeout means wait indefinitely). On success it
// returns the function that releases the lock.
func (t *pathLockTable) acquire(ctx context.Context, path string, timeout time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "acquire path lock")
	}

	t.mu.Lock()
	entry, ok := t.entries[path]
	if !ok {
		entry = &pathLock{sem: make(chan struct{}, 1)}
		t.entries[path] = entry
	}
	entry.refs++
	t.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case entry.sem <- struct{}{}:
		return func() {
			<-entry.sem
			t.release(path, entry)
		}, nil
	case <-ctx.Done():
		t.release(path, entry)
		return nil, errors.Wrap(ctx.Err(), "acquire path lock")
	case <-timeoutCh:
		t.release(path, entry)
		return nil, errors.Wrapf(ErrLockTimeout, "path %s", path)
	}
}

// release drops one reference and evicts the entry when nobody is using or
// waiting on it.
func (t *pathLockTable) release(path string, entry *pathLock) {
	t.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(t.entries, path)
	}
	t.mu.Unlock()
}

// size returns the number of live entries, for observability.
func (t *pathLockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// acquireProcessLock takes the flock sidecar ("<path>.lock") that serializes
// this path against other processes and against independently constructed
// coordinators. Must be called with the in-process path lock already held.
func acquireProcessLock(ctx context.Context, path string, timeout time.Duration) (*flock.Flock, error) {
	fl := flock.New(path + ".lock")

	lockCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	locked, err := fl.TryLockContext(lockCtx, flockRetryDelay)
	if err != nil {
		if lockCtx.Err() != nil && ctx.Err() == nil {
			return nil, errors.Wrapf(ErrLockTimeout, "process lock for %s", path)
		}
		return nil, errors.Wrap(err, "acquire process lock")
	}
	if !locked {
		return nil, errors.Wrapf(ErrLockTimeout, "process lock for %s", path)
	}
	return fl, nil
}
