package fsguard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestPathLockSerializes(t *testing.T) {
	table := newPathLockTable()
	ctx := context.Background()

	release, err := table.acquire(ctx, "/tmp/a", 0)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		r, err := table.acquire(ctx, "/tmp/a", 0)
		if err != nil {
			t.Errorf("second acquire failed: %v", err)
			close(acquired)
			return
		}
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while the lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire did not proceed after release")
	}
}

func TestPathLockDistinctPathsIndependent(t *testing.T) {
	table := newPathLockTable()
	ctx := context.Background()

	releaseA, err := table.acquire(ctx, "/tmp/a", 0)
	if err != nil {
		t.Fatalf("acquire a failed: %v", err)
	}
	defer releaseA()

	// A held lock on one path never blocks another path.
	releaseB, err := table.acquire(ctx, "/tmp/b", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire b blocked on an unrelated path: %v", err)
	}
	releaseB()
}

func TestPathLockTimeout(t *testing.T) {
	table := newPathLockTable()
	ctx := context.Background()

	release, err := table.acquire(ctx, "/tmp/a", 0)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer release()

	_, err = table.acquire(ctx, "/tmp/a", 20*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("expected ErrLockTimeout, got %v", err)
	}
}

func TestPathLockContextCancel(t *testing.T) {
	table := newPathLockTable()

	release, err := table.acquire(context.Background(), "/tmp/a", 0)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = table.acquire(ctx, "/tmp/a", 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestPathLockTableEvictsIdleEntries(t *testing.T) {
	table := newPathLockTable()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				release, err := table.acquire(ctx, "/tmp/shared", 0)
				if err != nil {
					t.Errorf("acquire failed: %v", err)
					return
				}
				release()
			}
		}()
	}
	wg.Wait()

	if got := table.size(); got != 0 {
		t.Errorf("lock table holds %d entries after all releases, want 0", got)
	}
}

func TestPathLockTimedOutWaiterDropsReference(t *testing.T) {
	table := newPathLockTable()
	ctx := context.Background()

	release, err := table.acquire(ctx, "/tmp/a", 0)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if _, err := table.acquire(ctx, "/tmp/a", 10*time.Millisecond); err == nil {
		t.Fatal("expected the waiter to time out")
	}

	release()
	if got := table.size(); got != 0 {
		t.Errorf("lock table holds %d entries, want 0", got)
	}
}
