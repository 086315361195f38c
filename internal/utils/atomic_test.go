package utils

import (
	"sync"
	"testing"
)

func TestAtomicBool(t *testing.T) {
	var b AtomicBool

	if b.Load() {
		t.Error("zero value should be false")
	}
	b.Store(true)
	if !b.Load() {
		t.Error("expected true after Store(true)")
	}
	if !b.CompareAndSwap(true, false) {
		t.Error("CAS from true should succeed")
	}
	if b.CompareAndSwap(true, false) {
		t.Error("CAS from true should fail when value is false")
	}
}

func TestAtomicInt64StoreMax(t *testing.T) {
	var n AtomicInt64

	n.StoreMax(10)
	n.StoreMax(5)
	if got := n.Load(); got != 10 {
		t.Errorf("value = %d, want 10", got)
	}
	n.StoreMax(20)
	if got := n.Load(); got != 20 {
		t.Errorf("value = %d, want 20", got)
	}
}

func TestAtomicCountersConcurrent(t *testing.T) {
	var i64 AtomicInt64
	var u64 AtomicUint64
	var max AtomicInt64

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				i64.Add(1)
				u64.Add(2)
				max.StoreMax(int64(w*1000 + j))
			}
		}(w)
	}
	wg.Wait()

	if got := i64.Load(); got != 8000 {
		t.Errorf("int64 counter = %d, want 8000", got)
	}
	if got := u64.Load(); got != 16000 {
		t.Errorf("uint64 counter = %d, want 16000", got)
	}
	if got := max.Load(); got != 7999 {
		t.Errorf("max = %d, want 7999", got)
	}
}
