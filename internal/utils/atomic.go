package utils

import (
	"sync/atomic"
)

// AtomicBool provides atomic operations for bool values.
type AtomicBool struct {
	value int32
}

// Load atomically loads and returns the value.
func (a *AtomicBool) Load() bool {
	return atomic.LoadInt32(&a.value) != 0
}

// Store atomically stores the value.
func (a *AtomicBool) Store(val bool) {
	var v int32
	if val {
		v = 1
	}
	atomic.StoreInt32(&a.value, v)
}

// CompareAndSwap executes the compare-and-swap operation.
func (a *AtomicBool) CompareAndSwap(old, new bool) bool {
	var oldVal, newVal int32
	if old {
		oldVal = 1
	}
	if new {
		newVal = 1
	}
	return atomic.CompareAndSwapInt32(&a.value, oldVal, newVal)
}

// AtomicInt64 provides atomic operations for int64 values.
type AtomicInt64 struct {
	value int64
}

// Load atomically loads and returns the value.
func (a *AtomicInt64) Load() int64 {
	return atomic.LoadInt64(&a.value)
}

// Store atomically stores the value.
func (a *AtomicInt64) Store(val int64) {
	atomic.StoreInt64(&a.value, val)
}

// Add atomically adds delta to the value and returns the new value.
func (a *AtomicInt64) Add(delta int64) int64 {
	return atomic.AddInt64(&a.value, delta)
}

// StoreMax atomically raises the value to val if val is greater.
func (a *AtomicInt64) StoreMax(val int64) {
	for {
		old := atomic.LoadInt64(&a.value)
		if val <= old {
			return
		}
		if atomic.CompareAndSwapInt64(&a.value, old, val) {
			return
		}
	}
}

// AtomicUint64 provides atomic operations for uint64 values.
type AtomicUint64 struct {
	value uint64
}

// Load atomically loads and returns the value.
func (a *AtomicUint64) Load() uint64 {
	return atomic.LoadUint64(&a.value)
}

// Store atomically stores the value.
func (a *AtomicUint64) Store(val uint64) {
	atomic.StoreUint64(&a.value, val)
}

// Add atomically adds delta to the value and returns the new value.
func (a *AtomicUint64) Add(delta uint64) uint64 {
	return atomic.AddUint64(&a.value, delta)
}
