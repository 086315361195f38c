package metrics

import (
	"sync"
	"time"

	"github.com/fsguard/fsguard/internal/utils"
)

// Collector gathers counts and timings for the fallback layer: operation
// counts by kind, cache hit/miss events, and operation latency. All methods
// are safe for concurrent use and lock-free on the hot path.
type Collector struct {
	operations sync.Map // map[string]*utils.AtomicUint64
	events     sync.Map // map[string]*utils.AtomicUint64

	opCount     utils.AtomicUint64
	totalOpTime utils.AtomicInt64 // nanoseconds
	maxOpTime   utils.AtomicInt64 // nanoseconds
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Stats is a point-in-time snapshot of collected metrics.
type Stats struct {
	// Operation counts by kind (write, read, backup, recover, ...)
	Operations map[string]uint64 `json:"operations"`

	// Cache and failure events by name
	Events map[string]uint64 `json:"events"`

	// Latency across all timed operations
	OperationCount   uint64        `json:"operation_count"`
	AverageOpLatency time.Duration `json:"average_op_latency"`
	MaxOpLatency     time.Duration `json:"max_op_latency"`
}

// TrackOperation records one completed operation of the given kind and its
// duration.
func (c *Collector) TrackOperation(kind string, duration time.Duration) {
	c.counter(&c.operations, kind).Add(1)
	c.opCount.Add(1)
	c.totalOpTime.Add(int64(duration))
	c.maxOpTime.StoreMax(int64(duration))
}

// TrackEvent records one occurrence of a named event, such as a cache hit.
func (c *Collector) TrackEvent(name string) {
	c.counter(&c.events, name).Add(1)
}

// OperationCount returns the count for one operation kind.
func (c *Collector) OperationCount(kind string) uint64 {
	if val, ok := c.operations.Load(kind); ok {
		return val.(*utils.AtomicUint64).Load()
	}
	return 0
}

// EventCount returns the count for one event name.
func (c *Collector) EventCount(name string) uint64 {
	if val, ok := c.events.Load(name); ok {
		return val.(*utils.AtomicUint64).Load()
	}
	return 0
}

// Snapshot returns current metrics.
func (c *Collector) Snapshot() Stats {
	stats := Stats{
		Operations:     make(map[string]uint64),
		Events:         make(map[string]uint64),
		OperationCount: c.opCount.Load(),
		MaxOpLatency:   time.Duration(c.maxOpTime.Load()),
	}

	c.operations.Range(func(key, value interface{}) bool {
		if count := value.(*utils.AtomicUint64).Load(); count > 0 {
			stats.Operations[key.(string)] = count
		}
		return true
	})
	c.events.Range(func(key, value interface{}) bool {
		if count := value.(*utils.AtomicUint64).Load(); count > 0 {
			stats.Events[key.(string)] = count
		}
		return true
	})

	if stats.OperationCount > 0 {
		stats.AverageOpLatency = time.Duration(c.totalOpTime.Load()) / time.Duration(stats.OperationCount)
	}
	return stats
}

// Reset zeroes all counters.
func (c *Collector) Reset() {
	c.operations.Range(func(key, value interface{}) bool {
		value.(*utils.AtomicUint64).Store(0)
		return true
	})
	c.events.Range(func(key, value interface{}) bool {
		value.(*utils.AtomicUint64).Store(0)
		return true
	})
	c.opCount.Store(0)
	c.totalOpTime.Store(0)
	c.maxOpTime.Store(0)
}

func (c *Collector) counter(m *sync.Map, key string) *utils.AtomicUint64 {
	if val, ok := m.Load(key); ok {
		return val.(*utils.AtomicUint64)
	}
	val, _ := m.LoadOrStore(key, &utils.AtomicUint64{})
	return val.(*utils.AtomicUint64)
}
