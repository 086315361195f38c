package fsguard

import (
	"time"

	"github.com/fsguard/fsguard/pkg/integrity"
)

// PerformanceStats is a point-in-time snapshot of coordinator activity, for
// observability.
type PerformanceStats struct {
	// Operation counts by kind: write, read, backup, restore.
	Operations map[string]uint64 `json:"operations"`

	// Event counts: cache hits/misses, fallback writes, degraded reads,
	// failures.
	Events map[string]uint64 `json:"events"`

	// Latency across all timed operations.
	OperationCount   uint64        `json:"operation_count"`
	AverageOpLatency time.Duration `json:"average_op_latency"`
	MaxOpLatency     time.Duration `json:"max_op_latency"`

	// Cache effectiveness, 0 when a cache has not been exercised.
	ValidationCacheHitRate float64 `json:"validation_cache_hit_rate"`
	SanitizerCacheHitRate  float64 `json:"sanitizer_cache_hit_rate"`

	// Paths with an in-flight or queued operation right now.
	ActivePathLocks int `json:"active_path_locks"`
}

// GetPerformanceStats returns counts and timings for cache hit rate and
// operation latency.
func (c *Coordinator) GetPerformanceStats() PerformanceStats {
	snapshot := c.collector.Snapshot()
	stats := PerformanceStats{
		Operations:       snapshot.Operations,
		Events:           snapshot.Events,
		OperationCount:   snapshot.OperationCount,
		AverageOpLatency: snapshot.AverageOpLatency,
		MaxOpLatency:     snapshot.MaxOpLatency,
		ActivePathLocks:  c.locks.size(),
	}
	stats.ValidationCacheHitRate = hitRate(
		snapshot.Events[integrity.EventValidationCacheHit],
		snapshot.Events[integrity.EventValidationCacheMiss],
	)
	stats.SanitizerCacheHitRate = hitRate(
		snapshot.Events[integrity.EventSanitizerCacheHit],
		snapshot.Events[integrity.EventSanitizerCacheMiss],
	)
	return stats
}

// ClearAllCaches resets the validation cache and the sanitizer cache. Use
// before a safety-critical corruption check to force fresh I/O.
func (c *Coordinator) ClearAllCaches() {
	c.validator.ClearCache()
	c.sanitizer.ResetCache()
}

// ResetStats zeroes all collected metrics.
func (c *Coordinator) ResetStats() {
	c.collector.Reset()
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
