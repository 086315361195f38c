package fsguard

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Many goroutines hammering two paths: every write must land atomically and
// both files must be fully parseable afterwards.
func TestConcurrentWritersKeepFilesValid(t *testing.T) {
	c := newTestCoordinator(t)
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.json")
	pathB := filepath.Join(dir, "b.jsonl")

	const writersPerPath = 8
	const writesPerWriter = 5

	var wg sync.WaitGroup
	for w := 0; w < writersPerPath; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < writesPerWriter; i++ {
				payload := map[string]interface{}{"writer": w, "iteration": i}
				if err := c.SafeWriteJSON(pathA, payload); err != nil {
					t.Errorf("writer %d: json write %d failed: %v", w, i, err)
				}
			}
		}(w)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < writesPerWriter; i++ {
				records := []interface{}{map[string]interface{}{"writer": w, "iteration": i}}
				if err := c.SafeWriteJSONLines(pathB, records); err != nil {
					t.Errorf("writer %d: jsonl write %d failed: %v", w, i, err)
				}
			}
		}(w)
	}
	wg.Wait()

	c.ClearAllCaches()
	assert.False(t, c.DetectCorruption(pathA, FormatJSON))
	assert.False(t, c.DetectCorruption(pathB, FormatJSONLines))

	value, err := c.SafeReadJSON(pathA)
	require.NoError(t, err)
	got, ok := value.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, got, "writer")
	assert.Contains(t, got, "iteration")

	stats := c.GetPerformanceStats()
	assert.Equal(t, uint64(2*writersPerPath*writesPerWriter), stats.Operations[opWrite])
	// All but the very first write on each path backed up the previous version.
	assert.Equal(t, uint64(2*writersPerPath*writesPerWriter-2), stats.Events[eventBackupCreated])
}

func TestConcurrentReadersShareCache(t *testing.T) {
	c := newTestCoordinator(t)
	path := filepath.Join(t.TempDir(), "hot.json")
	require.NoError(t, c.SafeWriteJSON(path, map[string]interface{}{"k": "v"}))

	var wg sync.WaitGroup
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if _, err := c.SafeReadJSON(path); err != nil {
					t.Errorf("read failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	stats := c.GetPerformanceStats()
	assert.Equal(t, uint64(80), stats.Operations[opRead])
	// One validation miss populates the cache, the rest hit it.
	assert.Greater(t, stats.ValidationCacheHitRate, 0.9)
}

func TestConcurrentMixedOperations(t *testing.T) {
	c := newTestCoordinator(t)
	dir := t.TempDir()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			path := filepath.Join(dir, fmt.Sprintf("own-%d.csv", w))
			records := []map[string]interface{}{{"writer": w}}
			for i := 0; i < 5; i++ {
				if err := c.SafeWriteCSV(path, records); err != nil {
					t.Errorf("csv write failed: %v", err)
					return
				}
				if _, err := c.SafeReadCSV(path); err != nil {
					t.Errorf("csv read failed: %v", err)
					return
				}
			}
			if _, err := c.Backup(path); err != nil {
				t.Errorf("backup failed: %v", err)
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < 4; w++ {
		path := filepath.Join(dir, fmt.Sprintf("own-%d.csv", w))
		backups, err := c.ListBackups(path)
		require.NoError(t, err)
		// Four overwrite backups plus one explicit backup.
		assert.Len(t, backups, 5)
	}
	assert.Zero(t, c.GetPerformanceStats().ActivePathLocks)
}
