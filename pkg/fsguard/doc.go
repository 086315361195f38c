// Package fsguard guarantees that structured data files (JSON, JSON Lines,
// CSV) survive partial writes, detects corrupted files, recovers what it can,
// and serializes concurrent access to the same path across goroutines and
// processes.
//
// The Coordinator is the facade over the leaf components in pkg/integrity.
// A write acquires the path's lock, backs up the existing target, then writes
// through a temp-file-and-rename so the target is always observed as either
// the previous complete content or the new complete content. A failed write
// falls back to JSON Lines before giving up. A read validates first (with a
// time-bounded cache), and attempts best-effort recovery when validation
// fails.
//
// Construct one Coordinator at process startup and share it; its path-lock
// table is what serializes in-process callers. Independently constructed
// coordinators, and other processes, still serialize against each other
// through per-path flock sidecar files.
//
// Basic usage:
//
//	guard, err := fsguard.New(nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer guard.Close()
//
//	if err := guard.SafeWriteJSON("state.json", state); err != nil {
//		// delivery failed, apply your own retry or drop policy
//	}
//
//	value, err := guard.SafeReadJSON("state.json")
//	if fsguard.IsRecoveryExhausted(err) {
//		// nothing salvageable
//	}
package fsguard
