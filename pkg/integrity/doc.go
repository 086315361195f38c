// Package integrity provides the building blocks for crash-safe structured
// file handling: value sanitization, corruption detection with time-bounded
// caching, atomic write-and-rename, timestamped backups, and best-effort
// recovery of damaged JSON, JSON Lines, and CSV files.
//
// The components in this package are independent leaves. They are combined
// under per-path locking by the fsguard.Coordinator, which is the intended
// entry point for most callers.
package integrity
