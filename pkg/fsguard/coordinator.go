package fsguard

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/fsguard/fsguard/internal/metrics"
	"github.com/fsguard/fsguard/internal/utils"
	"github.com/fsguard/fsguard/pkg/integrity"
)

// Format identifies a structured file format. Re-exported from pkg/integrity
// so most callers only import this package.
type Format = integrity.Format

// Supported formats.
const (
	FormatJSON      = integrity.FormatJSON
	FormatJSONLines = integrity.FormatJSONLines
	FormatCSV       = integrity.FormatCSV
)

// ParseFormat converts a format name ("json", "jsonl", "csv") to a Format.
func ParseFormat(name string) (Format, error) {
	return integrity.ParseFormat(name)
}

// Operation kinds tracked by the metrics collector.
const (
	opWrite   = "write"
	opRead    = "read"
	opBackup  = "backup"
	opRestore = "restore"
)

// Events tracked by the metrics collector.
const (
	eventWriteFallback = "write_fallback"
	eventWriteFailure  = "write_failure"
	eventReadDegraded  = "read_degraded"
	eventReadFailure   = "read_failure"
	eventBackupCreated = "backup_created"
)

// Coordinator is the facade over the integrity components. It serializes
// operations per path (in-process via its lock table, cross-process via flock
// sidecars), validates before reads, backs up before destructive writes, and
// falls back to JSON Lines when a primary-format write keeps failing.
//
// Construct one Coordinator per process and inject it where needed; the lock
// table only serializes callers that share the instance. Cross-process
// locking still covers independently constructed instances.
//
// All failures surface as error results. The coordinator never panics across
// this boundary; callers treat a non-nil error as "delivery failed, apply
// your own retry or drop policy".
type Coordinator struct {
	cfg Config
	log hclog.Logger

	locks     *pathLockTable
	sanitizer *integrity.Sanitizer
	validator *integrity.Validator
	writer    *integrity.AtomicWriter
	backups   *integrity.BackupManager
	recovery  *integrity.RecoveryManager
	collector *metrics.Collector
	errlog    *errorLog

	closed   utils.AtomicBool
	closeMu  sync.RWMutex
	closedCh chan struct{}
	tasks    chan task
	workers  sync.WaitGroup
}

// New creates a Coordinator. A nil cfg selects DefaultConfig. The
// configuration is copied; later mutation of cfg has no effect.
func New(cfg *Config) (*Coordinator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cc := *cfg
	if err := cc.validate(); err != nil {
		return nil, err
	}

	logger := cc.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	c := &Coordinator{
		cfg:       cc,
		log:       logger.Named("fsguard"),
		locks:     newPathLockTable(),
		collector: metrics.NewCollector(),
		errlog:    newErrorLog(cc.ErrorFiles, cc.ErrorFileRate, cc.ErrorFileBurst),
		closedCh:  make(chan struct{}),
		tasks:     make(chan task, cc.AsyncQueueSize),
	}

	c.sanitizer = integrity.NewSanitizer()
	c.sanitizer.SetMetricsHandler(c.collector.TrackEvent)

	c.validator = integrity.NewValidator(cc.CacheTTL)
	c.validator.SetMetricsHandler(c.collector.TrackEvent)

	c.writer = integrity.NewAtomicWriter(c.sanitizer)
	c.writer.SetErrorHandler(c.reportComponentError)

	c.backups = integrity.NewBackupManager(cc.BackupSuffix)

	c.recovery = integrity.NewRecoveryManager()
	c.recovery.SetErrorHandler(c.reportComponentError)

	for i := 0; i < cc.AsyncWorkers; i++ {
		c.workers.Add(1)
		go c.worker()
	}
	return c, nil
}

// Close stops the async worker pool after draining queued operations.
// A submission racing Close either lands in the queue before the drain
// begins or fails with ErrClosed; it is never stranded unserved. Async calls
// made after Close fail with ErrClosed; the synchronous forms stay usable,
// the coordinator holds no resources beyond its workers.
func (c *Coordinator) Close() error {
	c.closeMu.Lock()
	if !c.closed.CompareAndSwap(false, true) {
		c.closeMu.Unlock()
		return nil
	}
	close(c.closedCh)
	c.closeMu.Unlock()
	c.workers.Wait()
	return nil
}

// SafeWriteJSON writes value to path as a single JSON document, with backup,
// atomic rename, bounded retry, and JSON Lines fallback.
func (c *Coordinator) SafeWriteJSON(path string, value interface{}) error {
	return c.SafeWriteJSONContext(context.Background(), path, value)
}

// SafeWriteJSONContext is SafeWriteJSON honoring ctx while waiting for the
// path lock. Once the lock is held the write runs to completion; cancellation
// never interrupts a write mid-rename.
func (c *Coordinator) SafeWriteJSONContext(ctx context.Context, path string, value interface{}) error {
	abs, release, err := c.lockPath(ctx, path)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	err = c.writeLocked(abs,
		func() error { return c.writer.WriteJSONAtomic(value, abs, c.cfg.Indent) },
		func() error { return c.writer.WriteJSONLinesAtomic([]interface{}{value}, abs) },
	)
	c.collector.TrackOperation(opWrite, time.Since(start))
	return err
}

// SafeWriteJSONLines writes records to path with one JSON value per line.
// JSON Lines is already the fallback format, so there is no further fallback.
func (c *Coordinator) SafeWriteJSONLines(path string, records []interface{}) error {
	return c.SafeWriteJSONLinesContext(context.Background(), path, records)
}

// SafeWriteJSONLinesContext is SafeWriteJSONLines honoring ctx while waiting
// for the path lock.
func (c *Coordinator) SafeWriteJSONLinesContext(ctx context.Context, path string, records []interface{}) error {
	abs, release, err := c.lockPath(ctx, path)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	err = c.writeLocked(abs,
		func() error { return c.writer.WriteJSONLinesAtomic(records, abs) },
		nil,
	)
	c.collector.TrackOperation(opWrite, time.Since(start))
	return err
}

// SafeWriteCSV writes records to path as CSV, with backup, atomic rename,
// bounded retry, and JSON Lines fallback.
func (c *Coordinator) SafeWriteCSV(path string, records []map[string]interface{}) error {
	return c.SafeWriteCSVContext(context.Background(), path, records)
}

// SafeWriteCSVContext is SafeWriteCSV honoring ctx while waiting for the
// path lock. At least one record is required; CSV has no representation for
// an empty record set, and writing one would produce a file this layer itself
// reports as corrupted.
func (c *Coordinator) SafeWriteCSVContext(ctx context.Context, path string, records []map[string]interface{}) error {
	if len(records) == 0 {
		return errors.Wrap(ErrInvalidArgument, "csv write needs at least one record")
	}
	abs, release, err := c.lockPath(ctx, path)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	err = c.writeLocked(abs,
		func() error { return c.writer.WriteCSVAtomic(records, abs) },
		func() error {
			lines := make([]interface{}, len(records))
			for i, record := range records {
				lines[i] = record
			}
			return c.writer.WriteJSONLinesAtomic(lines, abs)
		},
	)
	c.collector.TrackOperation(opWrite, time.Since(start))
	return err
}

// SafeReadJSON reads the JSON document at path. When validation fails it
// returns the recovered subset instead: the single salvaged value when there
// is exactly one, otherwise a []interface{} of the salvaged values. A read
// with nothing salvageable returns ErrRecoveryExhausted.
func (c *Coordinator) SafeReadJSON(path string) (interface{}, error) {
	return c.SafeReadJSONContext(context.Background(), path)
}

// SafeReadJSONContext is SafeReadJSON honoring ctx while waiting for the
// path lock.
func (c *Coordinator) SafeReadJSONContext(ctx context.Context, path string) (interface{}, error) {
	abs, release, err := c.lockPath(ctx, path)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	defer func() { c.collector.TrackOperation(opRead, time.Since(start)) }()

	if c.validator.IsValidJSON(abs) {
		value, err := integrity.ParseJSONFile(abs)
		if err == nil {
			return value, nil
		}
		// The cached verdict went stale under us; fall through to recovery.
		c.log.Debug("valid-by-cache file failed to parse", "path", abs, "error", err)
	}

	records, err := c.recovery.RecoverJSONFile(abs)
	if err != nil {
		c.collector.TrackEvent(eventReadFailure)
		return nil, errors.Wrapf(err, "read %s", abs)
	}

	c.degradedRead(abs, FormatJSON, len(records))
	if len(records) == 1 {
		return records[0], nil
	}
	return records, nil
}

// SafeReadJSONLines reads the JSON Lines file at path, recovering the valid
// lines when validation fails.
func (c *Coordinator) SafeReadJSONLines(path string) ([]interface{}, error) {
	return c.SafeReadJSONLinesContext(context.Background(), path)
}

// SafeReadJSONLinesContext is SafeReadJSONLines honoring ctx while waiting
// for the path lock.
func (c *Coordinator) SafeReadJSONLinesContext(ctx context.Context, path string) ([]interface{}, error) {
	abs, release, err := c.lockPath(ctx, path)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	defer func() { c.collector.TrackOperation(opRead, time.Since(start)) }()

	if c.validator.IsValidJSONLines(abs) {
		records, err := integrity.ParseJSONLinesFile(abs)
		if err == nil {
			return records, nil
		}
		c.log.Debug("valid-by-cache file failed to parse", "path", abs, "error", err)
	}

	records, err := c.recovery.RecoverJSONLinesFile(abs)
	if err != nil {
		c.collector.TrackEvent(eventReadFailure)
		return nil, errors.Wrapf(err, "read %s", abs)
	}
	c.degradedRead(abs, FormatJSONLines, len(records))
	return records, nil
}

// SafeReadCSV reads the CSV file at path into one mapping per row, recovering
// the well-formed rows when validation fails.
func (c *Coordinator) SafeReadCSV(path string) ([]map[string]string, error) {
	return c.SafeReadCSVContext(context.Background(), path)
}

// SafeReadCSVContext is SafeReadCSV honoring ctx while waiting for the path
// lock.
func (c *Coordinator) SafeReadCSVContext(ctx context.Context, path string) ([]map[string]string, error) {
	abs, release, err := c.lockPath(ctx, path)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	defer func() { c.collector.TrackOperation(opRead, time.Since(start)) }()

	if c.validator.IsValidCSV(abs) {
		records, err := integrity.ParseCSVFile(abs)
		if err == nil {
			return records, nil
		}
		c.log.Debug("valid-by-cache file failed to parse", "path", abs, "error", err)
	}

	records, err := c.recovery.RecoverCSVFile(abs)
	if err != nil {
		c.collector.TrackEvent(eventReadFailure)
		return nil, errors.Wrapf(err, "read %s", abs)
	}
	c.degradedRead(abs, FormatCSV, len(records))
	return records, nil
}

// DetectCorruption reports whether the file at path fails to parse completely
// under the format's grammar. The result may come from the validation cache;
// call ClearAllCaches first for a safety-critical check.
func (c *Coordinator) DetectCorruption(path string, format Format) bool {
	abs, err := normalizePath(path)
	if err != nil {
		return true
	}
	return c.validator.DetectCorruption(abs, format)
}

// Backup creates a timestamped copy of path under the path lock and returns
// the backup record.
func (c *Coordinator) Backup(path string) (*integrity.BackupRecord, error) {
	return c.BackupContext(context.Background(), path)
}

// BackupContext is Backup honoring ctx while waiting for the path lock.
func (c *Coordinator) BackupContext(ctx context.Context, path string) (*integrity.BackupRecord, error) {
	abs, release, err := c.lockPath(ctx, path)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	record, err := c.backups.CreateBackup(abs)
	c.collector.TrackOperation(opBackup, time.Since(start))
	return record, err
}

// Restore copies a backup back over path atomically, under the path lock.
func (c *Coordinator) Restore(path, backupPath string) error {
	return c.RestoreContext(context.Background(), path, backupPath)
}

// RestoreContext is Restore honoring ctx while waiting for the path lock.
func (c *Coordinator) RestoreContext(ctx context.Context, path, backupPath string) error {
	abs, release, err := c.lockPath(ctx, path)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	err = c.backups.RestoreFromBackup(abs, backupPath)
	c.collector.TrackOperation(opRestore, time.Since(start))
	if err == nil {
		c.validator.Invalidate(abs)
	}
	return err
}

// ListBackups returns every backup of path, oldest first.
func (c *Coordinator) ListBackups(path string) ([]string, error) {
	abs, err := normalizePath(path)
	if err != nil {
		return nil, err
	}
	return c.backups.ListBackups(abs)
}

// LatestBackup returns the most recent backup of path.
func (c *Coordinator) LatestBackup(path string) (string, error) {
	abs, err := normalizePath(path)
	if err != nil {
		return "", err
	}
	return c.backups.LatestBackup(abs)
}

// writeLocked runs the backup-write-fallback state machine for one path.
// The path lock must be held.
func (c *Coordinator) writeLocked(abs string, primary, fallback func() error) error {
	if fileExists(abs) {
		if _, err := c.backups.CreateBackup(abs); err != nil {
			// Refusing to overwrite a file we could not back up keeps the
			// forensic trail intact.
			c.collector.TrackEvent(eventWriteFailure)
			c.errlog.record(abs, "backup", err)
			return err
		}
		c.collector.TrackEvent(eventBackupCreated)
	}

	err := c.retryWrite(primary)
	if err == nil {
		c.validator.Invalidate(abs)
		return nil
	}

	if c.cfg.FormatFallback && fallback != nil {
		c.log.Warn("primary format write failed, falling back to jsonl",
			"path", abs, "error", err)
		fbErr := c.retryWrite(fallback)
		if fbErr == nil {
			c.collector.TrackEvent(eventWriteFallback)
			c.validator.Invalidate(abs)
			c.errlog.record(abs, "write recovered via jsonl fallback", err)
			return nil
		}
		err = multierror.Append(err, fbErr)
	}

	c.collector.TrackEvent(eventWriteFailure)
	c.errlog.record(abs, "write", err)
	c.log.Error("write failed after retries and fallback", "path", abs, "error", err)
	return errors.Wrapf(err, "write %s", abs)
}

// retryWrite retries op with exponential backoff up to the configured number
// of retries.
func (c *Coordinator) retryWrite(op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryInterval
	bo.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithMaxRetries(bo, c.cfg.MaxWriteRetries))
}

// lockPath normalizes path and takes both the in-process path lock and, when
// enabled, the cross-process flock. The returned release function undoes both.
// LockTimeout bounds the whole acquisition: the process-lock phase only gets
// whatever the in-process wait left over.
func (c *Coordinator) lockPath(ctx context.Context, path string) (string, func(), error) {
	abs, err := normalizePath(path)
	if err != nil {
		return "", nil, err
	}

	start := time.Now()
	release, err := c.locks.acquire(ctx, abs, c.cfg.LockTimeout)
	if err != nil {
		return "", nil, err
	}

	if !c.cfg.ProcessLock {
		return abs, release, nil
	}

	timeout := c.cfg.LockTimeout
	if timeout > 0 {
		timeout -= time.Since(start)
		if timeout <= 0 {
			release()
			return "", nil, errors.Wrapf(ErrLockTimeout, "path %s", abs)
		}
	}

	fl, err := acquireProcessLock(ctx, abs, timeout)
	if err != nil {
		release()
		return "", nil, err
	}
	return abs, func() {
		if err := fl.Unlock(); err != nil {
			c.log.Warn("failed to release process lock", "path", abs, "error", err)
		}
		release()
	}, nil
}

func (c *Coordinator) degradedRead(abs string, format Format, recovered int) {
	c.collector.TrackEvent(eventReadDegraded)
	c.log.Warn("degraded read: returning recovered subset",
		"path", abs, "format", format.String(), "records", recovered)
}

// reportComponentError receives non-fatal errors from the leaf components.
func (c *Coordinator) reportComponentError(op, path, msg string, err error) {
	c.collector.TrackEvent("component_error_" + op)
	c.log.Debug(msg, "op", op, "path", path, "error", err)
}

func normalizePath(path string) (string, error) {
	if path == "" {
		return "", errors.Wrap(ErrInvalidArgument, "empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(ErrInvalidArgument, err.Error())
	}
	return abs, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
