package integrity

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// DefaultBackupSuffix is appended to backup file names.
const DefaultBackupSuffix = ".backup"

// BackupTimeFormat is the timestamp embedded in backup names. It is fixed
// width and sorts lexicographically by creation time, so "most recent backup"
// is a plain string comparison. Nanosecond precision avoids collisions
// between successive backups of the same file.
const BackupTimeFormat = "20060102-150405.000000000"

// ErrNoBackups is returned when a backup query finds nothing for a path.
var ErrNoBackups = errors.New("no backups found")

// BackupRecord describes one created backup. Records are immutable once
// created; this layer never deletes backup files.
type BackupRecord struct {
	SourcePath string    `json:"source_path"`
	BackupPath string    `json:"backup_path"`
	CreatedAt  time.Time `json:"created_at"`
}

// BackupManager creates and restores timestamped copies of files. Backups
// preserve the source bytes verbatim, corrupted or not, since their purpose
// is forensic recovery. Restores go through the same temp-then-rename
// discipline as AtomicWriter, so a restore cannot corrupt the target.
type BackupManager struct {
	suffix string
	now    func() time.Time
}

// NewBackupManager creates a backup manager. An empty suffix selects
// DefaultBackupSuffix.
func NewBackupManager(suffix string) *BackupManager {
	if suffix == "" {
		suffix = DefaultBackupSuffix
	}
	return &BackupManager{
		suffix: suffix,
		now:    time.Now,
	}
}

// CreateBackup copies the file at path to "<path>.<timestamp><suffix>" and
// returns the record for the new backup.
func (b *BackupManager) CreateBackup(path string) (*BackupRecord, error) {
	createdAt := b.now()
	backupPath := path + "." + createdAt.Format(BackupTimeFormat) + b.suffix

	if err := copyFileAtomic(path, backupPath); err != nil {
		return nil, errors.Wrap(err, "create backup")
	}
	return &BackupRecord{
		SourcePath: path,
		BackupPath: backupPath,
		CreatedAt:  createdAt,
	}, nil
}

// RestoreFromBackup copies backupPath back over path atomically.
func (b *BackupManager) RestoreFromBackup(path, backupPath string) error {
	if err := copyFileAtomic(backupPath, path); err != nil {
		return errors.Wrap(err, "restore backup")
	}
	return nil
}

// ListBackups returns every backup of path, oldest first.
func (b *BackupManager) ListBackups(path string) ([]string, error) {
	matches, err := filepath.Glob(path + ".*" + b.suffix)
	if err != nil {
		return nil, errors.Wrap(err, "list backups")
	}
	// Lexicographic order is chronological order by construction.
	sort.Strings(matches)
	return matches, nil
}

// LatestBackup returns the most recent backup of path, or ErrNoBackups.
func (b *BackupManager) LatestBackup(path string) (string, error) {
	matches, err := b.ListBackups(path)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", ErrNoBackups
	}
	return matches[len(matches)-1], nil
}

// copyFileAtomic copies src's bytes to dst through a temp file in dst's
// directory followed by a rename.
func copyFileAtomic(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 - copying caller-supplied paths is the point
	if err != nil {
		return errors.Wrap(err, "open source")
	}
	defer func() {
		_ = in.Close()
	}()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpPath := tmp.Name()

	cleanup := func(cause error, stage string) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errors.Wrap(cause, stage)
	}

	if _, err := io.Copy(tmp, in); err != nil {
		return cleanup(err, "copy bytes")
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return cleanup(err, "close temp file")
	}
	if err := os.Chmod(tmpPath, 0644); err != nil { // #nosec G302
		return cleanup(err, "chmod temp file")
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return cleanup(err, "rename into place")
	}
	return nil
}
