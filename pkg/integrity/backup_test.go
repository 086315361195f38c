package integrity

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestCreateBackupNaming(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "data.json", `{"a":1}`)

	b := NewBackupManager("")
	stamp := time.Date(2024, 1, 15, 14, 30, 52, 123456789, time.UTC)
	b.now = func() time.Time { return stamp }

	record, err := b.CreateBackup(path)
	if err != nil {
		t.Fatalf("CreateBackup failed: %v", err)
	}
	want := path + ".20240115-143052.123456789.backup"
	if record.BackupPath != want {
		t.Errorf("backup path = %q, want %q", record.BackupPath, want)
	}
	if record.SourcePath != path {
		t.Errorf("source path = %q, want %q", record.SourcePath, path)
	}
	if !record.CreatedAt.Equal(stamp) {
		t.Errorf("created at = %v, want %v", record.CreatedAt, stamp)
	}
}

func TestBackupPreservesBytesVerbatim(t *testing.T) {
	dir := t.TempDir()
	// Corrupted content must be preserved as-is; backups are forensic.
	content := []byte("{\"truncated\": \xff\xfe")
	path := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	b := NewBackupManager("")
	record, err := b.CreateBackup(path)
	if err != nil {
		t.Fatalf("CreateBackup failed: %v", err)
	}

	copied, err := os.ReadFile(record.BackupPath)
	if err != nil {
		t.Fatalf("failed to read backup: %v", err)
	}
	if !bytes.Equal(copied, content) {
		t.Errorf("backup bytes differ from source")
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	original := []byte(`{"state": "good"}`)
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, original, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	b := NewBackupManager("")
	record, err := b.CreateBackup(path)
	if err != nil {
		t.Fatalf("CreateBackup failed: %v", err)
	}

	// Clobber the original, then restore.
	if err := os.WriteFile(path, []byte("garbage"), 0644); err != nil {
		t.Fatalf("failed to overwrite file: %v", err)
	}
	if err := b.RestoreFromBackup(path, record.BackupPath); err != nil {
		t.Fatalf("RestoreFromBackup failed: %v", err)
	}

	restored, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read restored file: %v", err)
	}
	if !bytes.Equal(restored, original) {
		t.Errorf("restored content = %q, want %q", restored, original)
	}
}

func TestListBackupsSortsChronologically(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "multi.json", `{}`)

	b := NewBackupManager("")
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	var created []string
	for i := 0; i < 3; i++ {
		stamp := base.Add(time.Duration(i) * time.Second)
		b.now = func() time.Time { return stamp }
		record, err := b.CreateBackup(path)
		if err != nil {
			t.Fatalf("CreateBackup %d failed: %v", i, err)
		}
		created = append(created, record.BackupPath)
	}

	listed, err := b.ListBackups(path)
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	if !sort.StringsAreSorted(listed) {
		t.Error("backups are not in sorted order")
	}
	if len(listed) != len(created) {
		t.Fatalf("expected %d backups, got %d", len(created), len(listed))
	}

	latest, err := b.LatestBackup(path)
	if err != nil {
		t.Fatalf("LatestBackup failed: %v", err)
	}
	if latest != created[len(created)-1] {
		t.Errorf("latest = %q, want %q", latest, created[len(created)-1])
	}
}

func TestLatestBackupNone(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "lonely.json", `{}`)

	b := NewBackupManager("")
	if _, err := b.LatestBackup(path); !errors.Is(err, ErrNoBackups) {
		t.Errorf("expected ErrNoBackups, got %v", err)
	}
}

func TestCreateBackupMissingSource(t *testing.T) {
	b := NewBackupManager("")
	if _, err := b.CreateBackup(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected backup of a missing file to fail")
	}
}

func TestBackupCustomSuffix(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "custom.json", `{}`)

	b := NewBackupManager(".bak")
	record, err := b.CreateBackup(path)
	if err != nil {
		t.Fatalf("CreateBackup failed: %v", err)
	}
	if !strings.HasSuffix(record.BackupPath, ".bak") {
		t.Errorf("backup path %q does not carry the custom suffix", record.BackupPath)
	}
}
