package integrity

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// AtomicWriter serializes sanitized payloads to disk through a
// write-to-temp-then-rename discipline. The target path, if observed by any
// other process at any instant, holds either the previous complete content or
// the new complete content; a partial write is never visible.
//
// The temporary file is created in the target's directory so the final rename
// stays on one filesystem and remains a single atomic operation.
type AtomicWriter struct {
	sanitizer *Sanitizer

	errorHandler func(op, path, msg string, err error)
}

// NewAtomicWriter creates a writer around the given sanitizer. A nil
// sanitizer gets a fresh one.
func NewAtomicWriter(sanitizer *Sanitizer) *AtomicWriter {
	if sanitizer == nil {
		sanitizer = NewSanitizer()
	}
	return &AtomicWriter{sanitizer: sanitizer}
}

// SetErrorHandler sets the function used to report non-fatal cleanup errors.
func (w *AtomicWriter) SetErrorHandler(handler func(op, path, msg string, err error)) {
	w.errorHandler = handler
}

// Sanitizer returns the sanitizer used before serialization.
func (w *AtomicWriter) Sanitizer() *Sanitizer {
	return w.sanitizer
}

// WriteJSONAtomic sanitizes value and writes it as a single JSON document.
func (w *AtomicWriter) WriteJSONAtomic(value interface{}, path string, indent bool) error {
	sanitized := w.sanitizer.ForJSON(value)
	return w.writeAtomic(path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		if indent {
			enc.SetIndent("", "  ")
		}
		return enc.Encode(sanitized)
	})
}

// WriteJSONLinesAtomic sanitizes each record and writes one JSON value per
// line.
func (w *AtomicWriter) WriteJSONLinesAtomic(records []interface{}, path string) error {
	return w.writeAtomic(path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		for _, record := range records {
			if err := enc.Encode(w.sanitizer.ForJSON(record)); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteCSVAtomic writes records as a CSV file. The header is the sorted union
// of every record's keys; records missing a column produce an empty cell. At
// least one record is required: an empty record set has no header, and the
// resulting file would not read back as CSV.
func (w *AtomicWriter) WriteCSVAtomic(records []map[string]interface{}, path string) error {
	if len(records) == 0 {
		return errors.New("no records: csv needs at least one record to derive a header")
	}
	header := csvHeader(records)
	return w.writeAtomic(path, func(f *os.File) error {
		cw := csv.NewWriter(f)
		if err := cw.Write(header); err != nil {
			return err
		}
		row := make([]string, len(header))
		for _, record := range records {
			sanitized := w.sanitizer.RowForCSV(record)
			for i, col := range header {
				row[i] = sanitized[col]
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// writeAtomic runs write against a temp file in the target's directory, then
// renames it over the target. On any failure before the rename the temp file
// is removed and the target is left untouched.
func (w *AtomicWriter) writeAtomic(path string, write func(f *os.File) error) error {
	dir := filepath.Dir(path)
	// #nosec G301 - data files need to be accessible by other processes
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "create directory")
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpPath := tmp.Name()

	cleanup := func(cause error, stage string) error {
		_ = tmp.Close() // Best effort, may already be closed
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			if w.errorHandler != nil {
				w.errorHandler("write", path, "failed to remove temp file", rmErr)
			}
		}
		return errors.Wrap(cause, stage)
	}

	if err := write(tmp); err != nil {
		return cleanup(err, "serialize")
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return cleanup(err, "close temp file")
	}
	if err := os.Chmod(tmpPath, 0644); err != nil { // #nosec G302 - data files need to be readable
		return cleanup(err, "chmod temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return cleanup(err, "rename into place")
	}
	return nil
}

// csvHeader returns the sorted union of keys across all records.
func csvHeader(records []map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var header []string
	for _, record := range records {
		for k := range record {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				header = append(header, k)
			}
		}
	}
	sort.Strings(header)
	return header
}
