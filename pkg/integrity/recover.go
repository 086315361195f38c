package integrity

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrRecoveryExhausted signals that nothing could be salvaged from a damaged
// file. It is distinct from an empty-but-valid result so callers can tell
// "recovered nothing because there was nothing" from "recovery failed
// entirely".
var ErrRecoveryExhausted = errors.New("recovery exhausted: no salvageable records")

// RecoveryManager extracts the maximal valid subset of a damaged file's
// content. Results are produced fresh on every call; corrupted-file recovery
// is assumed rare and is never cached.
type RecoveryManager struct {
	errorHandler func(op, path, msg string, err error)
}

// NewRecoveryManager creates a recovery manager.
func NewRecoveryManager() *RecoveryManager {
	return &RecoveryManager{}
}

// SetErrorHandler sets the function used to report the parse errors behind
// skipped content. Recovery itself never fails on a skippable fragment.
func (r *RecoveryManager) SetErrorHandler(handler func(op, path, msg string, err error)) {
	r.errorHandler = handler
}

// RecoverJSONFile scans the file for syntactically complete top-level JSON
// values and returns the leading run of well-formed values, discarding
// everything after the first unparseable fragment.
func (r *RecoveryManager) RecoverJSONFile(path string) ([]interface{}, error) {
	f, err := os.Open(path) // #nosec G304 - recovering caller-supplied paths is the point
	if err != nil {
		r.report(path, "open for recovery", err)
		return nil, ErrRecoveryExhausted
	}
	defer func() {
		_ = f.Close()
	}()

	var records []interface{}
	dec := json.NewDecoder(f)
	for {
		var value interface{}
		err := dec.Decode(&value)
		if err == io.EOF {
			break
		}
		if err != nil {
			// First unparseable fragment: keep what we have, drop the rest.
			r.report(path, "truncated at unparseable fragment", err)
			break
		}
		records = append(records, value)
	}

	if len(records) == 0 {
		return nil, ErrRecoveryExhausted
	}
	return records, nil
}

// RecoverJSONLinesFile parses each line independently and skips invalid
// lines without aborting the scan of subsequent lines.
func (r *RecoveryManager) RecoverJSONLinesFile(path string) ([]interface{}, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		r.report(path, "open for recovery", err)
		return nil, ErrRecoveryExhausted
	}
	defer func() {
		_ = f.Close()
	}()

	var records []interface{}
	var skipped *multierror.Error
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var value interface{}
		if err := json.Unmarshal(line, &value); err != nil {
			skipped = multierror.Append(skipped, err)
			continue
		}
		records = append(records, value)
	}
	if err := scanner.Err(); err != nil {
		skipped = multierror.Append(skipped, err)
	}
	if err := skipped.ErrorOrNil(); err != nil {
		r.report(path, "skipped invalid lines", err)
	}

	if len(records) == 0 {
		return nil, ErrRecoveryExhausted
	}
	return records, nil
}

// RecoverCSVFile parses the header row, then accepts every subsequent row
// whose column count matches the header and skips the rest. A single
// malformed row never aborts recovery of the rest of the file.
//
// Recovery is line-oriented: a record with an embedded newline inside a
// quoted field is treated as damaged and skipped.
func (r *RecoveryManager) RecoverCSVFile(path string) ([]map[string]string, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		r.report(path, "open for recovery", err)
		return nil, ErrRecoveryExhausted
	}
	defer func() {
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var header []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields, err := parseCSVLine(line)
		if err != nil {
			r.report(path, "unreadable header row", err)
			return nil, ErrRecoveryExhausted
		}
		header = fields
		break
	}
	if header == nil {
		return nil, ErrRecoveryExhausted
	}

	var records []map[string]string
	var skipped *multierror.Error
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields, err := parseCSVLine(line)
		if err != nil {
			skipped = multierror.Append(skipped, err)
			continue
		}
		if len(fields) != len(header) {
			skipped = multierror.Append(skipped,
				errors.Errorf("row has %d columns, header has %d", len(fields), len(header)))
			continue
		}
		record := make(map[string]string, len(header))
		for i, col := range header {
			record[col] = fields[i]
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		skipped = multierror.Append(skipped, err)
	}
	if err := skipped.ErrorOrNil(); err != nil {
		r.report(path, "skipped malformed rows", err)
	}

	if len(records) == 0 {
		return nil, ErrRecoveryExhausted
	}
	return records, nil
}

func (r *RecoveryManager) report(path, msg string, err error) {
	if r.errorHandler != nil {
		r.errorHandler("recover", path, msg, err)
	}
}

// parseCSVLine parses a single physical line as one CSV record.
func parseCSVLine(line string) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.FieldsPerRecord = -1
	return reader.Read()
}
