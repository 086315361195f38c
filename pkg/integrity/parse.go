package integrity

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

// ParseJSONFile decodes a file known to hold one complete JSON document.
func ParseJSONFile(path string) (interface{}, error) {
	data, err := os.ReadFile(path) // #nosec G304 - parsing caller-supplied paths is the point
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}
	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, errors.Wrap(err, "parse json")
	}
	return value, nil
}

// ParseJSONLinesFile decodes a file known to hold one JSON value per line.
// Empty lines are ignored.
func ParseJSONLinesFile(path string) ([]interface{}, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return nil, errors.Wrap(err, "open file")
	}
	defer func() {
		_ = f.Close()
	}()

	var records []interface{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var value interface{}
		if err := json.Unmarshal(line, &value); err != nil {
			return nil, errors.Wrap(err, "parse json line")
		}
		records = append(records, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan file")
	}
	return records, nil
}

// ParseCSVFile decodes a file known to hold a header row plus data rows into
// one mapping per row, keyed by the header.
func ParseCSVFile(path string) ([]map[string]string, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return nil, errors.Wrap(err, "open file")
	}
	defer func() {
		_ = f.Close()
	}()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}

	records := make([]map[string]string, 0)
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read row")
		}
		record := make(map[string]string, len(header))
		for i, col := range header {
			record[col] = fields[i]
		}
		records = append(records, record)
	}
	return records, nil
}
