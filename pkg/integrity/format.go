package integrity

import (
	"strings"

	"github.com/pkg/errors"
)

// Format identifies a structured file format handled by this package.
type Format int

const (
	// FormatJSON is a single JSON document per file.
	FormatJSON Format = iota
	// FormatJSONLines is one JSON value per line. A trailing separator on
	// the last line is not required.
	FormatJSONLines
	// FormatCSV is a header row followed by data rows with matching column
	// counts.
	FormatCSV
)

// String returns the canonical name of the format.
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatJSONLines:
		return "jsonl"
	case FormatCSV:
		return "csv"
	default:
		return "unknown"
	}
}

// ParseFormat converts a format name to a Format. Accepted names are "json",
// "jsonl" (or "jsonlines"), and "csv", case-insensitive.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return FormatJSON, nil
	case "jsonl", "jsonlines":
		return FormatJSONLines, nil
	case "csv":
		return FormatCSV, nil
	default:
		return FormatJSON, errors.Errorf("unknown format %q", name)
	}
}
