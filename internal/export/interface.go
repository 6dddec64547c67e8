// Package export writes stored sessions and their records to files.
package export

import (
	"fmt"
	"io"
)

// Exporter defines the interface for all export formats
type Exporter interface {
	Export(bundles []Bundle, w io.Writer) error
	Extension() string
}

// Formats lists the names accepted by NewExporter.
var Formats = []string{"json", "jsonl", "yaml", "csv"}

// NewExporter creates a new exporter based on format
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "json":
		return &JSONExporter{}, nil
	case "jsonl":
		return &JSONLExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "csv":
		return &CSVExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: json, jsonl, yaml, csv)", format)
	}
}
