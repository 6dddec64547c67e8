package export

import (
	"encoding/json"
	"io"
)

// JSONExporter writes all bundles as one pretty-printed JSON array.
type JSONExporter struct{}

func (e *JSONExporter) Export(bundles []Bundle, w io.Writer) error {
	if bundles == nil {
		bundles = []Bundle{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(bundles)
}

func (e *JSONExporter) Extension() string {
	return "json"
}
