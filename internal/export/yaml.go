package export

import (
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLExporter writes all bundles as one YAML sequence.
type YAMLExporter struct{}

func (e *YAMLExporter) Export(bundles []Bundle, w io.Writer) error {
	if bundles == nil {
		bundles = []Bundle{}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()

	return enc.Encode(bundles)
}

func (e *YAMLExporter) Extension() string {
	return "yaml"
}
