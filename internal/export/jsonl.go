package export

import (
	"encoding/json"
	"fmt"
	"io"
)

// Record kinds written by JSONLExporter.
const (
	KindSession = "session"
	KindMessage = "message"
	KindMetrics = "metrics"
	KindEvent   = "event"
)

// Line is one JSONL record.
type Line struct {
	Kind   string `json:"kind"`
	Record any    `json:"record"`
}

// JSONLExporter writes one record per line: each session followed by its
// messages, metrics and events.
type JSONLExporter struct{}

func (e *JSONLExporter) Export(bundles []Bundle, w io.Writer) error {
	enc := json.NewEncoder(w)
	write := func(kind string, rec any) error {
		if err := enc.Encode(Line{Kind: kind, Record: rec}); err != nil {
			return fmt.Errorf("failed to encode %s: %w", kind, err)
		}
		return nil
	}

	for _, b := range bundles {
		if err := write(KindSession, b.Session); err != nil {
			return err
		}
		for _, m := range b.Messages {
			if err := write(KindMessage, m); err != nil {
				return err
			}
		}
		for _, m := range b.Metrics {
			if err := write(KindMetrics, m); err != nil {
				return err
			}
		}
		for _, ev := range b.Events {
			if err := write(KindEvent, ev); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *JSONLExporter) Extension() string {
	return "jsonl"
}
