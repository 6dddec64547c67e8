package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"session_id", "agent_name", "status", "start_time", "end_time",
	"messages", "metrics", "events", "summary",
}

// CSVExporter writes one row per session with record counts. Record bodies
// are left to the structured formats.
type CSVExporter struct{}

func (e *CSVExporter) Export(bundles []Bundle, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, b := range bundles {
		end := ""
		if b.Session.EndTime != nil {
			end = b.Session.EndTime.UTC().Format(time.RFC3339)
		}
		row := []string{
			b.Session.ID,
			b.Session.AgentName,
			string(b.Session.Status),
			b.Session.StartTime.UTC().Format(time.RFC3339),
			end,
			strconv.Itoa(len(b.Messages)),
			strconv.Itoa(len(b.Metrics)),
			strconv.Itoa(len(b.Events)),
			b.Session.Summary,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (e *CSVExporter) Extension() string {
	return "csv"
}
