package collector

import (
	"encoding/json"
	"io"
	"time"

	"github.com/su1ph3r/stampede/pkg/types"
)

// Report is the serialized form of a finished run.
type Report struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Duration    string          `json:"duration,omitempty"`
	Snapshot    Snapshot        `json:"summary"`
	Outcomes    []types.Outcome `json:"outcomes"`
}

// WriteJSON writes the full outcome log plus aggregates as indented JSON.
func (c *Collector) WriteJSON(w io.Writer, runDuration time.Duration) error {
	report := Report{
		GeneratedAt: time.Now().UTC(),
		Snapshot:    c.Snapshot(),
		Outcomes:    c.Outcomes(),
	}
	if runDuration > 0 {
		report.Duration = runDuration.String()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
