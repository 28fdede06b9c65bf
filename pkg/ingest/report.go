package ingest

import (
	"fmt"
	"io"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/schenql/dbbuilder/pkg/resolve"
)

// Pipeline stage names, as reported in StageError and the run report.
const (
	StageAuxiliary = "auxiliary"
	StageCorpus    = "corpus"
	StageResolve   = "resolve"
	StageLoad      = "load"
)

// StageError reports the stage a run failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Report describes one run. A failed run returns the report filled up to
// the failing stage.
type Report struct {
	RunID        string             `json:"run_id"`
	StartedAt    time.Time          `json:"started_at"`
	StageSeconds map[string]float64 `json:"stage_seconds"`
	FailedStage  string             `json:"failed_stage,omitempty"`

	Institutions    int              `json:"institutions"`
	ConferenceNames int              `json:"conference_names"`
	SatelliteFiles  int              `json:"satellite_files"`
	SatelliteErrors int              `json:"satellite_errors"`
	RecordsParsed   map[string]int64 `json:"records_parsed"`
	RecordsSkipped  int              `json:"records_skipped"`
	// ContainerKeys counts key derivations by "kind/outcome".
	ContainerKeys map[string]int `json:"container_keys"`

	Drops resolve.Drops `json:"drops"`
	Load  *LoadResult   `json:"load,omitempty"`
}

// TotalLoaded sums the loaded rows over all tables.
func (r *Report) TotalLoaded() int {
	if r.Load == nil {
		return 0
	}
	n := 0
	for _, t := range r.Load.Tables {
		n += t.Loaded
	}
	return n
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
