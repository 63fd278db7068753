package status

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"
)

// SystemName identifies this pipeline in the overview.
const SystemName = "animdb"

// Overview is the merged view of every stage status document.
type Overview struct {
	System    string                     `json:"system"`
	Timestamp time.Time                  `json:"timestamp"`
	Phases    map[string]json.RawMessage `json:"phases"`
}

// PhaseSummary is the subset of a status document shown in tables.
type PhaseSummary struct {
	Stage     string
	Status    string
	InWorking bool
	LastRun   *time.Time
	Message   string
	Results   Counters
}

type placeholder struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Collect reads the status document of each stage (stage name to path) and
// merges them. Missing documents are reported as unknown and unreadable ones
// as errors; documents are embedded verbatim otherwise.
func Collect(paths map[string]string, now time.Time) Overview {
	out := Overview{System: SystemName, Timestamp: now.UTC(), Phases: make(map[string]json.RawMessage, len(paths))}
	for stage, path := range paths {
		out.Phases[stage] = readPhase(path)
	}
	return out
}

func readPhase(path string) json.RawMessage {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return mustMarshal(placeholder{Status: StateUnknown, Message: "status document not found"})
		}
		return mustMarshal(placeholder{Status: StateError, Message: err.Error()})
	}
	if !json.Valid(data) {
		return mustMarshal(placeholder{Status: StateError, Message: "status document is not valid JSON"})
	}
	return json.RawMessage(data)
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{"status":"error"}`)
	}
	return data
}

// Summaries extracts table rows from the overview in the given stage order.
func (o Overview) Summaries(order []string) []PhaseSummary {
	rows := make([]PhaseSummary, 0, len(order))
	for _, stage := range order {
		raw, ok := o.Phases[stage]
		if !ok {
			continue
		}
		rows = append(rows, summarize(stage, raw))
	}
	return rows
}

func summarize(stage string, raw json.RawMessage) PhaseSummary {
	var peek struct {
		Status      string        `json:"status"`
		Message     string        `json:"message"`
		InWorking   bool          `json:"in_working"`
		LastRun     *time.Time    `json:"last_run"`
		LastResults Counters      `json:"last_results"`
		Result      *IntakeResult `json:"result"`
	}
	row := PhaseSummary{Stage: stage, Status: StateUnknown}
	if err := json.Unmarshal(raw, &peek); err != nil {
		row.Status = StateError
		row.Message = err.Error()
		return row
	}
	if peek.Result != nil {
		row.Status = peek.Result.Status
		row.Message = peek.Result.Message
		last := peek.Result.LastUpdate
		if !last.IsZero() {
			row.LastRun = &last
		}
		return row
	}
	if peek.Status != "" {
		row.Status = peek.Status
	}
	row.Message = peek.Message
	row.InWorking = peek.InWorking
	row.LastRun = peek.LastRun
	row.Results = peek.LastResults
	return row
}
