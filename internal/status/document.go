package status

import (
	"time"
)

// HistoryLimit caps the run history kept per stage.
const HistoryLimit = 3

// ReportLimit caps the per-item reports kept per stage.
const ReportLimit = 20

// Stage status values.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateError   = "error"
	StateUnknown = "unknown"
)

// Counters holds stage-specific run counters.
type Counters map[string]int

// RunSummary describes one batch run. Throughput metrics stay nil when they
// would require dividing by zero.
type RunSummary struct {
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	StartTimeFloat  float64    `json:"start_time_float"`
	EndTimeFloat    *float64   `json:"end_time_float,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
	JobID           string     `json:"job_id,omitempty"`
	Mode            string     `json:"mode,omitempty"`
	Counters        Counters   `json:"counters"`
	ItemsPerSecond  *float64   `json:"items_per_second"`
	ItemsPerHour    *float64   `json:"items_per_hour"`
	AvgMsPerItem    *float64   `json:"avg_ms_per_item"`
	Message         string     `json:"message,omitempty"`
}

// Report records a per-item problem observed during a run.
type Report struct {
	Time   time.Time `json:"time"`
	File   string    `json:"file"`
	Reason string    `json:"reason"`
}

// Document is the persisted status of a batch stage.
type Document struct {
	Revision    int64        `json:"revision"`
	Stage       string       `json:"stage"`
	InWorking   bool         `json:"in_working"`
	Status      string       `json:"status"`
	Message     string       `json:"message,omitempty"`
	CurrentRun  *RunSummary  `json:"current_run,omitempty"`
	History     []RunSummary `json:"history"`
	Reports     []Report     `json:"reports"`
	LastRun     *time.Time   `json:"last_run,omitempty"`
	LastResults Counters     `json:"last_results,omitempty"`
}

func (d *Document) CurrentRevision() int64 { return d.Revision }
func (d *Document) SetRevision(r int64)    { d.Revision = r }

func (d *Document) ensureContainers() {
	if d.History == nil {
		d.History = []RunSummary{}
	}
	if d.Reports == nil {
		d.Reports = []Report{}
	}
}

// PushHistory prepends run and drops entries beyond HistoryLimit.
func (d *Document) PushHistory(run RunSummary) {
	d.History = append([]RunSummary{run}, d.History...)
	if len(d.History) > HistoryLimit {
		d.History = d.History[:HistoryLimit]
	}
}

// AddReport prepends a report and drops entries beyond ReportLimit.
func (d *Document) AddReport(r Report) {
	d.Reports = append([]Report{r}, d.Reports...)
	if len(d.Reports) > ReportLimit {
		d.Reports = d.Reports[:ReportLimit]
	}
}

// Finalize stamps the end time and derives the throughput metrics from the
// "processed" counter.
func (r *RunSummary) Finalize(end time.Time) {
	endFloat := unixFloat(end)
	r.EndTime = &end
	r.EndTimeFloat = &endFloat
	r.DurationSeconds = max(0, endFloat-r.StartTimeFloat)
	r.ItemsPerSecond, r.ItemsPerHour, r.AvgMsPerItem = Metrics(r.DurationSeconds, r.Counters["processed"])
}

// Metrics returns items/second, items/hour, and average milliseconds per item.
// Each is nil when undefined.
func Metrics(durationSeconds float64, processed int) (perSecond, perHour, avgMs *float64) {
	if durationSeconds > 0 {
		ips := float64(processed) / durationSeconds
		iph := ips * 3600
		perSecond, perHour = &ips, &iph
	}
	if processed > 0 && durationSeconds > 0 {
		avg := durationSeconds * 1000 / float64(processed)
		avgMs = &avg
	}
	return perSecond, perHour, avgMs
}

func unixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// IntakeControl mirrors the gate the intake request observed.
type IntakeControl struct {
	Phase    string `json:"phase"`
	GateOpen bool   `json:"gate_open"`
}

// IntakeResult is the outcome of the most recent intake request.
type IntakeResult struct {
	LastUpdate time.Time `json:"last_update"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
}

// IntakeDocument is the single current-state document written by intake.
type IntakeDocument struct {
	Revision       int64         `json:"revision"`
	Control        IntakeControl `json:"control"`
	Result         IntakeResult  `json:"result"`
	CurrentSession *string       `json:"current_session"`
}

func (d *IntakeDocument) CurrentRevision() int64 { return d.Revision }
func (d *IntakeDocument) SetRevision(r int64)    { d.Revision = r }
