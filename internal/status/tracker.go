package status

import (
	"context"
	"fmt"
	"time"

	"animdb/internal/statefile"
)

// Tracker updates the status document of one batch stage.
type Tracker struct {
	stage string
	store *statefile.Store[Document]
	now   func() time.Time
}

// NewTracker returns a tracker for the document at path.
func NewTracker(path, stage string) *Tracker {
	return &Tracker{
		stage: stage,
		store: statefile.New(path, func() Document {
			return Document{Stage: stage, Status: StateIdle, History: []RunSummary{}, Reports: []Report{}}
		}),
		now: time.Now,
	}
}

// SetClock overrides the time source.
func (t *Tracker) SetClock(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}

// Path returns the status document location.
func (t *Tracker) Path() string {
	return t.store.Path()
}

// Load returns the current status document.
func (t *Tracker) Load() (Document, error) {
	doc, _, err := t.store.Load()
	if err != nil {
		return Document{}, err
	}
	doc.ensureContainers()
	return doc, nil
}

// Begin persists a run-started snapshot and returns the new run. When
// pushHistory is set the run also enters the history immediately and Finish
// replaces that entry in place.
func (t *Tracker) Begin(ctx context.Context, counters Counters, pushHistory bool) (RunSummary, error) {
	start := t.now().UTC()
	run := RunSummary{
		StartTime:      start,
		StartTimeFloat: unixFloat(start),
		Counters:       copyCounters(counters),
	}
	_, err := t.store.Update(ctx, func(doc *Document) error {
		doc.ensureContainers()
		doc.Stage = t.stage
		doc.InWorking = true
		doc.Status = StateRunning
		doc.Message = ""
		current := run
		doc.CurrentRun = &current
		if pushHistory {
			doc.PushHistory(run)
		}
		return nil
	})
	if err != nil {
		return RunSummary{}, fmt.Errorf("record run start: %w", err)
	}
	return run, nil
}

// Idle marks the stage idle without recording a run. A current run left
// open by Begin is closed at the idle time.
func (t *Tracker) Idle(ctx context.Context, message string) error {
	end := t.now().UTC()
	_, err := t.store.Update(ctx, func(doc *Document) error {
		doc.ensureContainers()
		doc.Stage = t.stage
		if doc.CurrentRun != nil && doc.CurrentRun.EndTime == nil {
			doc.CurrentRun.Finalize(end)
			doc.CurrentRun.Message = message
		}
		doc.InWorking = false
		doc.Status = StateIdle
		doc.Message = message
		return nil
	})
	if err != nil {
		return fmt.Errorf("record idle status: %w", err)
	}
	return nil
}

// Finish stamps the run end, records it in the history, and marks the stage
// idle. runErr, when set, marks the stage in error and is kept as the message.
func (t *Tracker) Finish(ctx context.Context, run RunSummary, reports []Report, runErr error) (Document, error) {
	end := t.now().UTC()
	run.Finalize(end)
	state := StateIdle
	if runErr != nil {
		state = StateError
		run.Message = runErr.Error()
	}
	doc, err := t.store.Update(ctx, func(doc *Document) error {
		doc.ensureContainers()
		doc.Stage = t.stage
		if len(doc.History) > 0 && doc.History[0].EndTime == nil && doc.History[0].StartTimeFloat == run.StartTimeFloat {
			doc.History[0] = run
		} else {
			doc.PushHistory(run)
		}
		for _, r := range reports {
			doc.AddReport(r)
		}
		current := run
		doc.CurrentRun = &current
		doc.InWorking = false
		doc.Status = state
		doc.Message = run.Message
		doc.LastRun = &end
		doc.LastResults = copyCounters(run.Counters)
		return nil
	})
	if err != nil {
		return Document{}, fmt.Errorf("record run end: %w", err)
	}
	return doc, nil
}

func copyCounters(in Counters) Counters {
	out := make(Counters, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
