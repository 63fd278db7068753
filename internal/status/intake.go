package status

import (
	"context"
	"fmt"
	"time"

	"animdb/internal/statefile"
)

// Intake result values.
const (
	IntakeSuccess = "success"
	IntakeStandby = "standby"
	IntakeError   = "error"
)

// IntakeTracker overwrites intake's current-state document.
type IntakeTracker struct {
	phase string
	store *statefile.Store[IntakeDocument]
	now   func() time.Time
}

// NewIntakeTracker returns a tracker for the document at path.
func NewIntakeTracker(path, phase string) *IntakeTracker {
	return &IntakeTracker{
		phase: phase,
		store: statefile.New[IntakeDocument](path, nil),
		now:   time.Now,
	}
}

// Path returns the status document location.
func (t *IntakeTracker) Path() string {
	return t.store.Path()
}

// Load returns the current intake document.
func (t *IntakeTracker) Load() (IntakeDocument, bool, error) {
	return t.store.Load()
}

// Set records the outcome of one intake request. An empty sessionDir clears
// current_session.
func (t *IntakeTracker) Set(ctx context.Context, gateOpen bool, state, message, sessionDir string) error {
	_, err := t.store.Update(ctx, func(doc *IntakeDocument) error {
		doc.Control = IntakeControl{Phase: t.phase, GateOpen: gateOpen}
		doc.Result = IntakeResult{LastUpdate: t.now().UTC(), Status: state, Message: message}
		doc.CurrentSession = nil
		if sessionDir != "" {
			session := sessionDir
			doc.CurrentSession = &session
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record intake status: %w", err)
	}
	return nil
}
