package workflow

import (
	"context"
	"time"

	"animdb/internal/logging"
	"animdb/internal/services"
	"animdb/internal/stage"
)

// Outcome is the result of one stage within a cycle.
type Outcome struct {
	Stage    string        `json:"stage"`
	Skipped  bool          `json:"skipped"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	err      error
}

// Err returns the stage error, nil for success or a skip.
func (o Outcome) Err() error {
	if o.Skipped {
		return nil
	}
	return o.err
}

// Cycle is one pass through every configured stage.
type Cycle struct {
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Expired  []string  `json:"expired_jobs,omitempty"`
	Outcomes []Outcome `json:"outcomes"`
}

// Failed reports whether any stage returned an error other than backpressure.
func (c Cycle) Failed() bool {
	for _, o := range c.Outcomes {
		if o.Err() != nil {
			return true
		}
	}
	return false
}

// RunOnce runs a single cycle in the calling goroutine. A stage failure does
// not stop later stages; each works off its own input area.
func (m *Manager) RunOnce(ctx context.Context) Cycle {
	m.mu.RLock()
	stages := append([]stage.Handler(nil), m.stages...)
	m.mu.RUnlock()

	cycle := Cycle{Started: time.Now()}
	expired, err := m.leases.ExpireStale(ctx)
	if err != nil {
		m.logger.Warn("stale job expiry failed; old jobs stay listed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_expiry_failed"),
			logging.String(logging.FieldErrorHint, "check state_dir permissions"),
		)
	}
	cycle.Expired = expired

	for _, handler := range stages {
		if ctx.Err() != nil {
			break
		}
		cycle.Outcomes = append(cycle.Outcomes, m.runStage(ctx, handler))
	}
	cycle.Finished = time.Now()

	m.mu.Lock()
	m.cycles++
	snapshot := cycle
	m.lastCycle = &snapshot
	for _, o := range cycle.Outcomes {
		if o.Err() != nil {
			m.lastErr = o.Err()
		}
	}
	m.mu.Unlock()
	return cycle
}

func (m *Manager) runStage(ctx context.Context, handler stage.Handler) Outcome {
	name := handler.Name()
	stageCtx := services.WithStage(ctx, name)
	logger := logging.WithContext(stageCtx, m.logger)
	start := time.Now()
	err := handler.Run(stageCtx)
	outcome := Outcome{Stage: name, Duration: time.Since(start), err: err}

	switch {
	case err == nil:
		logger.Debug("stage run finished", logging.Duration("duration", outcome.Duration))
	case services.IsBackpressure(err):
		outcome.Skipped = true
		logger.Info("stage skipped", logging.String("reason", err.Error()))
	default:
		outcome.Error = err.Error()
		logging.ErrorWithContext(logger, "stage run failed", "stage_run_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "see the stage status document for per-item reports"),
			logging.String(logging.FieldImpact, "later stages still run this cycle"),
		)
	}
	return outcome
}
