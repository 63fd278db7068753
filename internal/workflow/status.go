package workflow

import (
	"context"

	"animdb/internal/stage"
)

// StatusSummary represents lightweight scheduler diagnostics.
type StatusSummary struct {
	Running     bool                    `json:"running"`
	Cycles      int                     `json:"cycles"`
	LastError   string                  `json:"last_error,omitempty"`
	LastCycle   *Cycle                  `json:"last_cycle,omitempty"`
	StageHealth map[string]stage.Health `json:"stage_health"`
}

// Status returns the latest scheduler information and stage health.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{Running: m.running, Cycles: m.cycles}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastCycle != nil {
		c := *m.lastCycle
		summary.LastCycle = &c
	}
	stages := append([]stage.Handler(nil), m.stages...)
	m.mu.RUnlock()

	summary.StageHealth = make(map[string]stage.Health, len(stages))
	for _, handler := range stages {
		summary.StageHealth[handler.Name()] = handler.HealthCheck(ctx)
	}
	return summary
}
