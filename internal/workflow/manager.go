package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"animdb/internal/config"
	"animdb/internal/control"
	"animdb/internal/logging"
	"animdb/internal/stage"
)

// StageSet bundles the batch handlers the manager drives, in pipeline order.
type StageSet struct {
	Normalizer stage.Handler
	Router     stage.Handler
	Committer  stage.Handler
}

func (s StageSet) ordered() []stage.Handler {
	out := make([]stage.Handler, 0, 3)
	for _, h := range []stage.Handler{s.Normalizer, s.Router, s.Committer} {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

// Manager schedules pipeline cycles.
type Manager struct {
	logger   *slog.Logger
	interval time.Duration
	leases   *LeaseMonitor

	mu        sync.RWMutex
	stages    []stage.Handler
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastErr   error
	lastCycle *Cycle
	cycles    int
}

// NewManager constructs a manager using the configured interval and job lease.
func NewManager(cfg *config.Config, registry *control.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	return &Manager{
		logger:   logger,
		interval: time.Duration(cfg.Workflow.IntervalSeconds) * time.Second,
		leases:   NewLeaseMonitor(registry, logger, time.Duration(cfg.Jobs.LeaseSeconds)*time.Second),
	}
}

// ConfigureStages installs the handlers run by each cycle.
func (m *Manager) ConfigureStages(set StageSet) {
	m.mu.Lock()
	m.stages = set.ordered()
	m.mu.Unlock()
}

// Interval returns the cycle interval; zero means the scheduler is disabled.
func (m *Manager) Interval() time.Duration {
	return m.interval
}

// Start launches the scheduling loop. It runs a cycle immediately and then
// once per interval until Stop or ctx cancellation.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.stages) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}
	if m.interval <= 0 {
		m.mu.Unlock()
		return errors.New("workflow interval not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.loop(runCtx)
	return nil
}

// Stop terminates the loop and waits for the current cycle to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
