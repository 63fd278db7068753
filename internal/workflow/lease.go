package workflow

import (
	"context"
	"log/slog"
	"time"

	"animdb/internal/control"
	"animdb/internal/logging"
)

// LeaseMonitor expires registry jobs whose owner stopped without
// deregistering.
type LeaseMonitor struct {
	registry *control.Registry
	logger   *slog.Logger
	lease    time.Duration
}

// NewLeaseMonitor creates a monitor. A nil registry or non-positive lease
// disables expiry.
func NewLeaseMonitor(registry *control.Registry, logger *slog.Logger, lease time.Duration) *LeaseMonitor {
	return &LeaseMonitor{registry: registry, logger: logger, lease: lease}
}

// ExpireStale expires jobs older than the lease and returns their ids.
func (l *LeaseMonitor) ExpireStale(ctx context.Context) ([]string, error) {
	if l == nil || l.registry == nil || l.lease <= 0 || !l.registry.Exists() {
		return nil, nil
	}
	expired, err := l.registry.ExpireJobs(ctx, l.lease)
	if err != nil {
		return nil, err
	}
	if len(expired) > 0 {
		l.logger.Info("expired stale jobs",
			logging.Int("count", len(expired)),
			logging.Any("jobs", expired),
			logging.String(logging.FieldEventType, "jobs_expired"),
		)
	}
	return expired, nil
}
