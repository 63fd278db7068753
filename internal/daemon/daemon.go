package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"animdb/internal/config"
	"animdb/internal/control"
	"animdb/internal/intake"
	"animdb/internal/logging"
	"animdb/internal/workflow"
)

// LockName keys the daemon's single-instance lock file.
const LockName = "daemon"

// Daemon coordinates the HTTP surface and the scheduler and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *control.Registry
	workflow *workflow.Manager
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool                   `json:"running"`
	PID          int                    `json:"pid"`
	Address      string                 `json:"address,omitempty"`
	LockFilePath string                 `json:"lock_file"`
	Workflow     workflow.StatusSummary `json:"workflow"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, registry *control.Registry, intakeSvc *intake.Service, wf *workflow.Manager, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || registry == nil || intakeSvc == nil || wf == nil {
		return nil, errors.New("daemon requires config, registry, intake service, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath(LockName)
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		registry: registry,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, intakeSvc, logger)
	return d, nil
}

// Start acquires the daemon lock, starts the HTTP server, and, when an
// interval is configured, the workflow scheduler.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another animdb daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.api.start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start http server: %w", err)
	}
	if d.workflow.Interval() > 0 {
		if err := d.workflow.Start(d.ctx); err != nil {
			d.api.stop()
			d.abortStart()
			return fmt.Errorf("start workflow: %w", err)
		}
	} else {
		d.logger.Info("batch scheduler disabled; run stages from the CLI",
			logging.String(logging.FieldEventType, "scheduler_disabled"),
		)
	}

	d.running.Store(true)
	d.logger.Info("animdb daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.api.address()),
		logging.Duration("interval", d.workflow.Interval()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

// Stop stops the scheduler and server and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("animdb daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Address returns the HTTP listen address once started.
func (d *Daemon) Address() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Address:      d.api.address(),
		LockFilePath: d.lockPath,
		Workflow:     d.workflow.Status(ctx),
	}
}
