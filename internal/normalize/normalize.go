// Package normalize turns staged raw payloads into validated, canonical
// records in the inspected area.
//
// A run processes every pending session once. Each file is parsed, checked
// against the schema, given its resolved identity, and written under a
// content-neutral name; failures go to the error area. Session originals are
// archived per session afterwards, so a session is never reprocessed.
package normalize

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"animdb/internal/config"
	"animdb/internal/control"
	"animdb/internal/fileutil"
	"animdb/internal/logging"
	"animdb/internal/record"
	"animdb/internal/services"
	"animdb/internal/stage"
	"animdb/internal/staging"
	"animdb/internal/status"
)

// JobKind labels normalizer jobs in the registry.
const JobKind = "processor"

// ErrorPrefix marks files that parsed but failed validation.
const ErrorPrefix = "err_"

const maxNameAttempts = 16

// Result summarizes one run.
type Result struct {
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	Sessions  int    `json:"sessions"`
	Processed int    `json:"processed"`
	Errors    int    `json:"errors"`
}

// Normalizer runs the normalization batch.
type Normalizer struct {
	paths     config.Paths
	registry  *control.Registry
	tracker   *status.Tracker
	store     staging.Store
	validator *record.Validator
	logger    *slog.Logger
	now       func() time.Time
}

// New builds a normalizer from configuration.
func New(cfg *config.Config, registry *control.Registry, store staging.Store, logger *slog.Logger) (*Normalizer, error) {
	validator, err := record.NewValidator(cfg.Schema.Family)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stage.Normalizer, "init", "schema validator", err)
	}
	if store == nil {
		store = staging.NewFS()
	}
	return &Normalizer{
		paths:     cfg.Paths,
		registry:  registry,
		tracker:   status.NewTracker(cfg.StatusPath(stage.Normalizer), stage.Normalizer),
		store:     store,
		validator: validator,
		logger:    logging.NewComponentLogger(logger, stage.Normalizer),
		now:       time.Now,
	}, nil
}

// SetClock overrides the time source.
func (n *Normalizer) SetClock(now func() time.Time) {
	if now != nil {
		n.now = now
		n.tracker.SetClock(now)
	}
}

// Name implements stage.Handler.
func (n *Normalizer) Name() string {
	return stage.Normalizer
}

// Run implements stage.Handler.
func (n *Normalizer) Run(ctx context.Context) error {
	_, err := n.Process(ctx)
	return err
}

// HealthCheck implements stage.Handler.
func (n *Normalizer) HealthCheck(context.Context) stage.Health {
	return stage.CheckDirs(stage.Normalizer, n.paths.StagingDir, n.paths.InspectedDir, n.paths.ErrorDir, n.paths.ArchiveDir)
}

// Process runs one batch. When the run is not permitted it returns a result
// with Success false together with an ErrGateClosed error, and touches
// nothing besides the status document.
func (n *Normalizer) Process(ctx context.Context) (Result, error) {
	ctx = services.WithStage(ctx, stage.Normalizer)
	logger := logging.WithContext(ctx, n.logger)

	sessions, err := n.store.ListSessions(n.paths.StagingDir)
	if err != nil {
		return Result{}, services.Wrap(services.ErrDirectory, stage.Normalizer, "list sessions", n.paths.StagingDir, err)
	}

	run, err := n.tracker.Begin(ctx, status.Counters{"processed": 0, "errors": 0}, false)
	if err != nil {
		return Result{}, services.Wrap(services.ErrWriteFailed, stage.Normalizer, "record start", "", err)
	}

	if reason, active := n.active(); !active {
		if err := n.tracker.Idle(ctx, reason); err != nil {
			logger.Warn("idle status not recorded", logging.Error(err))
		}
		logger.Info("normalizer not active; run skipped",
			logging.String("reason", reason),
			logging.String(logging.FieldEventType, "normalizer_inactive"),
		)
		return Result{Success: false, Reason: reason}, services.Wrap(services.ErrGateClosed, stage.Normalizer, "run", reason, nil)
	}

	jobID, err := n.registry.RegisterJob(ctx, stage.Normalizer, JobKind)
	if err != nil {
		_, _ = n.tracker.Finish(ctx, run, nil, err)
		return Result{}, err
	}
	ctx = services.WithJobID(ctx, jobID)
	logger = logging.WithContext(ctx, n.logger)
	run.JobID = jobID

	result := Result{Success: true, JobID: jobID, Sessions: len(sessions)}
	var reports []status.Report
	var fsErr error
	for _, session := range sessions {
		sessionReports, sessionErr := n.processSession(ctx, session, &result)
		reports = append(reports, sessionReports...)
		if sessionErr != nil {
			fsErr = sessionErr
		}
	}

	run.Counters["processed"] = result.Processed
	run.Counters["errors"] = result.Errors
	if _, err := n.tracker.Finish(ctx, run, reports, fsErr); err != nil {
		logging.WarnWithContext(logger, "run status not recorded", "normalizer_status_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check state_dir permissions"),
			logging.String(logging.FieldImpact, "status document shows the previous run"),
		)
	}
	if err := n.registry.DeregisterJob(ctx, jobID, stage.Normalizer, control.Counters{"processed": result.Processed, "errors": result.Errors}); err != nil {
		logging.WarnWithContext(logger, "job not deregistered", "normalizer_deregister_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run `animdb jobs expire` once the registry is writable"),
			logging.String(logging.FieldImpact, "job stays listed as active until its lease expires"),
		)
	}

	logger.Info("normalizer run complete",
		logging.Int("sessions", result.Sessions),
		logging.Int("processed", result.Processed),
		logging.Int("errors", result.Errors),
		logging.String(logging.FieldEventType, "normalizer_run_complete"),
	)
	return result, fsErr
}

// active applies the run-level gate: when a registry exists the intake flag
// must be explicitly true, and the normalizer's own gate must be open.
func (n *Normalizer) active() (string, bool) {
	if n.registry == nil {
		return "", true
	}
	if n.registry.Exists() {
		if enabled, known := n.registry.StageEnabled(stage.Intake); !known || !enabled {
			return "intake not active in task registry", false
		}
	}
	if !n.registry.IsGateOpen(stage.Normalizer) {
		return "normalizer gate is closed", false
	}
	return "", true
}

func (n *Normalizer) processSession(ctx context.Context, session staging.Session, result *Result) ([]status.Report, error) {
	ctx = services.WithSession(ctx, session.Key)
	logger := logging.WithContext(ctx, n.logger)

	files, err := n.store.ListFiles(session.Dir, "*.json")
	if err != nil {
		return nil, services.Wrap(services.ErrDirectory, stage.Normalizer, "list session", session.Dir, err)
	}

	var reports []status.Report
	var fsErr error
	for _, name := range files {
		path := filepath.Join(session.Dir, name)
		outName, err := n.processFile(path)
		if err == nil {
			result.Processed++
			logger.Debug("record inspected",
				logging.String("source", name),
				logging.String("inspected", outName),
			)
			continue
		}
		result.Errors++
		reports = append(reports, status.Report{Time: n.now().UTC(), File: filepath.Join(session.Key, name), Reason: err.Error()})
		if moveErr := n.quarantine(path, name, err); moveErr != nil {
			fsErr = moveErr
		}
		if errors.Is(err, services.ErrWriteFailed) {
			fsErr = err
		}
		logger.Info("record rejected",
			logging.String("source", name),
			logging.Error(err),
			logging.String(logging.FieldEventType, "record_rejected"),
		)
	}

	archived, err := n.store.Archive(session, filepath.Join(n.paths.ArchiveDir, session.Key))
	if err != nil {
		fsErr = services.Wrap(services.ErrWriteFailed, stage.Normalizer, "archive session", session.Key, err)
		logging.WarnWithContext(logger, "session not fully archived", "session_archive_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check archive_dir permissions"),
			logging.String(logging.FieldImpact, "remaining files will be processed again next run"),
		)
	} else {
		logger.Debug("session archived", logging.Int("files", archived))
	}
	return reports, fsErr
}

// processFile writes the canonical form of one raw file into the inspected
// area and returns the new file name.
func (n *Normalizer) processFile(path string) (string, error) {
	data, err := n.store.Read(path)
	if err != nil {
		return "", services.Wrap(services.ErrParseFailure, stage.Normalizer, "read", filepath.Base(path), err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return "", services.Wrap(services.ErrEmptyPayload, stage.Normalizer, "read", filepath.Base(path), nil)
	}
	raw, err := record.ParseRaw(data)
	if err != nil {
		return "", err
	}
	if !raw.Identifiable() {
		return "", services.Wrap(services.ErrParseFailure, stage.Normalizer, "parse", "neither name nor header.id present", nil)
	}
	now := n.now()
	rec, err := n.validator.Reconstruct(raw, now)
	if err != nil {
		return "", err
	}
	encoded, err := record.Encode(rec)
	if err != nil {
		return "", services.Wrap(services.ErrWriteFailed, stage.Normalizer, "encode", "", err)
	}

	name := record.InspectedFileName(rec, now)
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		err = n.store.Write(filepath.Join(n.paths.InspectedDir, name), encoded)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			break
		}
		// Same entity, second and identity segment already taken; fall back
		// to a random segment.
		name = record.InspectedFileName(record.Record{Work: rec.Work, Name: rec.Name}, now)
	}
	return "", services.Wrap(services.ErrWriteFailed, stage.Normalizer, "write inspected", name, err)
}

// quarantine moves a rejected file into the error area. Unparseable and empty
// files keep their name; files that parsed but failed validation get the err_
// prefix.
func (n *Normalizer) quarantine(path, name string, cause error) error {
	target := name
	if !errors.Is(cause, services.ErrParseFailure) && !errors.Is(cause, services.ErrEmptyPayload) {
		target = ErrorPrefix + name
	}
	dst := fileutil.UniquePath(filepath.Join(n.paths.ErrorDir, target))
	if err := n.store.Move(path, dst); err != nil {
		return services.Wrap(services.ErrWriteFailed, stage.Normalizer, "quarantine", name, err)
	}
	return nil
}
