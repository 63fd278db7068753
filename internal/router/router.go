// Package router classifies inspected records against the identity registry
// and moves each one to the area its class belongs to:
//
//	new        entity never committed      -> register cache
//	duplicate  content hash already known  -> discard buffer
//	conflict   known entity, new content   -> manual review
//
// Runs are exclusive through an OS file lock. Entity identity is read from
// the record body; the inspected filename only supplies the timestamp used
// to name the discard buffer.
package router

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"animdb/internal/config"
	"animdb/internal/control"
	"animdb/internal/fileutil"
	"animdb/internal/index"
	"animdb/internal/logging"
	"animdb/internal/record"
	"animdb/internal/services"
	"animdb/internal/stage"
	"animdb/internal/staging"
	"animdb/internal/status"
)

// Class is the routing outcome for one record.
type Class string

const (
	ClassNew       Class = "new"
	ClassDuplicate Class = "duplicate"
	ClassConflict  Class = "conflict"
	ClassInvalid   Class = "invalid"
)

// Result summarizes one run.
type Result struct {
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
	Total     int    `json:"total"`
	New       int    `json:"new"`
	Duplicate int    `json:"duplicate"`
	Conflict  int    `json:"conflict"`
	Invalid   int    `json:"invalid"`
}

func (r Result) counters() status.Counters {
	return status.Counters{
		"total":     r.Total,
		"new":       r.New,
		"duplicate": r.Duplicate,
		"conflict":  r.Conflict,
		"invalid":   r.Invalid,
		"processed": r.New + r.Duplicate + r.Conflict,
	}
}

// Router runs the routing batch.
type Router struct {
	paths    config.Paths
	lockPath string
	registry *control.Registry
	tracker  *status.Tracker
	index    *index.Store
	store    staging.Store
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a router from configuration.
func New(cfg *config.Config, registry *control.Registry, store staging.Store, logger *slog.Logger) *Router {
	if store == nil {
		store = staging.NewFS()
	}
	return &Router{
		paths:    cfg.Paths,
		lockPath: cfg.LockPath(stage.Router),
		registry: registry,
		tracker:  status.NewTracker(cfg.StatusPath(stage.Router), stage.Router),
		index:    index.NewStore(cfg.IndexPath()),
		store:    store,
		logger:   logging.NewComponentLogger(logger, stage.Router),
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (r *Router) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
		r.tracker.SetClock(now)
	}
}

// Name implements stage.Handler.
func (r *Router) Name() string {
	return stage.Router
}

// Run implements stage.Handler.
func (r *Router) Run(ctx context.Context) error {
	_, err := r.Process(ctx)
	return err
}

// HealthCheck implements stage.Handler.
func (r *Router) HealthCheck(context.Context) stage.Health {
	return stage.CheckDirs(stage.Router,
		r.paths.InspectedDir, r.paths.RegisterCacheDir, r.paths.ReviewDir, r.paths.DiscardDir, r.paths.ErrorDir)
}

// ErrorDir is where unparseable inspected records end up.
func (r *Router) ErrorDir() string {
	return filepath.Join(r.paths.ErrorDir, stage.Router)
}

// Process runs one batch. A gate explicitly set to false or a lock held by
// another run returns a backpressure error with nothing touched.
func (r *Router) Process(ctx context.Context) (Result, error) {
	ctx = services.WithStage(ctx, stage.Router)
	logger := logging.WithContext(ctx, r.logger)

	if r.registry != nil {
		if enabled, known := r.registry.StageEnabled(stage.Router); known && !enabled {
			logger.Info("router gate closed; run skipped", logging.String(logging.FieldEventType, "router_inactive"))
			return Result{Reason: "router gate is closed"}, services.Wrap(services.ErrGateClosed, stage.Router, "run", "gate closed", nil)
		}
	}

	lock, err := stage.AcquireLock(r.lockPath, stage.Router)
	if err != nil {
		if errors.Is(err, services.ErrLockHeld) {
			logger.Info("router already running; run skipped",
				logging.Error(err),
				logging.String(logging.FieldEventType, "router_lock_held"),
			)
			return Result{Reason: "another router run holds the lock"}, err
		}
		return Result{}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("router lock not released", logging.Error(err))
		}
	}()

	run, err := r.tracker.Begin(ctx, Result{}.counters(), true)
	if err != nil {
		return Result{}, services.Wrap(services.ErrWriteFailed, stage.Router, "record start", "", err)
	}

	ix, err := r.index.Load()
	if err != nil {
		runErr := services.Wrap(services.ErrParseFailure, stage.Router, "load registry", r.index.Path(), err)
		_, _ = r.tracker.Finish(ctx, run, nil, runErr)
		return Result{}, runErr
	}

	files, err := r.store.ListFiles(r.paths.InspectedDir, "*.json")
	if err != nil {
		runErr := services.Wrap(services.ErrDirectory, stage.Router, "list inspected", r.paths.InspectedDir, err)
		_, _ = r.tracker.Finish(ctx, run, nil, runErr)
		return Result{}, runErr
	}

	result := Result{Success: true}
	seen := index.Index{}
	var reports []status.Report
	var fsErr error
	for _, name := range files {
		parsed, ok := record.ParseInspectedName(name)
		if !ok {
			continue
		}
		result.Total++
		class, dst, reason := r.classify(name, parsed, ix, seen)
		switch class {
		case ClassNew:
			result.New++
		case ClassDuplicate:
			result.Duplicate++
		case ClassConflict:
			result.Conflict++
		case ClassInvalid:
			result.Invalid++
			reports = append(reports, status.Report{Time: r.now().UTC(), File: name, Reason: reason})
		}
		if err := r.store.Move(filepath.Join(r.paths.InspectedDir, name), fileutil.UniquePath(dst)); err != nil {
			fsErr = services.Wrap(services.ErrWriteFailed, stage.Router, "move", name, err)
			reports = append(reports, status.Report{Time: r.now().UTC(), File: name, Reason: fsErr.Error()})
			continue
		}
		logger.Debug("record routed",
			logging.String("file", name),
			logging.String("class", string(class)),
		)
	}

	run.Counters = result.counters()
	if _, err := r.tracker.Finish(ctx, run, reports, fsErr); err != nil {
		logging.WarnWithContext(logger, "run status not recorded", "router_status_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check state_dir permissions"),
		)
	}
	logger.Info("router run complete",
		logging.Int("total", result.Total),
		logging.Int("new", result.New),
		logging.Int("duplicate", result.Duplicate),
		logging.Int("conflict", result.Conflict),
		logging.Int("invalid", result.Invalid),
		logging.String(logging.FieldEventType, "router_run_complete"),
	)
	return result, fsErr
}

// classify decides where an inspected file goes. seen collects the hashes
// routed during this run so repeats inside one batch count as duplicates.
func (r *Router) classify(name string, parsed record.InspectedName, ix, seen index.Index) (Class, string, string) {
	entity, hash, err := r.identify(name)
	if err != nil {
		return ClassInvalid, filepath.Join(r.ErrorDir(), name), err.Error()
	}
	defer seen.Add(entity, hash)
	switch {
	case ix.Has(entity, hash) || seen.Has(entity, hash):
		buffer := staging.DiscardBufferName(parsed.Timestamp)
		return ClassDuplicate, filepath.Join(r.paths.DiscardDir, buffer, name), ""
	case !ix.Known(entity):
		return ClassNew, filepath.Join(r.paths.RegisterCacheDir, name), ""
	default:
		return ClassConflict, filepath.Join(r.paths.ReviewDir, name), ""
	}
}

// identify returns the entity key from the record body and the content hash
// the committer will assign.
func (r *Router) identify(name string) (string, string, error) {
	data, err := r.store.Read(filepath.Join(r.paths.InspectedDir, name))
	if err != nil {
		return "", "", err
	}
	doc, err := record.Decode(data)
	if err != nil {
		return "", "", err
	}
	hash, err := doc.ContentHash()
	if err != nil {
		return "", "", err
	}
	return doc.EntityKey(), hash, nil
}
