// Package commit materializes routed records into the main store and keeps
// the identity registry in step.
//
// ADD moves records from the register cache into the store under their
// content-hash name. REBUILD rewrites every stored record in place,
// recomputing its hash and name, and regenerates the registry from scratch;
// records that end up with the same name collapse into one file.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
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

// Mode selects how a run treats its candidates.
type Mode string

const (
	ModeAdd     Mode = "ADD"
	ModeRebuild Mode = "REBUILD"
)

// JobKind labels committer jobs in the registry.
const JobKind = "indexer"

// IndexFileName is never treated as a candidate record.
const IndexFileName = "index.json"

// ParseMode accepts ADD or REBUILD in any case.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(value))) {
	case ModeAdd:
		return ModeAdd, nil
	case ModeRebuild:
		return ModeRebuild, nil
	}
	return "", services.Wrap(services.ErrConfiguration, stage.Committer, "parse mode",
		fmt.Sprintf("unknown mode %q (want ADD or REBUILD)", value), nil)
}

// Result summarizes one run.
type Result struct {
	Success    bool   `json:"success"`
	Reason     string `json:"reason,omitempty"`
	Mode       Mode   `json:"mode"`
	JobID      string `json:"job_id,omitempty"`
	Processed  int    `json:"processed"`
	Duplicates int    `json:"duplicates"`
	Errors     int    `json:"errors"`
}

func (r Result) counters() status.Counters {
	return status.Counters{"processed": r.Processed, "duplicates": r.Duplicates, "errors": r.Errors}
}

// Committer runs the commit batch.
type Committer struct {
	paths    config.Paths
	lockPath string
	registry *control.Registry
	tracker  *status.Tracker
	index    *index.Store
	store    staging.Store
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a committer from configuration.
func New(cfg *config.Config, registry *control.Registry, store staging.Store, logger *slog.Logger) *Committer {
	if store == nil {
		store = staging.NewFS()
	}
	return &Committer{
		paths:    cfg.Paths,
		lockPath: cfg.LockPath(stage.Committer),
		registry: registry,
		tracker:  status.NewTracker(cfg.StatusPath(stage.Committer), stage.Committer),
		index:    index.NewStore(cfg.IndexPath()),
		store:    store,
		logger:   logging.NewComponentLogger(logger, stage.Committer),
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (c *Committer) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
		c.tracker.SetClock(now)
	}
}

// Name implements stage.Handler.
func (c *Committer) Name() string {
	return stage.Committer
}

// Run implements stage.Handler with an ADD run.
func (c *Committer) Run(ctx context.Context) error {
	_, err := c.Commit(ctx, ModeAdd)
	return err
}

// HealthCheck implements stage.Handler.
func (c *Committer) HealthCheck(context.Context) stage.Health {
	return stage.CheckDirs(stage.Committer, c.paths.StoreDir, c.paths.RegisterCacheDir, c.paths.DiscardDir, c.paths.ErrorDir)
}

// ErrorDir is where unparseable candidates end up.
func (c *Committer) ErrorDir() string {
	return filepath.Join(c.paths.ErrorDir, stage.Committer)
}

// Commit runs one batch in mode.
func (c *Committer) Commit(ctx context.Context, mode Mode) (Result, error) {
	ctx = services.WithStage(ctx, stage.Committer)
	logger := logging.WithContext(ctx, c.logger).With(logging.String("mode", string(mode)))

	if mode != ModeAdd && mode != ModeRebuild {
		return Result{}, services.Wrap(services.ErrConfiguration, stage.Committer, "commit", fmt.Sprintf("unknown mode %q", mode), nil)
	}
	if c.registry != nil && !c.registry.IsGateOpen(stage.Committer) {
		logger.Info("committer gate closed; run skipped", logging.String(logging.FieldEventType, "committer_inactive"))
		return Result{Mode: mode, Reason: "committer gate is closed"}, services.Wrap(services.ErrGateClosed, stage.Committer, "commit", "gate closed", nil)
	}

	lock, err := stage.AcquireLock(c.lockPath, stage.Committer)
	if err != nil {
		if errors.Is(err, services.ErrLockHeld) {
			logger.Info("committer already running; run skipped",
				logging.Error(err),
				logging.String(logging.FieldEventType, "committer_lock_held"),
			)
			return Result{Mode: mode, Reason: "another committer run holds the lock"}, err
		}
		return Result{}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("committer lock not released", logging.Error(err))
		}
	}()

	ix := index.Index{}
	if mode == ModeAdd {
		if ix, err = c.index.Load(); err != nil {
			return Result{}, services.Wrap(services.ErrParseFailure, stage.Committer, "load registry", c.index.Path(), err)
		}
	}

	jobID := ""
	if c.registry != nil {
		if jobID, err = c.registry.RegisterJob(ctx, stage.Committer, JobKind); err != nil {
			return Result{}, err
		}
		ctx = services.WithJobID(ctx, jobID)
		logger = logging.WithContext(ctx, c.logger).With(logging.String("mode", string(mode)))
	}

	run, err := c.tracker.Begin(ctx, Result{}.counters(), true)
	if err != nil {
		logger.Warn("run start not recorded", logging.Error(err))
	}
	run.JobID = jobID
	run.Mode = string(mode)

	result := Result{Success: true, Mode: mode, JobID: jobID}
	reports, runErr := c.commitAll(ctx, mode, ix, &result)

	// Whatever reached the store is registered, even after a failed item.
	var persistErr error
	if mode == ModeRebuild {
		persistErr = c.index.Save(context.WithoutCancel(ctx), ix)
	} else {
		_, persistErr = c.index.Merge(context.WithoutCancel(ctx), ix)
	}
	if persistErr != nil {
		runErr = services.Wrap(services.ErrWriteFailed, stage.Committer, "persist registry", c.index.Path(), persistErr)
	}

	run.Counters = result.counters()
	if _, err := c.tracker.Finish(ctx, run, reports, runErr); err != nil {
		logging.WarnWithContext(logger, "run status not recorded", "committer_status_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check state_dir permissions"),
		)
	}
	if c.registry != nil {
		if err := c.registry.DeregisterJob(ctx, jobID, stage.Committer, control.Counters(result.counters())); err != nil {
			logging.WarnWithContext(logger, "job not deregistered", "committer_deregister_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "job stays listed as active until its lease expires"),
			)
		}
	}

	logger.Info("committer run complete",
		logging.Int("processed", result.Processed),
		logging.Int("duplicates", result.Duplicates),
		logging.Int("errors", result.Errors),
		logging.Int("registry_hashes", ix.Size()),
		logging.String(logging.FieldEventType, "committer_run_complete"),
	)
	return result, runErr
}

func (c *Committer) commitAll(ctx context.Context, mode Mode, ix index.Index, result *Result) ([]status.Report, error) {
	dir := c.paths.RegisterCacheDir
	if mode == ModeRebuild {
		dir = c.paths.StoreDir
	}
	files, err := c.store.ListFiles(dir, "*.json")
	if err != nil {
		return nil, services.Wrap(services.ErrDirectory, stage.Committer, "list candidates", dir, err)
	}

	logger := logging.WithContext(ctx, c.logger)
	var reports []status.Report
	var runErr error
	for _, name := range files {
		if name == IndexFileName {
			continue
		}
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		path := filepath.Join(dir, name)
		stored, duplicate, err := c.commitOne(mode, path, ix)
		if err != nil {
			result.Errors++
			reports = append(reports, status.Report{Time: c.now().UTC(), File: name, Reason: err.Error()})
			if errors.Is(err, services.ErrWriteFailed) {
				runErr = err
				continue
			}
			if moveErr := c.store.Move(path, fileutil.UniquePath(filepath.Join(c.ErrorDir(), name))); moveErr != nil {
				runErr = services.Wrap(services.ErrWriteFailed, stage.Committer, "quarantine", name, moveErr)
			}
			continue
		}
		if duplicate {
			result.Duplicates++
		}
		if stored != "" {
			result.Processed++
		}
		logger.Debug("record committed",
			logging.String("file", name),
			logging.String("stored", stored),
			logging.Bool("duplicate", duplicate),
		)
	}
	return reports, runErr
}

// commitOne handles one candidate. It returns the stored file name (empty
// when the candidate was discarded) and whether its hash was already known.
func (c *Committer) commitOne(mode Mode, path string, ix index.Index) (string, bool, error) {
	data, err := c.store.Read(path)
	if err != nil {
		return "", false, services.Wrap(services.ErrParseFailure, stage.Committer, "read", filepath.Base(path), err)
	}
	doc, err := record.Decode(data)
	if err != nil {
		return "", false, err
	}
	hash, err := doc.ContentHash()
	if err != nil {
		return "", false, err
	}
	doc.SetHash(hash)
	entity := doc.EntityKey()
	name := doc.FileName(hash)
	known := ix.Has(entity, hash)

	if mode == ModeAdd && known {
		buffer := staging.DiscardBufferName(c.now().Format(record.InspectedTimeLayout))
		dst := fileutil.UniquePath(filepath.Join(c.paths.DiscardDir, buffer, filepath.Base(path)))
		if err := c.store.Move(path, dst); err != nil {
			return "", true, services.Wrap(services.ErrWriteFailed, stage.Committer, "discard", filepath.Base(path), err)
		}
		return "", true, nil
	}

	encoded, err := doc.Encode()
	if err != nil {
		return "", false, services.Wrap(services.ErrWriteFailed, stage.Committer, "encode", filepath.Base(path), err)
	}
	target := filepath.Join(c.paths.StoreDir, name)
	if mode == ModeRebuild {
		if err := c.store.Replace(path, encoded); err != nil {
			return "", known, services.Wrap(services.ErrWriteFailed, stage.Committer, "rewrite", filepath.Base(path), err)
		}
		if path != target {
			if err := c.store.Move(path, target); err != nil {
				return "", known, services.Wrap(services.ErrWriteFailed, stage.Committer, "rename", filepath.Base(path), err)
			}
		}
	} else {
		if err := c.store.Replace(target, encoded); err != nil {
			return "", false, services.Wrap(services.ErrWriteFailed, stage.Committer, "store", name, err)
		}
		ix.Add(entity, hash)
		if err := c.store.Remove(path); err != nil {
			return name, false, services.Wrap(services.ErrWriteFailed, stage.Committer, "remove cached", filepath.Base(path), err)
		}
		return name, false, nil
	}
	ix.Add(entity, hash)
	return name, known, nil
}
