package control

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"animdb/internal/logging"
	"animdb/internal/services"
	"animdb/internal/stage"
	"animdb/internal/statefile"
)

// Job status values.
const (
	JobRunning  = "running"
	JobFinished = "finished"
	JobExpired  = "expired"
)

// Counters holds stage-specific run counters (processed, errors, duplicates...).
type Counters map[string]int

// Job is one active batch run.
type Job struct {
	Type      string    `json:"type"`
	Stage     string    `json:"stage"`
	PID       int       `json:"pid"`
	StartTime time.Time `json:"start_time"`
	Status    string    `json:"status"`
	Counters  Counters  `json:"counters,omitempty"`
}

// StageUpdate is the registry's last-known record for a stage.
type StageUpdate struct {
	Time         time.Time  `json:"time"`
	PID          int        `json:"pid"`
	ActiveJob    string     `json:"active_job,omitempty"`
	Status       string     `json:"status,omitempty"`
	Counters     Counters   `json:"counters"`
	LastFinished *time.Time `json:"last_finished,omitempty"`
}

// Document is the persisted registry shape.
type Document struct {
	Revision   int64                  `json:"revision"`
	Gates      map[string]bool        `json:"gates"`
	ActiveJobs map[string]Job         `json:"ActiveJobs"`
	LastUpdate map[string]StageUpdate `json:"last_update"`
}

func (d *Document) CurrentRevision() int64 { return d.Revision }
func (d *Document) SetRevision(r int64)    { d.Revision = r }

// SeedDocument returns a registry with every stage gate explicitly open.
func SeedDocument() Document {
	doc := Document{
		Gates:      make(map[string]bool, len(stage.Names())),
		ActiveJobs: map[string]Job{},
		LastUpdate: map[string]StageUpdate{},
	}
	for _, name := range stage.Names() {
		doc.Gates[name] = true
	}
	return doc
}

func (d *Document) ensureMaps() {
	if d.Gates == nil {
		d.Gates = map[string]bool{}
	}
	if d.ActiveJobs == nil {
		d.ActiveJobs = map[string]Job{}
	}
	if d.LastUpdate == nil {
		d.LastUpdate = map[string]StageUpdate{}
	}
}

// Registry reads and mutates the gate/job registry document.
type Registry struct {
	store  *statefile.Store[Document]
	lease  time.Duration
	logger *slog.Logger
	now    func() time.Time
	pid    int
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New returns a registry backed by the document at path. A positive lease
// expires active jobs older than it whenever a new job registers.
func New(path string, lease time.Duration, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:  statefile.New(path, SeedDocument),
		lease:  lease,
		logger: logging.NewComponentLogger(logger, "control"),
		now:    time.Now,
		pid:    os.Getpid(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Path returns the registry document location.
func (r *Registry) Path() string {
	return r.store.Path()
}

// Exists reports whether the registry document has been written.
func (r *Registry) Exists() bool {
	return r.store.Exists()
}

// Snapshot returns the current document; exists is false when it was seeded.
func (r *Registry) Snapshot() (Document, bool, error) {
	doc, exists, err := r.store.Load()
	if err != nil {
		return Document{}, false, err
	}
	doc.ensureMaps()
	return doc, exists, nil
}

// IsGateOpen reports whether the stage may run. Absent documents, absent
// flags, and unreadable documents all permit the stage.
func (r *Registry) IsGateOpen(name string) bool {
	doc, _, err := r.Snapshot()
	if err != nil {
		logging.WarnWithContext(r.logger, "gate registry unreadable; treating gate as open", "gate_registry_unreadable",
			logging.String(logging.FieldStage, name),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect or delete "+r.Path()),
			logging.String(logging.FieldImpact, "gates cannot be enforced until the document is repaired"),
		)
		return true
	}
	open, ok := doc.Gates[name]
	return !ok || open
}

// StageEnabled returns the explicit gate flag for a stage. known is false when
// the registry document or the flag is absent.
func (r *Registry) StageEnabled(name string) (enabled bool, known bool) {
	doc, exists, err := r.Snapshot()
	if err != nil || !exists {
		return false, false
	}
	enabled, known = doc.Gates[name]
	return enabled, known
}

// SetGate opens or closes a stage gate.
func (r *Registry) SetGate(ctx context.Context, name string, open bool) error {
	if !stage.Known(name) {
		return services.Wrap(services.ErrValidation, "control", "set gate", fmt.Sprintf("unknown stage %q", name), nil)
	}
	_, err := r.store.Update(ctx, func(doc *Document) error {
		doc.ensureMaps()
		doc.Gates[name] = open
		return nil
	})
	if err != nil {
		return services.Wrap(services.ErrWriteFailed, "control", "set gate", "persist registry", err)
	}
	r.logger.Info("gate updated",
		logging.String(logging.FieldStage, name),
		logging.Bool("open", open),
		logging.String(logging.FieldEventType, "gate_updated"),
	)
	return nil
}

// RegisterJob records a running job for the stage and returns its id, shaped
// "<kind>_<pid>_<6 hex>". The document is persisted before returning.
func (r *Registry) RegisterJob(ctx context.Context, stageName, kind string) (string, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = stageName
	}
	id := fmt.Sprintf("%s_%d_%s", kind, r.pid, randomHex(6))
	now := r.now().UTC()
	var expired []string
	_, err := r.store.Update(ctx, func(doc *Document) error {
		doc.ensureMaps()
		expired = r.expireLocked(doc, r.lease, now)
		doc.ActiveJobs[id] = Job{
			Type:      kind,
			Stage:     stageName,
			PID:       r.pid,
			StartTime: now,
			Status:    JobRunning,
		}
		prev := doc.LastUpdate[stageName]
		doc.LastUpdate[stageName] = StageUpdate{
			Time:         now,
			PID:          r.pid,
			ActiveJob:    id,
			Status:       JobRunning,
			Counters:     Counters{"processed": 0, "errors": 0},
			LastFinished: prev.LastFinished,
		}
		return nil
	})
	if err != nil {
		return "", services.Wrap(services.ErrWriteFailed, stageName, "register job", "persist registry", err)
	}
	for _, jobID := range expired {
		logging.WarnWithContext(r.logger, "expired stale job", "job_expired",
			logging.String(logging.FieldJobID, jobID),
			logging.String(logging.FieldErrorHint, "the process that owned this job likely crashed"),
			logging.String(logging.FieldImpact, "job removed from the active map"),
		)
	}
	r.logger.Debug("job registered",
		logging.String(logging.FieldStage, stageName),
		logging.String(logging.FieldJobID, id),
		logging.String(logging.FieldEventType, "job_registered"),
	)
	return id, nil
}

// DeregisterJob removes a job from the active map and stores its final
// counters as the stage's last update.
func (r *Registry) DeregisterJob(ctx context.Context, jobID, stageName string, counters Counters) error {
	now := r.now().UTC()
	_, err := r.store.Update(ctx, func(doc *Document) error {
		doc.ensureMaps()
		delete(doc.ActiveJobs, jobID)
		update := doc.LastUpdate[stageName]
		update.Time = now
		update.PID = r.pid
		update.ActiveJob = ""
		update.Status = JobFinished
		update.Counters = copyCounters(counters)
		update.LastFinished = &now
		doc.LastUpdate[stageName] = update
		return nil
	})
	if err != nil {
		return services.Wrap(services.ErrWriteFailed, stageName, "deregister job", "persist registry", err)
	}
	r.logger.Debug("job deregistered",
		logging.String(logging.FieldStage, stageName),
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldEventType, "job_deregistered"),
	)
	return nil
}

// ExpireJobs removes active jobs started more than maxAge ago and returns
// their ids, sorted.
func (r *Registry) ExpireJobs(ctx context.Context, maxAge time.Duration) ([]string, error) {
	now := r.now().UTC()
	var expired []string
	_, err := r.store.Update(ctx, func(doc *Document) error {
		doc.ensureMaps()
		expired = r.expireLocked(doc, maxAge, now)
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrWriteFailed, "control", "expire jobs", "persist registry", err)
	}
	return expired, nil
}

// ActiveJobs returns the running jobs sorted by start time.
func (r *Registry) ActiveJobs() ([]JobView, error) {
	doc, _, err := r.Snapshot()
	if err != nil {
		return nil, err
	}
	views := make([]JobView, 0, len(doc.ActiveJobs))
	for id, job := range doc.ActiveJobs {
		views = append(views, JobView{ID: id, Job: job})
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].StartTime.Equal(views[j].StartTime) {
			return views[i].ID < views[j].ID
		}
		return views[i].StartTime.Before(views[j].StartTime)
	})
	return views, nil
}

// JobView pairs a job with its registry key.
type JobView struct {
	ID string
	Job
}

func (r *Registry) expireLocked(doc *Document, maxAge time.Duration, now time.Time) []string {
	if maxAge <= 0 {
		return nil
	}
	cutoff := now.Add(-maxAge)
	var expired []string
	for id, job := range doc.ActiveJobs {
		if !job.StartTime.Before(cutoff) {
			continue
		}
		expired = append(expired, id)
		delete(doc.ActiveJobs, id)
		if update, ok := doc.LastUpdate[job.Stage]; ok && update.ActiveJob == id {
			update.ActiveJob = ""
			update.Status = JobExpired
			update.Time = now
			doc.LastUpdate[job.Stage] = update
		}
	}
	sort.Strings(expired)
	return expired
}

func copyCounters(in Counters) Counters {
	out := make(Counters, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func randomHex(n int) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:n]
}
