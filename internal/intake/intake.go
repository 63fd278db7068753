// Package intake accepts raw producer payloads and stages them, one file per
// call, inside a session directory.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"animdb/internal/config"
	"animdb/internal/logging"
	"animdb/internal/services"
	"animdb/internal/stage"
	"animdb/internal/staging"
	"animdb/internal/status"
)

// MaxPayloadBytes is the largest accepted payload.
const MaxPayloadBytes = 32767

const (
	// StandbyResponse answers an empty submission.
	StandbyResponse = "Ready to receive."
	gateClosedMsg   = "System gate is closed. Entry rejected."
	maxSeqAttempts  = 1000
)

var sessionKeyPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// GateChecker reports whether a stage may run.
type GateChecker interface {
	IsGateOpen(stage string) bool
}

// Submission is one inbound payload.
type Submission struct {
	Payload []byte
	// SessionKey groups submissions; empty starts a fresh session.
	SessionKey string
	// OriginalName is the producer's file name, possibly URL-encoded.
	OriginalName string
}

// Receipt describes the outcome of an accepted submission.
type Receipt struct {
	Standby    bool
	SessionKey string
	SessionDir string
	FileName   string
	Path       string
}

// Response renders the plain-text acknowledgment returned to producers.
func (r Receipt) Response() string {
	if r.Standby {
		return StandbyResponse
	}
	return fmt.Sprintf("Data accepted. Session: %s (%s)", r.SessionDir, r.FileName)
}

// Rejection is returned for every refused submission. Reply is the
// plain-text answer for the producer; Err carries the error marker.
type Rejection struct {
	Reply string
	Err   error
}

func (r *Rejection) Error() string { return r.Err.Error() }
func (r *Rejection) Unwrap() error { return r.Err }

func reject(reply string, err error) error {
	return &Rejection{Reply: reply, Err: err}
}

// ReplyText returns the producer-facing text for an Accept error.
func ReplyText(err error) string {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reply
	}
	return "Internal error."
}

// Service stages payloads under the staging root.
type Service struct {
	root    string
	gates   GateChecker
	tracker *status.IntakeTracker
	store   staging.Store
	logger  *slog.Logger
	now     func() time.Time
}

// New builds the intake service from configuration.
func New(cfg *config.Config, gates GateChecker, store staging.Store, logger *slog.Logger) *Service {
	if store == nil {
		store = staging.NewFS()
	}
	return &Service{
		root:    cfg.Paths.StagingDir,
		gates:   gates,
		tracker: status.NewIntakeTracker(cfg.StatusPath(stage.Intake), stage.Intake),
		store:   store,
		logger:  logging.NewComponentLogger(logger, stage.Intake),
		now:     time.Now,
	}
}

// Accept stages one payload. Every outcome, including rejections, is
// recorded in the intake status document.
func (s *Service) Accept(ctx context.Context, sub Submission) (Receipt, error) {
	ctx = services.WithStage(ctx, stage.Intake)
	logger := logging.WithContext(ctx, s.logger)

	if s.gates != nil && !s.gates.IsGateOpen(stage.Intake) {
		s.record(ctx, false, status.IntakeError, gateClosedMsg, "")
		logger.Info("intake rejected; gate closed", logging.String(logging.FieldEventType, "intake_gate_closed"))
		return Receipt{}, reject(gateClosedMsg, services.Wrap(services.ErrGateClosed, stage.Intake, "accept", "intake gate is closed", nil))
	}

	if len(sub.Payload) == 0 {
		s.record(ctx, true, status.IntakeStandby, "Awaiting data input.", "")
		return Receipt{Standby: true}, nil
	}

	if size := len(sub.Payload); size > MaxPayloadBytes {
		msg := fmt.Sprintf("File too large: %d bytes (Limit: %d)", size, MaxPayloadBytes)
		s.record(ctx, true, status.IntakeError, msg, "")
		logging.WarnWithContext(logger, "payload rejected; too large", "intake_payload_too_large",
			logging.Int("bytes", size),
			logging.Int("limit", MaxPayloadBytes),
			logging.String(logging.FieldErrorHint, "split the record or trim oversized fields"),
			logging.String(logging.FieldImpact, "payload discarded"),
		)
		return Receipt{}, reject(msg, services.Wrap(services.ErrPayloadTooLarge, stage.Intake, "accept", msg, nil))
	}

	key := strings.TrimSpace(sub.SessionKey)
	if key == "" {
		key = newSessionKey()
	} else if !sessionKeyPattern.MatchString(key) {
		msg := fmt.Sprintf("Invalid session key %q", key)
		s.record(ctx, true, status.IntakeError, msg, "")
		return Receipt{}, reject(msg, services.Wrap(services.ErrValidation, stage.Intake, "accept", "session key must match [A-Za-z0-9-]{1,64}", nil))
	}
	ctx = services.WithSession(ctx, key)
	logger = logging.WithContext(ctx, s.logger)

	dirName := staging.SessionDirName(key)
	dir := filepath.Join(s.root, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		msg := "Failed to create session directory: " + dirName
		s.record(ctx, true, status.IntakeError, msg, "")
		return Receipt{}, reject(msg, services.Wrap(services.ErrDirectory, stage.Intake, "create session", dirName, err))
	}

	fileName, path, err := s.write(dir, sub)
	if err != nil {
		msg := "Write failed: " + dirName
		s.record(ctx, true, status.IntakeError, "Write failed: "+err.Error(), "")
		return Receipt{}, reject(msg, services.Wrap(services.ErrWriteFailed, stage.Intake, "write payload", dirName, err))
	}

	s.record(ctx, true, status.IntakeSuccess, "Received: "+fileName, dirName)
	logger.Info("payload staged",
		logging.String("file", fileName),
		logging.Int("bytes", len(sub.Payload)),
		logging.String(logging.FieldEventType, "intake_staged"),
	)
	return Receipt{SessionKey: key, SessionDir: dirName, FileName: fileName, Path: path}, nil
}

// write stores the payload under the next free sequence number. Two
// concurrent calls for one session cannot claim the same file because the
// create is exclusive; the loser moves on to the next number.
func (s *Service) write(dir string, sub Submission) (string, string, error) {
	count, err := staging.CountEntries(dir)
	if err != nil {
		return "", "", err
	}
	base, named := splitOriginalName(sub.OriginalName)
	stamp := s.now().Format("20060102_150405")
	for attempt := 0; attempt < maxSeqAttempts; attempt++ {
		seq := count + 1 + attempt
		var name string
		if named {
			name = fmt.Sprintf("%s_%d.json", base, seq)
		} else {
			name = fmt.Sprintf("received_%s_%d.json", stamp, seq)
		}
		path := filepath.Join(dir, name)
		err := s.store.Write(path, sub.Payload)
		if err == nil {
			return name, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", err
		}
	}
	return "", "", fmt.Errorf("no free sequence number after %d attempts", maxSeqAttempts)
}

func (s *Service) record(ctx context.Context, gateOpen bool, state, message, sessionDir string) {
	if err := s.tracker.Set(ctx, gateOpen, state, message, sessionDir); err != nil {
		logging.WarnWithContext(s.logger, "intake status not recorded", "intake_status_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check state_dir permissions"),
			logging.String(logging.FieldImpact, "status endpoint shows a stale intake result"),
		)
	}
}

// splitOriginalName URL-decodes the supplied name and returns it without
// directory or extension. Staged payloads always get a .json extension
// because the normalizer only picks up JSON files. named is false when no
// usable name exists.
func splitOriginalName(raw string) (base string, named bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}
	raw = strings.ReplaceAll(raw, `\`, "/")
	name := filepath.Base(raw)
	if name == "." || name == ".." || name == "/" || strings.TrimSpace(name) == "" {
		return "", false
	}
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	return name, true
}

func newSessionKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
