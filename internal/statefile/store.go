package statefile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"animdb/internal/fileutil"
)

// ErrRevisionConflict reports that a document changed between read and write.
var ErrRevisionConflict = errors.New("revision conflict")

// ConflictError carries the revisions involved in a rejected Replace.
type ConflictError struct {
	Path             string
	ExpectedRevision int64
	CurrentRevision  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("revision conflict on %s: expected %d, found %d", e.Path, e.ExpectedRevision, e.CurrentRevision)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrRevisionConflict
}

// Revisioned is implemented by documents that carry a revision stamp.
type Revisioned interface {
	CurrentRevision() int64
	SetRevision(int64)
}

const lockRetryDelay = 20 * time.Millisecond

// Store reads and writes a single JSON document of type T.
type Store[T any] struct {
	path string
	seed func() T
}

// New returns a store for the document at path. seed builds the value used
// when the file does not exist yet; a nil seed yields the zero value.
func New[T any](path string, seed func() T) *Store[T] {
	if seed == nil {
		seed = func() T {
			var zero T
			return zero
		}
	}
	return &Store[T]{path: path, seed: seed}
}

// Path returns the document location.
func (s *Store[T]) Path() string {
	return s.path
}

// Exists reports whether the document has been written.
func (s *Store[T]) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads the current document without locking. Writers replace the file
// atomically, so a reader sees either the old or the new version. The boolean
// is false when the file is absent and the seed was returned.
func (s *Store[T]) Load() (T, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.seed(), false, nil
		}
		var zero T
		return zero, false, fmt.Errorf("read %s: %w", s.path, err)
	}
	doc := s.seed()
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, true, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		var zero T
		return zero, true, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return doc, true, nil
}

// Update applies fn to the current document under the document lock and
// persists the result. If fn returns an error nothing is written.
func (s *Store[T]) Update(ctx context.Context, fn func(doc *T) error) (T, error) {
	var out T
	err := s.withLock(ctx, func() error {
		doc, _, err := s.Load()
		if err != nil {
			return err
		}
		if err := fn(&doc); err != nil {
			return err
		}
		if err := s.write(&doc); err != nil {
			return err
		}
		out = doc
		return nil
	})
	return out, err
}

// Replace writes doc only if the stored revision still equals expected.
// Documents without a revision stamp are written unconditionally.
func (s *Store[T]) Replace(ctx context.Context, expected int64, doc T) (T, error) {
	err := s.withLock(ctx, func() error {
		current, _, err := s.Load()
		if err != nil {
			return err
		}
		if rev, ok := any(&current).(Revisioned); ok {
			if rev.CurrentRevision() != expected {
				return &ConflictError{Path: s.path, ExpectedRevision: expected, CurrentRevision: rev.CurrentRevision()}
			}
			if next, ok := any(&doc).(Revisioned); ok {
				next.SetRevision(rev.CurrentRevision())
			}
		}
		return s.write(&doc)
	})
	return doc, err
}

func (s *Store[T]) write(doc *T) error {
	if rev, ok := any(doc).(Revisioned); ok {
		rev.SetRevision(rev.CurrentRevision() + 1)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode %s: %w", s.path, err)
	}
	if err := fileutil.WriteFileAtomic(s.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

func (s *Store[T]) withLock(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ensure state dir: %w", err)
	}
	lock := flock.New(s.path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock %s: %w", s.path, err)
	}
	if !locked {
		return fmt.Errorf("lock %s: not acquired", s.path)
	}
	defer lock.Unlock()
	return fn()
}
