package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"animdb/internal/services"
)

// RunLock is a held, non-blocking OS lock that keeps a stage run exclusive.
// The kernel drops it when the process dies.
type RunLock struct {
	lock *flock.Flock
}

// AcquireLock takes the lock at path for stage name without waiting. A lock
// held elsewhere yields an error wrapping services.ErrLockHeld. The file
// records the holder's pid and start time.
func AcquireLock(path, name string) (*RunLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, services.Wrap(services.ErrDirectory, name, "lock", filepath.Dir(path), err)
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrWriteFailed, name, "lock", path, err)
	}
	if !locked {
		holder, _ := os.ReadFile(path)
		return nil, services.Wrap(services.ErrLockHeld, name, "lock", fmt.Sprintf("held by %q", string(holder)), nil)
	}
	marker := fmt.Sprintf("%d %s", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(marker), 0o644); err != nil {
		_ = lock.Unlock()
		return nil, services.Wrap(services.ErrWriteFailed, name, "lock", path, err)
	}
	return &RunLock{lock: lock}, nil
}

// Release drops the lock. It is safe to call on a nil lock.
func (l *RunLock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
