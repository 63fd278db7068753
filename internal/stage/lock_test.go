package stage

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"animdb/internal/services"
)

func TestAcquireLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "router.lock")

	first, err := AcquireLock(path, Router)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	marker, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(marker), strconv.Itoa(os.Getpid())+" ") {
		t.Fatalf("marker = %q", marker)
	}

	if _, err := AcquireLock(path, Router); !errors.Is(err, services.ErrLockHeld) {
		t.Fatalf("second acquire err = %v, want lock held", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := AcquireLock(path, Router)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	_ = again.Release()
}

func TestReleaseNilLock(t *testing.T) {
	var l *RunLock
	if err := l.Release(); err != nil {
		t.Fatalf("Release on nil: %v", err)
	}
}
