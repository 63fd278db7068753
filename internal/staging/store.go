package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"animdb/internal/fileutil"
)

// Directory name conventions.
const (
	SessionPrefix       = "~temp_"
	LegacySessionPrefix = "^temp"
	DiscardBufferPrefix = "~Discard_Buffer_"
)

// Session is one staging session directory.
type Session struct {
	Key     string
	Dir     string
	ModTime time.Time
}

// Store abstracts the directories used as inter-stage queues.
type Store interface {
	// ListSessions returns pending session directories under root.
	ListSessions(root string) ([]Session, error)
	// ListFiles returns the regular files in dir whose names match pattern,
	// sorted by name. A missing dir yields no files.
	ListFiles(dir, pattern string) ([]string, error)
	Read(path string) ([]byte, error)
	// Write creates path with data, failing if it already exists.
	Write(path string, data []byte) error
	// Replace overwrites path atomically.
	Replace(path string, data []byte) error
	// Move relocates src to dst, creating dst's directory.
	Move(src, dst string) error
	Remove(path string) error
	// Archive moves every remaining file of the session into archiveDir and
	// removes the session directory.
	Archive(session Session, archiveDir string) (int, error)
}

// FS implements Store on the local filesystem.
type FS struct{}

// NewFS returns the filesystem adapter.
func NewFS() FS {
	return FS{}
}

// SessionDirName returns the directory name for a session key.
func SessionDirName(key string) string {
	return SessionPrefix + key
}

// SessionKey extracts the key from a session directory name.
func SessionKey(dirName string) (string, bool) {
	switch {
	case strings.HasPrefix(dirName, SessionPrefix):
		return strings.TrimPrefix(dirName, SessionPrefix), true
	case strings.HasPrefix(dirName, LegacySessionPrefix):
		return strings.TrimPrefix(dirName, LegacySessionPrefix), true
	default:
		return "", false
	}
}

// DiscardBufferName returns the discard buffer directory for a timestamp.
func DiscardBufferName(timestamp string) string {
	return DiscardBufferPrefix + timestamp
}

func (FS) ListSessions(root string) ([]Session, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var sessions []Session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		key, ok := SessionKey(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		sessions = append(sessions, Session{
			Key:     key,
			Dir:     filepath.Join(root, entry.Name()),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Dir < sessions[j].Dir })
	return sessions, nil
}

func (FS) ListFiles(dir, pattern string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if pattern != "" {
			matched, err := filepath.Match(pattern, entry.Name())
			if err != nil {
				return nil, fmt.Errorf("match %q: %w", pattern, err)
			}
			if !matched {
				continue
			}
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (FS) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (FS) Write(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

func (FS) Replace(path string, data []byte) error {
	return fileutil.WriteFileAtomic(path, data, 0o644)
}

func (FS) Move(src, dst string) error {
	return fileutil.MoveFile(src, dst)
}

func (FS) Remove(path string) error {
	return os.Remove(path)
}

func (fsys FS) Archive(session Session, archiveDir string) (int, error) {
	entries, err := os.ReadDir(session.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read session: %w", err)
	}
	moved := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		src := filepath.Join(session.Dir, entry.Name())
		dst := fileutil.UniquePath(filepath.Join(archiveDir, entry.Name()))
		if err := fsys.Move(src, dst); err != nil {
			return moved, fmt.Errorf("archive %s: %w", entry.Name(), err)
		}
		moved++
	}
	if err := os.Remove(session.Dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return moved, fmt.Errorf("remove session dir: %w", err)
	}
	return moved, nil
}

// CountEntries returns the number of entries in dir, zero when missing.
func CountEntries(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	return len(entries), nil
}
