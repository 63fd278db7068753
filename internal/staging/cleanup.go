package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"animdb/internal/logging"
)

// CleanStaleResult contains the outcome of a stale directory cleanup operation.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// Merge appends the outcome of another cleanup.
func (r *CleanStaleResult) Merge(other CleanStaleResult) {
	r.Removed = append(r.Removed, other.Removed...)
	r.Errors = append(r.Errors, other.Errors...)
}

// CleanStaleSessions removes session directories under root older than maxAge.
func CleanStaleSessions(ctx context.Context, root string, maxAge time.Duration, logger *slog.Logger) CleanStaleResult {
	return cleanStale(ctx, root, maxAge, logger, func(name string) bool {
		_, ok := SessionKey(name)
		return ok
	})
}

// CleanDiscardBuffers removes discard buffer directories under root older
// than maxAge.
func CleanDiscardBuffers(ctx context.Context, root string, maxAge time.Duration, logger *slog.Logger) CleanStaleResult {
	return cleanStale(ctx, root, maxAge, logger, func(name string) bool {
		return strings.HasPrefix(name, DiscardBufferPrefix)
	})
}

func cleanStale(ctx context.Context, root string, maxAge time.Duration, logger *slog.Logger, match func(string) bool) CleanStaleResult {
	result := CleanStaleResult{}

	root = strings.TrimSpace(root)
	if root == "" || maxAge <= 0 {
		return result
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: root, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() || !match(entry.Name()) {
			continue
		}

		dirPath := filepath.Join(root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			if logger != nil {
				logger.Warn("failed to remove stale staging directory",
					logging.String("path", dirPath),
					logging.Error(err),
					logging.String(logging.FieldEventType, "staging_cleanup_failed"),
					logging.String(logging.FieldErrorHint, "check staging directory permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		if logger != nil {
			logger.Info("removed stale staging directory",
				logging.String("path", dirPath),
				logging.Duration("age", time.Since(info.ModTime())),
				logging.String(logging.FieldEventType, "staging_cleanup"),
			)
		}
	}

	return result
}
