package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the directory layout shared by every pipeline stage.
// Any directory left empty is derived from DataDir during normalization.
type Paths struct {
	DataDir          string `toml:"data_dir"`
	StagingDir       string `toml:"staging_dir"`
	ArchiveDir       string `toml:"archive_dir"`
	InspectedDir     string `toml:"inspected_dir"`
	ErrorDir         string `toml:"error_dir"`
	ReviewDir        string `toml:"review_dir"`
	DiscardDir       string `toml:"discard_dir"`
	StoreDir         string `toml:"store_dir"`
	RegisterCacheDir string `toml:"register_cache_dir"`
	StateDir         string `toml:"state_dir"`
	LogDir           string `toml:"log_dir"`
}

// Server contains the HTTP listener configuration for the daemon.
type Server struct {
	Bind           string   `toml:"bind"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Schema controls record schema validation.
type Schema struct {
	// Family is the versioned tag prefix, e.g. "MiZu_Character_Profile".
	Family string `toml:"family"`
}

// Jobs contains job registry lease settings.
type Jobs struct {
	// LeaseSeconds is how long an active job entry may go without finishing
	// before it is considered abandoned and expired.
	LeaseSeconds int `toml:"lease_seconds"`
}

// Staging contains cleanup policy for staging sessions and discard buffers.
type Staging struct {
	SessionMaxAgeHours   int `toml:"session_max_age_hours"`
	DiscardRetentionDays int `toml:"discard_retention_days"`
}

// Workflow contains the daemon's batch scheduling settings.
type Workflow struct {
	// IntervalSeconds triggers Normalizer, Router and Committer in order.
	// Zero disables the built-in scheduler.
	IntervalSeconds int `toml:"interval_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for animdb.
//
// Configuration sections by subsystem:
//   - Paths: staging, inspected, review, discard, store and state directories
//   - Server: intake/status HTTP listener and CORS origins
//   - Schema: accepted schema family
//   - Jobs: job registry lease expiry
//   - Staging: stale session and discard buffer cleanup
//   - Workflow: daemon batch interval
//   - Logging: log format, level, and retention
type Config struct {
	Paths    Paths    `toml:"paths"`
	Server   Server   `toml:"server"`
	Schema   Schema   `toml:"schema"`
	Jobs     Jobs     `toml:"jobs"`
	Staging  Staging  `toml:"staging"`
	Workflow Workflow `toml:"workflow"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/animdb/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("animdb.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates every directory the pipeline writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{
		c.Paths.StagingDir,
		c.Paths.ArchiveDir,
		c.Paths.InspectedDir,
		c.Paths.ErrorDir,
		c.Paths.ReviewDir,
		c.Paths.DiscardDir,
		c.Paths.StoreDir,
		c.Paths.RegisterCacheDir,
		c.Paths.StateDir,
		c.Paths.LogDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RegistryPath is the gate/job registry document.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.Paths.StateDir, "task_master.json")
}

// IndexPath is the persistent identity registry kept alongside the store.
func (c *Config) IndexPath() string {
	return filepath.Join(c.Paths.StoreDir, IndexFileName)
}

// StatusPath returns the status document for the named stage.
func (c *Config) StatusPath(stage string) string {
	return filepath.Join(c.Paths.StateDir, stage+"_status.json")
}

// LockPath returns the run-level lock file for the named stage.
func (c *Config) LockPath(stage string) string {
	return filepath.Join(c.Paths.StateDir, stage+".lock")
}

// IndexFileName is the identity registry file name inside the store directory.
const IndexFileName = "index.json"

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
