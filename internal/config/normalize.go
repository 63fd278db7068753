package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Normalize expands paths and fills defaults for configs built in code. Load
// applies it automatically.
func (c *Config) Normalize() error {
	return c.normalize()
}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	c.normalizeSchema()
	c.normalizeJobs()
	c.normalizeStaging()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}

	derived := []struct {
		key    string
		value  *string
		subdir string
	}{
		{"paths.staging_dir", &c.Paths.StagingDir, stagingSubdir},
		{"paths.archive_dir", &c.Paths.ArchiveDir, archiveSubdir},
		{"paths.inspected_dir", &c.Paths.InspectedDir, inspectedSubdir},
		{"paths.error_dir", &c.Paths.ErrorDir, errorSubdir},
		{"paths.review_dir", &c.Paths.ReviewDir, reviewSubdir},
		{"paths.discard_dir", &c.Paths.DiscardDir, discardSubdir},
		{"paths.store_dir", &c.Paths.StoreDir, storeSubdir},
		{"paths.register_cache_dir", &c.Paths.RegisterCacheDir, registerCacheSubdir},
		{"paths.state_dir", &c.Paths.StateDir, stateSubdir},
	}
	for _, d := range derived {
		if strings.TrimSpace(*d.value) == "" {
			*d.value = filepath.Join(c.Paths.DataDir, filepath.FromSlash(d.subdir))
		}
		if *d.value, err = expandPath(*d.value); err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
	}

	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultBind
	}
	origins := make([]string, 0, len(c.Server.AllowedOrigins))
	seen := make(map[string]struct{}, len(c.Server.AllowedOrigins))
	for _, origin := range c.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		origins = append(origins, trimmed)
	}
	c.Server.AllowedOrigins = origins
}

func (c *Config) normalizeSchema() {
	c.Schema.Family = strings.TrimSpace(c.Schema.Family)
	if c.Schema.Family == "" {
		c.Schema.Family = defaultSchemaFamily
	}
}

func (c *Config) normalizeJobs() {
	if c.Jobs.LeaseSeconds <= 0 {
		c.Jobs.LeaseSeconds = defaultJobLeaseSeconds
	}
}

func (c *Config) normalizeStaging() {
	if c.Staging.SessionMaxAgeHours < 0 {
		c.Staging.SessionMaxAgeHours = 0
	}
	if c.Staging.DiscardRetentionDays < 0 {
		c.Staging.DiscardRetentionDays = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
