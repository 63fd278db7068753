package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

var schemaFamilyPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateSchema(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	seen := map[string]string{}
	for key, dir := range map[string]string{
		"paths.staging_dir":        c.Paths.StagingDir,
		"paths.archive_dir":        c.Paths.ArchiveDir,
		"paths.inspected_dir":      c.Paths.InspectedDir,
		"paths.error_dir":          c.Paths.ErrorDir,
		"paths.review_dir":         c.Paths.ReviewDir,
		"paths.discard_dir":        c.Paths.DiscardDir,
		"paths.store_dir":          c.Paths.StoreDir,
		"paths.register_cache_dir": c.Paths.RegisterCacheDir,
	} {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("%s must be set", key)
		}
		if other, ok := seen[dir]; ok {
			return fmt.Errorf("%s and %s must be different directories", other, key)
		}
		seen[dir] = key
	}
	return nil
}

func (c *Config) validateServer() error {
	if _, _, err := net.SplitHostPort(c.Server.Bind); err != nil {
		return fmt.Errorf("server.bind: %w", err)
	}
	return nil
}

func (c *Config) validateSchema() error {
	if !schemaFamilyPattern.MatchString(c.Schema.Family) {
		return fmt.Errorf("schema.family: %q must start with a letter and contain only letters, digits and underscores", c.Schema.Family)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.IntervalSeconds < 0 {
		return errors.New("workflow.interval_seconds must be zero or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}
