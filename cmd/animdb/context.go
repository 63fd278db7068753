package main

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"animdb/internal/commit"
	"animdb/internal/config"
	"animdb/internal/control"
	"animdb/internal/intake"
	"animdb/internal/logging"
	"animdb/internal/normalize"
	"animdb/internal/router"
	"animdb/internal/workflow"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// JSONMode reports whether --json was given.
func (c *commandContext) JSONMode() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// ensureLogger returns a logger that writes only to the log file so command
// output stays clean.
func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		logPath := filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
		c.logger, c.loggerErr = logging.New(logging.Options{
			Level:            cfg.Logging.Level,
			Format:           cfg.Logging.Format,
			OutputPaths:      []string{logPath},
			ErrorOutputPaths: []string{logPath},
		})
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) registry() (*control.Registry, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	return control.New(cfg.RegistryPath(), time.Duration(cfg.Jobs.LeaseSeconds)*time.Second, logger), nil
}

// pipeline wires every stage against one registry.
type pipeline struct {
	cfg        *config.Config
	logger     *slog.Logger
	registry   *control.Registry
	intake     *intake.Service
	normalizer *normalize.Normalizer
	router     *router.Router
	committer  *commit.Committer
}

func (c *commandContext) pipeline(logger *slog.Logger) (*pipeline, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		if logger, err = c.ensureLogger(); err != nil {
			return nil, err
		}
	}
	reg := control.New(cfg.RegistryPath(), time.Duration(cfg.Jobs.LeaseSeconds)*time.Second, logger)
	n, err := normalize.New(cfg, reg, nil, logger)
	if err != nil {
		return nil, err
	}
	return &pipeline{
		cfg:        cfg,
		logger:     logger,
		registry:   reg,
		intake:     intake.New(cfg, reg, nil, logger),
		normalizer: n,
		router:     router.New(cfg, reg, nil, logger),
		committer:  commit.New(cfg, reg, nil, logger),
	}, nil
}

func (p *pipeline) manager() *workflow.Manager {
	mgr := workflow.NewManager(p.cfg, p.registry, p.logger)
	mgr.ConfigureStages(workflow.StageSet{
		Normalizer: p.normalizer,
		Router:     p.router,
		Committer:  p.committer,
	})
	return mgr
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
