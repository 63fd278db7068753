package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"animdb/internal/daemon"
	"animdb/internal/logging"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the intake server and the batch scheduler",
		Long: `Run the animdb daemon in the foreground.

The daemon accepts submissions on POST /intake, serves /status, /gates and
/healthz, and runs Normalizer, Router and Committer every
workflow.interval_seconds. Only one daemon may run per state directory.
SIGINT or SIGTERM stops it cleanly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, logging.RetentionTarget{
				Dir:     cfg.Paths.LogDir,
				Pattern: "*.log",
				Exclude: []string{filepath.Join(cfg.Paths.LogDir, logging.LogFileName)},
			})

			p, err := ctx.pipeline(logger)
			if err != nil {
				return err
			}
			d, err := daemon.New(cfg, p.registry, p.intake, p.manager(), logger)
			if err != nil {
				return err
			}

			runCtx := cmd.Context()
			if err := d.Start(runCtx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "animdb listening on %s\n", d.Address())

			<-runCtx.Done()
			d.Stop()
			return nil
		},
	}
}
