package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"animdb/internal/staging"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Manage staging sessions and discard buffers",
	}

	stagingCmd.AddCommand(newStagingListCommand(ctx))
	stagingCmd.AddCommand(newStagingCleanCommand(ctx))

	return stagingCmd
}

func newStagingListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List staging sessions waiting for the Normalizer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sessions, err := staging.NewFS().ListSessions(cfg.Paths.StagingDir)
			if err != nil {
				return fmt.Errorf("list staging sessions: %w", err)
			}

			type sessionView struct {
				Key   string `json:"key"`
				Dir   string `json:"dir"`
				Files int    `json:"files"`
			}
			views := make([]sessionView, 0, len(sessions))
			for _, s := range sessions {
				count, err := staging.CountEntries(s.Dir)
				if err != nil {
					return err
				}
				views = append(views, sessionView{Key: s.Key, Dir: s.Dir, Files: count})
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]any{"staging_dir": cfg.Paths.StagingDir, "sessions": views})
			}

			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintln(out, "No staging sessions found")
				return nil
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				rows = append(rows, []string{v.Key, filepath.Base(v.Dir), strconv.Itoa(v.Files)})
			}
			fmt.Fprint(out, renderTable([]tableColumn{col("Session"), col("Directory"), numCol("Files")}, rows))
			return nil
		},
	}
}

func newStagingCleanCommand(ctx *commandContext) *cobra.Command {
	var sessionAge time.Duration
	var discardAge time.Duration

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale sessions and expired discard buffers",
		Long: `Remove staging sessions that were never normalized and discard buffers past
their retention.

Ages default to staging.session_max_age_hours and
staging.discard_retention_days; a zero value disables that half.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("session-age") {
				sessionAge = time.Duration(cfg.Staging.SessionMaxAgeHours) * time.Hour
			}
			if !cmd.Flags().Changed("discard-age") {
				discardAge = time.Duration(cfg.Staging.DiscardRetentionDays) * 24 * time.Hour
			}

			var result staging.CleanStaleResult
			if sessionAge > 0 {
				result.Merge(staging.CleanStaleSessions(cmd.Context(), cfg.Paths.StagingDir, sessionAge, logger))
			}
			if discardAge > 0 {
				result.Merge(staging.CleanDiscardBuffers(cmd.Context(), cfg.Paths.DiscardDir, discardAge, logger))
			}

			if ctx.JSONMode() {
				errs := make([]map[string]string, 0, len(result.Errors))
				for _, e := range result.Errors {
					errs = append(errs, map[string]string{"path": e.Path, "error": e.Error.Error()})
				}
				removed := result.Removed
				if removed == nil {
					removed = []string{}
				}
				return writeJSON(cmd, map[string]any{"removed": removed, "errors": errs})
			}

			out := cmd.OutOrStdout()
			if len(result.Removed) == 0 && len(result.Errors) == 0 {
				fmt.Fprintln(out, "Nothing to clean")
				return nil
			}
			for _, path := range result.Removed {
				fmt.Fprintf(out, "Removed %s\n", path)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(out, "Failed %s: %v\n", e.Path, e.Error)
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d director(ies) could not be removed", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&sessionAge, "session-age", 0, "Remove sessions older than this")
	cmd.Flags().DurationVar(&discardAge, "discard-age", 0, "Remove discard buffers older than this")
	return cmd
}
