package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect registered batch jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsExpireCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := ctx.registry()
			if err != nil {
				return err
			}
			jobs, err := reg.ActiveJobs()
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, jobs)
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No active jobs")
				return nil
			}
			now := time.Now()
			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					job.ID,
					job.Stage,
					strconv.Itoa(job.PID),
					formatAge(now.Sub(job.StartTime)),
					job.Status,
				})
			}
			fmt.Fprint(out, renderTable(
				[]tableColumn{col("Job"), col("Stage"), numCol("PID"), numCol("Age"), col("Status")},
				rows,
			))
			return nil
		},
	}
}

func newJobsExpireCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire jobs older than the lease",
		Long: `Remove active job entries whose owner stopped without deregistering.

By default jobs older than jobs.lease_seconds are expired. Use --older-than to
pick a different age; a zero age expires nothing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			reg, err := ctx.registry()
			if err != nil {
				return err
			}
			maxAge := time.Duration(cfg.Jobs.LeaseSeconds) * time.Second
			if cmd.Flags().Changed("older-than") {
				maxAge = olderThan
			}
			expired, err := reg.ExpireJobs(cmd.Context(), maxAge)
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				if expired == nil {
					expired = []string{}
				}
				return writeJSON(cmd, map[string]any{"expired": expired})
			}
			out := cmd.OutOrStdout()
			if len(expired) == 0 {
				fmt.Fprintln(out, "No stale jobs")
				return nil
			}
			fmt.Fprintf(out, "Expired %d job(s)\n", len(expired))
			for _, id := range expired {
				fmt.Fprintf(out, "  %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Expire jobs started longer ago than this")
	return cmd
}
