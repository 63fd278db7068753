package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"animdb/internal/commit"
	"animdb/internal/services"
	"animdb/internal/workflow"
)

// errRunFailed marks a cycle in which at least one stage failed; details are
// already printed.
var errRunFailed = errors.New("one or more stages failed")

func newBatchCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newNormalizeCommand(ctx),
		newRouteCommand(ctx),
		newCommitCommand(ctx),
		newRunCommand(ctx),
	}
}

// reportSkip prints a backpressure outcome. Gate closures and held locks are
// not failures.
func reportSkip(cmd *cobra.Command, ctx *commandContext, stageName, reason string) error {
	if ctx.JSONMode() {
		return writeJSON(cmd, map[string]any{"stage": stageName, "skipped": true, "reason": reason})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s skipped: %s\n", stageName, reason)
	return nil
}

func newNormalizeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize",
		Short: "Run one Normalizer batch over the staging sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.pipeline(nil)
			if err != nil {
				return err
			}
			result, err := p.normalizer.Process(cmd.Context())
			if services.IsBackpressure(err) {
				return reportSkip(cmd, ctx, p.normalizer.Name(), result.Reason)
			}
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Normalized %d file(s) from %d session(s), %d error(s)\n",
				result.Processed, result.Sessions, result.Errors)
			return nil
		},
	}
}

func newRouteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "route",
		Short: "Run one Router batch over the inspected area",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.pipeline(nil)
			if err != nil {
				return err
			}
			result, err := p.router.Process(cmd.Context())
			if services.IsBackpressure(err) {
				return reportSkip(cmd, ctx, p.router.Name(), result.Reason)
			}
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderTable(
				[]tableColumn{numCol("Total"), numCol("New"), numCol("Duplicate"), numCol("Conflict"), numCol("Invalid")},
				[][]string{{
					strconv.Itoa(result.Total),
					strconv.Itoa(result.New),
					strconv.Itoa(result.Duplicate),
					strconv.Itoa(result.Conflict),
					strconv.Itoa(result.Invalid),
				}},
			))
			return nil
		},
	}
}

func newCommitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "commit [ADD|REBUILD]",
		Short: "Commit cached records into the store and index",
		Long: `Commit records into the persistent store.

ADD (the default) moves records from the register cache into the store and
extends the index. REBUILD recomputes every stored file name and rebuilds the
index from the store contents.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := commit.ModeAdd
			if len(args) == 1 {
				parsed, err := commit.ParseMode(args[0])
				if err != nil {
					return err
				}
				mode = parsed
			}
			p, err := ctx.pipeline(nil)
			if err != nil {
				return err
			}
			result, err := p.committer.Commit(cmd.Context(), mode)
			if services.IsBackpressure(err) {
				return reportSkip(cmd, ctx, p.committer.Name(), result.Reason)
			}
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: committed %d record(s), %d duplicate(s), %d error(s)\n",
				result.Mode, result.Processed, result.Duplicates, result.Errors)
			return nil
		},
	}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run Normalizer, Router and Committer once, in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.pipeline(nil)
			if err != nil {
				return err
			}
			cycle := p.manager().RunOnce(cmd.Context())
			if ctx.JSONMode() {
				if err := writeJSON(cmd, cycle); err != nil {
					return err
				}
			} else {
				printCycle(cmd.OutOrStdout(), cycle)
			}
			if cycle.Failed() {
				return errRunFailed
			}
			return nil
		},
	}
}

func printCycle(out io.Writer, cycle workflow.Cycle) {
	if len(cycle.Expired) > 0 {
		fmt.Fprintf(out, "Expired %d stale job(s)\n", len(cycle.Expired))
	}
	colorize := shouldColorize(out)
	rows := make([][]string, 0, len(cycle.Outcomes))
	for _, o := range cycle.Outcomes {
		result := paint("ok", ansiGreen, colorize)
		switch {
		case o.Skipped:
			result = paint("skipped", ansiYellow, colorize)
		case o.Error != "":
			result = paint("failed", ansiRed, colorize)
		}
		rows = append(rows, []string{o.Stage, result, o.Duration.Round(time.Millisecond).String(), truncate(o.Error, 60)})
	}
	fmt.Fprint(out, renderTable(
		[]tableColumn{col("Stage"), col("Result"), numCol("Duration"), col("Error")},
		rows,
	))
}
