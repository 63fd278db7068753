package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"animdb/internal/stage"
	"animdb/internal/status"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the merged status of every pipeline stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			paths := make(map[string]string, len(stage.Names()))
			for _, name := range stage.Names() {
				paths[name] = cfg.StatusPath(name)
			}
			overview := status.Collect(paths, time.Now())
			if ctx.JSONMode() {
				return writeJSON(cmd, overview)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(paths))
			for _, s := range overview.Summaries(stage.Names()) {
				rows = append(rows, []string{
					s.Stage,
					paint(s.Status, stateColor(s.Status), colorize),
					yesNo(s.InWorking),
					formatTime(s.LastRun),
					formatCounters(s.Results),
					truncate(s.Message, 60),
				})
			}
			fmt.Fprint(out, renderTable(
				[]tableColumn{col("Stage"), col("Status"), col("Working"), col("Last run"), col("Results"), col("Message")},
				rows,
			))
			return nil
		},
	}
}
