package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"animdb/internal/stage"
)

func newGateCommand(ctx *commandContext) *cobra.Command {
	gateCmd := &cobra.Command{
		Use:   "gate",
		Short: "Inspect or change stage gates",
	}
	gateCmd.AddCommand(newGateListCommand(ctx))
	gateCmd.AddCommand(newGateSetCommand(ctx, "open", true))
	gateCmd.AddCommand(newGateSetCommand(ctx, "close", false))
	return gateCmd
}

func newGateListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List gates and the last update per stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := ctx.registry()
			if err != nil {
				return err
			}
			doc, exists, err := reg.Snapshot()
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]any{"exists": exists, "registry": doc})
			}

			out := cmd.OutOrStdout()
			if !exists {
				fmt.Fprintln(out, "Registry not created yet; every gate is open")
			}
			colorize := shouldColorize(out)
			var extra []string
			for name := range doc.Gates {
				if !stage.Known(name) {
					extra = append(extra, name)
				}
			}
			sort.Strings(extra)
			names := append(stage.Names(), extra...)
			rows := make([][]string, 0, len(names))
			for _, name := range names {
				open, ok := doc.Gates[name]
				if !ok {
					open = true
				}
				update := doc.LastUpdate[name]
				rows = append(rows, []string{
					name,
					gateLabel(open, colorize),
					formatTime(&update.Time),
					update.Status,
					formatCounters(update.Counters),
				})
			}
			fmt.Fprint(out, renderTable(
				[]tableColumn{col("Stage"), col("Gate"), col("Last update"), col("Status"), col("Counters")},
				rows,
			))
			return nil
		},
	}
}

func newGateSetCommand(ctx *commandContext, verb string, open bool) *cobra.Command {
	return &cobra.Command{
		Use:       verb + " <stage>",
		Short:     fmt.Sprintf("%s the gate of a stage", map[bool]string{true: "Open", false: "Close"}[open]),
		Args:      cobra.ExactArgs(1),
		ValidArgs: stage.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := ctx.registry()
			if err != nil {
				return err
			}
			if err := reg.SetGate(cmd.Context(), args[0], open); err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]any{"stage": args[0], "open": open})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Gate %s is now %s\n", args[0], gateLabel(open, false))
			return nil
		},
	}
}
