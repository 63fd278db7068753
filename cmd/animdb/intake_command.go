package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"animdb/internal/intake"
)

func newIntakeCommand(ctx *commandContext) *cobra.Command {
	intakeCmd := &cobra.Command{
		Use:   "intake",
		Short: "Submit character profiles without the HTTP server",
	}
	intakeCmd.AddCommand(newIntakeSubmitCommand(ctx))
	return intakeCmd
}

func newIntakeSubmitCommand(ctx *commandContext) *cobra.Command {
	var sessionKey string
	var name string

	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Stage a profile file the same way POST /intake does",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			p, err := ctx.pipeline(nil)
			if err != nil {
				return err
			}
			original := strings.TrimSpace(name)
			if original == "" {
				original = filepath.Base(args[0])
			}

			receipt, err := p.intake.Accept(cmd.Context(), intake.Submission{
				Payload:      payload,
				SessionKey:   strings.TrimSpace(sessionKey),
				OriginalName: original,
			})
			if err != nil {
				if ctx.JSONMode() {
					_ = writeJSON(cmd, map[string]any{"accepted": false, "reply": intake.ReplyText(err)})
				}
				return fmt.Errorf("%s: %w", intake.ReplyText(err), err)
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]any{
					"accepted":    !receipt.Standby,
					"standby":     receipt.Standby,
					"session_key": receipt.SessionKey,
					"path":        receipt.Path,
					"reply":       receipt.Response(),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), receipt.Response())
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionKey, "session", "s", "", "Session key to append to (default: new session)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Original file name (default: the file's base name)")
	return cmd
}
