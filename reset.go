package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bobuk/gcalbridge/internal/keymap"
)

func newResetCmd() *cobra.Command {
	var yes, keepTokens bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget all mappings, stored tokens and run history",
		Long: `reset clears local state only. Remote events stay in the calendar; run
desync first to delete them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if !yes && !confirm(cmd.InOrStdin(), out, "⚠️  Forget every mapping, token and run? Remote events are kept.") {
				fmt.Fprintln(out, "❌ Reset cancelled")
				return nil
			}
			if err := resetState(cmd.Context(), a, keepTokens, out); err != nil {
				return err
			}
			fmt.Fprintln(out, "✅ Local state reset")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	cmd.Flags().BoolVar(&keepTokens, "keep-tokens", false, "keep stored OAuth tokens")
	return cmd
}

func resetState(ctx context.Context, a *app, keepTokens bool, out io.Writer) error {
	keys, err := a.keys.Load(ctx)
	if err != nil {
		return err
	}
	if err := a.keys.Save(ctx, keymap.Map{}); err != nil {
		return err
	}
	fmt.Fprintf(out, "  🗑 %d mappings removed\n", len(keys))

	if !keepTokens {
		if err := a.db.DeleteTokens(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "  🗑 Tokens removed")
	}
	if err := a.db.ClearRuns(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "  🗑 Run history removed")
	return nil
}
