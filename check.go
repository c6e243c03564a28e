package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the change log and count its rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			summary, err := a.changes.Check(cmd.Context())
			if err != nil {
				return errors.New(explainRunError(err))
			}

			fmt.Fprintf(out, "📑 %s, sheet %s, table %s\n", summary.Path, summary.Sheet, summary.Table)
			fmt.Fprintf(out, "  %d rows: %d pending, %d processed, %d invalid\n",
				summary.Total, summary.Pending, summary.Processed, len(summary.Invalid))
			for _, rowErr := range summary.Invalid {
				fmt.Fprintf(out, "  ⚠️ %v\n", rowErr)
			}
			if len(summary.Invalid) > 0 {
				return fmt.Errorf("%d invalid rows", len(summary.Invalid))
			}
			fmt.Fprintln(out, "✅ Change log is valid")
			return nil
		},
	}
}
