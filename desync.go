package main

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newDesyncCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "desync",
		Short: "Delete every event the bridge created and clear the key map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if !yes && !confirm(cmd.InOrStdin(), out, fmt.Sprintf("⚠️  Delete all mapped events from %s?", a.factory.describe())) {
				fmt.Fprintln(out, "❌ Desync cancelled")
				return nil
			}

			fmt.Fprintln(out, "🚀 Starting calendar desynchronization...")
			result, err := a.engine.Purge(cmd.Context())
			if result != nil {
				fmt.Fprintf(out, "  🗑 %d events deleted, %d were already gone\n", result.Deleted, result.Missing)
				ids := make([]string, 0, len(result.Failures))
				for id := range result.Failures {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				for _, id := range ids {
					fmt.Fprintf(out, "  ❌ %s: %v\n", id, result.Failures[id])
				}
			}
			if err != nil {
				return err
			}
			if len(result.Failures) > 0 {
				return fmt.Errorf("%d events could not be deleted and stay mapped", len(result.Failures))
			}
			fmt.Fprintln(out, "✅ Calendar desynced successfully")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

// confirm asks a y/N question.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s (y/N): ", question)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	answer = strings.TrimSpace(answer)
	return answer == "y" || answer == "Y"
}
