package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the calendars visible to the configured account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			cal, err := a.factory.Calendar(ctx)
			if err != nil {
				return err
			}
			calendars, err := cal.Calendars(ctx)
			if err != nil {
				return fmt.Errorf("error retrieving calendars: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "📋 Calendars visible through %s:\n", a.factory.describe())
			target := strings.TrimRight(a.config.Remote.CalendarID, "/")
			for _, c := range calendars {
				marker := "  "
				if strings.TrimRight(c.ID, "/") == target || (c.Primary && target == "primary") {
					marker = "👉"
				}
				fmt.Fprintf(out, "  %s 📅 %s (%s)", marker, c.Name, c.ID)
				if c.Access != "" {
					fmt.Fprintf(out, " [%s]", c.Access)
				}
				fmt.Fprintln(out)
			}

			keys, err := a.keys.Load(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "🔗 %d events are mapped to the target calendar\n", len(keys))
			return nil
		},
	}
}
