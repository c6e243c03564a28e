package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAuthCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to the calendar and verify it is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if account != "" {
				config.Remote.Account = account
			}
			a, err := newApp(cmd.Context(), config, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			fmt.Fprintln(cmd.OutOrStdout(), "🚀 Starting calendar authorization...")

			if config.Remote.Provider == "google" {
				token, err := getTokenFromWeb(ctx, a.factory.oauth, cmd.InOrStdin(), cmd.OutOrStdout())
				if err != nil {
					return err
				}
				if err := a.db.SaveToken(ctx, config.Remote.Account, token); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  🔑 Token stored for account %s\n", config.Remote.Account)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "  🔑 CalDAV uses the credentials of server %s from the config\n", config.Remote.CalDAVServer)
			}

			cal, err := a.factory.Calendar(ctx)
			if err != nil {
				return err
			}
			if err := cal.CheckAccess(ctx); err != nil {
				return fmt.Errorf("error retrieving calendar %s: %w", config.Remote.CalendarID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s is accessible\n", a.factory.describe())
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account name to store the token under (default remote.account)")
	return cmd
}
