package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bobuk/gcalbridge/internal/reconcile"
)

func newForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <external-id>",
		Short: "Delete the remote event of one external id and drop its mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			externalID := args[0]
			remoteID, err := a.engine.Forget(cmd.Context(), externalID)
			if errors.Is(err, reconcile.ErrNotMapped) {
				return fmt.Errorf("external id %s is not mapped to any event", externalID)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Event %s for %s deleted\n", remoteID, externalID)
			return nil
		},
	}
}
