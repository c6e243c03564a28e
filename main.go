package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath    string
	verbosityFlag int
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gcalbridge",
		Short: "Replay a spreadsheet change log into a cloud calendar",
		Long: `gcalbridge reads calendar changes (added, updated, deleted events) from a
change log table in an .xlsx workbook and applies them to a Google or CalDAV
calendar, remembering which remote event belongs to which external id.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default ./"+configFileName+", then ~/.config/gcalbridge/"+configFileName+")")
	root.PersistentFlags().IntVarP(&verbosityFlag, "verbosity", "v", 0,
		"override verbosity_level from the config (0-3)")

	root.AddCommand(
		newRunCmd(),
		newSyncCmd(),
		newAuthCmd(),
		newListCmd(),
		newStatusCmd(),
		newCheckCmd(),
		newDesyncCmd(),
		newForgetCmd(),
		newResetCmd(),
	)
	return root
}

// loadConfig reads the config and applies the --verbosity override.
func loadConfig(cmd *cobra.Command) (*Config, error) {
	config, err := readConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if cmd.Flags().Changed("verbosity") {
		verbosityLevel = verbosityFlag
		config.VerbosityLevel = verbosityFlag
	}
	return config, nil
}

// loadApp reads the config and opens every component.
func loadApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	config, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), config, opts)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
