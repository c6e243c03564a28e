package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobuk/gcalbridge/internal/changelog"
	"github.com/bobuk/gcalbridge/internal/reconcile"
	"github.com/bobuk/gcalbridge/internal/remote"
	"github.com/bobuk/gcalbridge/internal/scheduler"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			return syncOnce(cmd.Context(), a)
		},
	}
}

func syncOnce(ctx context.Context, a *app) error {
	printVerbosely(1, "🚀 Syncing %s into %s...\n", a.changes.Path(), a.factory.describe())

	started := time.Now()
	rs, err := a.engine.Run(ctx)
	if recErr := a.recordRun(context.WithoutCancel(ctx), string(scheduler.SourceManual), started, time.Now(), rs, err); recErr != nil {
		a.sink.Logger("sync").Printf("Failed to record run: %v", recErr)
	}

	printRunReport(rs, err)
	return err
}

// printRunReport prints a run outcome the way the sync command shows it.
func printRunReport(rs *reconcile.RunState, err error) {
	if rs != nil {
		for _, rowErr := range rs.RowErrors {
			printVerbosely(2, "  ⚠️ %v\n", rowErr)
		}
		for _, failure := range rs.Failures {
			printVerbosely(2, "  ❌ %v\n", failure)
		}
	}

	switch {
	case err != nil:
		printVerbosely(0, "❌ Sync failed: %s\n", explainRunError(err))
		if rs != nil && rs.Candidates > 0 {
			printVerbosely(1, "  ↪️ %s\n", rs.Summary())
		}
	case rs == nil || rs.Candidates == 0:
		if rs != nil && rs.Invalid > 0 {
			printVerbosely(1, "⚠️ Nothing to sync, %d invalid rows\n", rs.Invalid)
			return
		}
		printVerbosely(1, "✅ Nothing to sync\n")
	case rs.Failed > 0 || rs.Invalid > 0:
		printVerbosely(1, "⚠️ Sync completed with failures: %s\n", rs.Summary())
	default:
		printVerbosely(1, "✅ Sync completed: %s\n", rs.Summary())
	}
}

// explainRunError adds a hint for the errors a user can act on.
func explainRunError(err error) string {
	switch {
	case errors.Is(err, changelog.ErrResourceBusy):
		return err.Error() + " (close the workbook and try again)"
	case errors.Is(err, changelog.ErrSchema):
		return err.Error() + " (run `gcalbridge check` for details)"
	case remote.IsAuth(err):
		return err.Error() + " (run `gcalbridge auth`)"
	default:
		return err.Error()
	}
}
