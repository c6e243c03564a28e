package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bobuk/gcalbridge/internal/changelog"
	"github.com/bobuk/gcalbridge/internal/state"
)

const recentRuns = 5

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last sync, pending rows and recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			return printStatus(cmd.Context(), a, cmd.OutOrStdout(), time.Now())
		},
	}
}

func printStatus(ctx context.Context, a *app, out io.Writer, now time.Time) error {
	fmt.Fprintf(out, "📋 %s -> %s\n", a.changes.Path(), a.factory.describe())

	last, err := a.db.LastRun(ctx)
	if err != nil {
		return err
	}
	success, err := a.db.LastSuccess(ctx)
	if err != nil {
		return err
	}

	switch {
	case last == nil:
		fmt.Fprintln(out, "  🕒 Never synced")
	case last.OK():
		fmt.Fprintf(out, "  🕒 Last sync %s (%s)\n", humanize.RelTime(last.Finished, now, "ago", "from now"), last.Source)
	default:
		fmt.Fprintf(out, "  ❌ Last sync failed %s (%s): %s\n", humanize.RelTime(last.Finished, now, "ago", "from now"), last.Source, last.Error)
		if success != nil {
			fmt.Fprintf(out, "  🕒 Last successful sync %s\n", humanize.RelTime(success.Finished, now, "ago", "from now"))
		}
	}
	if isStale(success, a.config.Sync.Interval, now) {
		fmt.Fprintf(out, "  ⚠️ No successful sync for more than twice the interval (%s)\n", a.config.Sync.Interval)
	}

	keys, err := a.keys.Load(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  🔗 %s mapped events\n", humanize.Comma(int64(len(keys))))

	summary, err := a.changes.Check(ctx)
	switch {
	case errors.Is(err, changelog.ErrResourceBusy):
		fmt.Fprintln(out, "  ⏳ Change log is open in another program")
	case err != nil:
		fmt.Fprintf(out, "  ❌ Change log unreadable: %v\n", err)
	default:
		fmt.Fprintf(out, "  📥 %s pending, %s processed, %d invalid rows\n",
			humanize.Comma(int64(summary.Pending)), humanize.Comma(int64(summary.Processed)), len(summary.Invalid))
	}

	runs, err := a.db.RecentRuns(ctx, recentRuns)
	if err != nil {
		return err
	}
	if len(runs) > 0 {
		fmt.Fprintln(out, "  📜 Recent runs:")
	}
	for _, run := range runs {
		fmt.Fprintf(out, "    %s %-7s %s: %s\n", runIcon(run), run.Source, humanize.RelTime(run.Started, now, "ago", "from now"), describeRun(run))
	}
	return nil
}

// isStale reports whether the last success is older than twice the sync
// interval. Without a timer nothing is stale.
func isStale(success *state.Run, interval time.Duration, now time.Time) bool {
	if interval <= 0 {
		return false
	}
	if success == nil {
		return false
	}
	return now.Sub(success.Finished) > 2*interval
}

func runIcon(run state.Run) string {
	switch {
	case !run.OK():
		return "❌"
	case run.Failed > 0 || run.Invalid > 0:
		return "⚠️"
	default:
		return "✅"
	}
}

func describeRun(run state.Run) string {
	if !run.OK() {
		return run.Error
	}
	if run.Candidates == 0 && run.Invalid == 0 {
		return "nothing to sync"
	}
	return fmt.Sprintf("%d pending, %d succeeded, %d failed, %d invalid",
		run.Candidates, run.Succeeded, run.Failed, run.Invalid)
}
