package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/bobuk/gcalbridge/internal/reconcile"
	"github.com/bobuk/gcalbridge/internal/scheduler"
)

type controlAction int

const (
	controlNone controlAction = iota
	controlSync
	controlReload
)

func newRunCmd() *cobra.Command {
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep syncing: on startup, on a timer and when the change log changes",
		Long: `run stays in the foreground and syncs on startup, every sync.interval and
whenever the change log file is saved. On Unix, SIGUSR1 triggers a sync and
SIGHUP reloads sync.interval from the config and reopens the log file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, appOptions{service: true})
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a, !noWatch && a.config.ChangeLog.Watch)
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not watch the change log file")
	return cmd
}

// serve runs the coordinator until ctx is cancelled.
func serve(ctx context.Context, a *app, watch bool) error {
	logger := a.sink.Logger("service")

	coord, err := scheduler.New(func(ctx context.Context) (*reconcile.RunState, error) {
		return a.engine.Run(ctx)
	}, scheduler.Config{
		Interval:    a.config.Sync.Interval,
		SettleDelay: a.config.ChangeLog.SettleDelay,
		OnComplete:  func(r scheduler.Result) { a.completeRun(logger, r) },
		Logger:      a.sink.Logger("scheduler"),
	})
	if err != nil {
		return err
	}
	defer coord.Stop()

	if watch {
		watcher, err := scheduler.NewWatcher(a.config.ChangeLog.Path, a.config.ChangeLog.Debounce,
			a.onChangeLog(coord, logger), a.sink.Logger("watcher"))
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()
		logger.Printf("Watching %s", a.config.ChangeLog.Path)
	}

	if err := coord.Start(); err != nil {
		return err
	}
	logger.Printf("Syncing %s into %s every %s", a.config.ChangeLog.Path, a.factory.describe(), a.config.Sync.Interval)
	coord.Trigger(scheduler.SourceStartup)

	control := make(chan os.Signal, 1)
	notifyControl(control)
	defer stopControl(control)

	for {
		select {
		case <-ctx.Done():
			logger.Printf("Shutting down")
			return nil
		case sig := <-control:
			switch signalAction(sig) {
			case controlSync:
				coord.Trigger(scheduler.SourceManual)
			case controlReload:
				a.reload(logger, coord)
			}
		}
	}
}

// completeRun logs and records a finished run.
func (a *app) completeRun(logger *log.Logger, r scheduler.Result) {
	switch {
	case r.Err != nil:
		logger.Printf("Sync (%s) failed: %s", r.Source, explainRunError(r.Err))
	case r.State != nil && r.State.Candidates > 0:
		logger.Printf("Sync (%s): %s", r.Source, r.State.Summary())
	}
	if r.State != nil {
		for _, failure := range r.State.Failures {
			logger.Printf("  %v", failure)
		}
	}
	if err := a.recordRun(context.Background(), string(r.Source), r.Started, r.Finished, r.State, r.Err); err != nil {
		logger.Printf("Failed to record run: %v", err)
	}
}

// reload re-reads the config for the settings that can change without a
// restart: the sync interval. It also reopens the log file.
func (a *app) reload(logger *log.Logger, coord *scheduler.Coordinator) {
	if err := a.sink.Rotate(); err != nil {
		logger.Printf("Failed to rotate log file: %v", err)
	}
	// Only the interval is reloaded; the verbosity in effect, possibly set by
	// --verbosity, is kept.
	level := verbosityLevel
	config, err := readConfig(a.config.path)
	verbosityLevel = level
	if err != nil {
		logger.Printf("Reload failed, keeping current settings: %v", err)
		return
	}
	if err := coord.SetInterval(config.Sync.Interval); err != nil {
		logger.Printf("Reload failed, keeping current interval: %v", err)
		return
	}
	a.config.Sync.Interval = config.Sync.Interval
	logger.Printf("Config reloaded")
}

// onChangeLog triggers a run for a change-log edit, skipping the rewrite a
// run itself makes when it marks rows processed.
func (a *app) onChangeLog(coord *scheduler.Coordinator, logger *log.Logger) func() {
	return func() {
		if !a.changes.ChangedSinceWrite() {
			if verbosityLevel >= 3 {
				logger.Printf("Change log rewritten by the last run, not triggering")
			}
			return
		}
		coord.Trigger(scheduler.SourceWatch)
	}
}
