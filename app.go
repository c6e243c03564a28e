package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bobuk/gcalbridge/internal/changelog"
	"github.com/bobuk/gcalbridge/internal/keymap"
	"github.com/bobuk/gcalbridge/internal/logging"
	"github.com/bobuk/gcalbridge/internal/reconcile"
	"github.com/bobuk/gcalbridge/internal/state"
)

// keepRuns bounds the sync_runs history.
const keepRuns = 200

// app holds the components every command works with.
type app struct {
	config  *Config
	sink    *logging.Sink
	db      *state.DB
	changes *changelog.Workbook
	keys    keymap.Store
	factory *CalendarFactory
	engine  *reconcile.Engine
}

type appOptions struct {
	// service keeps component logs on the console. One-shot commands only
	// write them to the log file unless verbosity is 3 or more.
	service bool
}

func newApp(ctx context.Context, config *Config, opts appOptions) (*app, error) {
	sink := logging.New(logging.Options{
		File:       config.Log.File,
		MaxSizeMB:  config.Log.MaxSizeMB,
		MaxBackups: config.Log.MaxBackups,
		MaxAgeDays: config.Log.MaxAgeDays,
		Compress:   config.Log.Compress,
		Quiet:      !opts.service && config.VerbosityLevel < 3,
	})

	if err := os.MkdirAll(filepath.Dir(config.StateDB), 0o700); err != nil {
		sink.Close()
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	db, err := state.Open(ctx, config.StateDB)
	if err != nil {
		sink.Close()
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	var keys keymap.Store
	switch config.KeyMap.Backend {
	case "sqlite":
		keys = keymap.NewSQLiteStore(db.SQL())
	default:
		keys = keymap.NewFileStore(config.KeyMap.Path, sink.Logger("keymap"))
	}

	changes := changelog.New(config.ChangeLog.Path, changelog.Options{
		Table:    config.ChangeLog.Table,
		Location: config.location,
		Logger:   sink.Logger("changelog"),
	})

	factory := NewCalendarFactory(config, db, sink.Logger("auth"))
	engine := reconcile.New(changes, keys, factory.Client, reconcile.Options{
		CallTimeout:    config.Sync.CallTimeout,
		MaxAttempts:    config.Sync.MaxAttempts,
		InitialBackoff: config.Sync.InitialBackoff,
		Logger:         sink.Logger("reconcile"),
	})

	return &app{
		config:  config,
		sink:    sink,
		db:      db,
		changes: changes,
		keys:    keys,
		factory: factory,
		engine:  engine,
	}, nil
}

func (a *app) Close() error {
	return errors.Join(a.db.Close(), a.sink.Close())
}

// recordRun stores the outcome of a run in the state database.
func (a *app) recordRun(ctx context.Context, source string, started, finished time.Time, rs *reconcile.RunState, runErr error) error {
	run := runRecord(source, started, finished, rs, runErr)
	if err := a.db.RecordRun(ctx, run); err != nil {
		return err
	}
	return a.db.PruneRuns(ctx, keepRuns)
}

func runRecord(source string, started, finished time.Time, rs *reconcile.RunState, runErr error) state.Run {
	run := state.Run{Source: source, Started: started, Finished: finished}
	if rs != nil {
		run.ID = rs.ID
		run.Candidates = rs.Candidates
		run.Succeeded = rs.Succeeded
		run.Failed = rs.Failed + rs.Unattempted
		run.Invalid = rs.Invalid
	}
	if run.ID == "" {
		// A run that panicked or never got going has no state.
		run.ID = uuid.NewString()
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	return run
}
