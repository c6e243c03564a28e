package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run is one recorded sync attempt.
type Run struct {
	ID         string
	Source     string
	Started    time.Time
	Finished   time.Time
	Candidates int
	Succeeded  int
	Failed     int
	Invalid    int
	Error      string
}

func (r Run) OK() bool {
	return r.Error == ""
}

const runColumns = `id, source, started_at, finished_at, candidates, succeeded, failed, invalid, error`

func (d *DB) RecordRun(ctx context.Context, run Run) error {
	_, err := d.db.ExecContext(ctx, `INSERT OR REPLACE INTO sync_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.Started.UTC(), run.Finished.UTC(),
		run.Candidates, run.Succeeded, run.Failed, run.Invalid, run.Error)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// LastRun returns the most recent run, or nil when none was recorded.
func (d *DB) LastRun(ctx context.Context) (*Run, error) {
	return d.queryOne(ctx, `SELECT `+runColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT 1`)
}

// LastSuccess returns the most recent run that finished without error.
func (d *DB) LastSuccess(ctx context.Context) (*Run, error) {
	return d.queryOne(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE error = '' ORDER BY started_at DESC LIMIT 1`)
}

// RecentRuns returns up to limit runs, newest first.
func (d *DB) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+runColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// PruneRuns keeps only the newest keep runs.
func (d *DB) PruneRuns(ctx context.Context, keep int) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM sync_runs WHERE id NOT IN (
		SELECT id FROM sync_runs ORDER BY started_at DESC LIMIT ?)`, keep)
	if err != nil {
		return fmt.Errorf("failed to prune runs: %w", err)
	}
	return nil
}

func (d *DB) ClearRuns(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM sync_runs`); err != nil {
		return fmt.Errorf("failed to clear runs: %w", err)
	}
	return nil
}

func (d *DB) queryOne(ctx context.Context, query string) (*Run, error) {
	run, err := scanRun(d.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	err := s.Scan(&run.ID, &run.Source, &run.Started, &run.Finished,
		&run.Candidates, &run.Succeeded, &run.Failed, &run.Invalid, &run.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read run: %w", err)
	}
	return &run, nil
}
