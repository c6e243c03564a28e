// Package reconcile replays change-log records against a remote calendar
// and keeps the key map and the change log's processed flags in step.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/bobuk/gcalbridge/internal/changelog"
	"github.com/bobuk/gcalbridge/internal/keymap"
	"github.com/bobuk/gcalbridge/internal/remote"
)

// ChangeLog is the part of the change log the engine reads and writes.
type ChangeLog interface {
	Pending(ctx context.Context) (*changelog.Batch, error)
	MarkProcessed(ctx context.Context, records []*changelog.Record) (int, error)
}

// ClientFunc returns an authenticated remote client. It is only called when
// there is work to do.
type ClientFunc func(ctx context.Context) (remote.Client, error)

// ErrAborted is wrapped by the error of a run that stopped before every
// record was attempted.
var ErrAborted = errors.New("reconciliation aborted")

// Options tunes remote calls.
type Options struct {
	// CallTimeout bounds each remote call attempt.
	CallTimeout time.Duration
	// MaxAttempts bounds attempts per remote call, including the first.
	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *log.Logger
}

// DefaultOptions returns the defaults used for zero fields.
func DefaultOptions() Options {
	return Options{
		CallTimeout:    30 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Engine runs reconciliation passes. Runs must not overlap; the scheduler
// guarantees that.
type Engine struct {
	changes ChangeLog
	keys    keymap.Store
	client  ClientFunc
	opts    Options
	logger  *log.Logger
}

func New(changes ChangeLog, keys keymap.Store, client ClientFunc, opts Options) *Engine {
	def := DefaultOptions()
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = def.MaxBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	return &Engine{
		changes: changes,
		keys:    keys,
		client:  client,
		opts:    opts,
		logger:  logger,
	}
}

// Run performs one full pass: read pending rows, apply them, then persist
// the key map and the processed flags. Schema, busy and auth errors abort
// the run before any remote call. Records applied before a mid-run abort
// are still persisted.
func (e *Engine) Run(ctx context.Context) (*RunState, error) {
	state := newRunState()
	defer func() { state.Finished = time.Now() }()

	batch, err := e.changes.Pending(ctx)
	if err != nil {
		return state, fmt.Errorf("failed to read change log: %w", err)
	}
	state.RowErrors = batch.Invalid
	state.Invalid = len(batch.Invalid)
	for _, rowErr := range batch.Invalid {
		e.logger.Printf("Skipping invalid row: %v", rowErr)
	}
	if len(batch.Records) == 0 {
		return state, nil
	}

	keys, err := e.keys.Load(ctx)
	if err != nil {
		return state, fmt.Errorf("failed to load key map: %w", err)
	}
	client, err := e.client(ctx)
	if err != nil {
		return state, fmt.Errorf("failed to get calendar client: %w", err)
	}

	runErr := e.reconcile(ctx, batch.Records, keys, client, state)

	// Persist what was applied even when the run was cut short.
	persistErr := e.persist(context.WithoutCancel(ctx), batch.Records, keys, state)
	if persistErr != nil {
		return state, errors.Join(runErr, persistErr)
	}
	return state, runErr
}

// Reconcile applies records to keys and the remote calendar in ascending
// timestamp order, whatever order they are passed in. Processed records get Processed set. It
// returns a non-nil error only when the pass was aborted.
func (e *Engine) Reconcile(ctx context.Context, records []*changelog.Record, keys keymap.Map, client remote.Client) (*RunState, error) {
	state := newRunState()
	err := e.reconcile(ctx, records, keys, client, state)
	state.Finished = time.Now()
	return state, err
}

func (e *Engine) reconcile(ctx context.Context, records []*changelog.Record, keys keymap.Map, client remote.Client, state *RunState) error {
	records = byTimestamp(records)
	state.Candidates += len(records)
	for i, rec := range records {
		if rec.Processed {
			continue
		}
		if err := ctx.Err(); err != nil {
			state.Unattempted += len(records) - i
			e.logger.Printf("Run canceled with %d records left", len(records)-i)
			return fmt.Errorf("%w: %w", ErrAborted, err)
		}

		changed, err := e.apply(ctx, rec, keys, client, state)
		if err != nil {
			if remote.IsAuth(err) {
				state.Failed++
				state.Failures = append(state.Failures, Failure{Record: rec, Err: err})
				state.Unattempted += len(records) - i - 1
				e.logger.Printf("Authentication failed on %s, stopping run: %v", rec, err)
				return fmt.Errorf("%w: %w", ErrAborted, err)
			}
			state.Failed++
			state.Failures = append(state.Failures, Failure{Record: rec, Err: err})
			e.logger.Printf("Failed to apply %s: %v", rec, err)
			continue
		}

		rec.Processed = true
		state.Succeeded++
		if changed {
			state.KeyMapChanged = true
		}
	}
	return nil
}

// byTimestamp returns a copy of records stably sorted by Timestamp, so
// records with equal timestamps keep their change-log order.
func byTimestamp(records []*changelog.Record) []*changelog.Record {
	sorted := make([]*changelog.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}

// apply replays one record. It reports whether keys was modified.
func (e *Engine) apply(ctx context.Context, rec *changelog.Record, keys keymap.Map, client remote.Client, state *RunState) (bool, error) {
	switch rec.Action {
	case changelog.ActionAdded, changelog.ActionUpdated:
		return e.upsert(ctx, rec, keys, client, state)
	case changelog.ActionDeleted:
		return e.remove(ctx, rec, keys, client, state)
	}
	return false, fmt.Errorf("unsupported action %q", rec.Action)
}

// upsert updates the mapped event when there is one and creates it
// otherwise. An Added record for an id that is already mapped is treated as
// an update, so replaying a create after a crash does not duplicate it.
func (e *Engine) upsert(ctx context.Context, rec *changelog.Record, keys keymap.Map, client remote.Client, state *RunState) (bool, error) {
	event := toEvent(rec)

	if remoteID, ok := keys[rec.ExternalID]; ok {
		err := e.call(ctx, "update "+rec.ExternalID, func(ctx context.Context) error {
			return client.UpdateEvent(ctx, remoteID, event)
		})
		if err == nil {
			state.Updated++
			e.logger.Printf("Updated event %s for %s", remoteID, rec.ExternalID)
			return false, nil
		}
		if !remote.IsNotFound(err) {
			return false, err
		}
		e.logger.Printf("Remote event %s for %s is gone, creating it again", remoteID, rec.ExternalID)
	} else if rec.Action == changelog.ActionUpdated {
		e.logger.Printf("No mapping for updated %s, creating it", rec.ExternalID)
	}

	var remoteID string
	err := e.call(ctx, "create "+rec.ExternalID, func(ctx context.Context) error {
		id, err := client.CreateEvent(ctx, event)
		remoteID = id
		return err
	})
	if err != nil {
		return false, err
	}
	keys[rec.ExternalID] = remoteID
	state.Created++
	e.logger.Printf("Created event %s for %s", remoteID, rec.ExternalID)
	return true, nil
}

func (e *Engine) remove(ctx context.Context, rec *changelog.Record, keys keymap.Map, client remote.Client, state *RunState) (bool, error) {
	remoteID, ok := keys[rec.ExternalID]
	if !ok {
		state.Skipped++
		e.logger.Printf("No mapping for deleted %s, nothing to delete", rec.ExternalID)
		return false, nil
	}

	err := e.call(ctx, "delete "+rec.ExternalID, func(ctx context.Context) error {
		return client.DeleteEvent(ctx, remoteID)
	})
	switch {
	case remote.IsNotFound(err):
		e.logger.Printf("Remote event %s for %s was already deleted", remoteID, rec.ExternalID)
	case err != nil:
		return false, err
	default:
		e.logger.Printf("Deleted event %s for %s", remoteID, rec.ExternalID)
	}
	delete(keys, rec.ExternalID)
	state.Deleted++
	return true, nil
}

// persist saves the key map before flagging rows, so a flagged row always
// has its mapping on disk.
func (e *Engine) persist(ctx context.Context, records []*changelog.Record, keys keymap.Map, state *RunState) error {
	if state.KeyMapChanged {
		if err := e.keys.Save(ctx, keys); err != nil {
			return fmt.Errorf("failed to save key map, change log left unmarked: %w", err)
		}
	}

	var processed []*changelog.Record
	for _, rec := range records {
		if rec.Processed {
			processed = append(processed, rec)
		}
	}
	if len(processed) == 0 {
		return nil
	}
	n, err := e.changes.MarkProcessed(ctx, processed)
	state.Marked = n
	state.LogChanged = n > 0
	if err != nil {
		return fmt.Errorf("failed to mark change log rows: %w", err)
	}
	return nil
}

func toEvent(rec *changelog.Record) *remote.Event {
	return &remote.Event{
		Summary:     rec.Subject,
		Description: rec.Body,
		Location:    rec.Location,
		AllDay:      rec.AllDay,
		Start:       rec.Start,
		End:         rec.End,
	}
}
