package reconcile

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bobuk/gcalbridge/internal/changelog"
)

// Failure is a record that was left unprocessed because its remote call failed.
type Failure struct {
	Record *changelog.Record
	Err    error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Record, f.Err)
}

// RunState is the outcome of one reconciliation run.
type RunState struct {
	ID       string
	Started  time.Time
	Finished time.Time

	// Candidates is the number of parseable pending records.
	Candidates int
	Succeeded  int
	Failed     int
	// Unattempted counts records left alone after the run was aborted.
	Unattempted int
	// Invalid counts pending rows that could not be parsed.
	Invalid int

	Created int
	Updated int
	Deleted int
	// Skipped counts deletions of events that were never mapped.
	Skipped int

	KeyMapChanged bool
	// Marked is the number of change-log rows flagged as processed.
	Marked     int
	LogChanged bool

	Failures  []Failure
	RowErrors []*changelog.RowError
}

func newRunState() *RunState {
	return &RunState{
		ID:      uuid.NewString(),
		Started: time.Now(),
	}
}

func (s *RunState) Duration() time.Duration {
	if s.Finished.IsZero() {
		return time.Since(s.Started)
	}
	return s.Finished.Sub(s.Started)
}

// Summary is a one-line description for logs.
func (s *RunState) Summary() string {
	return fmt.Sprintf("%d pending: %d created, %d updated, %d deleted, %d skipped, %d failed, %d invalid rows (%s)",
		s.Candidates, s.Created, s.Updated, s.Deleted, s.Skipped, s.Failed+s.Unattempted, s.Invalid,
		s.Duration().Round(time.Millisecond))
}
