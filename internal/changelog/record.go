// Package changelog reads and writes the spreadsheet change log that an
// external calendar exporter appends to.
//
// The change log is an Excel table (Table1 by default) with one row per
// calendar change. Rows are replayed in timestamp order and flagged as
// processed once the remote calendar has accepted them.
package changelog

import (
	"fmt"
	"strings"
	"time"
)

// Action is the kind of change a row records.
type Action string

const (
	ActionAdded   Action = "Added"
	ActionUpdated Action = "Updated"
	ActionDeleted Action = "Deleted"
)

// ParseAction parses an ActionType cell, ignoring case and surrounding space.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "added":
		return ActionAdded, nil
	case "updated":
		return ActionUpdated, nil
	case "deleted":
		return ActionDeleted, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Record is one change-log row.
type Record struct {
	ExternalID string
	Action     Action
	Timestamp  time.Time
	Processed  bool

	AllDay   bool
	Subject  string
	Body     string
	Location string
	Start    time.Time
	End      time.Time

	// Row is the 1-based worksheet row the record was read from.
	Row int

	key rowKey
}

func (r *Record) String() string {
	return fmt.Sprintf("%s %s (row %d, %s)", r.Action, r.ExternalID, r.Row, r.Timestamp.Format(time.RFC3339))
}

// rowKey is the raw cell text used to find a record's row again when the
// workbook is rewritten.
type rowKey struct {
	externalID string
	action     string
	timestamp  string
}
