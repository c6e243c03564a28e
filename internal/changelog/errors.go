package changelog

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSchema is matched by every *SchemaError.
	ErrSchema = errors.New("change log schema mismatch")
	// ErrResourceBusy means another process holds the workbook open or locked.
	ErrResourceBusy = errors.New("change log is in use by another process")
)

// SchemaError reports a missing table or missing required columns.
type SchemaError struct {
	Table   string
	Missing []string
	Found   []string
}

func (e *SchemaError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("table %q not found in workbook", e.Table)
	}
	return fmt.Sprintf("table %q is missing required columns: %s (found: %s)",
		e.Table, strings.Join(e.Missing, ", "), strings.Join(e.Found, ", "))
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// RowError describes a row that could not be parsed. It only affects that row.
type RowError struct {
	Row        int
	ExternalID string
	Err        error
}

func (e *RowError) Error() string {
	if e.ExternalID != "" {
		return fmt.Sprintf("row %d (%s): %v", e.Row, e.ExternalID, e.Err)
	}
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}
