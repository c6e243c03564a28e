// Package remote defines the calendar capability the reconciliation engine
// replays change-log rows against, together with the Google Calendar and
// CalDAV implementations of it.
package remote

import (
	"context"
	"errors"
	"net"
	"time"
)

// Client creates, updates and deletes events in a single remote calendar.
// Implementations own no persisted state.
type Client interface {
	CreateEvent(ctx context.Context, event *Event) (string, error)
	UpdateEvent(ctx context.Context, eventID string, event *Event) error
	DeleteEvent(ctx context.Context, eventID string) error
}

// Event holds the fields copied from a change-log row into the remote calendar.
type Event struct {
	Summary     string
	Description string
	Location    string
	AllDay      bool
	Start       time.Time
	End         time.Time
}

// CalendarInfo describes a calendar the account can write to.
type CalendarInfo struct {
	ID      string
	Name    string
	Primary bool
	Access  string
}

var (
	// ErrNotFound is wrapped by errors for events the remote side no longer has.
	ErrNotFound = errors.New("remote event not found")
	// ErrAuth is wrapped by errors caused by missing, expired or revoked credentials.
	ErrAuth = errors.New("remote authentication failed")
	// ErrTransient is wrapped by errors that are worth retrying.
	ErrTransient = errors.New("transient remote failure")
)

const dateLayout = "2006-01-02"

// Dates returns the all-day start date and the exclusive end date. An end
// on or before the start day is widened to a single day.
func (e *Event) Dates() (start, end string) {
	s := time.Date(e.Start.Year(), e.Start.Month(), e.Start.Day(), 0, 0, 0, 0, time.UTC)
	f := time.Date(e.End.Year(), e.End.Month(), e.End.Day(), 0, 0, 0, 0, time.UTC)
	if !f.After(s) {
		f = s.AddDate(0, 0, 1)
	}
	return s.Format(dateLayout), f.Format(dateLayout)
}

// IsNotFound reports whether err means the remote event does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsTransient reports whether a failed call may succeed when repeated.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
