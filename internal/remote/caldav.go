package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
)

const (
	caldavProductID = "-//bobuk//gcalbridge//EN"
	caldavUIDPrefix = "gcalbridge-"
)

// CalDAVOptions configures a CalDAV calendar target.
type CalDAVOptions struct {
	ServerURL   string
	Username    string
	Password    string
	CalendarURL string
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient webdav.HTTPClient
}

// CalDAV writes events as <uid>.ics objects into a CalDAV collection.
type CalDAV struct {
	client       *caldav.Client
	calendarPath string
}

func NewCalDAV(opts CalDAVOptions) (*CalDAV, error) {
	baseURL, err := url.Parse(opts.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid CalDAV server URL: %w", err)
	}

	calendarURL := opts.CalendarURL
	if calendarURL == "" {
		calendarURL = opts.ServerURL
	}
	calURL, err := url.Parse(calendarURL)
	if err != nil {
		return nil, fmt.Errorf("invalid calendar URL: %w", err)
	}

	var httpClient webdav.HTTPClient = http.DefaultClient
	if opts.HTTPClient != nil {
		httpClient = opts.HTTPClient
	}
	if opts.Username != "" && opts.Password != "" {
		httpClient = webdav.HTTPClientWithBasicAuth(httpClient, opts.Username, opts.Password)
	}

	c, err := caldav.NewClient(httpClient, baseURL.String())
	if err != nil {
		return nil, fmt.Errorf("failed to create CalDAV client: %w", err)
	}

	return &CalDAV{
		client:       c,
		calendarPath: strings.TrimRight(calURL.Path, "/"),
	}, nil
}

// CheckAccess verifies the calendar collection is listed under its home set.
func (c *CalDAV) CheckAccess(ctx context.Context) error {
	homeSetPath := "/"
	if parts := strings.Split(c.calendarPath, "/"); len(parts) > 1 {
		homeSetPath = strings.Join(parts[:len(parts)-1], "/") + "/"
	}

	calendars, err := c.client.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return classifyCalDAV("find calendars", err)
	}
	for _, cal := range calendars {
		if strings.TrimRight(cal.Path, "/") == c.calendarPath {
			return nil
		}
	}
	return fmt.Errorf("calendar not found at path %s: %w", c.calendarPath, ErrNotFound)
}

// Calendars lists the calendars in the current user's calendar home set.
func (c *CalDAV) Calendars(ctx context.Context) ([]CalendarInfo, error) {
	principal, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, classifyCalDAV("find principal", err)
	}
	homeSet, err := c.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, classifyCalDAV("find calendar home set", err)
	}
	calendars, err := c.client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, classifyCalDAV("find calendars", err)
	}

	result := make([]CalendarInfo, 0, len(calendars))
	for _, cal := range calendars {
		result = append(result, CalendarInfo{ID: cal.Path, Name: cal.Name})
	}
	return result, nil
}

func (c *CalDAV) CreateEvent(ctx context.Context, event *Event) (string, error) {
	uid := caldavUIDPrefix + uuid.NewString()
	if _, err := c.client.PutCalendarObject(ctx, c.objectPath(uid), buildCalendar(uid, event, time.Now())); err != nil {
		return "", classifyCalDAV("create event", err)
	}
	return uid, nil
}

// UpdateEvent replaces the object; PUT creates it again if it was removed.
func (c *CalDAV) UpdateEvent(ctx context.Context, eventID string, event *Event) error {
	if _, err := c.client.PutCalendarObject(ctx, c.objectPath(eventID), buildCalendar(eventID, event, time.Now())); err != nil {
		return classifyCalDAV("update event "+eventID, err)
	}
	return nil
}

func (c *CalDAV) DeleteEvent(ctx context.Context, eventID string) error {
	if err := c.client.RemoveAll(ctx, c.objectPath(eventID)); err != nil {
		return classifyCalDAV("delete event "+eventID, err)
	}
	return nil
}

func (c *CalDAV) objectPath(uid string) string {
	return c.calendarPath + "/" + uid + ".ics"
}

func buildCalendar(uid string, event *Event, now time.Time) *ical.Calendar {
	icalEvent := ical.NewEvent()
	icalEvent.Props.SetText(ical.PropUID, uid)
	icalEvent.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	icalEvent.Props.SetText(ical.PropSummary, event.Summary)
	if event.Description != "" {
		icalEvent.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		icalEvent.Props.SetText(ical.PropLocation, event.Location)
	}
	if event.AllDay {
		start, end := event.Dates()
		startDate, _ := time.Parse(dateLayout, start)
		endDate, _ := time.Parse(dateLayout, end)
		icalEvent.Props.SetDate(ical.PropDateTimeStart, startDate)
		icalEvent.Props.SetDate(ical.PropDateTimeEnd, endDate)
	} else {
		// UTC avoids emitting a TZID for zones that have no IANA name.
		icalEvent.Props.SetDateTime(ical.PropDateTimeStart, event.Start.UTC())
		icalEvent.Props.SetDateTime(ical.PropDateTimeEnd, event.End.UTC())
	}
	icalEvent.Props.SetText(ical.PropStatus, "CONFIRMED")

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, caldavProductID)
	cal.Children = append(cal.Children, icalEvent.Component)
	return cal
}

var statusPattern = regexp.MustCompile(`\b([45]\d\d) [A-Z]`)

// classifyCalDAV maps go-webdav errors, whose text starts with the HTTP
// status ("404 Not Found: ..."), onto the package sentinels.
func classifyCalDAV(op string, err error) error {
	match := statusPattern.FindStringSubmatch(err.Error())
	if match == nil {
		if IsTransient(err) {
			return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	code, _ := strconv.Atoi(match[1])
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%s: %w: %w", op, ErrAuth, err)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
