package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GoogleOptions tunes how events are written to Google Calendar.
type GoogleOptions struct {
	// DisableReminders turns off the calendar's default reminders on every
	// event the bridge writes.
	DisableReminders bool
	// Visibility is one of "default", "public", "private" or "confidential".
	// Empty leaves the calendar default.
	Visibility string
}

// Google writes events into one Google calendar.
type Google struct {
	service    *calendar.Service
	calendarID string
	opts       GoogleOptions
}

// NewGoogle builds a Google Calendar client on top of an authenticated
// HTTP client. Extra client options are appended after the HTTP client.
func NewGoogle(ctx context.Context, client *http.Client, calendarID string, opts GoogleOptions, extra ...option.ClientOption) (*Google, error) {
	if calendarID == "" {
		return nil, fmt.Errorf("calendar id cannot be empty")
	}
	clientOpts := append([]option.ClientOption{option.WithHTTPClient(client)}, extra...)
	service, err := calendar.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &Google{
		service:    service,
		calendarID: calendarID,
		opts:       opts,
	}, nil
}

// CheckAccess verifies the configured calendar is reachable.
func (g *Google) CheckAccess(ctx context.Context) error {
	_, err := g.service.CalendarList.Get(g.calendarID).Context(ctx).Do()
	if err != nil {
		return classifyGoogle("get calendar", err)
	}
	return nil
}

// Calendars lists the calendars on the account's calendar list.
func (g *Google) Calendars(ctx context.Context) ([]CalendarInfo, error) {
	var result []CalendarInfo
	pageToken := ""
	for {
		call := g.service.CalendarList.List().Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return nil, classifyGoogle("list calendars", err)
		}
		for _, item := range list.Items {
			result = append(result, CalendarInfo{
				ID:      item.Id,
				Name:    item.Summary,
				Primary: item.Primary,
				Access:  item.AccessRole,
			})
		}
		pageToken = list.NextPageToken
		if pageToken == "" {
			return result, nil
		}
	}
}

func (g *Google) CreateEvent(ctx context.Context, event *Event) (string, error) {
	created, err := g.service.Events.Insert(g.calendarID, g.toGoogle(event)).Context(ctx).Do()
	if err != nil {
		return "", classifyGoogle("create event", err)
	}
	return created.Id, nil
}

func (g *Google) UpdateEvent(ctx context.Context, eventID string, event *Event) error {
	_, err := g.service.Events.Update(g.calendarID, eventID, g.toGoogle(event)).Context(ctx).Do()
	if err != nil {
		return classifyGoogle("update event "+eventID, err)
	}
	return nil
}

func (g *Google) DeleteEvent(ctx context.Context, eventID string) error {
	err := g.service.Events.Delete(g.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return classifyGoogle("delete event "+eventID, err)
	}
	return nil
}

func (g *Google) toGoogle(event *Event) *calendar.Event {
	googleEvent := &calendar.Event{
		Summary:     event.Summary,
		Description: event.Description,
		Location:    event.Location,
	}
	if event.AllDay {
		start, end := event.Dates()
		googleEvent.Start = &calendar.EventDateTime{Date: start}
		googleEvent.End = &calendar.EventDateTime{Date: end}
	} else {
		googleEvent.Start = &calendar.EventDateTime{DateTime: event.Start.Format(time.RFC3339)}
		googleEvent.End = &calendar.EventDateTime{DateTime: event.End.Format(time.RFC3339)}
	}
	if g.opts.DisableReminders {
		googleEvent.Reminders = &calendar.EventReminders{
			UseDefault:      false,
			ForceSendFields: []string{"UseDefault"},
		}
	}
	if g.opts.Visibility != "" {
		googleEvent.Visibility = g.opts.Visibility
	}
	return googleEvent
}

func classifyGoogle(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone:
			return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
		case apiErr.Code == http.StatusUnauthorized:
			return fmt.Errorf("%s: %w: %w", op, ErrAuth, err)
		case apiErr.Code == http.StatusForbidden && rateLimited(apiErr):
			return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
		case apiErr.Code == http.StatusForbidden && credentialDenied(apiErr):
			return fmt.Errorf("%s: %w: %w", op, ErrAuth, err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) || errors.Is(err, ErrAuth) {
		return fmt.Errorf("%s: %w: %w", op, ErrAuth, err)
	}

	// Transport failures surface as *url.Error: connection refused, resets, DNS.
	var urlErr *url.Error
	if errors.As(err, &urlErr) && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// credentialDenied reports whether a 403 is about the account's access to
// the calendar rather than about one event (forbiddenForNonOrganizer and
// similar). A 403 without reasons is treated as an access problem.
func credentialDenied(apiErr *googleapi.Error) bool {
	if len(apiErr.Errors) == 0 {
		return true
	}
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "forbidden", "insufficientPermissions", "authError", "accessNotConfigured",
			"dailyLimitExceeded", "requiredAccessLevel", "domainPolicy":
			return true
		}
	}
	return false
}

func rateLimited(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}
