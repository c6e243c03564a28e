package main

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/oauth2"

	"github.com/bobuk/gcalbridge/internal/remote"
	"github.com/bobuk/gcalbridge/internal/state"
)

// Calendar is a remote calendar target as the CLI uses it.
type Calendar interface {
	remote.Client
	CheckAccess(ctx context.Context) error
	Calendars(ctx context.Context) ([]remote.CalendarInfo, error)
}

// CalendarFactory builds the configured calendar client.
type CalendarFactory struct {
	config *Config
	db     *state.DB
	oauth  *oauth2.Config
	logger *log.Logger
}

func NewCalendarFactory(config *Config, db *state.DB, logger *log.Logger) *CalendarFactory {
	return &CalendarFactory{
		config: config,
		db:     db,
		oauth:  newOAuthConfig(config),
		logger: logger,
	}
}

// Client satisfies reconcile.ClientFunc.
func (cf *CalendarFactory) Client(ctx context.Context) (remote.Client, error) {
	return cf.Calendar(ctx)
}

func (cf *CalendarFactory) Calendar(ctx context.Context) (Calendar, error) {
	r := cf.config.Remote
	switch r.Provider {
	case "google":
		client, err := getClient(ctx, cf.oauth, cf.db, r.Account, cf.logger)
		if err != nil {
			return nil, err
		}
		provider, err := remote.NewGoogle(ctx, client, r.CalendarID, remote.GoogleOptions{
			DisableReminders: cf.config.General.DisableReminders,
			Visibility:       cf.config.General.EventVisibility,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating Google calendar provider: %w", err)
		}
		return provider, nil

	case "caldav":
		server, ok := cf.config.CalDAVs[r.CalDAVServer]
		if !ok {
			return nil, fmt.Errorf("CalDAV server '%s' not found in configuration", r.CalDAVServer)
		}
		provider, err := remote.NewCalDAV(remote.CalDAVOptions{
			ServerURL:   server.ServerURL,
			Username:    server.Username,
			Password:    server.Password,
			CalendarURL: r.CalendarID,
		})
		if err != nil {
			return nil, fmt.Errorf("error connecting to CalDAV server %s: %w", r.CalDAVServer, err)
		}
		return provider, nil

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", r.Provider)
	}
}

// describe names the target for progress output.
func (cf *CalendarFactory) describe() string {
	r := cf.config.Remote
	if r.Provider == "caldav" {
		name := r.CalDAVServer
		if s := cf.config.CalDAVs[r.CalDAVServer]; s.Name != "" {
			name = s.Name
		}
		return fmt.Sprintf("CalDAV %s (%s)", name, r.CalendarID)
	}
	return fmt.Sprintf("Google %s (account %s)", r.CalendarID, r.Account)
}
