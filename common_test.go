package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bobuk/gcalbridge/internal/changelog"
	"github.com/bobuk/gcalbridge/internal/keymap"
	"github.com/bobuk/gcalbridge/internal/reconcile"
	"github.com/bobuk/gcalbridge/internal/remote"
	"github.com/bobuk/gcalbridge/internal/scheduler"
	"github.com/bobuk/gcalbridge/internal/state"
)

const minimalConfig = `
client_id = "id"
client_secret = "secret"

[changelog]
path = "changes.xlsx"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), configFileName)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadConfigDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	config, err := readConfig(path)
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	dir := filepath.Dir(path)

	if config.ChangeLog.Path != filepath.Join(dir, "changes.xlsx") {
		t.Errorf("changelog path = %s", config.ChangeLog.Path)
	}
	if config.KeyMap.Path != filepath.Join(dir, "id_map.json") {
		t.Errorf("keymap path = %s", config.KeyMap.Path)
	}
	if config.StateDB != filepath.Join(dir, ".gcalbridge.db") {
		t.Errorf("state db = %s", config.StateDB)
	}
	if config.Sync.Interval != 5*time.Minute || config.ChangeLog.SettleDelay != 3*time.Second {
		t.Errorf("durations = %s, %s", config.Sync.Interval, config.ChangeLog.SettleDelay)
	}
	if !config.ChangeLog.Watch || config.ChangeLog.Table != "Table1" {
		t.Errorf("changelog = %+v", config.ChangeLog)
	}
	if config.Remote.Provider != "google" || config.Remote.CalendarID != "primary" {
		t.Errorf("remote = %+v", config.Remote)
	}
	if config.location != time.Local {
		t.Errorf("location = %v", config.location)
	}
}

func TestReadConfigValues(t *testing.T) {
	path := writeConfig(t, `
verbosity_level = 2
state_db = "/var/lib/gcalbridge/state.db"

[general]
disable_reminders = true
event_visibility = "private"
timezone = "Europe/Berlin"

[changelog]
path = "/data/changes.xlsx"
table = "Changes"
watch = false
settle_delay = "1s"

[keymap]
backend = "sqlite"

[sync]
interval = "90s"
max_attempts = 5

[remote]
provider = "caldav"
calendar_id = "https://dav.example.com/cal/work/"
caldav_server = "work"

[caldav_servers.work]
name = "Work"
server_url = "https://dav.example.com"
username = "me"
password = "pw"
`)
	config, err := readConfig(path)
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	if config.StateDB != "/var/lib/gcalbridge/state.db" || config.ChangeLog.Path != "/data/changes.xlsx" {
		t.Errorf("absolute paths rewritten: %s, %s", config.StateDB, config.ChangeLog.Path)
	}
	if config.Sync.Interval != 90*time.Second || config.Sync.MaxAttempts != 5 {
		t.Errorf("sync = %+v", config.Sync)
	}
	if config.ChangeLog.Watch || config.ChangeLog.Table != "Changes" || config.ChangeLog.SettleDelay != time.Second {
		t.Errorf("changelog = %+v", config.ChangeLog)
	}
	if config.location.String() != "Europe/Berlin" {
		t.Errorf("location = %s", config.location)
	}
	if config.CalDAVs["work"].ServerURL != "https://dav.example.com" {
		t.Errorf("caldav servers = %+v", config.CalDAVs)
	}
	if verbosityLevel != 2 {
		t.Errorf("verbosityLevel = %d", verbosityLevel)
	}
	verbosityLevel = 1
}

func TestReadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	t.Setenv("GCALBRIDGE_CLIENT_SECRET", "from-env")
	t.Setenv("GCALBRIDGE_SYNC_INTERVAL", "10m")
	t.Setenv("GCALBRIDGE_KEYMAP_PATH", "map.json")
	t.Setenv("GCALBRIDGE_REMOTE_CALENDAR_ID", "team@example.com")

	config, err := readConfig(path)
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	if config.ClientSecret != "from-env" {
		t.Errorf("client secret = %q", config.ClientSecret)
	}
	if config.Sync.Interval != 10*time.Minute {
		t.Errorf("interval = %s", config.Sync.Interval)
	}
	if config.KeyMap.Path != filepath.Join(filepath.Dir(path), "map.json") {
		t.Errorf("keymap path = %s", config.KeyMap.Path)
	}
	if config.Remote.CalendarID != "team@example.com" {
		t.Errorf("calendar id = %s", config.Remote.CalendarID)
	}
}

func TestReadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"missing changelog", `client_id = "id"` + "\n" + `client_secret = "s"`, "changelog.path"},
		{"missing credentials", "[changelog]\npath = \"c.xlsx\"", "client_id"},
		{"bad backend", minimalConfig + "[keymap]\nbackend = \"redis\"", "keymap.backend"},
		{"bad provider", minimalConfig + "[remote]\nprovider = \"exchange\"", "remote.provider"},
		{"unknown caldav server", minimalConfig + "[remote]\nprovider = \"caldav\"\ncaldav_server = \"x\"", "caldav_server"},
		{"short interval", minimalConfig + "[sync]\ninterval = \"100ms\"", "sync.interval"},
		{"zero attempts", minimalConfig + "[sync]\nmax_attempts = 0", "max_attempts"},
		{"bad timezone", minimalConfig + "[general]\ntimezone = \"Mars/Olympus\"", "general.timezone"},
		{"bad visibility", minimalConfig + "[general]\nevent_visibility = \"secret\"", "event_visibility"},
		{"bad toml", "client_id = ", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestReadConfigMissing(t *testing.T) {
	_, err := readConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v", err)
	}
}

func TestIsStale(t *testing.T) {
	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	run := func(ago time.Duration) *state.Run {
		return &state.Run{Finished: now.Add(-ago)}
	}
	tests := []struct {
		name     string
		success  *state.Run
		interval time.Duration
		want     bool
	}{
		{"recent", run(4 * time.Minute), 5 * time.Minute, false},
		{"just under twice", run(10 * time.Minute), 5 * time.Minute, false},
		{"stale", run(11 * time.Minute), 5 * time.Minute, true},
		{"timer disabled", run(time.Hour), 0, false},
		{"never synced", nil, 5 * time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isStale(tt.success, tt.interval, now); got != tt.want {
				t.Errorf("isStale = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunRecord(t *testing.T) {
	started := time.Now().Add(-time.Second)
	finished := time.Now()

	rs := &reconcile.RunState{ID: "run-1", Candidates: 4, Succeeded: 2, Failed: 1, Unattempted: 1, Invalid: 3}
	run := runRecord("timer", started, finished, rs, errors.New("aborted"))
	if run.ID != "run-1" || run.Source != "timer" || run.Failed != 2 || run.Invalid != 3 || run.Error != "aborted" {
		t.Errorf("run = %+v", run)
	}
	if !run.Started.Equal(started) || !run.Finished.Equal(finished) {
		t.Errorf("times = %v, %v", run.Started, run.Finished)
	}

	panicked := runRecord("watch", started, finished, nil, errors.New("sync panicked: boom"))
	if panicked.ID == "" || panicked.OK() {
		t.Errorf("panicked run = %+v", panicked)
	}
}

func TestExplainRunError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("read: %w", changelog.ErrResourceBusy), "close the workbook"},
		{&changelog.SchemaError{Table: "Table1"}, "gcalbridge check"},
		{fmt.Errorf("client: %w", remote.ErrAuth), "gcalbridge auth"},
		{errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		if got := explainRunError(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("explainRunError(%v) = %q, want mention of %q", tt.err, got, tt.want)
		}
	}
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	if !confirm(strings.NewReader("y\n"), &out, "Sure?") {
		t.Error("y not accepted")
	}
	if confirm(strings.NewReader("\n"), &out, "Sure?") {
		t.Error("empty answer accepted")
	}
	if confirm(strings.NewReader("yes please\n"), &out, "Sure?") {
		t.Error("free text accepted")
	}
	if !strings.Contains(out.String(), "Sure? (y/N)") {
		t.Errorf("prompt = %q", out.String())
	}
}

func TestGetClientWithoutToken(t *testing.T) {
	ctx := context.Background()
	db, err := state.Open(ctx, filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	config := defaultConfig()
	config.ClientID, config.ClientSecret = "id", "secret"
	_, err = getClient(ctx, newOAuthConfig(config), db, "default", nil)
	if !remote.IsAuth(err) || !errors.Is(err, state.ErrNoToken) {
		t.Errorf("err = %v, want auth error wrapping ErrNoToken", err)
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	config, err := readConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatal(err)
	}
	a, err := newApp(context.Background(), config, appOptions{})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestStatusAndReset(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	now := time.Now()

	if err := a.keys.Save(ctx, keymap.Map{"a": "r1", "b": "r2"}); err != nil {
		t.Fatal(err)
	}
	ok := &reconcile.RunState{ID: "ok", Candidates: 2, Succeeded: 2}
	if err := a.recordRun(ctx, "timer", now.Add(-30*time.Minute), now.Add(-30*time.Minute), ok, nil); err != nil {
		t.Fatal(err)
	}
	if err := a.recordRun(ctx, "watch", now.Add(-time.Minute), now.Add(-time.Minute), nil, changelog.ErrResourceBusy); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := printStatus(ctx, a, &out, now); err != nil {
		t.Fatalf("printStatus: %v", err)
	}
	for _, want := range []string{
		"Last sync failed 1 minute ago (watch)",
		"Last successful sync 30 minutes ago",
		"more than twice the interval",
		"2 mapped events",
		"Change log unreadable",
		"Recent runs",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("status output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := resetState(ctx, a, false, &out); err != nil {
		t.Fatalf("resetState: %v", err)
	}
	keys, err := a.keys.Load(ctx)
	if err != nil || len(keys) != 0 {
		t.Errorf("keys after reset = %v, %v", keys, err)
	}
	if last, err := a.db.LastRun(ctx); err != nil || last != nil {
		t.Errorf("last run after reset = %+v, %v", last, err)
	}
}

func TestReloadKeepsVerbosityOverride(t *testing.T) {
	a := newTestApp(t)
	logger := log.New(io.Discard, "", 0)
	coord, err := scheduler.New(func(ctx context.Context) (*reconcile.RunState, error) {
		return &reconcile.RunState{}, nil
	}, scheduler.Config{Interval: a.config.Sync.Interval, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	defer coord.Stop()

	content := "verbosity_level = 1\n" + minimalConfig + "[sync]\ninterval = \"90s\"\n"
	if err := os.WriteFile(a.config.path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	verbosityLevel = 3
	defer func() { verbosityLevel = 1 }()

	a.reload(logger, coord)

	if verbosityLevel != 3 {
		t.Errorf("verbosityLevel = %d, want the override 3 kept", verbosityLevel)
	}
	if got := coord.Interval(); got != 90*time.Second {
		t.Errorf("coordinator interval = %s", got)
	}
	if a.config.Sync.Interval != 90*time.Second {
		t.Errorf("config interval = %s", a.config.Sync.Interval)
	}
}
