package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"github.com/bobuk/gcalbridge/internal/remote"
	"github.com/bobuk/gcalbridge/internal/state"
)

const (
	configFileName = ".gcalbridge.toml"
	envPrefix      = "GCALBRIDGE_"
)

type Config struct {
	ClientID       string `toml:"client_id" env:"CLIENT_ID"`
	ClientSecret   string `toml:"client_secret" env:"CLIENT_SECRET"`
	VerbosityLevel int    `toml:"verbosity_level" env:"VERBOSITY_LEVEL"`
	StateDB        string `toml:"state_db" env:"STATE_DB"`

	General   GeneralConfig           `toml:"general" envPrefix:"GENERAL_"`
	ChangeLog ChangeLogConfig         `toml:"changelog" envPrefix:"CHANGELOG_"`
	KeyMap    KeyMapConfig            `toml:"keymap" envPrefix:"KEYMAP_"`
	Sync      SyncConfig              `toml:"sync" envPrefix:"SYNC_"`
	Remote    RemoteConfig            `toml:"remote" envPrefix:"REMOTE_"`
	CalDAVs   map[string]CalDAVConfig `toml:"caldav_servers"`
	Log       LogConfig               `toml:"log" envPrefix:"LOG_"`

	// path is the file the config was read from; relative paths resolve
	// against its directory.
	path     string
	location *time.Location
}

type GeneralConfig struct {
	DisableReminders bool   `toml:"disable_reminders" env:"DISABLE_REMINDERS"`
	EventVisibility  string `toml:"event_visibility" env:"EVENT_VISIBILITY"`
	Timezone         string `toml:"timezone" env:"TIMEZONE"`
}

type ChangeLogConfig struct {
	Path        string        `toml:"path" env:"PATH"`
	Table       string        `toml:"table" env:"TABLE"`
	Watch       bool          `toml:"watch" env:"WATCH"`
	SettleDelay time.Duration `toml:"settle_delay" env:"SETTLE_DELAY"`
	Debounce    time.Duration `toml:"debounce" env:"DEBOUNCE"`
}

type KeyMapConfig struct {
	// Backend is "file" or "sqlite".
	Backend string `toml:"backend" env:"BACKEND"`
	Path    string `toml:"path" env:"PATH"`
}

type SyncConfig struct {
	Interval       time.Duration `toml:"interval" env:"INTERVAL"`
	CallTimeout    time.Duration `toml:"call_timeout" env:"CALL_TIMEOUT"`
	MaxAttempts    uint          `toml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialBackoff time.Duration `toml:"initial_backoff" env:"INITIAL_BACKOFF"`
}

type RemoteConfig struct {
	// Provider is "google" or "caldav".
	Provider string `toml:"provider" env:"PROVIDER"`
	// Account names the stored OAuth token.
	Account string `toml:"account" env:"ACCOUNT"`
	// CalendarID is a Google calendar id or a CalDAV collection URL.
	CalendarID   string `toml:"calendar_id" env:"CALENDAR_ID"`
	CalDAVServer string `toml:"caldav_server" env:"CALDAV_SERVER"`
}

type CalDAVConfig struct {
	Name      string `toml:"name"`
	ServerURL string `toml:"server_url"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

type LogConfig struct {
	File       string `toml:"file" env:"FILE"`
	MaxSizeMB  int    `toml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `toml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `toml:"max_age_days" env:"MAX_AGE_DAYS"`
	Compress   bool   `toml:"compress" env:"COMPRESS"`
}

var verbosityLevel = 1

func defaultConfig() *Config {
	return &Config{
		VerbosityLevel: 1,
		StateDB:        ".gcalbridge.db",
		General:        GeneralConfig{Timezone: "Local"},
		ChangeLog: ChangeLogConfig{
			Table:       "Table1",
			Watch:       true,
			SettleDelay: 3 * time.Second,
			Debounce:    500 * time.Millisecond,
		},
		KeyMap: KeyMapConfig{Backend: "file", Path: "id_map.json"},
		Sync: SyncConfig{
			Interval:       5 * time.Minute,
			CallTimeout:    30 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: time.Second,
		},
		Remote: RemoteConfig{Provider: "google", Account: "default", CalendarID: "primary"},
		Log:    LogConfig{File: "gcalbridge.log", MaxSizeMB: 5, MaxBackups: 10},
	}
}

// configCandidates lists where the config file is looked for: the working
// directory first, then $HOME/.config/gcalbridge/.
func configCandidates() []string {
	candidates := []string{configFileName}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "gcalbridge", configFileName))
	}
	return candidates
}

// readConfig loads the config from filename, or from the first candidate
// location when filename is empty, then applies GCALBRIDGE_* overrides.
func readConfig(filename string) (*Config, error) {
	candidates := configCandidates()
	if filename != "" {
		candidates = []string{filename}
	}

	var data []byte
	var found string
	for _, candidate := range candidates {
		b, err := os.ReadFile(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", candidate, err)
		}
		data, found = b, candidate
		break
	}
	if found == "" {
		return nil, fmt.Errorf("config file not found, tried %s", strings.Join(candidates, ", "))
	}

	config, err := parseConfig(data, found)
	if err != nil {
		return nil, err
	}
	verbosityLevel = config.VerbosityLevel
	return config, nil
}

func parseConfig(data []byte, path string) (*Config, error) {
	config := defaultConfig()
	if _, err := toml.Decode(string(data), config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := env.ParseWithOptions(config, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	config.path = abs
	config.resolvePaths()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) dir() string {
	return filepath.Dir(c.path)
}

func (c *Config) resolvePaths() {
	for _, p := range []*string{&c.StateDB, &c.ChangeLog.Path, &c.KeyMap.Path, &c.Log.File} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		if strings.HasPrefix(*p, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				*p = filepath.Join(home, (*p)[2:])
				continue
			}
		}
		*p = filepath.Join(c.dir(), *p)
	}
}

func (c *Config) validate() error {
	var problems []string
	if c.ChangeLog.Path == "" {
		problems = append(problems, "changelog.path is required")
	}
	if c.StateDB == "" {
		problems = append(problems, "state_db cannot be empty")
	}

	switch c.KeyMap.Backend {
	case "file":
		if c.KeyMap.Path == "" {
			problems = append(problems, "keymap.path is required for the file backend")
		}
	case "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("keymap.backend %q must be file or sqlite", c.KeyMap.Backend))
	}

	switch c.Remote.Provider {
	case "google":
		if c.ClientID == "" || c.ClientSecret == "" {
			problems = append(problems, "client_id and client_secret are required for the google provider")
		}
		if c.Remote.Account == "" {
			problems = append(problems, "remote.account cannot be empty")
		}
	case "caldav":
		if _, ok := c.CalDAVs[c.Remote.CalDAVServer]; !ok {
			problems = append(problems, fmt.Sprintf("remote.caldav_server %q is not defined in caldav_servers", c.Remote.CalDAVServer))
		}
	default:
		problems = append(problems, fmt.Sprintf("remote.provider %q must be google or caldav", c.Remote.Provider))
	}
	if c.Remote.CalendarID == "" {
		problems = append(problems, "remote.calendar_id cannot be empty")
	}

	switch c.General.EventVisibility {
	case "", "default", "public", "private", "confidential":
	default:
		problems = append(problems, fmt.Sprintf("general.event_visibility %q is not a valid visibility", c.General.EventVisibility))
	}

	if c.Sync.Interval < 0 || (c.Sync.Interval > 0 && c.Sync.Interval < time.Second) {
		problems = append(problems, fmt.Sprintf("sync.interval %s must be zero or at least 1s", c.Sync.Interval))
	}
	if c.Sync.MaxAttempts == 0 {
		problems = append(problems, "sync.max_attempts must be at least 1")
	}
	if c.ChangeLog.SettleDelay < 0 || c.ChangeLog.Debounce < 0 {
		problems = append(problems, "changelog delays cannot be negative")
	}

	loc, err := loadLocation(c.General.Timezone)
	if err != nil {
		problems = append(problems, err.Error())
	}
	c.location = loc

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("general.timezone %q: %w", name, err)
	}
	return loc, nil
}

func newOAuthConfig(config *Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		Scopes:       []string{calendar.CalendarScope},
	}
}

// getTokenFromWeb runs the copy-paste consent flow on the terminal.
func getTokenFromWeb(ctx context.Context, config *oauth2.Config, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "Go to the following link in your browser then type the "+
		"authorization code: \n%v\n", authURL)

	authCode, err := bufio.NewReader(in).ReadString('\n')
	authCode = strings.TrimSpace(authCode)
	if authCode == "" {
		if err == nil {
			err = errors.New("empty code")
		}
		return nil, fmt.Errorf("unable to read authorization code: %w", err)
	}

	token, err := config.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve token from web: %w", err)
	}
	return token, nil
}

// storedTokenSource refreshes through base and writes every new access
// token back to the state database.
type storedTokenSource struct {
	base    oauth2.TokenSource
	db      *state.DB
	account string
	logger  *log.Logger

	mu   sync.Mutex
	last string
}

func (s *storedTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("token for account %s expired or revoked, run `gcalbridge auth`: %w", s.account, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken != s.last {
		if err := s.db.SaveToken(context.Background(), s.account, token); err != nil {
			s.logger.Printf("Failed to store refreshed token for %s: %v", s.account, err)
		} else {
			s.logger.Printf("Token refreshed for account %s", s.account)
		}
		s.last = token.AccessToken
	}
	return token, nil
}

// getClient returns an HTTP client authorized with the stored token of
// account. A missing token is an auth error; run `gcalbridge auth` first.
func getClient(ctx context.Context, config *oauth2.Config, db *state.DB, account string, logger *log.Logger) (*http.Client, error) {
	token, err := db.Token(ctx, account)
	if err != nil {
		if errors.Is(err, state.ErrNoToken) {
			return nil, fmt.Errorf("%w: %w, run `gcalbridge auth`", remote.ErrAuth, err)
		}
		return nil, err
	}

	src := &storedTokenSource{
		base:    config.TokenSource(ctx, token),
		db:      db,
		account: account,
		logger:  logger,
		last:    token.AccessToken,
	}
	return oauth2.NewClient(ctx, src), nil
}

func printVerbosely(verbosity int, format string, a ...interface{}) {
	// 0 - errors only
	// 1 - run summaries
	// 2 - per-record failures and invalid rows
	// 3 - everything
	if verbosity <= verbosityLevel {
		fmt.Printf(format, a...)
	}
}
