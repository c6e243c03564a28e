package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"maps"
	"sync"
	"time"

	"github.com/bobuk/gcalbridge/internal/changelog"
	"github.com/bobuk/gcalbridge/internal/keymap"
	"github.com/bobuk/gcalbridge/internal/remote"
)

type remoteCall struct {
	op    string
	id    string
	event remote.Event
}

// fakeClient is an in-memory calendar. Errors queued under "create:<summary>",
// "update:<id>" or "delete:<id>" are returned by the matching calls in order.
type fakeClient struct {
	mu     sync.Mutex
	calls  []remoteCall
	events map[string]remote.Event
	errs   map[string][]error
	nextID int
	hook   func(ctx context.Context, op string) error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		events: map[string]remote.Event{},
		errs:   map[string][]error{},
	}
}

func (c *fakeClient) failNext(key string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[key] = append(c.errs[key], errs...)
}

func (c *fakeClient) take(key string) error {
	queue := c.errs[key]
	if len(queue) == 0 {
		return nil
	}
	c.errs[key] = queue[1:]
	return queue[0]
}

func (c *fakeClient) runHook(ctx context.Context, op string) error {
	if c.hook == nil {
		return nil
	}
	return c.hook(ctx, op)
}

func (c *fakeClient) CreateEvent(ctx context.Context, event *remote.Event) (string, error) {
	if err := c.runHook(ctx, "create"); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, remoteCall{op: "create", event: *event})
	if err := c.take("create:" + event.Summary); err != nil {
		return "", err
	}
	c.nextID++
	id := fmt.Sprintf("r%d", c.nextID)
	c.events[id] = *event
	return id, nil
}

func (c *fakeClient) UpdateEvent(ctx context.Context, id string, event *remote.Event) error {
	if err := c.runHook(ctx, "update"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, remoteCall{op: "update", id: id, event: *event})
	if err := c.take("update:" + id); err != nil {
		return err
	}
	if _, ok := c.events[id]; !ok {
		return fmt.Errorf("update %s: %w", id, remote.ErrNotFound)
	}
	c.events[id] = *event
	return nil
}

func (c *fakeClient) DeleteEvent(ctx context.Context, id string) error {
	if err := c.runHook(ctx, "delete"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, remoteCall{op: "delete", id: id})
	if err := c.take("delete:" + id); err != nil {
		return err
	}
	if _, ok := c.events[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, remote.ErrNotFound)
	}
	delete(c.events, id)
	return nil
}

func (c *fakeClient) ops() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	for i, call := range c.calls {
		out[i] = call.op
	}
	return out
}

// fakeChangeLog hands out fresh copies of its unprocessed rows, like a
// workbook re-read from disk.
type fakeChangeLog struct {
	mu         sync.Mutex
	rows       []changelog.Record
	processed  map[int]bool
	invalid    []*changelog.RowError
	pendingErr error
	markErr    error
	markCalls  int
}

func newFakeChangeLog(records ...changelog.Record) *fakeChangeLog {
	l := &fakeChangeLog{processed: map[int]bool{}}
	for i, rec := range records {
		rec.Row = i + 2
		l.rows = append(l.rows, rec)
	}
	return l
}

func (l *fakeChangeLog) Pending(ctx context.Context) (*changelog.Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pendingErr != nil {
		return nil, l.pendingErr
	}
	batch := &changelog.Batch{Invalid: l.invalid}
	for _, row := range l.rows {
		if l.processed[row.Row] {
			batch.Processed++
			continue
		}
		rec := row
		batch.Records = append(batch.Records, &rec)
	}
	batch.Total = len(l.rows) + len(l.invalid)
	return batch, nil
}

func (l *fakeChangeLog) MarkProcessed(ctx context.Context, records []*changelog.Record) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.markCalls++
	if l.markErr != nil {
		return 0, l.markErr
	}
	for _, rec := range records {
		l.processed[rec.Row] = true
	}
	return len(records), nil
}

func (l *fakeChangeLog) isProcessed(externalID string, action changelog.Action) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, row := range l.rows {
		if row.ExternalID == externalID && row.Action == action {
			return l.processed[row.Row]
		}
	}
	return false
}

type memStore struct {
	mu      sync.Mutex
	m       keymap.Map
	saveErr error
	saves   int
}

func newMemStore(m keymap.Map) *memStore {
	if m == nil {
		m = keymap.Map{}
	}
	return &memStore{m: m}
}

func (s *memStore) Load(ctx context.Context) (keymap.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneKeys(s.m), nil
}

func (s *memStore) Save(ctx context.Context, m keymap.Map) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.m = cloneKeys(m)
	return nil
}

func (s *memStore) snapshot() keymap.Map {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneKeys(s.m)
}

// cloneKeys copies m, never returning nil so callers can write to it.
func cloneKeys(m keymap.Map) keymap.Map {
	out := make(keymap.Map, len(m))
	maps.Copy(out, m)
	return out
}

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func record(id string, action changelog.Action, minute int, subject string) changelog.Record {
	start := baseTime.Add(24 * time.Hour)
	return changelog.Record{
		ExternalID: id,
		Action:     action,
		Timestamp:  baseTime.Add(time.Duration(minute) * time.Minute),
		Subject:    subject,
		Start:      start,
		End:        start.Add(time.Hour),
	}
}

type testEnv struct {
	client      *fakeClient
	log         *fakeChangeLog
	store       *memStore
	engine      *Engine
	clientCalls int
	clientErr   error
}

func newTestEnv(keys keymap.Map, records ...changelog.Record) *testEnv {
	env := &testEnv{
		client: newFakeClient(),
		log:    newFakeChangeLog(records...),
		store:  newMemStore(keys),
	}
	env.engine = New(env.log, env.store, func(ctx context.Context) (remote.Client, error) {
		env.clientCalls++
		if env.clientErr != nil {
			return nil, env.clientErr
		}
		return env.client, nil
	}, Options{
		CallTimeout:    time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Logger:         log.New(io.Discard, "", 0),
	})
	return env
}

var errBadRequest = errors.New("400 bad request")
