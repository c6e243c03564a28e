// Package scheduler decides when reconciliation runs: on startup, on a
// periodic timer, when the change log changes on disk and on demand. At
// most one run is in flight; triggers that arrive meanwhile are dropped.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bobuk/gcalbridge/internal/reconcile"
)

// State is the coordinator's run state.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Source names what triggered a run.
type Source string

const (
	SourceStartup Source = "startup"
	SourceTimer   Source = "timer"
	SourceWatch   Source = "watch"
	SourceManual  Source = "manual"
)

// RunFunc performs one reconciliation run.
type RunFunc func(ctx context.Context) (*reconcile.RunState, error)

// Result describes a finished run, whatever its outcome.
type Result struct {
	Source   Source
	Started  time.Time
	Finished time.Time
	State    *reconcile.RunState
	Err      error
	Panicked bool
}

// Config holds configuration for the coordinator.
type Config struct {
	// Interval between timer-triggered runs. Zero disables the timer.
	Interval time.Duration

	// SettleDelay is waited inside a run before touching the change log, so
	// an exporter that is still saving can finish.
	SettleDelay time.Duration

	// OnComplete is called with every finished run before the coordinator
	// returns to Idle.
	OnComplete func(Result)

	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		SettleDelay: 3 * time.Second,
		Logger:      log.New(os.Stderr, "[scheduler] ", log.LstdFlags),
	}
}

// Coordinator runs RunFunc with a single-flight guard.
type Coordinator struct {
	run    RunFunc
	config Config
	logger *log.Logger

	mu       sync.Mutex
	state    State
	last     *Result
	interval time.Duration
	entry    cron.EntryID
	started  bool
	stopped  bool

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(run RunFunc, config Config) (*Coordinator, error) {
	if run == nil {
		return nil, fmt.Errorf("run func cannot be nil")
	}
	if err := validateInterval(config.Interval); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[scheduler] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		run:      run,
		config:   config,
		logger:   logger,
		interval: config.Interval,
		cron:     cron.New(cron.WithLogger(cron.PrintfLogger(logger))),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func validateInterval(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("sync interval cannot be negative")
	}
	if d != 0 && d < time.Second {
		return fmt.Errorf("sync interval %s is shorter than one second", d)
	}
	return nil
}

// Start starts the periodic timer. It does not trigger a run by itself.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return fmt.Errorf("coordinator is stopped")
	}
	if c.started {
		return fmt.Errorf("coordinator already started")
	}
	c.schedule(c.interval)
	c.cron.Start()
	c.started = true
	return nil
}

// schedule replaces the timer entry. Callers hold c.mu.
func (c *Coordinator) schedule(d time.Duration) {
	if c.entry != 0 {
		c.cron.Remove(c.entry)
		c.entry = 0
	}
	if d == 0 {
		return
	}
	c.entry = c.cron.Schedule(cron.Every(d), cron.FuncJob(func() {
		c.Trigger(SourceTimer)
	}))
}

// SetInterval changes the timer period. An in-flight run is not affected.
func (c *Coordinator) SetInterval(d time.Duration) error {
	if err := validateInterval(d); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interval == d {
		return nil
	}
	c.interval = d
	if c.started && !c.stopped {
		c.schedule(d)
	}
	c.logger.Printf("Sync interval set to %s", d)
	return nil
}

func (c *Coordinator) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastRun returns the most recent finished run.
func (c *Coordinator) LastRun() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Result{}, false
	}
	return *c.last, true
}

// Trigger starts a run unless one is already in flight. It never blocks and
// reports whether a run was started.
func (c *Coordinator) Trigger(source Source) bool {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return false
	}
	if c.state == Running {
		c.mu.Unlock()
		c.logger.Printf("Sync already running, ignoring %s trigger", source)
		return false
	}
	c.state = Running
	c.wg.Add(1)
	c.mu.Unlock()

	go c.execute(source)
	return true
}

func (c *Coordinator) execute(source Source) {
	defer c.wg.Done()

	result := Result{Source: source, Started: time.Now()}
	c.runProtected(&result)
	result.Finished = time.Now()

	c.mu.Lock()
	c.last = &result
	c.mu.Unlock()

	if c.config.OnComplete != nil {
		c.complete(result)
	}

	c.mu.Lock()
	c.state = Idle
	c.mu.Unlock()
}

func (c *Coordinator) runProtected(result *Result) {
	defer func() {
		if r := recover(); r != nil {
			result.Panicked = true
			result.Err = fmt.Errorf("sync panicked: %v", r)
			c.logger.Printf("Sync panicked: %v\n%s", r, debug.Stack())
		}
	}()

	if c.config.SettleDelay > 0 {
		t := time.NewTimer(c.config.SettleDelay)
		select {
		case <-t.C:
		case <-c.ctx.Done():
			t.Stop()
			result.Err = c.ctx.Err()
			return
		}
	}
	result.State, result.Err = c.run(c.ctx)
}

func (c *Coordinator) complete(result Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("Completion handler panicked: %v", r)
		}
	}()
	c.config.OnComplete(result)
}

// Wait blocks until no run is in flight.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Stop stops the timer, cancels an in-flight run at its next record
// boundary and waits for it to finish.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	started := c.started
	c.mu.Unlock()

	if started {
		<-c.cron.Stop().Done()
	}
	c.cancel()
	c.wg.Wait()
}
