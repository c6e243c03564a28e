package scheduler

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes to a single file. It watches the file's directory
// because spreadsheet programs save by writing a temp file and renaming it
// over the original, which drops a watch on the file itself.
type Watcher struct {
	dir      string
	name     string
	debounce time.Duration
	onChange func()
	logger   *log.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewWatcher creates a watcher for path. Bursts of events closer together
// than debounce produce one onChange call.
func NewWatcher(path string, debounce time.Duration, onChange func(), logger *log.Logger) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange cannot be nil")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[watcher] ", log.LstdFlags)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		dir:      filepath.Dir(abs),
		name:     filepath.Base(abs),
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		watcher:  watcher,
		done:     make(chan struct{}),
	}, nil
}

func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", w.dir, err)
	}
	w.running = true
	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop stops watching and waits for the event loop to exit. A pending
// debounced notification is dropped.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			w.onChange()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Watch error: %v", err)
		}
	}
}

// relevant reports whether event touches the watched file. A rename onto
// the file shows up as Create.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != w.name {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write)
}
