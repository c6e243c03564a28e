package scheduler

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startTestWatcher(t *testing.T, path string, debounce time.Duration) <-chan struct{} {
	t.Helper()
	changes := make(chan struct{}, 10)
	w, err := NewWatcher(path, debounce, func() { changes <- struct{}{} }, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return changes
}

func countWithin(ch <-chan struct{}, d time.Duration) int {
	n := 0
	deadline := time.After(d)
	for {
		select {
		case <-ch:
			n++
		case <-deadline:
			return n
		}
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "changes.xlsx")
	if err := os.WriteFile(path, []byte("v0"), 0o600); err != nil {
		t.Fatal(err)
	}
	changes := startTestWatcher(t, path, 100*time.Millisecond)

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte{byte('a' + i)}, 0o600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if n := countWithin(changes, 600*time.Millisecond); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
}

func TestWatcherSeesRenameOntoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "changes.xlsx")
	if err := os.WriteFile(path, []byte("v0"), 0o600); err != nil {
		t.Fatal(err)
	}
	changes := startTestWatcher(t, path, 50*time.Millisecond)

	tmp := filepath.Join(dir, "save.tmp")
	if err := os.WriteFile(tmp, []byte("v1"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	if n := countWithin(changes, 500*time.Millisecond); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "changes.xlsx")
	changes := startTestWatcher(t, path, 50*time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "other.xlsx"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if n := countWithin(changes, 300*time.Millisecond); n != 0 {
		t.Errorf("notifications = %d, want 0", n)
	}
}

func TestWatcherStopTwice(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "changes.xlsx"), 0, func() {}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
