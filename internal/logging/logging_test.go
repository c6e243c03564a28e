package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSinkWritesConsoleAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	var console bytes.Buffer
	sink := New(Options{File: path, Console: &console})
	defer sink.Close()

	sink.Logger("sync").Printf("Created event %s", "abc")

	if !strings.Contains(console.String(), "[sync] ") || !strings.Contains(console.String(), "Created event abc") {
		t.Errorf("console output = %q", console.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "Created event abc") {
		t.Errorf("file output = %q", data)
	}
}

func TestSinkDefaults(t *testing.T) {
	sink := New(Options{File: filepath.Join(t.TempDir(), "bridge.log"), Quiet: true})
	defer sink.Close()
	if sink.file.MaxSize != DefaultMaxSizeMB || sink.file.MaxBackups != DefaultMaxBackups {
		t.Errorf("rotation = %d MB x %d, want %d MB x %d",
			sink.file.MaxSize, sink.file.MaxBackups, DefaultMaxSizeMB, DefaultMaxBackups)
	}
}

func TestSinkRotate(t *testing.T) {
	dir := t.TempDir()
	sink := New(Options{File: filepath.Join(dir, "bridge.log"), Quiet: true})
	defer sink.Close()

	sink.Logger("x").Print("before")
	if err := sink.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	sink.Logger("x").Print("after")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("files after rotate = %d, want 2", len(entries))
	}
}

func TestSinkQuietWithoutFile(t *testing.T) {
	sink := New(Options{Quiet: true})
	sink.Logger("x").Print("dropped")
	if err := sink.Rotate(); err != nil {
		t.Errorf("Rotate without file: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("Close without file: %v", err)
	}
}
