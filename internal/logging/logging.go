// Package logging builds the log sink shared by the bridge components:
// stderr plus an optional size-rotated file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultMaxSizeMB  = 5
	DefaultMaxBackups = 10
)

// Options configures the sink. An empty File logs to the console only.
type Options struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Console defaults to os.Stderr; set Quiet to drop console output.
	Console io.Writer
	Quiet   bool
}

// Sink fans log output out to the console and the rotated file.
type Sink struct {
	w    io.Writer
	file *lumberjack.Logger
}

func New(opts Options) *Sink {
	var writers []io.Writer
	if !opts.Quiet {
		console := opts.Console
		if console == nil {
			console = os.Stderr
		}
		writers = append(writers, console)
	}

	s := &Sink{}
	if opts.File != "" {
		if opts.MaxSizeMB <= 0 {
			opts.MaxSizeMB = DefaultMaxSizeMB
		}
		if opts.MaxBackups <= 0 {
			opts.MaxBackups = DefaultMaxBackups
		}
		s.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
			LocalTime:  true,
		}
		writers = append(writers, s.file)
	}

	switch len(writers) {
	case 0:
		s.w = io.Discard
	case 1:
		s.w = writers[0]
	default:
		s.w = io.MultiWriter(writers...)
	}
	return s
}

// Logger returns a logger tagged with the component name.
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.w, "["+component+"] ", log.LstdFlags)
}

func (s *Sink) Writer() io.Writer {
	return s.w
}

// Rotate starts a new log file; a no-op without one.
func (s *Sink) Rotate() error {
	if s.file == nil {
		return nil
	}
	return s.file.Rotate()
}

func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
