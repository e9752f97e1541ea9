// Package logging builds the process logger.
//
// Components take a *log.Logger with their own prefix. For derives those
// loggers from one base so they share its output, which is stderr, a
// rotating file, or both.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the base logger.
type Options struct {
	// File is the log file path. Empty logs to stderr only.
	File string

	// Verbose also writes to stderr when File is set, and enables
	// component logs that are discarded otherwise.
	Verbose bool

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger is the base logger and the sink it owns.
type Logger struct {
	*log.Logger
	closer  io.Closer
	verbose bool
}

// New creates the base logger.
func New(opts Options) (*Logger, error) {
	if opts.File == "" {
		return &Logger{
			Logger:  log.New(os.Stderr, "", log.LstdFlags),
			verbose: opts.Verbose,
		}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, err
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}

	var w io.Writer = rotator
	if opts.Verbose {
		w = io.MultiWriter(rotator, os.Stderr)
	}
	return &Logger{
		Logger:  log.New(w, "", log.LstdFlags),
		closer:  rotator,
		verbose: true,
	}, nil
}

// For returns a logger for component that writes to the base output.
// Without a log file and without Verbose, component logs are discarded so
// CLI output stays clean; warnings still reach stderr through Warnings.
func (l *Logger) For(component string) *log.Logger {
	if !l.verbose {
		return log.New(io.Discard, "", 0)
	}
	return For(l.Logger, component)
}

// Warnings returns a logger for component that always writes somewhere the
// user will see it.
func (l *Logger) Warnings(component string) *log.Logger {
	return For(l.Logger, component)
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// For derives a logger prefixed with "[component] " from base.
func For(base *log.Logger, component string) *log.Logger {
	return log.New(base.Writer(), "["+component+"] ", base.Flags())
}
