package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Option configures NewRunLogger.
type Option func(*runLoggerOptions)

type runLoggerOptions struct {
	runID    string
	debug    bool
	filePath string
}

// WithRunID adds a run_id field to every record.
func WithRunID(runID string) Option {
	return func(o *runLoggerOptions) {
		o.runID = strings.TrimSpace(runID)
	}
}

// WithDebug lowers the level to debug.
func WithDebug(debug bool) Option {
	return func(o *runLoggerOptions) {
		o.debug = debug
	}
}

// WithFile sends JSON records to the given file instead of the console.
func WithFile(path string) Option {
	return func(o *runLoggerOptions) {
		o.filePath = strings.TrimSpace(path)
	}
}

// RunLogger is the harness-wide logger, used for everything that is not tied to a single
// test: deploying and supervising the service, the suite lifecycle, and so on.
type RunLogger struct {
	*log.Logger
	file *os.File
	path string
}

// NewRunLogger creates a RunLogger writing human-readable records to console, or JSON records
// to a file if WithFile was given.
func NewRunLogger(console io.Writer, options ...Option) (*RunLogger, error) {
	var resolved runLoggerOptions
	for _, option := range options {
		if option != nil {
			option(&resolved)
		}
	}

	level := log.InfoLevel
	if resolved.debug {
		level = log.DebugLevel
	}

	r := &RunLogger{}
	dest := console
	if resolved.filePath != "" {
		if err := os.MkdirAll(filepath.Dir(resolved.filePath), 0o750); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		// #nosec G304 -- the path comes from the command line.
		file, err := os.OpenFile(resolved.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		r.file = file
		r.path = resolved.filePath
		dest = file
	}

	logger := log.NewWithOptions(dest, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	if r.file != nil {
		logger.SetFormatter(log.JSONFormatter)
	}
	if resolved.runID != "" {
		logger = logger.With("run_id", resolved.runID)
	}
	r.Logger = logger
	return r, nil
}

// Path returns the log file path, or "" when logging to the console.
func (r *RunLogger) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// Close closes the log file, if any.
func (r *RunLogger) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}
