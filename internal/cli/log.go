// Package cli implements the chai command-line interface.
//
// This package provides commands for running ingestion pipelines, the
// canonical-project deduplicator, and the monitor endpoint. The CLI is
// built using cobra and logs via the charmbracelet/log library.
//
// # Commands
//
//   - pipeline: run one or more package-manager ingestion pipelines
//   - dedupe: merge packages across ecosystems into canonical projects
//   - monitor: serve the health and metrics endpoint standalone
//
// # Logging
//
// DEBUG=true (or --verbose) lowers the log level to debug. Loggers are
// passed through context.Context so every component logs through the same
// configured instance.
package cli

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// newLogger creates a new logger with timestamp formatting.
// The logger writes to w and filters messages at the specified level.
// Timestamps are formatted as "HH:MM:SS" plus hundredths of a second
// (e.g., "14:32:01.45").
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// ctxKey is the type for context keys used in this package.
// Using a distinct type prevents collisions with other packages.
type ctxKey int

// loggerKey is the context key for storing a logger.
const loggerKey ctxKey = 0

// withLogger returns a new context with the given logger attached.
func withLogger(ctx context.Context, l *log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// loggerFromContext retrieves the logger from ctx.
// If no logger is attached, it returns log.Default().
func loggerFromContext(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(loggerKey).(*log.Logger); ok {
		return l
	}
	return log.Default()
}

// progress tracks the start time of an operation and logs completion with
// elapsed duration, rounded to the nearest millisecond.
type progress struct {
	logger *log.Logger
	start  time.Time
}

func newProgress(l *log.Logger) *progress {
	return &progress{logger: l, start: time.Now()}
}

func (p *progress) done(msg string) {
	p.logger.Infof("%s (%s)", msg, time.Since(p.start).Round(time.Millisecond))
}
