// Package common contains the logger setup and build metadata shared by all
// secure-node-control binaries.
package common

import (
	"log/slog"
	"os"
)

// LoggingOpts configures the process-wide structured logger.
type LoggingOpts struct {
	// Service is added as a "service" attribute to every log line.
	Service string

	// JSON switches the handler from human-readable text to JSON output.
	JSON bool

	// Debug lowers the log level to slog.LevelDebug.
	Debug bool

	// Version is added as a "version" attribute when non-empty.
	Version string
}

// SetupLogger creates a slog.Logger writing to stderr according to opts.
func SetupLogger(opts *LoggingOpts) (log *slog.Logger) {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	if opts.JSON {
		log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	} else {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	}

	log = log.With("service", opts.Service)
	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}
	return log
}
