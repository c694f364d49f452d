// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel `yaml:"level" default:"info"`

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool `yaml:"pretty"`

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer `yaml:"-"`
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a LogLevel to a zerolog.Level, defaulting to info.
func ParseLevel(level LogLevel) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(string(level)))
	if name == "warning" {
		name = "warn"
	}
	parsed, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return parsed
}

// NewLogger creates a logger derived from the global one with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForOperation scopes a logger to one bulk operation so that its start,
// finish and error events share the same operation_id.
func ForOperation(logger zerolog.Logger, operationID, method string) zerolog.Logger {
	return logger.With().
		Str("operation_id", operationID).
		Str("method", method).
		Logger()
}

// Log Level Guidelines:
//
// Debug: per-request detail
//   - batch commands sent, sub-responses failed
//   - traversal probes and page fetches (cursor, page size)
//   - cache hit/miss
//
// Info: operation boundaries
//   - bulk operation start/finish (operation_id, items, yielded)
//   - traversal completion (items, pages, duration)
//   - retries that eventually succeeded
//
// Warn: degraded but progressing
//   - operating budget low
//   - retry attempts exhausted
//   - cache errors (fallback to direct request)
//
// Error: the operation failed
//   - transport failures surfaced to the caller
//   - invalid arguments rejected before any request
//   - operating budget critical, request blocked
//
// Context Fields:
//   - component: emitting package (b24-client, batch, entity, pagination)
//   - operation_id: uuid shared by the events of one bulk operation
//   - method: REST method name
//   - index: input position of the failing item
//   - items / yielded: counts
//   - error_class: transport error classification
