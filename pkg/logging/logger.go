// Package logging configures zerolog for the client, the coordinator and the CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

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

// Component names attached to package loggers.
const (
	ComponentClient      = "itemsense-client"
	ComponentCoordinator = "coordinator"
	ComponentBroker      = "broker"
	ComponentCLI         = "cli"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// ParseLevel validates a level name from flags or configuration.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", name)
	}
}

// Setup configures the global zerolog logger. Package loggers created with
// NewLogger after Setup inherit its output and level.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.TimeOnly}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level, defaulting to info.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Each request (method, endpoint, query)
//   - Each fetched page (page number, items, has_next)
//   - Rate limiter delays
//
// Info: Normal operation events
//   - Job started (job_id, watermark)
//   - Poll complete (poll, fetched, kept, items)
//   - Run completed, report written
//   - Queue configured, subscriber connected
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts
//   - Server-imposed backoff (Retry-After)
//   - Page walk discarded, run cancelled with partial report
//   - Broker connection lost (reconnecting)
//
// Error: Error conditions requiring attention
//   - Retries exhausted
//   - Job start or poll failure aborting a run
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (see Component* constants)
//   - run_id: coordinator run
//   - job_id: remote job identifier
//   - poll: 1-based poll number
//   - endpoint: API path
//   - status: HTTP status code
//   - error_class: client, server, rate_limit, network
//   - items: aggregated item count
//   - queue: broker queue name
