// Package logging configures zerolog for the crawler service.
//
// Library packages never configure logging themselves: they derive a
// component logger from the global one (component field) and accept a
// *zerolog.Logger override in their Config.
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
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer

	// Service is added to every entry when set.
	Service string
}

// DefaultConfig returns JSON logging at info level.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(string(cfg.Level)))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger
	return logger
}

// ParseLevel converts a level name to a zerolog.Level. Unknown names map
// to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
// Debug: request flow and internal state
//   - token cache hits, signer calls, retry scheduling
//   - per-page cursor advances
//
// Info: normal operation events
//   - job submitted, started, completed, cancelled
//   - token acquired, server startup/shutdown
//
// Warn: degraded but continuing
//   - page or reply failures that leave partial results
//   - 429 cooldowns, placeholder msToken, empty bodies
//   - Redis mirror write failures
//
// Error: a request or job failed
//   - non-2xx responses after classification
//   - jobs moving to failed, panics
//
// Context Fields:
//   - component: emitting package
//   - job_id, video_id, comment_id: crawl identity
//   - url: request URL without query string
//   - status_code, error_class, attempt: fetch outcome
//   - pages, items, processed, total: crawl progress
