// Package logging configures the process-global structured logger shared by
// the worker and its daemons.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init installs a service-tagged slog.Logger as the process default and
// returns it. JSON output is selected with WORKFLOW_JSON_LOG=1|true|json,
// text otherwise.
func Init(service string) *slog.Logger {
	mode := strings.ToLower(os.Getenv("WORKFLOW_JSON_LOG"))
	opts := &slog.HandlerOptions{AddSource: false, Level: levelFromEnv()}

	var handler slog.Handler
	if mode == "1" || mode == "true" || mode == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	return logger
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("WORKFLOW_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithWork returns a derived logger tagged with the in-flight work id. The
// tag lives only on the returned value; nothing mutates global state, so it
// is automatically "reset" the moment the caller's scope ends.
func WithWork(logger *slog.Logger, workID string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("work_id", workID)
}

// LevelFromFlag maps the CLI --log-level flag onto a slog.Level, defaulting
// to Info on an unrecognized value.
func LevelFromFlag(flag string) slog.Level {
	switch strings.ToUpper(flag) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
