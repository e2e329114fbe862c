// slog.go configures the process-wide structured logger. Request logging,
// the chain write path, and the background jobs all log through the slog
// default, so cmd/server calls SetupLogger before anything else can emit a
// record.
package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs the global slog default from the logging section of
// the service configuration.
//
// format: "json" → JSONHandler (production); anything else → TextHandler
// (local development).
//
// level: "debug", "info", "warn", "error" (case-insensitive); defaults to
// "info". Source locations are attached only at debug level.
func SetupLogger(format, level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug, // include file:line only when debugging
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}
