package logging

import (
	"log/slog"
	"os"
	"strings"
)

// LevelEnvVar overrides the log level when no flag is given.
const LevelEnvVar = "SKIFF_LOG_LEVEL"

var logger *slog.Logger

// Init initializes the global structured logger.
func Init(level string) {
	if level == "" {
		level = os.Getenv(LevelEnvVar)
	}

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

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	})
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// Logger returns the global logger instance.
func Logger() *slog.Logger {
	if logger == nil {
		Init("")
	}
	return logger
}

// With returns a child logger with the given attributes attached.
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}

func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { Logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger().Warn(msg, args...) }
func Error(msg string, args ...any) { Logger().Error(msg, args...) }
