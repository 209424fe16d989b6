package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger. LOG_FORMAT=json switches to JSON
// lines; every record carries the service and environment.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(out io.Writer, cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = &Config{}
	}
	opts := &slog.HandlerOptions{AddSource: true, Level: parseLevel(cfg.LogLevel)}
	var handler slog.Handler = slog.NewTextHandler(out, opts)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	}
	logger := slog.New(handler).With(slog.String("service", "campusdesk"))
	if cfg.AppEnv != "" {
		logger = logger.With(slog.String("env", cfg.AppEnv))
	}
	return logger
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return level
}
