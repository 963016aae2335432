package app

import (
	"log/slog"
	"os"
)

// NewLogger returns a configured slog.Logger based on configuration.
// Production runs log JSON at info level; everything else logs text with
// source locations for easier debugging.
func NewLogger(cfg *Config) *slog.Logger {
	level := slog.LevelDebug
	if cfg != nil && cfg.IsProduction() {
		level = slog.LevelInfo
	}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true, Level: level}))
}
