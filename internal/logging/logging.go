// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/sgreports-dev/sgreports/internal/config"
)

// ParseLevel maps a config level name to a slog level. Unknown names
// resolve to Info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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

// New builds a logger writing to w in the configured format.
func New(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Setup installs a logger built by New as the slog default and returns it.
func Setup(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	l := New(cfg, w)
	slog.SetDefault(l)
	return l
}
