// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for sentinel components.
//
// It is a thin layer over Go's slog: stderr for interactive use, plus
// an optional JSON file per service per day. Commands construct one
// Logger at startup and hand Slog() to packages that take a
// *slog.Logger.
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.sentinel/logs", // ~ is expanded
//	    Service: "sentinel",
//	})
//	defer logger.Close()
//
// # Security Considerations
//
// This package does NOT redact sensitive data. Callers must keep PII,
// tokens, and raw evidence payloads out of log attributes.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures Logger behavior. The zero value writes Info+
// messages to stderr as text.
type Config struct {
	// Level is the minimum level emitted. Default: LevelInfo.
	Level Level

	// LogDir, when set, enables JSON file logging under this directory
	// (created 0750 if missing). The file is named
	// "{Service}_{YYYY-MM-DD}.log". A leading ~ is expanded.
	LogDir string

	// Service is stamped on every entry as the "service" attribute and
	// names the log file. Defaults to "sentinel" for file naming.
	Service string

	// JSON switches stderr output to JSON. The file is always JSON.
	JSON bool

	// Quiet suppresses stderr; entries go only to the file.
	Quiet bool
}

// Logger is a leveled, multi-destination slog wrapper. Close a logger
// that has file logging configured.
//
// Thread Safety: safe for concurrent use.
type Logger struct {
	slog *slog.Logger
	file *os.File
}

// New builds a Logger from the config. A file that cannot be opened
// degrades silently to stderr-only; logging must never take the
// process down.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}
	l := &Logger{}

	var dests []slog.Handler
	if !config.Quiet {
		if config.JSON {
			dests = append(dests, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			dests = append(dests, slog.NewTextHandler(os.Stderr, opts))
		}
	}
	if f := openLogFile(config.LogDir, config.Service); f != nil {
		l.file = f
		dests = append(dests, slog.NewJSONHandler(f, opts))
	}

	var handler slog.Handler
	switch len(dests) {
	case 0:
		// Quiet with no file still needs somewhere to go.
		handler = slog.NewTextHandler(os.Stderr, opts)
	case 1:
		handler = dests[0]
	default:
		handler = &fanoutHandler{dests: dests}
	}
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	l.slog = slog.New(handler)
	return l
}

// Default returns an Info-level, stderr-only logger for service
// "sentinel".
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "sentinel"})
}

// openLogFile opens (appending) today's log file under dir, or returns
// nil when dir is empty or the file cannot be created.
func openLogFile(dir, service string) *os.File {
	if dir == "" {
		return nil
	}
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil
	}
	if service == "" {
		service = "sentinel"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil
	}
	return f
}

// Debug logs at Debug level.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at Info level.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at Warn level.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at Error level.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a child Logger carrying extra attributes. The parent is
// unchanged; the file handle is shared, so Close only the parent.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), file: l.file}
}

// Slog exposes the underlying slog.Logger for packages that accept one
// directly.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close syncs and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("sync log file: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

// fanoutHandler delivers each record to every destination, letting
// stderr and the file keep different formats.
type fanoutHandler struct {
	dests []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, d := range h.dests {
		if d.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, d := range h.dests {
		if d.Enabled(ctx, r.Level) {
			if err := d.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	dests := make([]slog.Handler, len(h.dests))
	for i, d := range h.dests {
		dests[i] = d.WithAttrs(attrs)
	}
	return &fanoutHandler{dests: dests}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	dests := make([]slog.Handler, len(h.dests))
	for i, d := range h.dests {
		dests[i] = d.WithGroup(name)
	}
	return &fanoutHandler{dests: dests}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
