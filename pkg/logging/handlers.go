// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// =============================================================================
// Multi-Handler (Internal)
// =============================================================================

// multiHandler fans out log records to multiple slog handlers.
//
// Unlike a short-circuiting fan-out, every handler sees the record even when
// an earlier one fails; the failures are joined.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// =============================================================================
// Console routing
// =============================================================================

// severityRouter sends warn and error records to one handler and everything
// else to another, which keeps stdout clean for piping.
type severityRouter struct {
	low  slog.Handler
	high slog.Handler
}

func (h *severityRouter) pick(level slog.Level) slog.Handler {
	if level >= slog.LevelWarn {
		return h.high
	}
	return h.low
}

func (h *severityRouter) Enabled(ctx context.Context, level slog.Level) bool {
	return h.pick(level).Enabled(ctx, level)
}

func (h *severityRouter) Handle(ctx context.Context, r slog.Record) error {
	return h.pick(r.Level).Handle(ctx, r)
}

func (h *severityRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &severityRouter{low: h.low.WithAttrs(attrs), high: h.high.WithAttrs(attrs)}
}

func (h *severityRouter) WithGroup(name string) slog.Handler {
	return &severityRouter{low: h.low.WithGroup(name), high: h.high.WithGroup(name)}
}

// jsonHandlerOptions renames the built-in keys to the record field names and
// renders timestamps as RFC 3339 UTC.
func jsonHandlerOptions() *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String("timestamp", t.UTC().Format(time.RFC3339Nano))
				}
			case slog.LevelKey:
				if l, ok := a.Value.Any().(slog.Level); ok {
					return slog.String("level", strings.ToLower(fromSlogLevel(l).String()))
				}
			case slog.MessageKey:
				a.Key = "message"
			}
			return a
		},
	}
}

// =============================================================================
// Human-readable console handler
// =============================================================================

var levelColors = map[Level]string{
	LevelDebug: "\x1b[90m",
	LevelInfo:  "\x1b[36m",
	LevelWarn:  "\x1b[33m",
	LevelError: "\x1b[31m",
}

const colorReset = "\x1b[0m"

// formattedHandler writes "[HH:MM:SS.mmm] LEVEL   message" lines. Error
// details and recovery actions are printed on indented continuation lines.
type formattedHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	color bool
}

func newFormattedHandler(w io.Writer) *formattedHandler {
	return &formattedHandler{mu: &sync.Mutex{}, w: w, color: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (h *formattedHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *formattedHandler) Handle(_ context.Context, r slog.Record) error {
	level := fromSlogLevel(r.Level)
	label := fmt.Sprintf("%-7s", level.String())
	if h.color {
		label = levelColors[level] + label + colorReset
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s\n", r.Time.Format("15:04:05.000"), label, r.Message)

	r.Attrs(func(a slog.Attr) bool {
		if a.Key != "error" {
			return true
		}
		if info, ok := a.Value.Any().(*ErrorInfo); ok && info != nil {
			fmt.Fprintf(&b, "    error [%s]: %s\n", info.Category, info.Message)
			for _, action := range info.RecoveryActions {
				fmt.Fprintf(&b, "    -> %s\n", action)
			}
		}
		return false
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// Attributes are rendered from the record only.
func (h *formattedHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *formattedHandler) WithGroup(string) slog.Handler      { return h }

// =============================================================================
// File sink
// =============================================================================

// fileSink is a lazily opened append-only log file.
//
// The parent directory is created on first write. A failed write closes the
// handle so the next write retries the open; the failure is returned to the
// caller, which reports it on the console.
type fileSink struct {
	mu   sync.Mutex
	path string
	file *os.File
}

func newFileSink(path string) *fileSink {
	return &fileSink{path: expandPath(path)}
}

func (s *fileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
			return 0, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return 0, fmt.Errorf("open log file: %w", err)
		}
		s.file = f
	}

	n, err := s.file.Write(p)
	if err != nil {
		_ = s.file.Close()
		s.file = nil
		return n, fmt.Errorf("write log file: %w", err)
	}
	return n, nil
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	var errs []error
	if err := s.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync log file: %w", err))
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close log file: %w", err))
	}
	s.file = nil
	return errors.Join(errs...)
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
