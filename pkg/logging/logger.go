// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured, correlated logging for proxmox-mpc.
//
// Every call produces an immutable LogRecord that is kept in a bounded
// in-memory ring buffer (for diagnostics and the "logs" command) and
// written to the configured sinks:
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                           Logger                             │
//	│  ┌──────────────┐   ┌──────────────┐   ┌──────────────────┐  │
//	│  │ ring buffer  │   │   console    │   │   log file       │  │
//	│  │ (1000 recs)  │   │ stdout/stderr│   │  (JSON lines)    │  │
//	│  └──────────────┘   └──────────────┘   └──────────────────┘  │
//	└──────────────────────────────────────────────────────────────┘
//
// The sinks are log/slog handlers fanned out by a multi-handler: a JSON
// handler for structured output and the file, and a formatted handler for
// human-readable console lines.
//
// # Correlation
//
// Records emitted while a trace is active share the trace's ID as their
// CorrelationID. The Tracer sets and clears the Logger's ambient
// TraceContext; code that runs several operations concurrently should log
// through a span-bound logger from WithTrace instead, which never depends
// on the shared ambient value.
//
// # Thread Safety
//
// Logger and every logger derived from it are safe for concurrent use.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/AleutianAI/proxmox-mpc/internal/util"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// BufferCapacity is the number of records retained in memory.
const BufferCapacity = 1000

// ToolName names the default log directory and file.
const ToolName = "proxmox-mpc"

var (
	// ErrInvalidLevel is returned for a level outside debug..error.
	ErrInvalidLevel = errors.New("invalid log level")

	// ErrMissingFilePath is returned when file output is enabled without a path.
	ErrMissingFilePath = errors.New("file logging enabled but no file path configured")
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Logger.
//
// # Examples
//
//	cfg := logging.DefaultConfig()
//	cfg.EnableFile = true
//	cfg.FilePath = logging.DefaultFilePath(workspace)
//	logger, err := logging.New(cfg)
type Config struct {
	// Level is the minimum level emitted.
	Level Level `yaml:"level" json:"level"`

	// EnableConsole writes debug/info to stdout and warn/error to stderr.
	EnableConsole bool `yaml:"enableConsole" json:"enableConsole"`

	// EnableFile appends JSON lines to FilePath.
	EnableFile bool   `yaml:"enableFile" json:"enableFile"`
	FilePath   string `yaml:"filePath" json:"filePath"`

	// EnableStructured switches console output to single-line JSON.
	EnableStructured bool `yaml:"enableStructured" json:"enableStructured"`

	// EnableTracing makes records adopt the active trace ID as their
	// correlation ID.
	EnableTracing bool `yaml:"enableTracing" json:"enableTracing"`

	// Service is added to every sink line as the "service" attribute.
	Service string `yaml:"service" json:"service"`

	// Stdout and Stderr override the console writers. Nil means os.Stdout
	// and os.Stderr.
	Stdout io.Writer `yaml:"-" json:"-"`
	Stderr io.Writer `yaml:"-" json:"-"`
}

// DefaultConfig returns console-only, human-readable logging at info level
// with tracing correlation enabled.
func DefaultConfig() Config {
	return Config{
		Level:         LevelInfo,
		EnableConsole: true,
		EnableTracing: true,
		Service:       ToolName,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if !c.Level.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, int(c.Level))
	}
	if c.EnableFile && c.FilePath == "" {
		return ErrMissingFilePath
	}
	return nil
}

func (c Config) stdout() io.Writer {
	if c.Stdout != nil {
		return c.Stdout
	}
	return os.Stdout
}

func (c Config) stderr() io.Writer {
	if c.Stderr != nil {
		return c.Stderr
	}
	return os.Stderr
}

// DefaultFilePath returns <base>/.proxmox-mpc/logs/proxmox-mpc.log where
// base is workspace, or the home directory when workspace is empty.
func DefaultFilePath(workspace string) string {
	base := workspace
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil {
			base = home
		} else {
			base = "."
		}
	}
	return filepath.Join(base, "."+ToolName, "logs", ToolName+".log")
}

// =============================================================================
// Logger
// =============================================================================

// Logger emits correlated structured records.
//
// A Logger returned by New owns the sinks, the record buffer and the
// ambient trace context. Loggers derived with WithTrace share all of that
// and differ only in the trace identity stamped on their records.
type Logger struct {
	core  *loggerCore
	bound *TraceContext
}

type loggerCore struct {
	mu        sync.RWMutex
	config    Config
	handler   slog.Handler
	file      *fileSink
	ambient   *TraceContext
	observers []RecordObserver

	buffer   *util.RingBuffer[LogRecord]
	sinkWarn rate.Sometimes
}

// LogFilter narrows RecentLogs. Zero values match everything.
type LogFilter struct {
	// Level, when non-nil, keeps only records at exactly this level.
	Level         *Level
	Operation     string
	CorrelationID string
}

func (f LogFilter) matches(rec LogRecord) bool {
	if f.Level != nil && rec.Level != *f.Level {
		return false
	}
	if f.Operation != "" && rec.Operation != f.Operation {
		return false
	}
	if f.CorrelationID != "" && rec.CorrelationID != f.CorrelationID {
		return false
	}
	return true
}

// New creates a Logger from config.
//
// # Outputs
//
//   - *Logger: Ready for use. Call Close to release the log file.
//   - error: ErrInvalidLevel or ErrMissingFilePath.
//
// # Assumptions
//
//   - The log file is opened lazily on the first write, so an unwritable
//     path does not fail construction.
func New(config Config) (*Logger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	core := &loggerCore{
		buffer:   util.NewRingBuffer[LogRecord](BufferCapacity),
		sinkWarn: rate.Sometimes{Interval: 30 * time.Second},
	}
	core.config = config
	core.handler, core.file = buildHandler(config)
	return &Logger{core: core}, nil
}

// Default returns a Logger with DefaultConfig.
func Default() *Logger {
	logger, err := New(DefaultConfig())
	if err != nil {
		panic(fmt.Sprintf("logging: default config rejected: %v", err))
	}
	return logger
}

// Discard returns a Logger with no sinks. Records are still buffered.
func Discard() *Logger {
	cfg := DefaultConfig()
	cfg.EnableConsole = false
	logger, _ := New(cfg)
	return logger
}

func buildHandler(cfg Config) (slog.Handler, *fileSink) {
	var handlers []slog.Handler

	if cfg.EnableConsole {
		if cfg.EnableStructured {
			opts := jsonHandlerOptions()
			handlers = append(handlers, &severityRouter{
				low:  slog.NewJSONHandler(cfg.stdout(), opts),
				high: slog.NewJSONHandler(cfg.stderr(), opts),
			})
		} else {
			handlers = append(handlers, &severityRouter{
				low:  newFormattedHandler(cfg.stdout()),
				high: newFormattedHandler(cfg.stderr()),
			})
		}
	}

	var sink *fileSink
	if cfg.EnableFile {
		sink = newFileSink(cfg.FilePath)
		handlers = append(handlers, slog.NewJSONHandler(sink, jsonHandlerOptions()))
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		return nil, sink
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}
	return handler, sink
}

// UpdateConfig replaces the configuration. It takes effect on the next
// call; buffered records are kept.
//
// # Outputs
//
//   - error: The validation error, in which case the old configuration
//     stays in place.
func (l *Logger) UpdateConfig(config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	handler, file := buildHandler(config)

	c := l.core
	c.mu.Lock()
	old := c.file
	c.config = config
	c.handler = handler
	c.file = file
	c.mu.Unlock()

	if old != nil {
		return old.Close()
	}
	return nil
}

// Config returns a copy of the active configuration.
func (l *Logger) Config() Config {
	l.core.mu.RLock()
	defer l.core.mu.RUnlock()
	return l.core.config
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	l.core.mu.Lock()
	file := l.core.file
	l.core.file = nil
	withoutFile := l.core.config
	withoutFile.EnableFile = false
	l.core.handler, _ = buildHandler(withoutFile)
	l.core.mu.Unlock()

	if file != nil {
		return file.Close()
	}
	return nil
}

// =============================================================================
// Trace context
// =============================================================================

// SetTraceContext makes subsequent records correlate to tc.
//
// Intended for the Tracer; it replaces whatever context was active.
func (l *Logger) SetTraceContext(tc TraceContext) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.ambient = &tc
}

// ClearTraceContext reverts to a fresh correlation ID per call.
func (l *Logger) ClearTraceContext() {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.ambient = nil
}

// TraceContext returns the ambient trace context, if one is set.
func (l *Logger) TraceContext() (TraceContext, bool) {
	l.core.mu.RLock()
	defer l.core.mu.RUnlock()
	if l.core.ambient == nil {
		return TraceContext{}, false
	}
	return *l.core.ambient, true
}

// WithTrace returns a logger whose records always carry tc, regardless of
// the ambient context.
func (l *Logger) WithTrace(tc TraceContext) *Logger {
	return &Logger{core: l.core, bound: &tc}
}

// WithContext returns a span-bound logger when ctx carries a TraceContext
// and l otherwise.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if tc, ok := TraceFromContext(ctx); ok {
		return l.WithTrace(tc)
	}
	return l
}

// AddObserver registers o to receive every record emitted under a span.
func (l *Logger) AddObserver(o RecordObserver) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.observers = append(l.core.observers, o)
}

// =============================================================================
// Emission
// =============================================================================

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields ...Fields) {
	l.emit(LevelDebug, msg, mergeFields(fields...), nil, nil)
}

// Info logs at info level.
func (l *Logger) Info(msg string, fields ...Fields) {
	l.emit(LevelInfo, msg, mergeFields(fields...), nil, nil)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, fields ...Fields) {
	l.emit(LevelWarn, msg, mergeFields(fields...), nil, nil)
}

// Error logs at error level.
//
// # Inputs
//
//   - msg: Human-readable summary.
//   - err: Optional. When non-nil it is normalized and categorized into
//     the record's Error.
//   - fields: Optional context; may be nil.
//   - recoveryActions: Hints shown to the operator, stored verbatim.
func (l *Logger) Error(msg string, err error, fields Fields, recoveryActions ...string) {
	var info *ErrorInfo
	if err != nil {
		info = NormalizeError(err, recoveryActions...)
	}
	l.emit(LevelError, msg, mergeFields(fields), info, nil)
}

// OperationStart logs "Starting <op> - <phase>" at info level.
func (l *Logger) OperationStart(operation, phase string, fields ...Fields) {
	f := mergeFields(fields...)
	f["operation"], f["phase"] = operation, phase
	l.emit(LevelInfo, fmt.Sprintf("Starting %s - %s", operation, phase), f, nil,
		&Metadata{OperationType: OperationStartType})
}

// OperationSuccess logs "Completed <op> - <phase>" with the duration in ms.
func (l *Logger) OperationSuccess(operation, phase string, duration time.Duration, fields ...Fields) {
	ms := durationMillis(duration)
	f := mergeFields(fields...)
	f["operation"], f["phase"], f["duration"] = operation, phase, ms
	l.emit(LevelInfo, fmt.Sprintf("Completed %s - %s", operation, phase), f, nil,
		&Metadata{OperationType: OperationSuccessType, DurationMs: &ms})
}

// OperationFailure logs "Failed <op> - <phase>" at error level.
func (l *Logger) OperationFailure(operation, phase string, err error, duration time.Duration, fields Fields, recoveryActions ...string) {
	ms := durationMillis(duration)
	f := mergeFields(fields)
	f["operation"], f["phase"], f["duration"] = operation, phase, ms
	var info *ErrorInfo
	if err != nil {
		info = NormalizeError(err, recoveryActions...)
	}
	l.emit(LevelError, fmt.Sprintf("Failed %s - %s", operation, phase), f, info,
		&Metadata{OperationType: OperationFailureType, DurationMs: &ms})
}

func (l *Logger) emit(level Level, msg string, fields Fields, errInfo *ErrorInfo, meta *Metadata) {
	c := l.core

	c.mu.RLock()
	cfg := c.config
	if level < cfg.Level {
		c.mu.RUnlock()
		return
	}
	handler := c.handler
	var trace *TraceContext
	if cfg.EnableTracing {
		trace = l.bound
		if trace == nil {
			trace = c.ambient
		}
	}
	observers := slices.Clone(c.observers)
	c.mu.RUnlock()

	operation, phase, ctx := buildContext(fields)
	rec := LogRecord{
		Timestamp: time.Now(),
		Operation: operation,
		Phase:     phase,
		Level:     level,
		Message:   msg,
		Context:   ctx,
		Error:     errInfo,
		Metadata:  meta,
	}
	if trace != nil {
		rec.CorrelationID = trace.TraceID
		rec.SpanID = trace.SpanID
	} else {
		rec.CorrelationID = uuid.NewString()
	}

	c.buffer.Push(rec)

	if handler != nil {
		r := slog.NewRecord(rec.Timestamp, level.toSlogLevel(), msg, 0)
		r.AddAttrs(recordAttrs(rec)...)
		if err := handler.Handle(context.Background(), r); err != nil {
			c.reportSinkError(cfg, err)
		}
	}

	if rec.SpanID != "" {
		for _, o := range observers {
			o.ObserveRecord(rec)
		}
	}
}

func recordAttrs(rec LogRecord) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("correlationId", rec.CorrelationID),
		slog.String("operation", rec.Operation),
		slog.String("phase", rec.Phase),
	}
	if rec.SpanID != "" {
		attrs = append(attrs, slog.String("spanId", rec.SpanID))
	}
	attrs = append(attrs, slog.Any("context", rec.Context))
	if rec.Error != nil {
		attrs = append(attrs, slog.Any("error", rec.Error))
	}
	if rec.Metadata != nil {
		attrs = append(attrs, slog.Any("metadata", rec.Metadata))
	}
	return attrs
}

// reportSinkError prints sink failures to stderr, throttled. It never
// routes back through the handlers.
func (c *loggerCore) reportSinkError(cfg Config, err error) {
	c.sinkWarn.Do(func() {
		fmt.Fprintf(cfg.stderr(), "[logging] failed to write log record: %v\n", err)
	})
}

// =============================================================================
// Queries
// =============================================================================

// RecentLogs returns up to limit records matching filter, most recent
// first. A limit <= 0 returns every match.
func (l *Logger) RecentLogs(limit int, filter LogFilter) []LogRecord {
	return l.core.buffer.NewestMatching(limit, filter.matches)
}

// LogsByCorrelationID returns every buffered record with the given
// correlation ID in emission order.
func (l *Logger) LogsByCorrelationID(id string) []LogRecord {
	return l.core.buffer.Matching(func(rec LogRecord) bool {
		return rec.CorrelationID == id
	})
}

// ClearBuffer drops all buffered records.
func (l *Logger) ClearBuffer() {
	l.core.buffer.Clear()
}

// BufferSize returns the number of buffered records.
func (l *Logger) BufferSize() int {
	return l.core.buffer.Size()
}

// DroppedCount returns how many records were evicted from the buffer.
func (l *Logger) DroppedCount() int64 {
	return l.core.buffer.DroppedCount()
}
