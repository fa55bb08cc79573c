// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package diagnostics runs live health probes and assembles point-in-time
snapshots for troubleshooting.

The Collector only reads from the logger, tracer and metrics collector
through the small interfaces declared here; it never mutates their buffers.
Every failure inside a probe or a workspace read is captured in the result,
so producing a snapshot cannot fail the operation that asked for it.

# Typical Use

	collector := diagnostics.New(logger, tracer, metricsCollector, diagnostics.Config{
		Workspace: workspace,
	})
	snapshot := collector.GenerateSnapshot(ctx, diagnostics.SnapshotOptions{
		Workspace: workspace,
		Operation: "sync",
		Error:     err,
	})
	fmt.Println(collector.GenerateAIPrompt(snapshot, "sync keeps failing"))
*/
package diagnostics

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/proxmox-mpc/internal/infra/process"
	"github.com/AleutianAI/proxmox-mpc/internal/metrics"
	"github.com/AleutianAI/proxmox-mpc/internal/tracing"
	"github.com/AleutianAI/proxmox-mpc/pkg/logging"
)

const (
	// DefaultToolTimeout bounds each tool --version probe.
	DefaultToolTimeout = 5 * time.Second

	// Snapshot sizes.
	DefaultRecentLogs    = 50
	DefaultRecentMetrics = 100
	DefaultRecentSpans   = 20
)

// processStart approximates process start for SystemInfo.Uptime.
var processStart = time.Now()

// =============================================================================
// Dependencies
// =============================================================================

// Logger is the part of *logging.Logger the collector uses.
type Logger interface {
	RecentLogs(limit int, filter logging.LogFilter) []logging.LogRecord
	Info(msg string, fields ...logging.Fields)
	Warn(msg string, fields ...logging.Fields)
}

// MetricSource is the part of *metrics.Collector the collector uses.
type MetricSource interface {
	Metrics(name string, limit int) []metrics.PerformanceMetric
}

// SpanSource is the part of *tracing.Tracer the collector uses.
type SpanSource interface {
	CompletedSpans(limit int) []tracing.TraceSpan
}

var (
	_ Logger       = (*logging.Logger)(nil)
	_ MetricSource = (*metrics.Collector)(nil)
	_ SpanSource   = (*tracing.Tracer)(nil)
)

// =============================================================================
// Collector
// =============================================================================

// Config tunes probes and snapshot sizes. Zero values take the defaults.
type Config struct {
	// Workspace is probed by PerformHealthChecks. Empty means the database
	// and workspace probes report a warning.
	Workspace string

	// Tools are probed with "--version". Nil means DefaultTools.
	Tools []string

	ToolTimeout   time.Duration
	RecentLogs    int
	RecentMetrics int
	RecentSpans   int
}

func (c Config) withDefaults() Config {
	if c.Tools == nil {
		c.Tools = DefaultTools
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	if c.RecentLogs <= 0 {
		c.RecentLogs = DefaultRecentLogs
	}
	if c.RecentMetrics <= 0 {
		c.RecentMetrics = DefaultRecentMetrics
	}
	if c.RecentSpans <= 0 {
		c.RecentSpans = DefaultRecentSpans
	}
	return c
}

// Collector produces health checks, snapshots and AI prompts.
//
// Collector holds no mutable state of its own and is safe for concurrent
// use.
type Collector struct {
	config Config

	logger  Logger
	spans   SpanSource
	metrics MetricSource

	procs     process.Manager
	stats     metrics.ProcessStats
	loadAvg   LoadReader
	numCPU    int
	sanitizer *Sanitizer
	now       func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithProcessManager replaces the process runner used by tool probes.
func WithProcessManager(m process.Manager) Option {
	return func(c *Collector) { c.procs = m }
}

// WithProcessStats replaces the memory source of the memory probe and
// SystemInfo.
func WithProcessStats(s metrics.ProcessStats) Option {
	return func(c *Collector) { c.stats = s }
}

// WithLoadReader replaces the load-average source of the system probe.
func WithLoadReader(r LoadReader) Option {
	return func(c *Collector) { c.loadAvg = r }
}

// WithCPUCount overrides runtime.NumCPU for the system probe.
func WithCPUCount(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.numCPU = n
		}
	}
}

// WithSanitizer replaces the sanitizer applied to AI prompt text.
func WithSanitizer(s *Sanitizer) Option {
	return func(c *Collector) { c.sanitizer = s }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// New creates a Collector reading from logger, spans and metricSource.
//
// # Inputs
//
//   - logger: Source of recent logs, and where probe failures are reported.
//   - spans: Source of completed spans. May be nil.
//   - metricSource: Source of recent metrics.
//   - config: Probe and snapshot settings.
//   - opts: Replacements for the OS-facing dependencies.
//
// # Outputs
//
//   - *Collector: Ready for use.
func New(logger Logger, spans SpanSource, metricSource MetricSource, config Config, opts ...Option) *Collector {
	c := &Collector{
		config:  config.withDefaults(),
		logger:  logger,
		spans:   spans,
		metrics: metricSource,
		loadAvg: hostLoad,
		numCPU:  runtime.NumCPU(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.procs == nil {
		c.procs = process.NewDefaultManager()
	}
	if c.stats == nil {
		c.stats = metrics.NewRuntimeStats()
	}
	if c.sanitizer == nil {
		c.sanitizer = NewSanitizer(DefaultPatterns())
	}
	return c
}

// Config returns the effective configuration.
func (c *Collector) Config() Config {
	return c.config
}

// =============================================================================
// Snapshots
// =============================================================================

// GenerateSnapshot assembles a DiagnosticSnapshot.
//
// # Description
//
// Pulls the most recent logs, metrics and completed spans, runs every
// health probe, and captures system information. When opts.Workspace is
// set the probes target it and WorkspaceInfo is filled from its
// configuration file (with secrets redacted) and the probed tool versions.
// A workspace that cannot be read is reported in WorkspaceInfo.Error.
//
// # Outputs
//
//   - *DiagnosticSnapshot: Never nil. The collector keeps no reference.
func (c *Collector) GenerateSnapshot(ctx context.Context, opts SnapshotOptions) *DiagnosticSnapshot {
	workspace := opts.Workspace
	if workspace == "" {
		workspace = c.config.Workspace
	}

	snap := &DiagnosticSnapshot{
		ID:        uuid.NewString(),
		Timestamp: c.now().UTC(),
		Workspace: opts.Workspace,
		Operation: opts.Operation,
		Logs:      c.logger.RecentLogs(c.config.RecentLogs, logging.LogFilter{}),
		Metrics:   c.metrics.Metrics("", c.config.RecentMetrics),
	}
	if opts.Error != nil {
		snap.Error = logging.NormalizeError(opts.Error)
	}
	if c.spans != nil {
		snap.Spans = c.spans.CompletedSpans(c.config.RecentSpans)
	}
	if snap.Logs == nil {
		snap.Logs = []logging.LogRecord{}
	}
	if snap.Metrics == nil {
		snap.Metrics = []metrics.PerformanceMetric{}
	}

	snap.HealthStatus = c.healthChecks(ctx, workspace)
	snap.SystemInfo = c.systemInfo()
	if opts.Workspace != "" {
		snap.WorkspaceInfo = c.workspaceInfo(opts.Workspace, snap.HealthStatus)
	}

	c.logger.Info("Diagnostic snapshot generated", logging.Fields{
		"snapshotId":   snap.ID,
		"operation":    "diagnostics",
		"phase":        "snapshot",
		"healthChecks": len(snap.HealthStatus),
	})
	return snap
}

func (c *Collector) systemInfo() SystemInfo {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return SystemInfo{
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Hostname:  host,
		NumCPU:    c.numCPU,
		Memory:    c.stats.Memory(),
		Uptime:    c.now().Sub(processStart).Seconds(),
	}
}

func (c *Collector) workspaceInfo(workspace string, health []HealthStatus) *WorkspaceInfo {
	info := &WorkspaceInfo{Path: workspace}

	tools := make(map[string]bool, len(c.config.Tools))
	for _, t := range c.config.Tools {
		tools[t] = true
	}
	for _, h := range health {
		if !tools[h.Component] {
			continue
		}
		if info.ToolVersions == nil {
			info.ToolVersions = make(map[string]string)
		}
		if v, ok := h.Details["version"].(string); ok {
			info.ToolVersions[h.Component] = v
		} else {
			info.ToolVersions[h.Component] = "unavailable"
		}
	}

	cfg, err := ReadWorkspaceConfig(workspace)
	if err != nil {
		info.Error = err.Error()
		c.logger.Warn("Could not read workspace configuration", logging.Fields{
			"workspace": workspace,
			"error":     err.Error(),
		})
		return info
	}
	info.Config = cfg
	return info
}
