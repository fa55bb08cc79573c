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
Package metrics collects numeric performance samples in a bounded,
in-process buffer.

There is no time-series database behind the Collector: the most recent
5000 samples are kept in memory for queries and windowed summaries, and an
optional Exporter mirrors each sample as it is recorded (see
PrometheusExporter).

# Naming

Samples follow a dotted naming convention:

  - operation.duration          (ms) generic operation timings
  - memory.usage                (bytes) tagged type=rss|heapUsed|heapTotal|external
  - cpu.usage                   (microseconds) tagged type=user|system
  - api.response_time           (ms)
  - db.query_time               (ms)
  - <tool>.operation_duration   (ms) for terraform, ansible and proxmox
  - <tool>.resource_count       (count)

Every sample carries a "host" tag.
*/
package metrics

import (
	"maps"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/proxmox-mpc/internal/util"
)

const (
	// Capacity is the number of samples retained.
	Capacity = 5000

	// DefaultSummaryWindow is used by Summary for non-positive windows.
	DefaultSummaryWindow = 5 * time.Minute

	// Metric names recorded by the helpers.
	NameOperationDuration = "operation.duration"
	NameMemoryUsage       = "memory.usage"
	NameCPUUsage          = "cpu.usage"
	NameAPIResponseTime   = "api.response_time"
	NameDBQueryTime       = "db.query_time"

	UnitMilliseconds = "ms"
	UnitMicroseconds = "microseconds"
	UnitBytes        = "bytes"
	UnitCount        = "count"
)

// Collector records and queries PerformanceMetrics.
//
// Collector is safe for concurrent use. Timers are keyed by name, so
// independently named timers never interfere.
type Collector struct {
	host     string
	exporter Exporter
	stats    ProcessStats
	now      func() time.Time

	buffer *util.RingBuffer[PerformanceMetric]

	mu     sync.Mutex
	timers map[string]timer
}

type timer struct {
	start time.Time
	tags  map[string]string
}

// Option configures a Collector.
type Option func(*Collector)

// WithExporter mirrors every recorded sample to e.
func WithExporter(e Exporter) Option {
	return func(c *Collector) {
		if e != nil {
			c.exporter = e
		}
	}
}

// WithProcessStats replaces the runtime sampler used by RecordMemoryUsage
// and RecordCPUUsage.
func WithProcessStats(s ProcessStats) Option {
	return func(c *Collector) {
		if s != nil {
			c.stats = s
		}
	}
}

// WithHost overrides the host tag, which defaults to os.Hostname.
func WithHost(host string) Option {
	return func(c *Collector) { c.host = host }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// New creates a Collector.
func New(opts ...Option) *Collector {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	c := &Collector{
		host:     host,
		exporter: NoOpExporter{},
		now:      time.Now,
		buffer:   util.NewRingBuffer[PerformanceMetric](Capacity),
		timers:   make(map[string]timer),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.stats == nil {
		c.stats = NewRuntimeStats()
	}
	return c
}

// =============================================================================
// Recording
// =============================================================================

// Record appends one sample.
//
// # Description
//
// Any float64 is accepted, including NaN and the infinities; filtering is
// left to whoever analyzes the samples. The host tag is always set, and a
// non-empty operation is also copied into the "operation" tag unless the
// caller already supplied one.
func (c *Collector) Record(name string, value float64, unit string, tags map[string]string, operation string) {
	merged := make(map[string]string, len(tags)+2)
	maps.Copy(merged, tags)
	merged["host"] = c.host
	if operation != "" {
		if _, ok := merged["operation"]; !ok {
			merged["operation"] = operation
		}
	}

	m := PerformanceMetric{
		Name:      name,
		Value:     value,
		Unit:      unit,
		Timestamp: c.now(),
		Tags:      merged,
		Operation: operation,
	}
	c.buffer.Push(m)
	c.exporter.Observe(m.clone())
}

// StartTimer opens a named timer. Starting a name that is already open
// restarts it.
func (c *Collector) StartTimer(name string, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers[name] = timer{start: c.now(), tags: maps.Clone(tags)}
}

// EndTimer closes a named timer and records the elapsed milliseconds under
// the timer's name, merging start and end tags.
//
// # Outputs
//
//   - float64: Elapsed ms, or 0 when no timer with that name is open. In
//     that case nothing is recorded.
func (c *Collector) EndTimer(name string, tags map[string]string) float64 {
	c.mu.Lock()
	t, ok := c.timers[name]
	delete(c.timers, name)
	c.mu.Unlock()
	if !ok {
		return 0
	}

	elapsed := float64(c.now().Sub(t.start)) / float64(time.Millisecond)
	merged := maps.Clone(t.tags)
	if merged == nil {
		merged = make(map[string]string, len(tags))
	}
	maps.Copy(merged, tags)
	c.Record(name, elapsed, UnitMilliseconds, merged, merged["operation"])
	return elapsed
}

// OpenTimers returns the number of timers started but not yet ended.
func (c *Collector) OpenTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// RecordDuration records operation.duration tagged with the operation.
func (c *Collector) RecordDuration(operation string, durationMs float64, tags map[string]string) {
	merged := maps.Clone(tags)
	if merged == nil {
		merged = map[string]string{}
	}
	merged["operation"] = operation
	c.Record(NameOperationDuration, durationMs, UnitMilliseconds, merged, operation)
}

// RecordMemoryUsage records one memory.usage sample per memory field.
func (c *Collector) RecordMemoryUsage(operation string) MemoryStats {
	stats := c.stats.Memory()
	fields := []struct {
		kind  string
		value uint64
	}{
		{"rss", stats.RSS},
		{"heapUsed", stats.HeapUsed},
		{"heapTotal", stats.HeapTotal},
		{"external", stats.External},
	}
	for _, f := range fields {
		c.Record(NameMemoryUsage, float64(f.value), UnitBytes, map[string]string{"type": f.kind}, operation)
	}
	return stats
}

// RecordCPUUsage records the process's cumulative user and system CPU time
// as two cpu.usage samples.
func (c *Collector) RecordCPUUsage(operation string) CPUTimes {
	times := c.stats.CPU()
	c.Record(NameCPUUsage, float64(times.User.Microseconds()), UnitMicroseconds,
		map[string]string{"type": "user"}, operation)
	c.Record(NameCPUUsage, float64(times.System.Microseconds()), UnitMicroseconds,
		map[string]string{"type": "system"}, operation)
	return times
}

// RecordAPIResponseTime records api.response_time for one HTTP call to the
// Proxmox API. Status codes below 400 count as successful.
func (c *Collector) RecordAPIResponseTime(endpoint, method string, statusCode int, ms float64) {
	c.Record(NameAPIResponseTime, ms, UnitMilliseconds, map[string]string{
		"endpoint":    endpoint,
		"method":      strings.ToUpper(method),
		"status_code": strconv.Itoa(statusCode),
		"success":     strconv.FormatBool(statusCode < 400),
	}, "api")
}

var queryTypes = []string{"select", "insert", "update", "delete", "create", "drop", "explain"}

// QueryType classifies a SQL statement by its leading keyword.
func QueryType(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "other"
	}
	lead := strings.ToLower(fields[0])
	for _, qt := range queryTypes {
		if lead == qt {
			return qt
		}
	}
	return "other"
}

// RecordDBQueryTime records db.query_time for one state database query.
func (c *Collector) RecordDBQueryTime(query string, ms float64, rowCount int) {
	c.Record(NameDBQueryTime, ms, UnitMilliseconds, map[string]string{
		"query_type": QueryType(query),
		"row_count":  strconv.Itoa(rowCount),
	}, "database")
}

// RecordTerraformMetrics records terraform.operation_duration and
// terraform.resource_count for one terraform invocation (plan, apply, ...).
func (c *Collector) RecordTerraformMetrics(operation string, durationMs float64, resourceCount int, success bool) {
	c.recordTool("terraform", "resource_count", durationMs, resourceCount, map[string]string{
		"operation": operation,
		"success":   strconv.FormatBool(success),
	}, operation)
}

// RecordAnsibleMetrics records ansible.operation_duration and
// ansible.task_count for one playbook run.
func (c *Collector) RecordAnsibleMetrics(playbook string, durationMs float64, taskCount int, success bool) {
	c.recordTool("ansible", "task_count", durationMs, taskCount, map[string]string{
		"playbook": playbook,
		"success":  strconv.FormatBool(success),
	}, "ansible")
}

// RecordProxmoxMetrics records proxmox.operation_duration and
// proxmox.resource_count for one call against a Proxmox node.
func (c *Collector) RecordProxmoxMetrics(operation, node string, durationMs float64, resourceCount int, success bool) {
	c.recordTool("proxmox", "resource_count", durationMs, resourceCount, map[string]string{
		"operation": operation,
		"node":      node,
		"success":   strconv.FormatBool(success),
	}, operation)
}

func (c *Collector) recordTool(tool, countName string, durationMs float64, count int, tags map[string]string, operation string) {
	c.Record(tool+".operation_duration", durationMs, UnitMilliseconds, tags, operation)
	c.Record(tool+"."+countName, float64(count), UnitCount, tags, operation)
}

// =============================================================================
// Queries
// =============================================================================

// Metrics returns up to limit samples, most recent first. An empty name
// matches every sample; limit <= 0 means no limit.
func (c *Collector) Metrics(name string, limit int) []PerformanceMetric {
	out := c.buffer.NewestMatching(limit, func(m PerformanceMetric) bool {
		return name == "" || m.Name == name
	})
	return cloneAll(out)
}

// MetricsByOperation returns up to limit samples recorded for operation,
// most recent first.
func (c *Collector) MetricsByOperation(operation string, limit int) []PerformanceMetric {
	out := c.buffer.NewestMatching(limit, func(m PerformanceMetric) bool {
		return m.Operation == operation || m.Tags["operation"] == operation
	})
	return cloneAll(out)
}

func cloneAll(ms []PerformanceMetric) []PerformanceMetric {
	for i := range ms {
		ms[i] = ms[i].clone()
	}
	return ms
}

// Size returns the number of buffered samples.
func (c *Collector) Size() int {
	return c.buffer.Size()
}

// DroppedCount returns how many samples were evicted.
func (c *Collector) DroppedCount() int64 {
	return c.buffer.DroppedCount()
}

// Clear drops all samples and open timers.
func (c *Collector) Clear() {
	c.buffer.Clear()
	c.mu.Lock()
	clear(c.timers)
	c.mu.Unlock()
}

// =============================================================================
// Summary
// =============================================================================

// Summary aggregates the samples in a trailing window.
type Summary struct {
	Window           time.Duration      `json:"window"`
	TotalMetrics     int                `json:"totalMetrics"`
	UniqueOperations int                `json:"uniqueOperations"`
	AvgResponseTime  float64            `json:"avgResponseTime"`
	ErrorRate        float64            `json:"errorRate"`
	MemoryUsage      MemoryUsageSummary `json:"memoryUsage"`
}

// MemoryUsageSummary holds heapUsed figures in bytes.
type MemoryUsageSummary struct {
	Current float64 `json:"current"`
	Peak    float64 `json:"peak"`
}

// Summary computes aggregates over samples newer than now-window.
//
// # Description
//
//   - AvgResponseTime: mean of finite values whose name contains
//     "duration" or "response_time".
//   - ErrorRate: samples tagged success=false over samples carrying any
//     success tag.
//   - MemoryUsage: latest and largest finite memory.usage type=heapUsed.
//
// Non-finite values never reach an aggregate, so an empty or all-NaN window
// yields zeros.
func (c *Collector) Summary(window time.Duration) Summary {
	if window <= 0 {
		window = DefaultSummaryWindow
	}
	cutoff := c.now().Add(-window)
	inWindow := c.buffer.Matching(func(m PerformanceMetric) bool {
		return !m.Timestamp.Before(cutoff)
	})

	s := Summary{Window: window, TotalMetrics: len(inWindow)}
	operations := make(map[string]struct{})
	var durSum float64
	var durCount, successTagged, failures int
	var heapSeen bool

	for _, m := range inWindow {
		if op := m.Tags["operation"]; op != "" {
			operations[op] = struct{}{}
		} else if m.Operation != "" {
			operations[m.Operation] = struct{}{}
		}

		if isFinite(m.Value) && (strings.Contains(m.Name, "duration") || strings.Contains(m.Name, "response_time")) {
			durSum += m.Value
			durCount++
		}

		if success, ok := m.Tags["success"]; ok {
			successTagged++
			if success == "false" {
				failures++
			}
		}

		if m.Name == NameMemoryUsage && m.Tags["type"] == "heapUsed" && isFinite(m.Value) {
			s.MemoryUsage.Current = m.Value
			if !heapSeen || m.Value > s.MemoryUsage.Peak {
				s.MemoryUsage.Peak = m.Value
			}
			heapSeen = true
		}
	}

	s.UniqueOperations = len(operations)
	if durCount > 0 {
		s.AvgResponseTime = durSum / float64(durCount)
	}
	if successTagged > 0 {
		s.ErrorRate = float64(failures) / float64(successTagged)
	}
	return s
}
