// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/shirou/gopsutil/v3/load"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/proxmox-mpc/pkg/logging"
)

const (
	// LoadFactor scales the CPU count into the load-average threshold.
	LoadFactor = 1.5

	// MemoryWarningRatio and MemoryErrorRatio bound heapUsed/heapTotal.
	MemoryWarningRatio = 0.75
	MemoryErrorRatio   = 0.90

	// StateDirName is the per-workspace state directory.
	StateDirName = ".proxmox-mpc"

	// DatabaseFileName is the state database inside StateDirName.
	DatabaseFileName = "state.db"
)

// DefaultTools are checked with "<tool> --version".
var DefaultTools = []string{"terraform", "ansible", "node", "npm", "git"}

// WorkspaceDirs must exist inside a workspace.
var WorkspaceDirs = []string{StateDirName, "terraform", "ansible"}

// LoadReader returns the 1-minute load average.
type LoadReader func(ctx context.Context) (float64, error)

// hostLoad reads the load average through gopsutil. It fails on platforms
// without one.
func hostLoad(ctx context.Context) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read load average: %w", err)
	}
	return avg.Load1, nil
}

// DatabasePath returns the state database location for a workspace.
func DatabasePath(workspace string) string {
	return filepath.Join(workspace, StateDirName, DatabaseFileName)
}

// =============================================================================
// Orchestration
// =============================================================================

type probe struct {
	component string
	run       func(ctx context.Context) HealthStatus
}

// PerformHealthChecks runs every probe against the configured workspace.
//
// # Description
//
// Probes run concurrently and independently: a probe that fails, times out
// or panics yields an error entry for its own component and never removes
// another component from the result. The order of the returned list is
// fixed: system, memory, one entry per tool, database, workspace.
//
// # Inputs
//
//   - ctx: Bounds the whole batch. Each tool probe additionally gets its
//     own timeout (Config.ToolTimeout).
//
// # Outputs
//
//   - []HealthStatus: A fresh list on every call.
func (c *Collector) PerformHealthChecks(ctx context.Context) []HealthStatus {
	return c.healthChecks(ctx, c.config.Workspace)
}

func (c *Collector) healthChecks(ctx context.Context, workspace string) []HealthStatus {
	probes := c.probes(workspace)
	results := make([]HealthStatus, len(probes))

	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			results[i] = c.runProbe(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Collector) probes(workspace string) []probe {
	probes := []probe{
		{ComponentSystem, c.probeSystem},
		{ComponentMemory, c.probeMemory},
	}
	for _, tool := range c.config.Tools {
		probes = append(probes, probe{tool, func(ctx context.Context) HealthStatus {
			return c.probeTool(ctx, tool)
		}})
	}
	probes = append(probes,
		probe{ComponentDatabase, func(context.Context) HealthStatus { return probeDatabase(workspace) }},
		probe{ComponentWorkspace, func(context.Context) HealthStatus { return probeWorkspace(workspace) }},
	)
	return probes
}

// runProbe stamps the component, timestamp and response time, and turns a
// panic into an error entry.
func (c *Collector) runProbe(ctx context.Context, p probe) (status HealthStatus) {
	start := c.now()
	defer func() {
		if r := recover(); r != nil {
			status = HealthStatus{
				Status:  StateError,
				Message: fmt.Sprintf("Health check panicked: %v", r),
			}
			c.logger.Warn("Health probe panicked", logging.Fields{
				"component": p.component,
				"panic":     fmt.Sprint(r),
			})
		}
		end := c.now()
		status.Component = p.component
		status.Timestamp = end
		status.ResponseTime = float64(end.Sub(start).Microseconds()) / 1000
	}()
	return p.run(ctx)
}

// =============================================================================
// Probes
// =============================================================================

func (c *Collector) probeSystem(ctx context.Context) HealthStatus {
	threshold := float64(c.numCPU) * LoadFactor
	details := map[string]any{
		"cpuCount":  c.numCPU,
		"threshold": threshold,
	}

	load1, err := c.loadAvg(ctx)
	if err != nil {
		return HealthStatus{
			Status:  StateWarning,
			Message: "Load average unavailable: " + err.Error(),
			Details: details,
		}
	}
	details["load1"] = load1

	if load1 > threshold {
		return HealthStatus{
			Status:  StateWarning,
			Message: fmt.Sprintf("High system load: %.2f (threshold %.2f)", load1, threshold),
			Details: details,
		}
	}
	return HealthStatus{
		Status:  StateHealthy,
		Message: fmt.Sprintf("System load normal: %.2f", load1),
		Details: details,
	}
}

func (c *Collector) probeMemory(context.Context) HealthStatus {
	mem := c.stats.Memory()
	ratio := mem.HeapRatio()
	details := map[string]any{
		"heapUsed":     mem.HeapUsed,
		"heapTotal":    mem.HeapTotal,
		"rss":          mem.RSS,
		"usagePercent": ratio * 100,
	}

	switch {
	case ratio >= MemoryErrorRatio:
		return HealthStatus{
			Status:  StateError,
			Message: fmt.Sprintf("Critical memory usage: %.1f%% of heap", ratio*100),
			Details: details,
		}
	case ratio >= MemoryWarningRatio:
		return HealthStatus{
			Status:  StateWarning,
			Message: fmt.Sprintf("High memory usage: %.1f%% of heap", ratio*100),
			Details: details,
		}
	default:
		return HealthStatus{
			Status:  StateHealthy,
			Message: fmt.Sprintf("Memory usage normal: %.1f%% of heap", ratio*100),
			Details: details,
		}
	}
}

func (c *Collector) probeTool(ctx context.Context, tool string) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, c.config.ToolTimeout)
	defer cancel()

	out, err := c.procs.Run(ctx, tool, "--version")
	if err != nil {
		msg := fmt.Sprintf("%s not available: %v", tool, err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("%s --version timed out after %s", tool, c.config.ToolTimeout)
		}
		return HealthStatus{Status: StateError, Message: msg}
	}

	version := ParseVersion(string(out))
	return HealthStatus{
		Status:  StateHealthy,
		Message: fmt.Sprintf("%s %s available", tool, version),
		Details: map[string]any{"version": version},
	}
}

func probeDatabase(workspace string) HealthStatus {
	if workspace == "" {
		return HealthStatus{Status: StateWarning, Message: "No workspace configured"}
	}
	path := DatabasePath(workspace)
	details := map[string]any{"path": path}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return HealthStatus{Status: StateWarning, Message: "Database not initialized", Details: details}
	case err != nil:
		return HealthStatus{Status: StateError, Message: "Database not accessible: " + err.Error(), Details: details}
	case info.IsDir():
		return HealthStatus{Status: StateError, Message: "Database path is a directory", Details: details}
	}
	details["sizeBytes"] = info.Size()
	return HealthStatus{Status: StateHealthy, Message: "Database found", Details: details}
}

func probeWorkspace(workspace string) HealthStatus {
	if workspace == "" {
		return HealthStatus{Status: StateWarning, Message: "No workspace configured"}
	}
	details := map[string]any{"path": workspace}

	info, err := os.Stat(workspace)
	if err != nil {
		return HealthStatus{Status: StateError, Message: "Workspace not accessible: " + err.Error(), Details: details}
	}
	if !info.IsDir() {
		return HealthStatus{Status: StateError, Message: "Workspace is not a directory", Details: details}
	}

	var missing []string
	for _, dir := range WorkspaceDirs {
		fi, err := os.Stat(filepath.Join(workspace, dir))
		if err != nil || !fi.IsDir() {
			missing = append(missing, dir)
		}
	}
	if len(missing) > 0 {
		details["missing"] = missing
		return HealthStatus{
			Status:  StateWarning,
			Message: "Workspace missing directories: " + strings.Join(missing, ", "),
			Details: details,
		}
	}
	return HealthStatus{Status: StateHealthy, Message: "Workspace structure valid", Details: details}
}

// =============================================================================
// Helpers
// =============================================================================

var versionPattern = regexp.MustCompile(`\d+\.\d+(?:\.\d+)?`)

// ParseVersion extracts the first dotted version number from a tool's
// --version output, e.g. "Terraform v1.6.2" gives "1.6.2". Output without
// one falls back to its first non-empty line, then "unknown".
func ParseVersion(output string) string {
	if v := versionPattern.FindString(output); v != "" {
		return v
	}
	for line := range strings.Lines(output) {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return "unknown"
}
