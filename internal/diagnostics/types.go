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
	"time"

	"github.com/AleutianAI/proxmox-mpc/internal/metrics"
	"github.com/AleutianAI/proxmox-mpc/internal/tracing"
	"github.com/AleutianAI/proxmox-mpc/pkg/logging"
)

// =============================================================================
// Health
// =============================================================================

// HealthState is the outcome of one health probe.
type HealthState string

const (
	// StateHealthy means the probed component works as expected.
	StateHealthy HealthState = "healthy"

	// StateWarning means the component works but needs attention.
	StateWarning HealthState = "warning"

	// StateError means the component is unusable or the probe failed.
	StateError HealthState = "error"
)

// Component names reported by PerformHealthChecks.
const (
	ComponentSystem    = "system"
	ComponentMemory    = "memory"
	ComponentDatabase  = "database"
	ComponentWorkspace = "workspace"
)

// HealthStatus is the result of a single probe. A fresh list is produced by
// every PerformHealthChecks call.
type HealthStatus struct {
	Component string         `json:"component"`
	Status    HealthState    `json:"status"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`

	// ResponseTime is the probe's wall time in milliseconds.
	ResponseTime float64 `json:"responseTime,omitempty"`
}

// =============================================================================
// Snapshot
// =============================================================================

// SnapshotOptions selects the optional parts of a snapshot.
type SnapshotOptions struct {
	// Workspace, when set, adds WorkspaceInfo for that directory and
	// points the database and workspace probes at it.
	Workspace string

	// Operation names what the user was doing.
	Operation string

	// Error is the failure being reported, if any. It is normalized with
	// logging.NormalizeError.
	Error error
}

// DiagnosticSnapshot is a point-in-time bundle for troubleshooting. The
// collector does not keep a reference to it.
type DiagnosticSnapshot struct {
	ID            string                      `json:"id"`
	Timestamp     time.Time                   `json:"timestamp"`
	Workspace     string                      `json:"workspace,omitempty"`
	Operation     string                      `json:"operation,omitempty"`
	Error         *logging.ErrorInfo          `json:"error,omitempty"`
	Logs          []logging.LogRecord         `json:"logs"`
	Metrics       []metrics.PerformanceMetric `json:"metrics"`
	Spans         []tracing.TraceSpan         `json:"spans,omitempty"`
	HealthStatus  []HealthStatus              `json:"healthStatus"`
	SystemInfo    SystemInfo                  `json:"systemInfo"`
	WorkspaceInfo *WorkspaceInfo              `json:"workspaceInfo,omitempty"`
}

// SystemInfo describes the running process and its host.
type SystemInfo struct {
	GoVersion string              `json:"goVersion"`
	Platform  string              `json:"platform"`
	Hostname  string              `json:"hostname"`
	NumCPU    int                 `json:"numCPU"`
	Memory    metrics.MemoryStats `json:"memory"`

	// Uptime is the process uptime in seconds.
	Uptime float64 `json:"uptime"`
}

// WorkspaceInfo is what could be learned about a workspace directory.
// Collection failures land in Error instead of failing the snapshot.
type WorkspaceInfo struct {
	Path         string            `json:"path"`
	Config       map[string]any    `json:"config,omitempty"`
	ToolVersions map[string]string `json:"toolVersions,omitempty"`
	Error        string            `json:"error,omitempty"`
}
