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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/proxmox-mpc/internal/metrics"
	"github.com/AleutianAI/proxmox-mpc/pkg/logging"
)

func promptSnapshot() *DiagnosticSnapshot {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var logs []logging.LogRecord
	// Most recent first, as RecentLogs returns them.
	for i := 14; i >= 0; i-- {
		logs = append(logs, logging.LogRecord{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Operation: "sync",
			Phase:     "fetch",
			Level:     logging.LevelInfo,
			Message:   fmt.Sprintf("msg-%02d", i),
		})
	}
	return &DiagnosticSnapshot{
		ID:        "00000000-0000-0000-0000-000000000001",
		Timestamp: base,
		Operation: "sync",
		Logs:      logs,
		HealthStatus: []HealthStatus{
			{Component: "system", Status: StateHealthy, Message: "System load normal: 0.50"},
			{Component: "memory", Status: StateError, Message: "Critical memory usage: 95.0% of heap"},
		},
		SystemInfo: SystemInfo{
			GoVersion: "go1.25.3",
			Platform:  "linux/amd64",
			Hostname:  "secret-host",
			NumCPU:    8,
			Memory:    metrics.MemoryStats{HeapUsed: 95 << 20, HeapTotal: 100 << 20, RSS: 2 << 30},
			Uptime:    90.7,
		},
		WorkspaceInfo: &WorkspaceInfo{
			Path:         "/home/alice/infra",
			ToolVersions: map[string]string{"terraform": "1.6.2", "ansible": "2.15.4"},
		},
	}
}

func TestGenerateAIPrompt_SectionsInOrder(t *testing.T) {
	env := newTestEnv(t, Config{})
	prompt := env.collector.GenerateAIPrompt(promptSnapshot(), "VM sync fails")

	sections := []string{
		"## Problem description",
		"## Error",
		"## Health checks",
		"## Recent logs (last 10)",
		"## System information",
		"## Request",
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(prompt, s)
		require.GreaterOrEqual(t, idx, 0, "missing %q", s)
		assert.Greater(t, idx, last, "%q out of order", s)
		last = idx
	}
	assert.Contains(t, prompt, "VM sync fails")
	assert.Contains(t, prompt, "Operation: sync")
	assert.Contains(t, prompt, "- [error] memory: Critical memory usage: 95.0% of heap")
	assert.Contains(t, prompt, "- Platform: linux/amd64")
	assert.Contains(t, prompt, "- Heap: 95.0 MiB used of 100.0 MiB (RSS 2.0 GiB)")
	assert.Contains(t, prompt, "- Uptime: 1m30s")
	assert.Contains(t, prompt, "- ansible: 2.15.4\n- terraform: 1.6.2")
}

func TestGenerateAIPrompt_Deterministic(t *testing.T) {
	env := newTestEnv(t, Config{})
	snap := promptSnapshot()

	first := env.collector.GenerateAIPrompt(snap, "same")
	for range 5 {
		assert.Equal(t, first, env.collector.GenerateAIPrompt(snap, "same"))
	}
}

func TestGenerateAIPrompt_NoError(t *testing.T) {
	env := newTestEnv(t, Config{})
	prompt := env.collector.GenerateAIPrompt(promptSnapshot(), "")

	assert.Contains(t, prompt, NoErrorReported)
	assert.Contains(t, prompt, "(no description provided)")
}

func TestGenerateAIPrompt_ErrorSummary(t *testing.T) {
	env := newTestEnv(t, Config{})
	snap := promptSnapshot()
	snap.Error = logging.NormalizeError(errors.New("terraform apply failed"), "Run terraform init")

	prompt := env.collector.GenerateAIPrompt(snap, "")

	assert.NotContains(t, prompt, NoErrorReported)
	assert.Contains(t, prompt, "Category: terraform")
	assert.Contains(t, prompt, "Message: terraform apply failed")
	assert.Contains(t, prompt, "Suggested recovery:\n- Run terraform init")
}

func TestGenerateAIPrompt_LastLogLinesOldestFirst(t *testing.T) {
	env := newTestEnv(t, Config{})
	prompt := env.collector.GenerateAIPrompt(promptSnapshot(), "")

	assert.NotContains(t, prompt, "msg-04")
	first := strings.Index(prompt, "msg-05")
	last := strings.Index(prompt, "msg-14")
	require.GreaterOrEqual(t, first, 0)
	require.GreaterOrEqual(t, last, 0)
	assert.Less(t, first, last)
	assert.Contains(t, prompt, "2025-03-01T12:00:05.000Z INFO  [sync/fetch] msg-05")
}

func TestGenerateAIPrompt_SanitizesSensitiveText(t *testing.T) {
	env := newTestEnv(t, Config{})
	snap := promptSnapshot()
	snap.Logs = []logging.LogRecord{{
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Level:     logging.LevelError,
		Operation: "connect",
		Phase:     "auth",
		Message:   "login as admin@example.com from 10.0.0.5 failed",
		Error: &logging.ErrorInfo{
			Category: logging.CategoryAuthentication,
			Message:  "header Authorization: PVEAPIToken=root@pam!mpc=abcd-1234",
		},
	}}

	prompt := env.collector.GenerateAIPrompt(snap, "")

	assert.NotContains(t, prompt, "admin@example.com")
	assert.NotContains(t, prompt, "10.0.0.5")
	assert.NotContains(t, prompt, "abcd-1234")
	assert.NotContains(t, prompt, "secret-host")
	assert.NotContains(t, prompt, "alice")
	assert.Contains(t, prompt, "[EMAIL_REDACTED]")
	assert.Contains(t, prompt, "PVEAPIToken=[TOKEN_REDACTED]")
}

func TestGenerateAIPrompt_FromGeneratedSnapshot(t *testing.T) {
	env := newTestEnv(t, Config{}, WithProcessStats(heapAt(95, 100)))
	env.logger.Error("Connection failed", errors.New("Connection timeout"), nil)

	snap := env.collector.GenerateSnapshot(context.Background(), SnapshotOptions{
		Operation: "connect",
		Error:     errors.New("Connection timeout"),
	})
	prompt := env.collector.GenerateAIPrompt(snap, "cannot reach server")

	assert.Contains(t, prompt, "Category: connection")
	assert.Contains(t, prompt, "- [error] memory: Critical memory usage")
	assert.Contains(t, prompt, "Connection failed (error [connection]: Connection timeout)")
}

func TestGenerateAIPrompt_NilSnapshot(t *testing.T) {
	env := newTestEnv(t, Config{})
	prompt := env.collector.GenerateAIPrompt(nil, "x")

	assert.Contains(t, prompt, NoErrorReported)
	assert.Contains(t, prompt, "(no health checks recorded)")
	assert.Contains(t, prompt, "(no logs recorded)")
}
