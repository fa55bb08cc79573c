// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/proxmox-mpc/cmd/proxmox-mpc/config"
	"github.com/AleutianAI/proxmox-mpc/internal/diagnostics"
	"github.com/AleutianAI/proxmox-mpc/internal/infra/process"
	"github.com/AleutianAI/proxmox-mpc/internal/metrics"
	"github.com/AleutianAI/proxmox-mpc/pkg/logging"
	"github.com/AleutianAI/proxmox-mpc/pkg/ux"
)

// =============================================================================
// Harness
// =============================================================================

type fakeStats struct{}

func (fakeStats) Memory() metrics.MemoryStats {
	return metrics.MemoryStats{RSS: 64 << 20, HeapUsed: 10 << 20, HeapTotal: 100 << 20}
}

func (fakeStats) CPU() metrics.CPUTimes {
	return metrics.CPUTimes{User: 120 * time.Millisecond, System: 30 * time.Millisecond}
}

const testConfig = `
logging:
  level: info
  file: true
tracing:
  exporter: none
metrics:
  prometheus: true
diagnostics:
  tools: [terraform]
  tool_timeout: 1s
  monitor_interval: 1s
`

type cliEnv struct {
	home       string
	workspace  string
	configPath string
	procs      *process.MockManager
}

// newCLIEnv creates a home directory with a config file and a complete
// workspace, and a process manager where only terraform is installed.
func newCLIEnv(t *testing.T, configYAML string) *cliEnv {
	t.Helper()
	t.Setenv(config.EnvLogLevel, "")

	home := t.TempDir()
	configPath := filepath.Join(home, ".proxmox-mpc", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0o750))
	require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0o640))

	ws := t.TempDir()
	for _, dir := range diagnostics.WorkspaceDirs {
		require.NoError(t, os.MkdirAll(filepath.Join(ws, dir), 0o750))
	}
	require.NoError(t, os.WriteFile(diagnostics.DatabasePath(ws), []byte("sqlite"), 0o640))

	return &cliEnv{
		home:       home,
		workspace:  ws,
		configPath: configPath,
		procs: &process.MockManager{
			RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
				if name == "terraform" {
					return []byte("Terraform v1.6.0\non linux_amd64\n"), nil
				}
				return nil, errors.New("executable file not found in $PATH")
			},
		},
	}
}

type cliResult struct {
	stdout string
	stderr string
	err    error
}

func (e *cliEnv) run(t *testing.T, args ...string) cliResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	a := newApp(&stdout, &stderr)
	a.homeDir = e.home
	a.procs = e.procs
	a.stats = fakeStats{}
	a.loadAvg = func(context.Context) (float64, error) { return 0.5, nil }
	a.numCPU = 4

	root := newRootCmd(a)
	root.SetArgs(append([]string{"--workspace", e.workspace, "--config", e.configPath}, args...))
	err := root.ExecuteContext(context.Background())
	require.NoError(t, a.close())
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func (e *cliEnv) logPath() string {
	return logging.DefaultFilePath(e.workspace)
}

// =============================================================================
// health
// =============================================================================

func TestHealth_AllHealthy(t *testing.T) {
	env := newCLIEnv(t, testConfig)

	res := env.run(t, "health")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "✓ terraform")
	assert.Contains(t, res.stdout, "Workspace structure valid")
	assert.Contains(t, res.stdout, "5 healthy, 0 warning, 0 error")
	assert.NotContains(t, res.stdout, "\x1b[", "no colors when not a terminal")
}

func TestHealth_FailedToolExitsUnhealthy(t *testing.T) {
	env := newCLIEnv(t, strings.Replace(testConfig, "tools: [terraform]", "tools: [terraform, ansible]", 1))

	res := env.run(t, "--json", "health")
	require.Error(t, res.err)
	assert.Equal(t, exitUnhealthy, exitCode(res.err))

	var results []diagnostics.HealthStatus
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &results))
	require.Len(t, results, 6)

	byComponent := map[string]diagnostics.HealthStatus{}
	for _, r := range results {
		byComponent[r.Component] = r
	}
	assert.Equal(t, diagnostics.StateError, byComponent["ansible"].Status)
	assert.Equal(t, diagnostics.StateHealthy, byComponent["terraform"].Status)
}

func TestHealth_WritesLogFile(t *testing.T) {
	env := newCLIEnv(t, testConfig)
	require.NoError(t, env.run(t, "health").err)

	records, err := logging.ReadLogFile(env.logPath(), 0, logging.LogFilter{Operation: "health"})
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, "Health checks passed", records[0].Message)
	assert.NotEmpty(t, records[0].CorrelationID)
}

// =============================================================================
// logs
// =============================================================================

func TestLogs_ReadsHistoryFromEarlierRuns(t *testing.T) {
	env := newCLIEnv(t, testConfig)
	require.NoError(t, env.run(t, "health").err)
	require.NoError(t, env.run(t, "health").err)

	res := env.run(t, "--json", "logs", "--operation", "health", "--level", "info")
	require.NoError(t, res.err)

	var records []logging.LogRecord
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &records))
	var passed []logging.LogRecord
	for _, r := range records {
		if r.Message == "Health checks passed" {
			passed = append(passed, r)
		}
	}
	require.Len(t, passed, 2)
	assert.NotEqual(t, passed[0].CorrelationID, passed[1].CorrelationID, "each run is its own trace")

	byID := env.run(t, "--json", "logs", "--correlation", passed[0].CorrelationID)
	require.NoError(t, byID.err)
	var correlated []logging.LogRecord
	require.NoError(t, json.Unmarshal([]byte(byID.stdout), &correlated))
	require.NotEmpty(t, correlated)
	for _, r := range correlated {
		assert.Equal(t, passed[0].CorrelationID, r.CorrelationID)
	}
}

func TestLogs_PlainOutputOldestFirst(t *testing.T) {
	env := newCLIEnv(t, testConfig)
	logger, err := logging.New(logging.Config{
		Level:      logging.LevelInfo,
		EnableFile: true,
		FilePath:   env.logPath(),
	})
	require.NoError(t, err)
	logger.Info("first", logging.Fields{"operation": "sync"})
	logger.Error("second", errors.New("connection refused"), logging.Fields{"operation": "sync"})
	require.NoError(t, logger.Close())

	res := env.run(t, "logs")
	require.NoError(t, res.err)
	first := strings.Index(res.stdout, "first")
	second := strings.Index(res.stdout, "second")
	require.True(t, first >= 0 && second >= 0, res.stdout)
	assert.Less(t, first, second)
	assert.Contains(t, res.stdout, "(error [connection]: connection refused)")
}

func TestLogs_InvalidLevel(t *testing.T) {
	env := newCLIEnv(t, testConfig)
	res := env.run(t, "logs", "--level", "loud")
	assert.ErrorIs(t, res.err, logging.ErrInvalidLevel)
	assert.Equal(t, exitFailure, exitCode(res.err))
}

// =============================================================================
// metrics
// =============================================================================

func TestMetrics_PrometheusText(t *testing.T) {
	env := newCLIEnv(t, testConfig)

	res := env.run(t, "metrics")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "# TYPE proxmox_mpc_collector_value gauge")
	assert.Contains(t, res.stdout, `proxmox_mpc_collector_value{name="memory.usage",unit="bytes"}`)
	assert.Contains(t, res.stdout, `proxmox_mpc_collector_duration_seconds_count{name="operation.duration"} 5`)
}

func TestMetrics_Disabled(t *testing.T) {
	env := newCLIEnv(t, strings.Replace(testConfig, "prometheus: true", "prometheus: false", 1))

	res := env.run(t, "metrics")
	assert.ErrorIs(t, res.err, errPrometheusDisabled)

	res = env.run(t, "--json", "metrics")
	require.NoError(t, res.err)
	var report metricsReport
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &report))
	assert.Len(t, report.Metrics, 11, "4 memory, 2 cpu and 5 probe durations")
	assert.Equal(t, 6, report.Summary.UniqueOperations, "metrics plus one per probe")
}

// =============================================================================
// debug
// =============================================================================

func TestDebug_JSONReport(t *testing.T) {
	env := newCLIEnv(t, testConfig)

	res := env.run(t, "--json", "debug", "--limit", "5")
	require.NoError(t, res.err)

	var report debugReport
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &report))
	assert.Equal(t, env.workspace, report.Workspace)
	assert.Len(t, report.Health, 5)
	assert.Equal(t, 1, report.Trace.SpanCount)
	assert.Equal(t, "success", string(report.Trace.Status))
	assert.NotEmpty(t, report.Logs)
	assert.LessOrEqual(t, len(report.Logs), 5)
	assert.Len(t, report.Metrics, 5)
	assert.NotZero(t, report.Summary.MemoryUsage.Current)
}

func TestDebug_Rendered(t *testing.T) {
	env := newCLIEnv(t, testConfig)

	res := env.run(t, "debug")
	require.NoError(t, res.err)
	for _, section := range []string{"Health checks", "Trace ", "Recent logs (last 20)", "Metric summary", "Recent metrics (last 20)"} {
		assert.Contains(t, res.stdout, section)
	}
}

// =============================================================================
// report-issue
// =============================================================================

func TestReportIssue_StoresSnapshotAndPrintsPrompt(t *testing.T) {
	env := newCLIEnv(t, testConfig)

	res := env.run(t, "report-issue",
		"--description", "apply hangs on pve2",
		"--operation", "apply",
		"--error", "dial tcp 10.0.0.5:8006: connection refused")
	require.NoError(t, res.err)

	assert.Contains(t, res.stdout, "# proxmox-mpc troubleshooting request")
	assert.Contains(t, res.stdout, "apply hangs on pve2")
	assert.Contains(t, res.stdout, "connection refused")
	assert.NotContains(t, res.stdout, "10.0.0.5", "addresses are sanitized")
	assert.Contains(t, res.stderr, "Snapshot saved")
	assert.Contains(t, res.stderr, "╭")

	dir := filepath.Join(env.home, ".proxmox-mpc", "diagnostics")
	store, err := diagnostics.NewFileStorage(dir)
	require.NoError(t, err)
	listed, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	snap, err := store.Load(context.Background(), listed[0])
	require.NoError(t, err)
	assert.Equal(t, "apply", snap.Operation)
	require.NotNil(t, snap.Error)
	assert.Equal(t, logging.CategoryConnection, snap.Error.Category)
	require.NotNil(t, snap.WorkspaceInfo)
	assert.Equal(t, env.workspace, snap.WorkspaceInfo.Path)
}

func TestReportIssue_UsesLastLoggedError(t *testing.T) {
	env := newCLIEnv(t, testConfig)
	logger, err := logging.New(logging.Config{
		Level:      logging.LevelInfo,
		EnableFile: true,
		FilePath:   env.logPath(),
	})
	require.NoError(t, err)
	logger.Error("Sync failed", errors.New("permission denied"), logging.Fields{"operation": "sync"})
	require.NoError(t, logger.Close())

	res := env.run(t, "--json", "report-issue")
	require.NoError(t, res.err)

	var result reportResult
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &result))
	assert.NotEmpty(t, result.SnapshotID)
	assert.NotEmpty(t, result.Location)
	assert.Contains(t, result.Prompt, "permission denied")
	assert.Contains(t, result.Prompt, "Operation: sync")
}

// =============================================================================
// monitor
// =============================================================================

func TestMonitor_RunsCountRounds(t *testing.T) {
	env := newCLIEnv(t, testConfig)

	res := env.run(t, "monitor", "--count", "1")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "5 healthy")

	records, err := logging.ReadLogFile(env.logPath(), 0, logging.LogFilter{Operation: "monitor"})
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, "Monitor stopped", records[0].Message)
}

func TestMonitor_StopsOnCancel(t *testing.T) {
	env := newCLIEnv(t, testConfig)
	var stdout bytes.Buffer
	a := newApp(&stdout, &stdout)
	a.homeDir = env.home
	a.procs = env.procs
	a.stats = fakeStats{}
	a.loadAvg = func(context.Context) (float64, error) { return 0.5, nil }
	a.numCPU = 4
	a.workspace = env.workspace
	a.configPath = env.configPath
	t.Cleanup(func() { _ = a.close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.runMonitor(ctx, monitorOptions{interval: time.Hour}) }()

	assert.Eventually(t, func() bool {
		return strings.Contains(readFile(env.logPath()), "Health checks passed")
	}, 3*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
	assert.Contains(t, readFile(env.logPath()), "Monitor stopped")
}

func TestMonitor_SecondInstanceRefused(t *testing.T) {
	env := newCLIEnv(t, testConfig)
	lock := process.NewLock(process.LockConfig{
		Dir:  filepath.Join(env.home, ".proxmox-mpc"),
		Name: monitorLockName,
	})
	require.NoError(t, lock.Acquire())
	t.Cleanup(func() { _ = lock.Release() })

	res := env.run(t, "monitor", "--count", "1")
	var held *process.LockHeldError
	require.ErrorAs(t, res.err, &held)
	assert.Equal(t, os.Getpid(), held.HolderPID)
}

func TestApplyLoggingConfig(t *testing.T) {
	env := newCLIEnv(t, testConfig)
	var stderr bytes.Buffer
	a := newApp(&bytes.Buffer{}, &stderr)
	a.homeDir = env.home
	a.workspace = env.workspace
	a.configPath = env.configPath
	t.Cleanup(func() { _ = a.close() })

	logger, err := a.logger()
	require.NoError(t, err)
	assert.Equal(t, logging.LevelInfo, logger.Config().Level)

	a.applyLoggingConfig(logger, config.Logging{Level: "debug", Console: true})
	assert.Equal(t, logging.LevelDebug, logger.Config().Level)
	assert.True(t, logger.Config().EnableConsole)

	logger.Info("routed to stderr")
	assert.Contains(t, stderr.String(), "routed to stderr")

	a.applyLoggingConfig(logger, config.Logging{Level: "chatty"})
	assert.Equal(t, logging.LevelDebug, logger.Config().Level, "invalid sections are not applied")
}

// =============================================================================
// helpers
// =============================================================================

func TestRun_ReportsErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"no-such-command"}, &stdout, &stderr)

	assert.Equal(t, exitFailure, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "Error")
	assert.Contains(t, stderr.String(), "unknown command")
	assert.Contains(t, stderr.String(), "╭", "rich errors are boxed")
}

func TestReportError_MachineLine(t *testing.T) {
	var stderr bytes.Buffer
	a := newApp(&bytes.Buffer{}, &stderr)
	a.jsonOutput = true

	a.reportError(errUnhealthy(1))
	assert.Equal(t, "Error: 1 health check(s) failed\n", stderr.String())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitFailure, exitCode(errors.New("boom")))
	assert.Equal(t, exitUnhealthy, exitCode(errUnhealthy(2)))
	assert.EqualError(t, errUnhealthy(2), "2 health check(s) failed")
}

func TestRenderSummary_HugeHeapValues(t *testing.T) {
	var out bytes.Buffer
	p := ux.NewPrinter(&out, ux.ModeRich)

	assert.NotPanics(t, func() {
		renderSummary(p, metrics.Summary{
			MemoryUsage: metrics.MemoryUsageSummary{
				Current: math.Pow(1024, 6),
				Peak:    math.MaxFloat64,
			},
		})
	})
	assert.Contains(t, out.String(), "Heap (current): 1.0 EiB")
	assert.Contains(t, out.String(), "YiB")
}

func readFile(path string) string {
	data, _ := os.ReadFile(path)
	return string(data)
}
