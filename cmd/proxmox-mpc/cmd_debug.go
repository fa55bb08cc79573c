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
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/proxmox-mpc/internal/diagnostics"
	"github.com/AleutianAI/proxmox-mpc/internal/metrics"
	"github.com/AleutianAI/proxmox-mpc/internal/tracing"
	"github.com/AleutianAI/proxmox-mpc/pkg/logging"
)

// debugReport is the --json form of the debug command.
type debugReport struct {
	Workspace string                      `json:"workspace"`
	Health    []diagnostics.HealthStatus  `json:"health"`
	Trace     tracing.TraceSummary        `json:"trace"`
	Spans     []tracing.TraceSpan         `json:"spans"`
	Logs      []logging.LogRecord         `json:"logs"`
	Summary   metrics.Summary             `json:"summary"`
	Metrics   []metrics.PerformanceMetric `json:"metrics"`
}

// newDebugCmd builds the debug command.
//
// # Description
//
// Runs a traced health check, samples process memory and CPU, then shows
// the trace it produced, the most recent log records from the log file
// and the metric summary.
func newDebugCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Show recent logs, spans and metrics for troubleshooting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDebug(cmd.Context(), limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of log records and metrics to show")
	return cmd
}

func (a *app) runDebug(ctx context.Context, limit int) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	results, traceID, err := a.checkHealth(ctx, "debug")
	if err != nil {
		return err
	}
	tracer, err := a.tracer()
	if err != nil {
		return err
	}
	mc, err := a.metrics()
	if err != nil {
		return err
	}
	logger, err := a.logger()
	if err != nil {
		return err
	}

	mc.RecordMemoryUsage("debug")
	mc.RecordCPUUsage("debug")

	report := debugReport{
		Workspace: a.workspace,
		Health:    results,
		Spans:     tracer.GetTrace(traceID),
		Logs:      newLogHistory(logger).RecentLogs(limit, logging.LogFilter{}),
		Summary:   mc.Summary(cfg.Metrics.SummaryWindow),
		Metrics:   mc.Metrics("", limit),
	}
	report.Trace, _ = tracer.TraceSummary(traceID)

	if a.jsonOutput {
		return writeJSON(a.stdout, report)
	}

	p := a.printer()
	p.Title("proxmox-mpc debug: " + a.workspace)
	renderHealth(p, report.Health)

	p.Section(fmt.Sprintf("Trace %s", shortID(traceID)))
	p.KeyValue("Status", report.Trace.Status)
	p.KeyValue("Spans", report.Trace.SpanCount)
	p.KeyValue("Duration", report.Trace.TotalDuration)
	renderSpans(p, report.Spans)

	p.Section(fmt.Sprintf("Recent logs (last %d)", limit))
	if file := logger.Config().FilePath; logger.Config().EnableFile {
		p.Muted("  from " + file)
	}
	renderLogs(p, report.Logs)

	p.Section("Metric summary")
	renderSummary(p, report.Summary)

	p.Section(fmt.Sprintf("Recent metrics (last %d)", limit))
	renderMetrics(p, report.Metrics)
	return nil
}
