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
	"errors"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/proxmox-mpc/internal/metrics"
)

var errPrometheusDisabled = errors.New("prometheus export is disabled (set metrics.prometheus: true in the config)")

type metricsReport struct {
	Summary metrics.Summary             `json:"summary"`
	Metrics []metrics.PerformanceMetric `json:"metrics"`
}

// newMetricsCmd builds the metrics command.
//
// # Description
//
// Samples process memory and CPU, runs the health probes so their
// durations are recorded, and prints the Prometheus text exposition of
// the mirror registry. With --json the raw samples and the summary are
// printed instead.
//
// # Examples
//
//	proxmox-mpc metrics > /var/lib/node_exporter/textfile/proxmox_mpc.prom
func newMetricsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print metrics in Prometheus text format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runMetrics(cmd.Context())
		},
	}
}

func (a *app) runMetrics(ctx context.Context) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	prom, err := a.exporter()
	if err != nil {
		return err
	}
	if prom == nil && !a.jsonOutput {
		return errPrometheusDisabled
	}
	mc, err := a.metrics()
	if err != nil {
		return err
	}

	mc.RecordMemoryUsage("metrics")
	mc.RecordCPUUsage("metrics")
	if _, _, err := a.checkHealth(ctx, "metrics"); err != nil {
		return err
	}

	if a.jsonOutput {
		return writeJSON(a.stdout, metricsReport{
			Summary: mc.Summary(cfg.Metrics.SummaryWindow),
			Metrics: mc.Metrics("", 0),
		})
	}
	return prom.WriteText(a.stdout)
}
