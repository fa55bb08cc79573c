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
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/proxmox-mpc/internal/diagnostics"
	"github.com/AleutianAI/proxmox-mpc/pkg/logging"
	"github.com/AleutianAI/proxmox-mpc/pkg/ux"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// newHealthCmd builds the health command.
//
// # Description
//
// Runs every health probe once and prints one line per component. The
// exit code is 2 when any probe reports error, so the command can gate
// scripts; warnings exit 0.
//
// # Examples
//
//	proxmox-mpc health
//	proxmox-mpc health --json | jq '.[] | select(.status != "healthy")'
func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check host, tools, database and workspace health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runHealth(cmd.Context())
		},
	}
}

func (a *app) runHealth(ctx context.Context) error {
	results, _, err := a.checkHealth(ctx, "health")
	if err != nil {
		return err
	}

	if a.jsonOutput {
		if err := writeJSON(a.stdout, results); err != nil {
			return err
		}
	} else {
		p := a.printer()
		p.Title("proxmox-mpc health: " + a.workspace)
		renderHealth(p, results)
	}

	if _, _, failed := countStates(results); failed > 0 {
		return errUnhealthy(failed)
	}
	return nil
}

// =============================================================================
// TRACED HEALTH RUN
// =============================================================================

// checkHealth runs the probes inside a trace named operation and records
// one operation.duration sample per probe.
//
// # Outputs
//
//   - []diagnostics.HealthStatus: Probe results in fixed order.
//   - string: The trace ID.
//   - error: Only service construction failures. Unhealthy results are
//     not errors here.
func (a *app) checkHealth(ctx context.Context, operation string) ([]diagnostics.HealthStatus, string, error) {
	dc, err := a.diagnostics()
	if err != nil {
		return nil, "", err
	}
	tracer, err := a.tracer()
	if err != nil {
		return nil, "", err
	}
	mc, err := a.metrics()
	if err != nil {
		return nil, "", err
	}

	spanID := tracer.StartTrace(operation, map[string]string{"workspace": a.workspace})
	root, _ := tracer.GetSpan(spanID)
	log := tracer.LoggerFor(spanID)
	log.OperationStart(operation, "health-check")

	results := ux.WithSpinner(a.stderr, "Running health checks", func() []diagnostics.HealthStatus {
		return dc.PerformHealthChecks(ctx)
	})

	for _, r := range results {
		mc.RecordDuration("health."+r.Component, r.ResponseTime, map[string]string{
			"component": r.Component,
			"status":    string(r.Status),
			"success":   strconv.FormatBool(r.Status != diagnostics.StateError),
		})
	}

	healthy, warnings, failed := countStates(results)
	tags := map[string]string{
		"healthy":  strconv.Itoa(healthy),
		"warnings": strconv.Itoa(warnings),
		"errors":   strconv.Itoa(failed),
	}
	if failed > 0 {
		tracer.FinishSpanWithError(spanID, errUnhealthy(failed), tags)
	} else {
		log.Info("Health checks passed", logging.Fields{
			"operation": operation,
			"healthy":   healthy,
			"warnings":  warnings,
		})
		tracer.FinishSpan(spanID, tags)
	}
	return results, root.TraceID, nil
}
