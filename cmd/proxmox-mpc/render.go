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
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/proxmox-mpc/internal/diagnostics"
	"github.com/AleutianAI/proxmox-mpc/internal/metrics"
	"github.com/AleutianAI/proxmox-mpc/internal/tracing"
	"github.com/AleutianAI/proxmox-mpc/internal/util"
	"github.com/AleutianAI/proxmox-mpc/pkg/logging"
	"github.com/AleutianAI/proxmox-mpc/pkg/ux"
)

const logTimeLayout = "2006-01-02 15:04:05.000"

func (a *app) printer() *ux.Printer {
	if a.jsonOutput {
		return ux.NewPrinter(a.stdout, ux.ModeMachine)
	}
	return ux.NewPrinter(a.stdout, ux.ModeRich)
}

// reportError prints the final error of a run on stderr. Machine mode
// keeps it to one greppable line.
func (a *app) reportError(err error) {
	if a.jsonOutput {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return
	}
	ux.NewPrinter(a.stderr, ux.ModeRich).ErrorBox("Error", err.Error())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// Health
// =============================================================================

func renderHealth(p *ux.Printer, results []diagnostics.HealthStatus) {
	p.Section("Health checks")
	for _, r := range results {
		detail := r.Message
		if r.ResponseTime > 0 && !p.Machine() {
			detail = fmt.Sprintf("%s (%s)", detail, formatMillis(r.ResponseTime))
		}
		p.Status(string(r.Status), r.Component, detail)
	}

	healthy, warnings, errs := countStates(results)
	if p.Machine() {
		return
	}
	fmt.Fprintln(p.Writer())
	p.Muted(fmt.Sprintf("%d healthy, %d warning, %d error", healthy, warnings, errs))
}

func countStates(results []diagnostics.HealthStatus) (healthy, warnings, errs int) {
	for _, r := range results {
		switch r.Status {
		case diagnostics.StateHealthy:
			healthy++
		case diagnostics.StateWarning:
			warnings++
		default:
			errs++
		}
	}
	return healthy, warnings, errs
}

// =============================================================================
// Logs
// =============================================================================

// renderLogs prints records oldest first. records arrive most recent first.
func renderLogs(p *ux.Printer, records []logging.LogRecord) {
	if len(records) == 0 {
		p.Muted("  (no log records)")
		return
	}
	for _, rec := range slices.Backward(records) {
		p.Line("%s", formatLogRecord(rec))
	}
}

func formatLogRecord(rec logging.LogRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s", rec.Timestamp.Local().Format(logTimeLayout), rec.Level)
	if rec.Operation != "" {
		fmt.Fprintf(&b, " [%s", rec.Operation)
		if rec.Phase != "" {
			fmt.Fprintf(&b, "/%s", rec.Phase)
		}
		b.WriteString("]")
	}
	b.WriteString(" " + rec.Message)
	if rec.Error != nil {
		fmt.Fprintf(&b, " (error [%s]: %s)", rec.Error.Category, rec.Error.Message)
	}
	if id := shortID(rec.CorrelationID); id != "" {
		fmt.Fprintf(&b, " cid=%s", id)
	}
	return b.String()
}

// =============================================================================
// Spans and metrics
// =============================================================================

func renderSpans(p *ux.Printer, spans []tracing.TraceSpan) {
	if len(spans) == 0 {
		p.Muted("  (no completed spans)")
		return
	}
	rows := make([][]string, 0, len(spans))
	for _, s := range spans {
		rows = append(rows, []string{
			p.StatusIcon(string(s.Status)),
			s.Operation,
			formatMillis(float64(s.Duration.Microseconds()) / 1000),
			shortID(s.TraceID),
			s.Tags["error"],
		})
	}
	p.Table([]string{"", "OPERATION", "DURATION", "TRACE", "ERROR"}, rows)
}

func renderSummary(p *ux.Printer, s metrics.Summary) {
	p.KeyValue("Window", s.Window)
	p.KeyValue("Samples", s.TotalMetrics)
	p.KeyValue("Operations", s.UniqueOperations)
	p.KeyValue("Avg response", formatMillis(s.AvgResponseTime))
	p.KeyValue("Error rate", strconv.FormatFloat(s.ErrorRate*100, 'f', 1, 64)+"%")
	p.KeyValue("Heap (current)", util.FormatBytes(s.MemoryUsage.Current))
	p.KeyValue("Heap (peak)", util.FormatBytes(s.MemoryUsage.Peak))
}

func renderMetrics(p *ux.Printer, ms []metrics.PerformanceMetric) {
	if len(ms) == 0 {
		p.Muted("  (no metrics recorded)")
		return
	}
	rows := make([][]string, 0, len(ms))
	for _, m := range ms {
		rows = append(rows, []string{
			m.Name,
			strconv.FormatFloat(m.Value, 'f', -1, 64),
			m.Unit,
			m.Operation,
			formatTags(m.Tags),
		})
	}
	p.Table([]string{"NAME", "VALUE", "UNIT", "OPERATION", "TAGS"}, rows)
}

// =============================================================================
// Formatting helpers
// =============================================================================

func formatMillis(ms float64) string {
	d := time.Duration(ms * float64(time.Millisecond))
	switch {
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(100 * time.Microsecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}

func formatTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+tags[k])
	}
	return strings.Join(parts, ",")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
