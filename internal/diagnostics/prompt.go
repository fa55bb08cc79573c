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
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/AleutianAI/proxmox-mpc/internal/util"
	"github.com/AleutianAI/proxmox-mpc/pkg/logging"
)

// PromptLogLines is how many log lines GenerateAIPrompt includes.
const PromptLogLines = 10

// NoErrorReported is printed in the error section when the snapshot has no
// error.
const NoErrorReported = "No specific error reported."

// GenerateAIPrompt renders snapshot as a troubleshooting request for an AI
// assistant.
//
// # Description
//
// The output has fixed sections in a fixed order: problem description,
// error summary, health checks, the last PromptLogLines log lines (oldest
// first), system information, and the request. The same snapshot and
// description always produce the same text. Log lines and error text pass
// through the collector's Sanitizer; the hostname is left out.
func (c *Collector) GenerateAIPrompt(snapshot *DiagnosticSnapshot, userDescription string) string {
	if snapshot == nil {
		snapshot = &DiagnosticSnapshot{}
	}
	var b strings.Builder

	b.WriteString("# proxmox-mpc troubleshooting request\n\n")

	b.WriteString("## Problem description\n")
	if desc := strings.TrimSpace(userDescription); desc != "" {
		b.WriteString(desc)
	} else {
		b.WriteString("(no description provided)")
	}
	b.WriteString("\n\n")

	b.WriteString("## Error\n")
	if snapshot.Operation != "" {
		fmt.Fprintf(&b, "Operation: %s\n", snapshot.Operation)
	}
	c.writeError(&b, snapshot.Error)
	b.WriteString("\n")

	b.WriteString("## Health checks\n")
	if len(snapshot.HealthStatus) == 0 {
		b.WriteString("(no health checks recorded)\n")
	}
	for _, h := range snapshot.HealthStatus {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", h.Status, h.Component, c.sanitizer.Sanitize(h.Message))
	}
	b.WriteString("\n")

	logs := recentChronological(snapshot.Logs, PromptLogLines)
	fmt.Fprintf(&b, "## Recent logs (last %d)\n", len(logs))
	if len(logs) == 0 {
		b.WriteString("(no logs recorded)\n")
	}
	for _, rec := range logs {
		b.WriteString(c.sanitizer.Sanitize(formatLogLine(rec)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString("## System information\n")
	sys := snapshot.SystemInfo
	fmt.Fprintf(&b, "- Go runtime: %s\n", sys.GoVersion)
	fmt.Fprintf(&b, "- Platform: %s\n", sys.Platform)
	fmt.Fprintf(&b, "- CPUs: %d\n", sys.NumCPU)
	fmt.Fprintf(&b, "- Heap: %s used of %s (RSS %s)\n",
		util.FormatBytes(float64(sys.Memory.HeapUsed)), util.FormatBytes(float64(sys.Memory.HeapTotal)), util.FormatBytes(float64(sys.Memory.RSS)))
	fmt.Fprintf(&b, "- Uptime: %s\n", (time.Duration(sys.Uptime) * time.Second).String())
	if ws := snapshot.WorkspaceInfo; ws != nil {
		fmt.Fprintf(&b, "- Workspace: %s\n", c.sanitizer.Sanitize(ws.Path))
		for _, tool := range sortedKeys(ws.ToolVersions) {
			fmt.Fprintf(&b, "- %s: %s\n", tool, ws.ToolVersions[tool])
		}
		if ws.Error != "" {
			fmt.Fprintf(&b, "- Workspace error: %s\n", c.sanitizer.Sanitize(ws.Error))
		}
	}
	b.WriteString("\n")

	b.WriteString("## Request\n")
	b.WriteString("Please identify the most likely root cause of the problem above and " +
		"suggest concrete steps to fix it in this Proxmox, Terraform and Ansible workspace.\n")
	return b.String()
}

func (c *Collector) writeError(b *strings.Builder, info *logging.ErrorInfo) {
	if info == nil {
		b.WriteString(NoErrorReported + "\n")
		return
	}
	fmt.Fprintf(b, "Type: %s\n", info.Type)
	fmt.Fprintf(b, "Category: %s\n", info.Category)
	if info.Code != "" {
		fmt.Fprintf(b, "Code: %s\n", info.Code)
	}
	fmt.Fprintf(b, "Message: %s\n", c.sanitizer.Sanitize(info.Message))
	if len(info.RecoveryActions) > 0 {
		b.WriteString("Suggested recovery:\n")
		for _, action := range info.RecoveryActions {
			fmt.Fprintf(b, "- %s\n", action)
		}
	}
}

// recentChronological takes the first n of a most-recent-first slice and
// returns them oldest first.
func recentChronological(logs []logging.LogRecord, n int) []logging.LogRecord {
	if len(logs) > n {
		logs = logs[:n]
	}
	out := slices.Clone(logs)
	slices.Reverse(out)
	return out
}

func formatLogLine(rec logging.LogRecord) string {
	line := fmt.Sprintf("%s %-5s [%s/%s] %s",
		rec.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
		rec.Level, rec.Operation, rec.Phase, rec.Message)
	if rec.Error != nil {
		line += fmt.Sprintf(" (error [%s]: %s)", rec.Error.Category, rec.Error.Message)
	}
	return line
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
