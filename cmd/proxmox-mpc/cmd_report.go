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
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/proxmox-mpc/internal/diagnostics"
	"github.com/AleutianAI/proxmox-mpc/pkg/logging"
	"github.com/AleutianAI/proxmox-mpc/pkg/ux"
)

type reportOptions struct {
	description string
	operation   string
	errMessage  string
}

// reportResult is the --json form of report-issue.
type reportResult struct {
	SnapshotID string `json:"snapshotId"`
	Location   string `json:"location,omitempty"`
	Pruned     int    `json:"pruned"`
	Prompt     string `json:"prompt"`
}

// newReportIssueCmd builds the report-issue command.
//
// # Description
//
// Captures a diagnostic snapshot of the workspace, stores it under the
// diagnostics directory, prunes snapshots past retention and prints a
// troubleshooting prompt on stdout ready to paste into an assistant.
//
// Without --error the most recent error record in the log file is used
// as the reported failure.
//
// # Examples
//
//	proxmox-mpc report-issue -d "terraform apply hangs on pve2"
//	proxmox-mpc report-issue --operation sync --error "connection refused" | pbcopy
//
// # Limitations
//
//   - A storage failure is reported on stderr; the prompt is still
//     printed.
func newReportIssueCmd(a *app) *cobra.Command {
	var opts reportOptions
	cmd := &cobra.Command{
		Use:   "report-issue",
		Short: "Capture a diagnostic snapshot and print a troubleshooting prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runReportIssue(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.description, "description", "d", "", "what went wrong, in your words")
	f.StringVarP(&opts.operation, "operation", "o", "", "operation that failed (e.g. sync, apply)")
	f.StringVarP(&opts.errMessage, "error", "e", "", "error message to report")
	return cmd
}

func (a *app) runReportIssue(ctx context.Context, opts reportOptions) error {
	dc, err := a.diagnostics()
	if err != nil {
		return err
	}
	tracer, err := a.tracer()
	if err != nil {
		return err
	}
	logger, err := a.logger()
	if err != nil {
		return err
	}

	// Look up the last logged failure before this command logs anything.
	var lastFailure *logging.LogRecord
	if opts.errMessage == "" {
		errs := newLogHistory(logger).RecentLogs(1, logging.LogFilter{Level: logging.LevelError.Ptr()})
		if len(errs) > 0 && errs[0].Error != nil {
			lastFailure = &errs[0]
		}
	}

	rootID := tracer.StartTrace("report-issue", map[string]string{"workspace": a.workspace})

	snapOpts := diagnostics.SnapshotOptions{
		Workspace: a.workspace,
		Operation: opts.operation,
	}
	if opts.errMessage != "" {
		snapOpts.Error = errors.New(opts.errMessage)
	}

	spanID, err := tracer.StartSpan("snapshot", rootID, nil)
	if err != nil {
		tracer.AbortSpan(rootID)
		return err
	}
	spin := ux.NewSpinner(a.stderr, "Collecting diagnostics")
	spin.Start()
	snap := dc.GenerateSnapshot(ctx, snapOpts)
	if lastFailure != nil {
		snap.Error = lastFailure.Error
		if snap.Operation == "" {
			snap.Operation = lastFailure.Operation
		}
	}
	tracer.FinishSpan(spanID, map[string]string{
		"snapshotId":   snap.ID,
		"healthChecks": strconv.Itoa(len(snap.HealthStatus)),
	})

	spin.UpdateMessage("Saving snapshot")
	result := reportResult{SnapshotID: snap.ID}
	err = a.storeSnapshot(ctx, rootID, snap, &result)
	spin.Stop()
	if err != nil {
		logger.Warn("Snapshot not saved", logging.Fields{
			"operation":  "report-issue",
			"snapshotId": snap.ID,
			"error":      err.Error(),
		})
		fmt.Fprintf(a.stderr, "warning: snapshot not saved: %v\n", err)
	}

	result.Prompt = dc.GenerateAIPrompt(snap, opts.description)
	tracer.FinishSpan(rootID, map[string]string{"snapshotId": snap.ID})

	if a.jsonOutput {
		return writeJSON(a.stdout, result)
	}
	if result.Location != "" {
		body := result.Location
		if result.Pruned > 0 {
			body += fmt.Sprintf("\nRemoved %d expired snapshot(s)", result.Pruned)
		}
		ux.NewPrinter(a.stderr, ux.ModeRich).Box("Snapshot saved", body)
	}
	_, err = fmt.Fprintln(a.stdout, result.Prompt)
	return err
}

func (a *app) storeSnapshot(ctx context.Context, parentID string, snap *diagnostics.DiagnosticSnapshot, result *reportResult) error {
	tracer, err := a.tracer()
	if err != nil {
		return err
	}
	spanID, err := tracer.StartSpan("store-snapshot", parentID, nil)
	if err != nil {
		return err
	}

	store, err := a.storage()
	if err != nil {
		tracer.FinishSpanWithError(spanID, err, nil)
		return err
	}
	location, err := store.Store(ctx, snap)
	if err != nil {
		tracer.FinishSpanWithError(spanID, err, nil)
		return err
	}
	result.Location = location

	tags := map[string]string{"location": location}
	pruned, err := store.Prune(ctx)
	if err != nil {
		tracer.LoggerFor(spanID).Warn("Pruning old snapshots failed", logging.Fields{
			"operation": "report-issue",
			"dir":       store.BaseDir(),
			"error":     err.Error(),
		})
		tags["pruneError"] = err.Error()
	}
	result.Pruned = pruned
	tags["pruned"] = strconv.Itoa(pruned)
	tracer.FinishSpan(spanID, tags)
	return nil
}
