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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/proxmox-mpc/pkg/logging"
)

type logsOptions struct {
	level       string
	operation   string
	correlation string
	limit       int
}

// newLogsCmd builds the logs command.
//
// # Description
//
// Prints records from the workspace log file, oldest first. --level keeps
// records at exactly that level, matching LogFilter semantics.
//
// # Examples
//
//	proxmox-mpc logs --level error
//	proxmox-mpc logs --operation apply --limit 200
//	proxmox-mpc logs --correlation 3f2c9a1e-...
//
// # Limitations
//
//   - With the file sink disabled there is no history to read and only
//     records emitted by this invocation are shown.
func newLogsCmd(a *app) *cobra.Command {
	var opts logsOptions
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent log records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLogs(opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.level, "level", "l", "", "only records at this level (debug, info, warn, error)")
	f.StringVarP(&opts.operation, "operation", "o", "", "only records for this operation")
	f.StringVarP(&opts.correlation, "correlation", "c", "", "only records with this correlation ID")
	f.IntVarP(&opts.limit, "limit", "n", 50, "maximum records to show (0 for all)")
	return cmd
}

func (a *app) runLogs(opts logsOptions) error {
	filter := logging.LogFilter{
		Operation:     opts.operation,
		CorrelationID: opts.correlation,
	}
	if opts.level != "" {
		level, err := logging.ParseLevel(opts.level)
		if err != nil {
			return err
		}
		filter.Level = level.Ptr()
	}

	logger, err := a.logger()
	if err != nil {
		return err
	}
	records := newLogHistory(logger).RecentLogs(opts.limit, filter)
	if a.jsonOutput {
		if records == nil {
			records = []logging.LogRecord{}
		}
		return writeJSON(a.stdout, records)
	}

	p := a.printer()
	if cfg := logger.Config(); !cfg.EnableFile {
		p.Muted("File logging is disabled; only this invocation's records are available.")
	}
	renderLogs(p, records)
	return nil
}
