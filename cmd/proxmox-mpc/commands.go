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
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

// newRootCmd builds the command tree around a.
//
// # Description
//
// Persistent flags fill in a before any service is built, so every
// subcommand sees the resolved workspace and config path.
//
// # Examples
//
//	proxmox-mpc health
//	proxmox-mpc --workspace ~/infra/lab logs --level error
//	proxmox-mpc report-issue -d "apply hangs on node pve2"
//
// # Assumptions
//
//   - The workspace defaults to the current directory.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "proxmox-mpc",
		Short: "Observability tools for proxmox-mpc workspaces",
		Long: `Inspect the health and history of a proxmox-mpc workspace.

Logs are written as JSON lines under <workspace>/.proxmox-mpc/logs. The
tool configuration lives in ~/.proxmox-mpc/config.yaml and is created with
defaults on first run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.resolveWorkspace()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.workspace, "workspace", "w", "", "workspace directory (default: current directory)")
	flags.StringVar(&a.configPath, "config", "", "config file (default: ~/.proxmox-mpc/config.yaml)")
	flags.BoolVar(&a.jsonOutput, "json", false, "machine-readable output")

	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.AddCommand(
		newHealthCmd(a),
		newDebugCmd(a),
		newLogsCmd(a),
		newMetricsCmd(a),
		newReportIssueCmd(a),
		newMonitorCmd(a),
	)
	return root
}

func (a *app) resolveWorkspace() error {
	if a.workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
		a.workspace = wd
	}
	abs, err := filepath.Abs(a.workspace)
	if err != nil {
		return fmt.Errorf("resolving workspace %s: %w", a.workspace, err)
	}
	a.workspace = abs
	return nil
}
