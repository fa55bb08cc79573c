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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/proxmox-mpc/cmd/proxmox-mpc/config"
	"github.com/AleutianAI/proxmox-mpc/internal/diagnostics"
	"github.com/AleutianAI/proxmox-mpc/internal/infra/process"
	"github.com/AleutianAI/proxmox-mpc/pkg/logging"
	"github.com/AleutianAI/proxmox-mpc/pkg/ux"
)

const (
	monitorLockName        = "monitor"
	defaultMonitorInterval = 30 * time.Second
)

type monitorOptions struct {
	interval time.Duration
	count    int
}

// newMonitorCmd builds the monitor command.
//
// # Description
//
// Runs the health probes every interval until interrupted, printing one
// summary line per round plus any component that is not healthy. Edits
// to the config file's logging section take effect without a restart.
// Only one monitor runs per user; a second one fails with the holder's
// PID.
//
// # Examples
//
//	proxmox-mpc monitor
//	proxmox-mpc monitor --interval 10s --count 6
//
// # Limitations
//
//   - Only the logging section is hot-reloaded. Interval and tool list
//     changes need a restart.
func newMonitorCmd(a *app) *cobra.Command {
	var opts monitorOptions
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run health checks periodically until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runMonitor(ctx, opts)
		},
	}
	f := cmd.Flags()
	f.DurationVarP(&opts.interval, "interval", "i", 0, "time between rounds (default: diagnostics.monitor_interval)")
	f.IntVar(&opts.count, "count", 0, "stop after this many rounds (0 runs until interrupted)")
	return cmd
}

func (a *app) runMonitor(ctx context.Context, opts monitorOptions) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	interval := opts.interval
	if interval <= 0 {
		interval = cfg.Diagnostics.MonitorInterval
	}
	if interval <= 0 {
		interval = defaultMonitorInterval
	}

	dir, err := a.stateDir()
	if err != nil {
		return err
	}
	lock := process.NewLock(process.LockConfig{Dir: dir, Name: monitorLockName})
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	logger, err := a.logger()
	if err != nil {
		return err
	}
	tracer, err := a.tracer()
	if err != nil {
		return err
	}

	watcher, err := config.Watch(a.configPath,
		func(c config.Config) { a.applyLoggingConfig(logger, c.Logging) },
		func(err error) {
			logger.Warn("Config reload failed, keeping previous settings", logging.Fields{
				"operation": "monitor",
				"path":      a.configPath,
				"error":     err.Error(),
			})
		})
	if err != nil {
		logger.Warn("Config hot reload unavailable", logging.Fields{"operation": "monitor", "error": err.Error()})
	} else {
		defer watcher.Close()
	}

	logger.Info("Monitor started", logging.Fields{
		"operation": "monitor",
		"interval":  interval.String(),
		"workspace": a.workspace,
	})

	p := a.printer()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rounds := 0
loop:
	for {
		results, _, err := a.checkHealth(ctx, "monitor")
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			break
		}
		rounds++
		renderMonitorRound(p, time.Now(), results)

		if opts.count > 0 && rounds >= opts.count {
			break
		}
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
	}

	aborted := tracer.AbortAllSpans()
	logger.Info("Monitor stopped", logging.Fields{
		"operation":    "monitor",
		"rounds":       rounds,
		"abortedSpans": aborted,
	})
	return nil
}

func (a *app) applyLoggingConfig(logger *logging.Logger, section config.Logging) {
	cfg, err := a.loggerConfig(section)
	if err == nil {
		err = logger.UpdateConfig(cfg)
	}
	if err != nil {
		logger.Warn("Logging config not applied", logging.Fields{"operation": "monitor", "error": err.Error()})
		return
	}
	logger.Info("Logging config reloaded", logging.Fields{
		"operation": "monitor",
		"level":     section.Level,
	})
}

func renderMonitorRound(p *ux.Printer, at time.Time, results []diagnostics.HealthStatus) {
	healthy, warnings, errs := countStates(results)
	if p.Machine() {
		p.Line("%s\t%d\t%d\t%d", at.UTC().Format(time.RFC3339), healthy, warnings, errs)
	} else {
		p.Line("%s  %s %d healthy  %s %d warning  %s %d error",
			at.Format(time.TimeOnly),
			p.StatusIcon(string(diagnostics.StateHealthy)), healthy,
			p.StatusIcon(string(diagnostics.StateWarning)), warnings,
			p.StatusIcon(string(diagnostics.StateError)), errs)
	}
	for _, r := range results {
		if r.Status != diagnostics.StateHealthy {
			p.Status(string(r.Status), r.Component, r.Message)
		}
	}
}
