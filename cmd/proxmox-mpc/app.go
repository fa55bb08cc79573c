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
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/proxmox-mpc/cmd/proxmox-mpc/config"
	"github.com/AleutianAI/proxmox-mpc/internal/diagnostics"
	"github.com/AleutianAI/proxmox-mpc/internal/infra/process"
	"github.com/AleutianAI/proxmox-mpc/internal/metrics"
	"github.com/AleutianAI/proxmox-mpc/internal/tracing"
	"github.com/AleutianAI/proxmox-mpc/pkg/logging"
)

// observerShutdownTimeout bounds the final span flush on exit.
const observerShutdownTimeout = 5 * time.Second

// app is the composition root. Every service is built on first use from
// the loaded configuration and the persistent flags, so commands that
// never touch the tracer never dial an OTLP collector.
type app struct {
	workspace  string
	configPath string
	jsonOutput bool

	stdout io.Writer
	stderr io.Writer

	// Test seams. Nil means the production implementation.
	procs   process.Manager
	stats   metrics.ProcessStats
	loadAvg diagnostics.LoadReader
	numCPU  int
	homeDir string

	config      func() (config.Config, error)
	logger      func() (*logging.Logger, error)
	observer    func() (tracing.SpanObserver, error)
	tracer      func() (*tracing.Tracer, error)
	exporter    func() (*metrics.PrometheusExporter, error)
	metrics     func() (*metrics.Collector, error)
	diagnostics func() (*diagnostics.Collector, error)
	storage     func() (*diagnostics.FileStorage, error)

	mu            sync.Mutex
	builtLogger   *logging.Logger
	builtObserver tracing.SpanObserver
	closeOnce     sync.Once
}

func newApp(stdout, stderr io.Writer) *app {
	a := &app{stdout: stdout, stderr: stderr}

	a.config = sync.OnceValues(func() (config.Config, error) {
		path := a.configPath
		if path == "" {
			home, err := a.home()
			if err != nil {
				return config.Config{}, err
			}
			path = filepath.Join(home, "."+logging.ToolName, "config.yaml")
			a.configPath = path
		}
		return config.Load(path)
	})

	a.logger = sync.OnceValues(func() (*logging.Logger, error) {
		cfg, err := a.config()
		if err != nil {
			return nil, err
		}
		logCfg, err := a.loggerConfig(cfg.Logging)
		if err != nil {
			return nil, err
		}
		logger, err := logging.New(logCfg)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.builtLogger = logger
		a.mu.Unlock()
		return logger, nil
	})

	a.observer = sync.OnceValues(func() (tracing.SpanObserver, error) {
		cfg, err := a.config()
		if err != nil {
			return nil, err
		}
		obs, err := a.newObserver(context.Background(), cfg.Tracing)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.builtObserver = obs
		a.mu.Unlock()
		return obs, nil
	})

	a.tracer = sync.OnceValues(func() (*tracing.Tracer, error) {
		logger, err := a.logger()
		if err != nil {
			return nil, err
		}
		obs, err := a.observer()
		if err != nil {
			logger.Warn("Span export disabled", logging.Fields{"error": err.Error()})
			obs = tracing.NoOpSpanObserver{}
		}
		return tracing.New(logger, tracing.WithObserver(obs)), nil
	})

	a.exporter = sync.OnceValues(func() (*metrics.PrometheusExporter, error) {
		cfg, err := a.config()
		if err != nil {
			return nil, err
		}
		if !cfg.Metrics.Prometheus {
			return nil, nil
		}
		return metrics.NewPrometheusExporter(), nil
	})

	a.metrics = sync.OnceValues(func() (*metrics.Collector, error) {
		prom, err := a.exporter()
		if err != nil {
			return nil, err
		}
		opts := []metrics.Option{}
		if prom != nil {
			opts = append(opts, metrics.WithExporter(prom))
		}
		if a.stats != nil {
			opts = append(opts, metrics.WithProcessStats(a.stats))
		}
		return metrics.New(opts...), nil
	})

	a.diagnostics = sync.OnceValues(func() (*diagnostics.Collector, error) {
		cfg, err := a.config()
		if err != nil {
			return nil, err
		}
		logger, err := a.logger()
		if err != nil {
			return nil, err
		}
		tracer, err := a.tracer()
		if err != nil {
			return nil, err
		}
		mc, err := a.metrics()
		if err != nil {
			return nil, err
		}

		var opts []diagnostics.Option
		if a.procs != nil {
			opts = append(opts, diagnostics.WithProcessManager(a.procs))
		}
		if a.stats != nil {
			opts = append(opts, diagnostics.WithProcessStats(a.stats))
		}
		if a.loadAvg != nil {
			opts = append(opts, diagnostics.WithLoadReader(a.loadAvg))
		}
		if a.numCPU > 0 {
			opts = append(opts, diagnostics.WithCPUCount(a.numCPU))
		}
		return diagnostics.New(newLogHistory(logger), tracer, mc, diagnostics.Config{
			Workspace:   a.workspace,
			Tools:       cfg.Diagnostics.Tools,
			ToolTimeout: cfg.Diagnostics.ToolTimeout,
		}, opts...), nil
	})

	a.storage = sync.OnceValues(func() (*diagnostics.FileStorage, error) {
		cfg, err := a.config()
		if err != nil {
			return nil, err
		}
		dir := cfg.Diagnostics.StorageDir
		if dir == "" {
			home, err := a.home()
			if err != nil {
				return nil, err
			}
			dir = filepath.Join(home, "."+logging.ToolName, "diagnostics")
		}
		store, err := diagnostics.NewFileStorage(dir)
		if err != nil {
			return nil, err
		}
		store.SetRetentionDays(cfg.Diagnostics.RetentionDays)
		return store, nil
	})

	return a
}

func (a *app) home() (string, error) {
	if a.homeDir != "" {
		return a.homeDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return home, nil
}

// stateDir is ~/.proxmox-mpc.
func (a *app) stateDir() (string, error) {
	home, err := a.home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "."+logging.ToolName), nil
}

// loggerConfig converts the logging section and routes all console output
// to stderr, keeping stdout for command results.
func (a *app) loggerConfig(section config.Logging) (logging.Config, error) {
	cfg, err := section.LoggerConfig(a.workspace)
	if err != nil {
		return logging.Config{}, err
	}
	cfg.Stdout = a.stderr
	cfg.Stderr = a.stderr
	return cfg, nil
}

func (a *app) newObserver(ctx context.Context, section config.Tracing) (tracing.SpanObserver, error) {
	switch section.Exporter {
	case "none":
		return tracing.NoOpSpanObserver{}, nil
	case "console":
		return tracing.NewStdoutSpanObserver(ctx, section.ServiceName, a.stderr)
	case "otlp":
		return tracing.NewOTelSpanObserver(ctx, tracing.OTelObserverConfig{
			ServiceName: section.ServiceName,
			Endpoint:    section.Endpoint,
			Insecure:    section.Insecure,
		})
	default:
		return tracing.NewDefaultSpanObserver(ctx, section.ServiceName)
	}
}

// close flushes spans and closes the log file. Services never built are
// not built here.
func (a *app) close() error {
	var errs []error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		obs, logger := a.builtObserver, a.builtLogger
		a.mu.Unlock()

		if obs != nil {
			ctx, cancel := context.WithTimeout(context.Background(), observerShutdownTimeout)
			errs = append(errs, obs.Shutdown(ctx))
			cancel()
		}
		if logger != nil {
			errs = append(errs, logger.Close())
		}
	})
	return errors.Join(errs...)
}
