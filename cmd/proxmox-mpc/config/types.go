// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"time"

	"github.com/AleutianAI/proxmox-mpc/internal/diagnostics"
	"github.com/AleutianAI/proxmox-mpc/pkg/logging"
)

// Config is the contents of ~/.proxmox-mpc/config.yaml.
type Config struct {
	Logging     Logging     `yaml:"logging"`
	Tracing     Tracing     `yaml:"tracing"`
	Metrics     Metrics     `yaml:"metrics"`
	Diagnostics Diagnostics `yaml:"diagnostics"`
}

// Logging maps onto logging.Config.
type Logging struct {
	Level      string `yaml:"level" validate:"required,oneof=debug info warn error"`
	Console    bool   `yaml:"console"`
	File       bool   `yaml:"file"`
	FilePath   string `yaml:"file_path,omitempty"`
	Structured bool   `yaml:"structured"`
	Tracing    bool   `yaml:"tracing"`
}

// Tracing selects the span mirror.
//
// Exporter values:
//
//   - env: decided by OTEL_EXPORTER_OTLP_ENDPOINT and OTEL_TRACES_EXPORTER
//   - none: no mirror
//   - console: pretty JSON spans on stderr
//   - otlp: OTLP/gRPC to Endpoint
type Tracing struct {
	Exporter    string `yaml:"exporter" validate:"required,oneof=env none console otlp"`
	Endpoint    string `yaml:"endpoint,omitempty" validate:"required_if=Exporter otlp,omitempty,hostname_port"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name" validate:"required"`
}

// Metrics configures the metrics collector.
type Metrics struct {
	// Prometheus mirrors samples into a Prometheus registry, printed by
	// the metrics command.
	Prometheus    bool          `yaml:"prometheus"`
	SummaryWindow time.Duration `yaml:"summary_window" validate:"gte=0"`
}

// Diagnostics configures health probes, snapshot storage and monitor.
type Diagnostics struct {
	Tools           []string      `yaml:"tools" validate:"dive,required"`
	ToolTimeout     time.Duration `yaml:"tool_timeout" validate:"gte=0"`
	StorageDir      string        `yaml:"storage_dir,omitempty"`
	RetentionDays   int           `yaml:"retention_days" validate:"gte=0"`
	MonitorInterval time.Duration `yaml:"monitor_interval" validate:"omitempty,min=1s"`
}

// Default returns the configuration written on first run.
func Default() Config {
	return Config{
		Logging: Logging{
			Level:   "info",
			Console: false,
			File:    true,
			Tracing: true,
		},
		Tracing: Tracing{
			Exporter:    "env",
			ServiceName: logging.ToolName,
		},
		Metrics: Metrics{
			Prometheus:    true,
			SummaryWindow: 5 * time.Minute,
		},
		Diagnostics: Diagnostics{
			Tools:           append([]string(nil), diagnostics.DefaultTools...),
			ToolTimeout:     diagnostics.DefaultToolTimeout,
			RetentionDays:   diagnostics.DefaultRetentionDays,
			MonitorInterval: 30 * time.Second,
		},
	}
}

// LoggerConfig converts the logging section. An enabled file sink without
// a path logs to logging.DefaultFilePath(workspace).
func (l Logging) LoggerConfig(workspace string) (logging.Config, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return logging.Config{}, fmt.Errorf("logging.level: %w", err)
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.EnableConsole = l.Console
	cfg.EnableFile = l.File
	cfg.FilePath = l.FilePath
	cfg.EnableStructured = l.Structured
	cfg.EnableTracing = l.Tracing
	if cfg.EnableFile && cfg.FilePath == "" {
		cfg.FilePath = logging.DefaultFilePath(workspace)
	}
	return cfg, nil
}
