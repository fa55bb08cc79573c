// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const (
	metricsNamespace = "proxmox_mpc"
	metricsSubsystem = "collector"
)

// Exporter mirrors samples as they are recorded. Observe must be safe for
// concurrent use and must not block.
type Exporter interface {
	Observe(m PerformanceMetric)
}

// =============================================================================
// NoOp
// =============================================================================

// NoOpExporter drops every sample.
type NoOpExporter struct{}

func (NoOpExporter) Observe(PerformanceMetric) {}

// =============================================================================
// Prometheus
// =============================================================================

// PrometheusExporter exposes recorded samples as Prometheus metrics on a
// private registry.
//
// # Metrics Exported
//
//   - proxmox_mpc_collector_value{name,unit}: last finite value per name
//   - proxmox_mpc_collector_duration_seconds{name}: histogram of ms-valued
//     duration and response_time samples
//   - proxmox_mpc_collector_samples_total{name}: samples recorded
//   - proxmox_mpc_collector_nonfinite_total{name}: NaN/Inf samples skipped
//
// Non-finite values are counted but never set on a gauge or histogram.
type PrometheusExporter struct {
	registry *prometheus.Registry

	value     *prometheus.GaugeVec
	durations *prometheus.HistogramVec
	samples   *prometheus.CounterVec
	nonFinite *prometheus.CounterVec

	observed atomic.Int64
}

// NewPrometheusExporter creates the exporter and registers its collectors
// on a fresh registry.
func NewPrometheusExporter() *PrometheusExporter {
	e := &PrometheusExporter{
		registry: prometheus.NewRegistry(),
		value: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "value",
				Help:      "Last recorded value of each proxmox-mpc metric",
			},
			[]string{"name", "unit"},
		),
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "duration_seconds",
				Help:      "Distribution of recorded durations and response times in seconds",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 120.0},
			},
			[]string{"name"},
		),
		samples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "samples_total",
				Help:      "Total number of samples recorded by name",
			},
			[]string{"name"},
		),
		nonFinite: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "nonfinite_total",
				Help:      "Samples with NaN or infinite values, which are not exported",
			},
			[]string{"name"},
		),
	}
	e.registry.MustRegister(e.value, e.durations, e.samples, e.nonFinite)
	return e
}

// Observe implements Exporter.
func (e *PrometheusExporter) Observe(m PerformanceMetric) {
	e.observed.Add(1)
	e.samples.WithLabelValues(m.Name).Inc()
	if !isFinite(m.Value) {
		e.nonFinite.WithLabelValues(m.Name).Inc()
		return
	}
	e.value.WithLabelValues(m.Name, m.Unit).Set(m.Value)
	if m.Unit == UnitMilliseconds && (strings.Contains(m.Name, "duration") || strings.Contains(m.Name, "response_time")) {
		e.durations.WithLabelValues(m.Name).Observe(m.Value / 1000.0)
	}
}

// Observed returns the number of samples seen.
func (e *PrometheusExporter) Observed() int64 {
	return e.observed.Load()
}

// Gatherer exposes the private registry, for promhttp or tests.
func (e *PrometheusExporter) Gatherer() prometheus.Gatherer {
	return e.registry
}

// WriteText writes the registry in the Prometheus text exposition format.
func (e *PrometheusExporter) WriteText(w io.Writer) error {
	families, err := e.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// NewDefaultExporter returns a PrometheusExporter when enabled and a
// NoOpExporter otherwise.
func NewDefaultExporter(enablePrometheus bool) Exporter {
	if enablePrometheus {
		return NewPrometheusExporter()
	}
	return NoOpExporter{}
}

var _ Exporter = NoOpExporter{}
var _ Exporter = (*PrometheusExporter)(nil)
