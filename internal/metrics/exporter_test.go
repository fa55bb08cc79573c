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
	"bytes"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusExporter_MirrorsCollector(t *testing.T) {
	exporter := NewPrometheusExporter()
	c, _ := newTestCollector(t, WithExporter(exporter))

	c.RecordDuration("sync", 250, nil)
	c.RecordDuration("sync", 750, nil)
	c.RecordMemoryUsage("health")
	c.Record("vm.count", math.NaN(), UnitCount, nil, "")

	assert.EqualValues(t, 7, exporter.Observed())
	assert.Equal(t, 750.0, testutil.ToFloat64(exporter.value.WithLabelValues(NameOperationDuration, UnitMilliseconds)))
	assert.Equal(t, 2.0, testutil.ToFloat64(exporter.samples.WithLabelValues(NameOperationDuration)))
	assert.Equal(t, 4.0, testutil.ToFloat64(exporter.samples.WithLabelValues(NameMemoryUsage)))
	assert.Equal(t, 1.0, testutil.ToFloat64(exporter.nonFinite.WithLabelValues("vm.count")))

	assert.Equal(t, 1, testutil.CollectAndCount(exporter.durations), "only ms duration samples are observed")
}

func TestPrometheusExporter_SkipsNonFiniteGauge(t *testing.T) {
	exporter := NewPrometheusExporter()
	exporter.Observe(PerformanceMetric{Name: "x", Value: 3, Unit: "count"})
	exporter.Observe(PerformanceMetric{Name: "x", Value: math.Inf(1), Unit: "count"})

	assert.Equal(t, 3.0, testutil.ToFloat64(exporter.value.WithLabelValues("x", "count")))
}

func TestPrometheusExporter_WriteText(t *testing.T) {
	exporter := NewPrometheusExporter()
	exporter.Observe(PerformanceMetric{Name: NameAPIResponseTime, Value: 120, Unit: UnitMilliseconds})

	var buf bytes.Buffer
	require.NoError(t, exporter.WriteText(&buf))

	out := buf.String()
	assert.Contains(t, out, "# TYPE proxmox_mpc_collector_value gauge")
	assert.Contains(t, out, `proxmox_mpc_collector_value{name="api.response_time",unit="ms"} 120`)
	assert.Contains(t, out, "proxmox_mpc_collector_duration_seconds_bucket")
}

func TestNewDefaultExporter(t *testing.T) {
	assert.IsType(t, NoOpExporter{}, NewDefaultExporter(false))
	assert.IsType(t, &PrometheusExporter{}, NewDefaultExporter(true))
}
