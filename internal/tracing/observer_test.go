// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNoOpSpanObserver(t *testing.T) {
	var o SpanObserver = NoOpSpanObserver{}
	assert.NotPanics(t, func() {
		o.SpanStarted(TraceSpan{})
		o.SpanFinished(TraceSpan{})
	})
	assert.NoError(t, o.Shutdown(t.Context()))
}

func TestOTelSpanObserver_MirrorsTree(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	observer, err := NewOTelSpanObserver(t.Context(), OTelObserverConfig{
		ServiceName: "proxmox-mpc-test",
		Exporter:    exporter,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = observer.Shutdown(t.Context()) })

	tracer, logger, _ := newTestTracer(t, WithObserver(observer))

	rootID := tracer.StartTrace("sync", map[string]string{"node": "pve1"})
	childID, err := tracer.StartSpan("discover", rootID, nil)
	require.NoError(t, err)
	logger.Info("found vm 101")
	tracer.FinishSpanWithError(childID, errors.New("proxmox api returned 500"), nil)
	tracer.FinishSpan(rootID, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	child, root := spans[0], spans[1]
	assert.Equal(t, "discover", child.Name)
	assert.Equal(t, "sync", root.Name)
	assert.Equal(t, root.SpanContext.SpanID(), child.Parent.SpanID())
	assert.Equal(t, root.SpanContext.TraceID(), child.SpanContext.TraceID())

	assert.Equal(t, codes.Error, child.Status.Code)
	assert.Equal(t, codes.Ok, root.Status.Code)
	assert.Contains(t, root.Attributes, attribute.String("node", "pve1"))
	assert.Contains(t, child.Attributes, attribute.String("mpc.span_id", childID))

	var events []string
	for _, e := range child.Events {
		events = append(events, e.Name)
	}
	assert.Contains(t, events, "found vm 101")
}

func TestOTelSpanObserver_UnknownFinishIgnored(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	observer, err := NewOTelSpanObserver(t.Context(), OTelObserverConfig{Exporter: exporter})
	require.NoError(t, err)

	assert.NotPanics(t, func() { observer.SpanFinished(TraceSpan{SpanID: "never-started"}) })
	assert.Empty(t, exporter.GetSpans())
}

func TestStdoutSpanObserver(t *testing.T) {
	var buf bytes.Buffer
	observer, err := NewStdoutSpanObserver(t.Context(), "proxmox-mpc", &buf)
	require.NoError(t, err)

	tracer, _, _ := newTestTracer(t, WithObserver(observer))
	id := tracer.StartTrace("health", nil)
	tracer.FinishSpan(id, nil)
	require.NoError(t, observer.Shutdown(t.Context()))

	assert.Contains(t, buf.String(), `"Name": "health"`)
}

func TestNewDefaultSpanObserver_NoEnvIsNoOp(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_TRACES_EXPORTER", "")

	o, err := NewDefaultSpanObserver(t.Context(), "proxmox-mpc")
	require.NoError(t, err)
	assert.IsType(t, NoOpSpanObserver{}, o)
}

func TestNewOTelSpanObserver_TransportSecurity(t *testing.T) {
	tests := []struct {
		name     string
		insecure bool
	}{
		{"tls", false},
		{"plaintext", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := NewOTelSpanObserver(t.Context(), OTelObserverConfig{
				Endpoint: "collector.example:4317",
				Insecure: tt.insecure,
			})
			require.NoError(t, err)
			require.NotNil(t, o.conn)

			ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
			defer cancel()
			assert.NoError(t, o.Shutdown(ctx))
		})
	}
}

func TestNewDefaultSpanObserver_SecureOTLP(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector.example:4317")
	t.Setenv("OTEL_INSECURE", "false")

	o, err := NewDefaultSpanObserver(t.Context(), "proxmox-mpc")
	require.NoError(t, err)
	assert.IsType(t, &OTelSpanObserver{}, o)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	assert.NoError(t, o.Shutdown(ctx))
}
