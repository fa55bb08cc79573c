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
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// =============================================================================
// Interface
// =============================================================================

// SpanObserver mirrors span lifecycle events somewhere else.
//
// The Tracer calls observers without holding its own lock. Implementations
// must be safe for concurrent use and must not call back into the Tracer.
type SpanObserver interface {
	// SpanStarted receives a copy of a newly opened span.
	SpanStarted(span TraceSpan)

	// SpanFinished receives the completed span, including its Logs.
	SpanFinished(span TraceSpan)

	// Shutdown flushes anything buffered.
	Shutdown(ctx context.Context) error
}

// =============================================================================
// NoOp
// =============================================================================

// NoOpSpanObserver discards every event. It is the default.
type NoOpSpanObserver struct{}

func (NoOpSpanObserver) SpanStarted(TraceSpan)          {}
func (NoOpSpanObserver) SpanFinished(TraceSpan)         {}
func (NoOpSpanObserver) Shutdown(context.Context) error { return nil }

// =============================================================================
// OpenTelemetry mirror
// =============================================================================

// OTelSpanObserver re-creates every span on an OpenTelemetry tracer
// provider, so traces can be inspected in Jaeger or any OTLP backend.
//
// # Limitations
//
//   - The mirrored spans get OpenTelemetry's own IDs. The proxmox-mpc IDs
//     are attached as the mpc.trace_id and mpc.span_id attributes.
//   - Spans whose parent was started before the observer existed are
//     exported as roots.
type OTelSpanObserver struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	conn     *grpc.ClientConn

	mu    sync.Mutex
	spans map[string]trace.Span
}

// OTelObserverConfig configures NewOTelSpanObserver.
type OTelObserverConfig struct {
	// ServiceName defaults to "proxmox-mpc".
	ServiceName string

	// Endpoint is the OTLP/gRPC collector address. Defaults to
	// localhost:4317. Ignored when Exporter is set.
	Endpoint string

	// Insecure disables TLS for the gRPC connection. Otherwise the
	// collector certificate is verified against the system roots.
	Insecure bool

	// Exporter, when set, receives spans synchronously instead of an OTLP
	// batch exporter.
	Exporter sdktrace.SpanExporter
}

// NewOTelSpanObserver builds a tracer provider for the mirror.
//
// # Outputs
//
//   - *OTelSpanObserver: Call Shutdown to flush.
//   - error: The gRPC client, exporter or resource could not be created.
//
// # Assumptions
//
//   - The provider is private to the observer. The global OpenTelemetry
//     provider is left untouched.
func NewOTelSpanObserver(ctx context.Context, config OTelObserverConfig) (*OTelSpanObserver, error) {
	if config.ServiceName == "" {
		config.ServiceName = "proxmox-mpc"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			attribute.String("deployment.environment", environment()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
	}

	var observerConn *grpc.ClientConn
	if config.Exporter != nil {
		opts = append(opts, sdktrace.WithSyncer(config.Exporter))
	} else {
		if config.Endpoint == "" {
			config.Endpoint = "localhost:4317"
		}
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		if config.Insecure {
			creds = insecure.NewCredentials()
		}
		conn, err := grpc.NewClient(config.Endpoint, grpc.WithTransportCredentials(creds))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		observerConn = conn
	}

	provider := sdktrace.NewTracerProvider(opts...)
	return &OTelSpanObserver{
		tracer:   provider.Tracer(config.ServiceName),
		provider: provider,
		conn:     observerConn,
		spans:    make(map[string]trace.Span),
	}, nil
}

// NewStdoutSpanObserver mirrors spans as pretty-printed JSON to w.
func NewStdoutSpanObserver(ctx context.Context, serviceName string, w io.Writer) (*OTelSpanObserver, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}
	return NewOTelSpanObserver(ctx, OTelObserverConfig{
		ServiceName: serviceName,
		Exporter:    exporter,
	})
}

func (o *OTelSpanObserver) SpanStarted(span TraceSpan) {
	ctx := context.Background()

	o.mu.Lock()
	defer o.mu.Unlock()

	if parent, ok := o.spans[span.ParentSpanID]; ok {
		ctx = trace.ContextWithSpan(ctx, parent)
	}

	attrs := make([]attribute.KeyValue, 0, len(span.Tags)+2)
	attrs = append(attrs,
		attribute.String("mpc.trace_id", span.TraceID),
		attribute.String("mpc.span_id", span.SpanID),
	)
	for k, v := range span.Tags {
		attrs = append(attrs, attribute.String(k, v))
	}

	_, otelSpan := o.tracer.Start(ctx, span.Operation,
		trace.WithTimestamp(span.StartTime),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	o.spans[span.SpanID] = otelSpan
}

func (o *OTelSpanObserver) SpanFinished(span TraceSpan) {
	o.mu.Lock()
	otelSpan, ok := o.spans[span.SpanID]
	delete(o.spans, span.SpanID)
	o.mu.Unlock()
	if !ok {
		return
	}

	for k, v := range span.Tags {
		otelSpan.SetAttributes(attribute.String(k, v))
	}
	for _, rec := range span.Logs {
		otelSpan.AddEvent(rec.Message, trace.WithTimestamp(rec.Timestamp), trace.WithAttributes(
			attribute.String("log.level", strings.ToLower(rec.Level.String())),
			attribute.String("log.correlation_id", rec.CorrelationID),
		))
	}

	if span.Status == StatusError {
		otelSpan.SetStatus(codes.Error, span.Tags["error"])
	} else {
		otelSpan.SetStatus(codes.Ok, "")
	}

	if span.EndTime != nil {
		otelSpan.End(trace.WithTimestamp(*span.EndTime))
	} else {
		otelSpan.End()
	}
}

// Shutdown flushes the provider and closes the collector connection, if
// the observer opened one.
func (o *OTelSpanObserver) Shutdown(ctx context.Context) error {
	var errs []error
	if o.provider != nil {
		errs = append(errs, o.provider.Shutdown(ctx))
	}
	if o.conn != nil {
		errs = append(errs, o.conn.Close())
	}
	return errors.Join(errs...)
}

// =============================================================================
// Factory
// =============================================================================

// NewDefaultSpanObserver selects an observer from the environment:
//
//   - OTEL_EXPORTER_OTLP_ENDPOINT set: OTLP/gRPC mirror (insecure unless
//     OTEL_INSECURE=false).
//   - OTEL_TRACES_EXPORTER=console: pretty JSON on stderr.
//   - Otherwise: NoOpSpanObserver.
func NewDefaultSpanObserver(ctx context.Context, serviceName string) (SpanObserver, error) {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		return NewOTelSpanObserver(ctx, OTelObserverConfig{
			ServiceName: serviceName,
			Endpoint:    endpoint,
			Insecure:    os.Getenv("OTEL_INSECURE") != "false",
		})
	}
	if os.Getenv("OTEL_TRACES_EXPORTER") == "console" {
		return NewStdoutSpanObserver(ctx, serviceName, os.Stderr)
	}
	return NoOpSpanObserver{}, nil
}

func environment() string {
	if env := os.Getenv("PROXMOX_MPC_ENV"); env != "" {
		return env
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}

var _ SpanObserver = NoOpSpanObserver{}
var _ SpanObserver = (*OTelSpanObserver)(nil)
