// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import "context"

// TraceContext identifies the span a log record belongs to.
//
// When a Logger has a trace context, the record's CorrelationID is the
// TraceID and its SpanID is set, which is what lets the tracer attach the
// record to the span.
type TraceContext struct {
	TraceID      string `json:"traceId"`
	SpanID       string `json:"spanId"`
	ParentSpanID string `json:"parentSpanId,omitempty"`
}

// IsZero reports whether tc carries no trace identity.
func (tc TraceContext) IsZero() bool {
	return tc.TraceID == "" && tc.SpanID == ""
}

type traceContextKey struct{}

// ContextWithTrace returns a copy of ctx carrying tc.
func ContextWithTrace(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, tc)
}

// TraceFromContext returns the TraceContext stored by ContextWithTrace.
func TraceFromContext(ctx context.Context) (TraceContext, bool) {
	if ctx == nil {
		return TraceContext{}, false
	}
	tc, ok := ctx.Value(traceContextKey{}).(TraceContext)
	return tc, ok && !tc.IsZero()
}

// RecordObserver receives every record that carries a SpanID.
//
// ObserveRecord is called synchronously after the Logger has released its
// locks, so an observer may safely call back into the Logger. It must not
// block.
type RecordObserver interface {
	ObserveRecord(rec LogRecord)
}

// RecordObserverFunc adapts a function to RecordObserver.
type RecordObserverFunc func(rec LogRecord)

// ObserveRecord calls f(rec).
func (f RecordObserverFunc) ObserveRecord(rec LogRecord) { f(rec) }
