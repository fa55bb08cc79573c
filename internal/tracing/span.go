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
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"maps"
	"os"
	"time"

	"github.com/AleutianAI/proxmox-mpc/pkg/logging"
)

// SpanStatus is the lifecycle state of a span. Pending is the only
// non-terminal state.
type SpanStatus string

const (
	StatusPending SpanStatus = "pending"
	StatusSuccess SpanStatus = "success"
	StatusError   SpanStatus = "error"
)

// TraceSpan is one timed unit of work.
//
// Spans handed out by the Tracer are copies; changing them has no effect
// on the Tracer's state.
type TraceSpan struct {
	TraceID      string              `json:"traceId"`
	SpanID       string              `json:"spanId"`
	ParentSpanID string              `json:"parentSpanId,omitempty"`
	Operation    string              `json:"operation"`
	StartTime    time.Time           `json:"startTime"`
	EndTime      *time.Time          `json:"endTime,omitempty"`
	Duration     time.Duration       `json:"duration,omitempty"`
	Status       SpanStatus          `json:"status"`
	Tags         map[string]string   `json:"tags"`
	Logs         []logging.LogRecord `json:"logs"`
}

// IsRoot reports whether the span starts a trace.
func (s TraceSpan) IsRoot() bool {
	return s.ParentSpanID == ""
}

// TraceContext returns the identity the Logger stamps on records emitted
// under this span.
func (s TraceSpan) TraceContext() logging.TraceContext {
	return logging.TraceContext{
		TraceID:      s.TraceID,
		SpanID:       s.SpanID,
		ParentSpanID: s.ParentSpanID,
	}
}

func (s TraceSpan) clone() TraceSpan {
	out := s
	out.Tags = maps.Clone(s.Tags)
	if out.Tags == nil {
		out.Tags = map[string]string{}
	}
	out.Logs = append([]logging.LogRecord(nil), s.Logs...)
	if s.EndTime != nil {
		end := *s.EndTime
		out.EndTime = &end
	}
	return out
}

// generateTraceID returns a W3C-compatible 32-character hex trace ID.
func generateTraceID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%016x%016x", time.Now().UnixNano(), os.Getpid())
	}
	return hex.EncodeToString(b)
}

// generateSpanID returns a W3C-compatible 16-character hex span ID.
func generateSpanID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
