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

import (
	"maps"
	"time"
)

// Fields is the free-form context attached to a log call.
//
// Two keys are interpreted by the Logger: "operation" and "phase" populate
// the record's Operation and Phase. Every other key is kept verbatim in
// LogRecord.Context.
type Fields map[string]any

// ResourcesAffectedKey is always present in LogRecord.Context.
const ResourcesAffectedKey = "resourcesAffected"

// defaultOperation and defaultPhase are used when a call carries no
// "operation" / "phase" field.
const (
	defaultOperation = "unknown"
	defaultPhase     = "unknown"
)

// OperationType tags records emitted by the Operation* convenience calls.
type OperationType string

const (
	OperationStartType   OperationType = "start"
	OperationSuccessType OperationType = "success"
	OperationFailureType OperationType = "failure"
)

// LogRecord is one immutable structured log entry.
//
// Records are created by the Logger on every emitted call, retained in a
// bounded ring buffer and optionally appended to the log file as one JSON
// line. Callers receive copies; mutating a returned record's maps does not
// affect the buffer because Context is cloned at creation.
type LogRecord struct {
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlationId"`
	SpanID        string         `json:"spanId,omitempty"`
	Operation     string         `json:"operation"`
	Phase         string         `json:"phase"`
	Level         Level          `json:"level"`
	Message       string         `json:"message"`
	Context       map[string]any `json:"context"`
	Error         *ErrorInfo     `json:"error,omitempty"`
	Metadata      *Metadata      `json:"metadata,omitempty"`
}

// ErrorInfo is the normalized form of an error passed to Logger.Error.
//
// ErrorInfo deliberately does not implement the error interface so slog
// handlers serialize it as a JSON object rather than a flat string.
type ErrorInfo struct {
	Type            string        `json:"type"`
	Message         string        `json:"message"`
	Stack           string        `json:"stack,omitempty"`
	Code            string        `json:"code,omitempty"`
	Category        ErrorCategory `json:"category"`
	RecoveryActions []string      `json:"recoveryActions,omitempty"`
}

// Metadata is stamped by the Operation* convenience calls.
type Metadata struct {
	OperationType OperationType `json:"operationType"`
	// DurationMs is only set for success and failure records.
	DurationMs *float64 `json:"duration,omitempty"`
}

// mergeFields flattens variadic field maps; later maps win on key collision.
func mergeFields(fields ...Fields) Fields {
	merged := make(Fields)
	for _, f := range fields {
		maps.Copy(merged, f)
	}
	return merged
}

// buildContext splits operation/phase out of fields and guarantees the
// resourcesAffected key.
func buildContext(fields Fields) (operation, phase string, ctx map[string]any) {
	operation, phase = defaultOperation, defaultPhase
	ctx = make(map[string]any, len(fields)+1)
	for k, v := range fields {
		switch k {
		case "operation":
			if s, ok := v.(string); ok && s != "" {
				operation = s
				continue
			}
		case "phase":
			if s, ok := v.(string); ok && s != "" {
				phase = s
				continue
			}
		}
		ctx[k] = v
	}

	switch resources := ctx[ResourcesAffectedKey].(type) {
	case []string:
		ctx[ResourcesAffectedKey] = append([]string(nil), resources...)
	case string:
		ctx[ResourcesAffectedKey] = []string{resources}
	default:
		ctx[ResourcesAffectedKey] = []string{}
	}
	return operation, phase, ctx
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
