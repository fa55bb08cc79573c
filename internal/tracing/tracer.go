// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package tracing records nested timing spans for proxmox-mpc operations.

A trace is a tree of spans sharing one trace ID. The root span is opened
with StartTrace, children with StartSpan, and every span is closed exactly
once with FinishSpan, FinishSpanWithError or an abort. Closed spans move
into a bounded completed list and never change again.

# Log Correlation

Opening a span points the Logger's ambient trace context at it, so records
logged while the span is open carry the trace ID as their correlation ID
and are attached to the span's Logs. Finishing the root span clears the
context. Concurrent operations should log through LoggerFor(spanID), which
binds the logger to one span instead of the shared ambient value.

# Export

Spans stay in process. A SpanObserver may mirror them to OpenTelemetry
(see NewDefaultSpanObserver); nothing is ever propagated to other
processes.
*/
package tracing

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/AleutianAI/proxmox-mpc/internal/util"
	"github.com/AleutianAI/proxmox-mpc/pkg/logging"
)

// CompletedCapacity is the number of finished spans retained.
const CompletedCapacity = 500

// ErrParentNotFound is returned by StartSpan when the parent span is not
// active.
var ErrParentNotFound = errors.New("parent span not found")

// errorHints are attached to the error log written by FinishSpanWithError.
var errorHints = []string{
	"Check error details",
	"Review operation logs",
	"Use log query to inspect related entries",
}

// Tracer owns the active span set and the completed span history.
type Tracer struct {
	logger   *logging.Logger
	observer SpanObserver
	now      func() time.Time

	mu        sync.Mutex
	active    map[string]*TraceSpan
	closing   map[string]struct{}
	completed *util.RingBuffer[TraceSpan]
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithObserver mirrors span lifecycle events to o.
func WithObserver(o SpanObserver) Option {
	return func(t *Tracer) {
		if o != nil {
			t.observer = o
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracer) { t.now = now }
}

// New creates a Tracer that correlates through logger.
//
// # Description
//
// The Tracer registers itself as a record observer on logger so that
// records emitted under an active span are appended to its Logs.
//
// # Inputs
//
//   - logger: Required. Shared with the rest of the process.
//   - opts: WithObserver, WithClock.
func New(logger *logging.Logger, opts ...Option) *Tracer {
	t := &Tracer{
		logger:    logger,
		observer:  NoOpSpanObserver{},
		now:       time.Now,
		active:    make(map[string]*TraceSpan),
		closing:   make(map[string]struct{}),
		completed: util.NewRingBuffer[TraceSpan](CompletedCapacity),
	}
	for _, opt := range opts {
		opt(t)
	}
	logger.AddObserver(logging.RecordObserverFunc(t.attachRecord))
	return t
}

// attachRecord is the Logger observer hook. It must not log.
func (t *Tracer) attachRecord(rec logging.LogRecord) {
	t.AddLog(rec.SpanID, rec)
}

// =============================================================================
// Lifecycle
// =============================================================================

// StartTrace opens a root span and makes it the Logger's ambient context.
//
// # Outputs
//
//   - string: The root span ID. The trace ID is available via GetSpan.
func (t *Tracer) StartTrace(operation string, tags map[string]string) string {
	t.mu.Lock()
	span := t.newSpanLocked(generateTraceID(), "", operation, tags)
	started := span.clone()
	t.mu.Unlock()

	t.logger.SetTraceContext(started.TraceContext())
	t.observer.SpanStarted(started)
	t.logger.Debug("Started trace", logging.Fields{
		"operation": operation,
		"traceId":   started.TraceID,
		"spanId":    started.SpanID,
	})
	return started.SpanID
}

// StartSpan opens a child of an active span.
//
// # Outputs
//
//   - string: The new span ID.
//   - error: ErrParentNotFound when parentSpanID is unknown or finished.
//     Starting a child of a closed span is a programming error in the
//     caller, so it is surfaced rather than logged.
func (t *Tracer) StartSpan(operation, parentSpanID string, tags map[string]string) (string, error) {
	t.mu.Lock()
	parent, ok := t.active[parentSpanID]
	if !ok {
		t.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrParentNotFound, parentSpanID)
	}
	span := t.newSpanLocked(parent.TraceID, parent.SpanID, operation, tags)
	started := span.clone()
	t.mu.Unlock()

	t.logger.SetTraceContext(started.TraceContext())
	t.observer.SpanStarted(started)
	t.logger.Debug("Started span", logging.Fields{
		"operation":    operation,
		"spanId":       started.SpanID,
		"parentSpanId": parentSpanID,
	})
	return started.SpanID, nil
}

func (t *Tracer) newSpanLocked(traceID, parentID, operation string, tags map[string]string) *TraceSpan {
	spanID := generateSpanID()
	for t.active[spanID] != nil {
		spanID = generateSpanID()
	}
	span := &TraceSpan{
		TraceID:      traceID,
		SpanID:       spanID,
		ParentSpanID: parentID,
		Operation:    operation,
		StartTime:    t.now(),
		Status:       StatusPending,
		Tags:         maps.Clone(tags),
	}
	if span.Tags == nil {
		span.Tags = map[string]string{}
	}
	t.active[spanID] = span
	return span
}

// FinishSpan closes a span successfully, merging tags.
//
// Unknown or already finished spans produce a warning and no state change.
func (t *Tracer) FinishSpan(spanID string, tags map[string]string) {
	done, ok := t.complete(spanID, StatusSuccess, tags)
	if !ok {
		t.logger.Warn("Attempted to finish unknown span", logging.Fields{"spanId": spanID})
		return
	}
	t.afterComplete(done)
	t.logger.Debug("Finished span", logging.Fields{
		"operation":  done.Operation,
		"spanId":     done.SpanID,
		"durationMs": done.Duration.Milliseconds(),
	})
}

// FinishSpanWithError closes a span as failed.
//
// # Description
//
// The error is logged at error level under the span's own trace context,
// so the record lands in the span's Logs, then the span is closed with
// "error" and "errorType" tags.
func (t *Tracer) FinishSpanWithError(spanID string, err error, tags map[string]string) {
	// Claim the span so no other finisher can close it while the error is
	// logged into it.
	t.mu.Lock()
	span, ok := t.active[spanID]
	if _, claimed := t.closing[spanID]; claimed {
		ok = false
	}
	var tc logging.TraceContext
	var operation string
	if ok {
		t.closing[spanID] = struct{}{}
		tc, operation = span.TraceContext(), span.Operation
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Warn("Attempted to finish unknown span", logging.Fields{"spanId": spanID})
		return
	}
	if err == nil {
		err = errors.New("unknown error")
	}

	t.logger.WithTrace(tc).Error(fmt.Sprintf("Span failed: %s", operation), err,
		logging.Fields{"operation": operation, "spanId": spanID}, errorHints...)

	merged := maps.Clone(tags)
	if merged == nil {
		merged = map[string]string{}
	}
	merged["error"] = err.Error()
	merged["errorType"] = logging.ErrorTypeName(err)

	t.mu.Lock()
	delete(t.closing, spanID)
	done, ok := t.completeLocked(spanID, StatusError, merged)
	t.mu.Unlock()
	if !ok {
		return
	}
	t.afterComplete(done)
}

// AbortSpan force-closes an active span as failed with aborted=true.
func (t *Tracer) AbortSpan(spanID string) {
	done, ok := t.complete(spanID, StatusError, map[string]string{"aborted": "true"})
	if !ok {
		t.logger.Warn("Attempted to abort unknown span", logging.Fields{"spanId": spanID})
		return
	}
	t.afterComplete(done)
	t.logger.Warn("Aborted span", logging.Fields{
		"operation": done.Operation,
		"spanId":    done.SpanID,
	})
}

// AbortAllSpans aborts every active span, children before parents. It is
// meant for shutdown and interrupt handling.
func (t *Tracer) AbortAllSpans() int {
	spans := t.ActiveSpans()
	slices.Reverse(spans)
	for _, s := range spans {
		if done, ok := t.complete(s.SpanID, StatusError, map[string]string{"aborted": "true"}); ok {
			t.afterComplete(done)
		}
	}
	if len(spans) > 0 {
		t.logger.Warn("Aborted all active spans", logging.Fields{"count": len(spans)})
	}
	return len(spans)
}

// complete moves a span from active to completed. It reports false when the
// span is not active or FinishSpanWithError is already closing it.
func (t *Tracer) complete(spanID string, status SpanStatus, tags map[string]string) (TraceSpan, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, claimed := t.closing[spanID]; claimed {
		return TraceSpan{}, false
	}
	return t.completeLocked(spanID, status, tags)
}

// completeLocked is complete with t.mu held.
func (t *Tracer) completeLocked(spanID string, status SpanStatus, tags map[string]string) (TraceSpan, bool) {
	span, ok := t.active[spanID]
	if !ok {
		return TraceSpan{}, false
	}
	end := t.now()
	span.EndTime = &end
	span.Duration = end.Sub(span.StartTime)
	span.Status = status
	maps.Copy(span.Tags, tags)

	delete(t.active, spanID)
	done := span.clone()
	t.completed.Push(done)
	return done.clone(), true
}

// afterComplete hands the Logger context back and notifies the observer.
// It runs without t.mu held.
func (t *Tracer) afterComplete(done TraceSpan) {
	if done.IsRoot() {
		if tc, ok := t.logger.TraceContext(); ok && tc.TraceID == done.TraceID {
			t.logger.ClearTraceContext()
		}
	} else if parent, ok := t.activeSpan(done.ParentSpanID); ok {
		if tc, ok := t.logger.TraceContext(); ok && tc.SpanID == done.SpanID {
			t.logger.SetTraceContext(parent.TraceContext())
		}
	}
	t.observer.SpanFinished(done)
}

// =============================================================================
// Mutation of active spans
// =============================================================================

// AddTags merges tags into an active span. Unknown or finished spans are
// ignored.
func (t *Tracer) AddTags(spanID string, tags map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if span, ok := t.active[spanID]; ok {
		maps.Copy(span.Tags, tags)
	}
}

// AddLog appends rec to an active span. Unknown or finished spans are
// ignored.
func (t *Tracer) AddLog(spanID string, rec logging.LogRecord) {
	if spanID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if span, ok := t.active[spanID]; ok {
		span.Logs = append(span.Logs, rec)
	}
}

// LoggerFor returns a logger bound to spanID's trace context. For spans
// that are not active it returns the shared logger unchanged.
func (t *Tracer) LoggerFor(spanID string) *logging.Logger {
	if span, ok := t.activeSpan(spanID); ok {
		return t.logger.WithTrace(span.TraceContext())
	}
	return t.logger
}

// =============================================================================
// Queries
// =============================================================================

func (t *Tracer) activeSpan(spanID string) (TraceSpan, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if span, ok := t.active[spanID]; ok {
		return span.clone(), true
	}
	return TraceSpan{}, false
}

// GetSpan returns the active or completed span with the given ID.
func (t *Tracer) GetSpan(spanID string) (TraceSpan, bool) {
	if span, ok := t.activeSpan(spanID); ok {
		return span, true
	}
	found := t.completed.NewestMatching(1, func(s TraceSpan) bool { return s.SpanID == spanID })
	if len(found) == 0 {
		return TraceSpan{}, false
	}
	return found[0].clone(), true
}

// IsSpanActive reports whether spanID is open.
func (t *Tracer) IsSpanActive(spanID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[spanID]
	return ok
}

// ActiveSpans returns the open spans ordered by start time.
func (t *Tracer) ActiveSpans() []TraceSpan {
	t.mu.Lock()
	spans := make([]TraceSpan, 0, len(t.active))
	for _, s := range t.active {
		spans = append(spans, s.clone())
	}
	t.mu.Unlock()

	sortByStart(spans)
	return spans
}

// CompletedSpans returns up to limit finished spans, most recent first.
// A limit <= 0 returns all of them.
func (t *Tracer) CompletedSpans(limit int) []TraceSpan {
	spans := t.completed.Newest(limit)
	for i := range spans {
		spans[i] = spans[i].clone()
	}
	return spans
}

// GetTrace returns every known span of a trace, active and completed,
// sorted by start time.
func (t *Tracer) GetTrace(traceID string) []TraceSpan {
	spans := t.completed.Matching(func(s TraceSpan) bool { return s.TraceID == traceID })
	for i := range spans {
		spans[i] = spans[i].clone()
	}

	t.mu.Lock()
	for _, s := range t.active {
		if s.TraceID == traceID {
			spans = append(spans, s.clone())
		}
	}
	t.mu.Unlock()

	sortByStart(spans)
	return spans
}

func sortByStart(spans []TraceSpan) {
	slices.SortStableFunc(spans, func(a, b TraceSpan) int {
		return a.StartTime.Compare(b.StartTime)
	})
}

// ClearCompleted drops the completed span history.
func (t *Tracer) ClearCompleted() {
	t.completed.Clear()
}

// DroppedCount returns how many completed spans were evicted.
func (t *Tracer) DroppedCount() int64 {
	return t.completed.DroppedCount()
}

// TraceSummary aggregates the spans of one trace.
type TraceSummary struct {
	TraceID       string        `json:"traceId"`
	SpanCount     int           `json:"spanCount"`
	SuccessCount  int           `json:"successCount"`
	ErrorCount    int           `json:"errorCount"`
	PendingCount  int           `json:"pendingCount"`
	Status        SpanStatus    `json:"status"`
	TotalDuration time.Duration `json:"totalDuration"`
}

// TraceSummary returns counts and an overall status for traceID.
//
// # Description
//
// Status is error if any span failed, else pending if any span is still
// open, else success. TotalDuration is the root span's duration when the
// root has finished; otherwise it is the extent from the earliest start to
// the latest end, treating open spans as ending now.
//
// # Outputs
//
//   - bool: False when no span of the trace is known.
func (t *Tracer) TraceSummary(traceID string) (TraceSummary, bool) {
	spans := t.GetTrace(traceID)
	if len(spans) == 0 {
		return TraceSummary{}, false
	}

	summary := TraceSummary{TraceID: traceID, SpanCount: len(spans)}
	now := t.now()
	var earliest, latest time.Time
	var rootDuration time.Duration
	rootDone := false

	for i, s := range spans {
		switch s.Status {
		case StatusSuccess:
			summary.SuccessCount++
		case StatusError:
			summary.ErrorCount++
		default:
			summary.PendingCount++
		}

		end := now
		if s.EndTime != nil {
			end = *s.EndTime
		}
		if i == 0 || s.StartTime.Before(earliest) {
			earliest = s.StartTime
		}
		if end.After(latest) {
			latest = end
		}
		if s.IsRoot() && s.EndTime != nil {
			rootDuration, rootDone = s.Duration, true
		}
	}

	switch {
	case summary.ErrorCount > 0:
		summary.Status = StatusError
	case summary.PendingCount > 0:
		summary.Status = StatusPending
	default:
		summary.Status = StatusSuccess
	}

	if rootDone {
		summary.TotalDuration = rootDuration
	} else {
		summary.TotalDuration = latest.Sub(earliest)
	}
	return summary, true
}
