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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/proxmox-mpc/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracer(t *testing.T, opts ...Option) (*Tracer, *logging.Logger, *fakeClock) {
	t.Helper()
	cfg := logging.DefaultConfig()
	cfg.EnableConsole = false
	cfg.Level = logging.LevelDebug
	logger, err := logging.New(cfg)
	require.NoError(t, err)

	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(logger, opts...), logger, clock
}

func TestStartTrace_SetsLoggerContext(t *testing.T) {
	tracer, logger, _ := newTestTracer(t)

	rootID := tracer.StartTrace("sync", map[string]string{"node": "pve1"})
	root, ok := tracer.GetSpan(rootID)
	require.True(t, ok)

	assert.Len(t, root.TraceID, 32)
	assert.Len(t, root.SpanID, 16)
	assert.True(t, root.IsRoot())
	assert.Equal(t, StatusPending, root.Status)
	assert.Equal(t, "pve1", root.Tags["node"])

	tc, ok := logger.TraceContext()
	require.True(t, ok)
	assert.Equal(t, root.TraceID, tc.TraceID)
	assert.Equal(t, rootID, tc.SpanID)
}

func TestParentChildLifecycle(t *testing.T) {
	tracer, logger, clock := newTestTracer(t)

	rootID := tracer.StartTrace("A", nil)
	clock.Advance(10 * time.Millisecond)
	childID, err := tracer.StartSpan("B", rootID, nil)
	require.NoError(t, err)

	root, _ := tracer.GetSpan(rootID)
	child, _ := tracer.GetSpan(childID)
	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, rootID, child.ParentSpanID)

	clock.Advance(20 * time.Millisecond)
	tracer.FinishSpan(childID, nil)
	assert.False(t, tracer.IsSpanActive(childID))

	tc, ok := logger.TraceContext()
	require.True(t, ok, "finishing a child keeps the trace context")
	assert.Equal(t, rootID, tc.SpanID, "context returns to the parent")

	clock.Advance(5 * time.Millisecond)
	tracer.FinishSpan(rootID, nil)

	_, ok = logger.TraceContext()
	assert.False(t, ok, "finishing the root clears the context")
	assert.Empty(t, tracer.ActiveSpans())

	completed := tracer.CompletedSpans(0)
	require.Len(t, completed, 2)
	assert.Equal(t, rootID, completed[0].SpanID)
	assert.Equal(t, childID, completed[1].SpanID)
	assert.Equal(t, StatusSuccess, completed[0].Status)
	assert.Equal(t, 35*time.Millisecond, completed[0].Duration)
	assert.Equal(t, 20*time.Millisecond, completed[1].Duration)

	summary, ok := tracer.TraceSummary(completed[0].TraceID)
	require.True(t, ok)
	assert.Equal(t, 2, summary.SpanCount)
	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, StatusSuccess, summary.Status)
}

func TestStartSpan_ParentNotFound(t *testing.T) {
	tracer, _, _ := newTestTracer(t)

	_, err := tracer.StartSpan("child", "missing", nil)
	assert.ErrorIs(t, err, ErrParentNotFound)

	rootID := tracer.StartTrace("root", nil)
	tracer.FinishSpan(rootID, nil)
	_, err = tracer.StartSpan("child", rootID, nil)
	assert.ErrorIs(t, err, ErrParentNotFound, "completed spans cannot be parents")
}

func TestFinishSpan_UnknownWarns(t *testing.T) {
	tracer, logger, _ := newTestTracer(t)

	assert.NotPanics(t, func() { tracer.FinishSpan("nope", nil) })

	warns := logger.RecentLogs(0, logging.LogFilter{Level: logging.LevelWarn.Ptr()})
	require.Len(t, warns, 1)
	assert.Equal(t, "nope", warns[0].Context["spanId"])
}

func TestFinishSpan_SecondCallHasNoEffect(t *testing.T) {
	tracer, _, clock := newTestTracer(t)

	id := tracer.StartTrace("op", nil)
	clock.Advance(time.Second)
	tracer.FinishSpan(id, map[string]string{"result": "ok"})
	first, _ := tracer.GetSpan(id)

	clock.Advance(time.Second)
	tracer.FinishSpan(id, map[string]string{"result": "changed"})
	tracer.FinishSpanWithError(id, errors.New("late"), nil)
	tracer.AddTags(id, map[string]string{"result": "mutated"})
	tracer.AbortSpan(id)

	second, _ := tracer.GetSpan(id)
	assert.Equal(t, first, second)
	assert.Equal(t, "ok", second.Tags["result"])
	assert.Len(t, tracer.CompletedSpans(0), 1)
}

func TestFinishSpanWithError(t *testing.T) {
	tracer, logger, _ := newTestTracer(t)

	id := tracer.StartTrace("apply", nil)
	root, _ := tracer.GetSpan(id)
	tracer.FinishSpanWithError(id, errors.New("terraform apply failed"), map[string]string{"stage": "apply"})

	span, ok := tracer.GetSpan(id)
	require.True(t, ok)
	assert.Equal(t, StatusError, span.Status)
	assert.Equal(t, "terraform apply failed", span.Tags["error"])
	assert.Equal(t, "errorString", span.Tags["errorType"])
	assert.Equal(t, "apply", span.Tags["stage"])

	errs := logger.RecentLogs(0, logging.LogFilter{Level: logging.LevelError.Ptr()})
	require.Len(t, errs, 1)
	assert.Equal(t, root.TraceID, errs[0].CorrelationID)
	assert.Equal(t, errorHints, errs[0].Error.RecoveryActions)
	assert.Equal(t, logging.CategoryTerraform, errs[0].Error.Category)

	require.NotEmpty(t, span.Logs)
	assert.Equal(t, "Span failed: apply", span.Logs[len(span.Logs)-1].Message)

	_, ok = logger.TraceContext()
	assert.False(t, ok)
}

func TestFinishSpanWithError_CompetingFinishLoses(t *testing.T) {
	tracer, logger, _ := newTestTracer(t)

	id := tracer.StartTrace("apply", nil)
	logger.AddObserver(logging.RecordObserverFunc(func(rec logging.LogRecord) {
		if rec.Message == "Span failed: apply" {
			tracer.FinishSpan(id, map[string]string{"late": "true"})
		}
	}))

	tracer.FinishSpanWithError(id, errors.New("terraform apply failed"), nil)

	span, ok := tracer.GetSpan(id)
	require.True(t, ok)
	assert.Equal(t, StatusError, span.Status)
	assert.NotContains(t, span.Tags, "late")
	assert.Equal(t, "Span failed: apply", span.Logs[len(span.Logs)-2].Message)
	assert.Equal(t, "Attempted to finish unknown span", span.Logs[len(span.Logs)-1].Message)
	assert.Len(t, tracer.CompletedSpans(0), 1)
	assert.False(t, tracer.IsSpanActive(id))
}

func TestFinishSpanWithError_ConcurrentFinishers(t *testing.T) {
	tracer, _, _ := newTestTracer(t)

	for range 50 {
		id := tracer.StartTrace("apply", nil)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			tracer.FinishSpanWithError(id, errors.New("apply failed"), nil)
		}()
		go func() {
			defer wg.Done()
			tracer.FinishSpan(id, nil)
		}()
		wg.Wait()

		span, ok := tracer.GetSpan(id)
		require.True(t, ok)
		failed := false
		for _, rec := range span.Logs {
			if rec.Message == "Span failed: apply" {
				failed = true
			}
		}
		assert.Equal(t, failed, span.Status == StatusError, "an error record implies an error status")
	}
}

func TestLogsAttachToActiveSpan(t *testing.T) {
	tracer, logger, _ := newTestTracer(t)

	id := tracer.StartTrace("sync", nil)
	logger.Info("discovered 3 vms")
	tracer.FinishSpan(id, nil)
	logger.Info("after trace")

	span, _ := tracer.GetSpan(id)
	var msgs []string
	for _, rec := range span.Logs {
		msgs = append(msgs, rec.Message)
	}
	assert.Contains(t, msgs, "discovered 3 vms")
	assert.NotContains(t, msgs, "after trace")
}

func TestAddTagsAndAddLog_IgnoreUnknown(t *testing.T) {
	tracer, _, _ := newTestTracer(t)

	assert.NotPanics(t, func() {
		tracer.AddTags("ghost", map[string]string{"a": "b"})
		tracer.AddLog("ghost", logging.LogRecord{Message: "x"})
	})

	id := tracer.StartTrace("op", nil)
	tracer.AddTags(id, map[string]string{"vmid": "101"})
	span, _ := tracer.GetSpan(id)
	assert.Equal(t, "101", span.Tags["vmid"])

	span.Tags["vmid"] = "tampered"
	again, _ := tracer.GetSpan(id)
	assert.Equal(t, "101", again.Tags["vmid"], "returned spans are copies")
}

func TestAbortSpans(t *testing.T) {
	tracer, logger, clock := newTestTracer(t)

	rootID := tracer.StartTrace("monitor", nil)
	clock.Advance(time.Millisecond)
	childID, err := tracer.StartSpan("probe", rootID, nil)
	require.NoError(t, err)
	clock.Advance(time.Millisecond)
	otherID := tracer.StartTrace("sync", nil)

	tracer.AbortSpan(otherID)
	other, _ := tracer.GetSpan(otherID)
	assert.Equal(t, StatusError, other.Status)
	assert.Equal(t, "true", other.Tags["aborted"])

	n := tracer.AbortAllSpans()
	assert.Equal(t, 2, n)
	assert.Empty(t, tracer.ActiveSpans())

	child, _ := tracer.GetSpan(childID)
	assert.Equal(t, "true", child.Tags["aborted"])

	completed := tracer.CompletedSpans(0)
	require.Len(t, completed, 3)
	assert.Equal(t, rootID, completed[0].SpanID, "children are aborted before parents")

	_, ok := logger.TraceContext()
	assert.False(t, ok)
}

func TestRootFinish_KeepsOtherTraceContext(t *testing.T) {
	tracer, logger, _ := newTestTracer(t)

	first := tracer.StartTrace("first", nil)
	second := tracer.StartTrace("second", nil)
	tracer.FinishSpan(first, nil)

	tc, ok := logger.TraceContext()
	require.True(t, ok)
	assert.Equal(t, second, tc.SpanID)
}

func TestLoggerFor_BindsToSpan(t *testing.T) {
	tracer, logger, _ := newTestTracer(t)

	a := tracer.StartTrace("a", nil)
	b := tracer.StartTrace("b", nil) // ambient now points at b

	tracer.LoggerFor(a).Info("from a")

	spanA, _ := tracer.GetSpan(a)
	spanB, _ := tracer.GetSpan(b)
	assert.Equal(t, "from a", spanA.Logs[len(spanA.Logs)-1].Message)
	for _, rec := range spanB.Logs {
		assert.NotEqual(t, "from a", rec.Message)
	}

	assert.Same(t, logger, tracer.LoggerFor("unknown"))
}

func TestGetTraceAndSummary(t *testing.T) {
	tracer, _, clock := newTestTracer(t)

	rootID := tracer.StartTrace("deploy", nil)
	root, _ := tracer.GetSpan(rootID)
	clock.Advance(time.Millisecond)
	planID, _ := tracer.StartSpan("plan", rootID, nil)
	clock.Advance(time.Millisecond)
	applyID, _ := tracer.StartSpan("apply", rootID, nil)

	summary, ok := tracer.TraceSummary(root.TraceID)
	require.True(t, ok)
	assert.Equal(t, StatusPending, summary.Status)
	assert.Equal(t, 3, summary.PendingCount)
	assert.Equal(t, 2*time.Millisecond, summary.TotalDuration)

	clock.Advance(3 * time.Millisecond)
	tracer.FinishSpan(planID, nil)
	tracer.FinishSpanWithError(applyID, errors.New("boom"), nil)

	trace := tracer.GetTrace(root.TraceID)
	require.Len(t, trace, 3)
	assert.Equal(t, []string{"deploy", "plan", "apply"},
		[]string{trace[0].Operation, trace[1].Operation, trace[2].Operation})

	summary, _ = tracer.TraceSummary(root.TraceID)
	assert.Equal(t, StatusError, summary.Status)
	assert.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, 1, summary.ErrorCount)
	assert.Equal(t, 1, summary.PendingCount)

	clock.Advance(4 * time.Millisecond)
	tracer.FinishSpan(rootID, nil)
	summary, _ = tracer.TraceSummary(root.TraceID)
	assert.Equal(t, 9*time.Millisecond, summary.TotalDuration, "root duration wins once finished")
	assert.Equal(t, 3, summary.SpanCount)

	_, ok = tracer.TraceSummary("no-such-trace")
	assert.False(t, ok)
}

func TestCompletedSpans_Bounded(t *testing.T) {
	tracer, _, _ := newTestTracer(t)

	var last string
	for i := range CompletedCapacity + 5 {
		last = tracer.StartTrace(fmt.Sprintf("op-%d", i), nil)
		tracer.FinishSpan(last, nil)
	}

	all := tracer.CompletedSpans(0)
	assert.Len(t, all, CompletedCapacity)
	assert.Equal(t, last, all[0].SpanID)
	assert.EqualValues(t, 5, tracer.DroppedCount())
	assert.Len(t, tracer.CompletedSpans(3), 3)

	tracer.ClearCompleted()
	assert.Empty(t, tracer.CompletedSpans(0))
}

func TestConcurrentTraces(t *testing.T) {
	tracer, logger, _ := newTestTracer(t)

	const workers = 16
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			root := tracer.StartTrace(fmt.Sprintf("op-%d", w), nil)
			child, err := tracer.StartSpan("step", root, nil)
			if err != nil {
				t.Errorf("start span: %v", err)
				return
			}
			tracer.LoggerFor(child).Info("working")
			tracer.FinishSpan(child, nil)
			tracer.FinishSpan(root, nil)
		}()
	}
	wg.Wait()

	assert.Empty(t, tracer.ActiveSpans())
	assert.Len(t, tracer.CompletedSpans(0), workers*2)
	_, ok := logger.TraceContext()
	assert.False(t, ok)
}
