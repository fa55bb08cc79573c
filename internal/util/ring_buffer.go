// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"sync"
	"sync/atomic"
)

// =============================================================================
// Ring Buffer
// =============================================================================

// RingBuffer is a fixed-capacity FIFO buffer that evicts its oldest item
// when a push would exceed capacity.
//
// # Description
//
// RingBuffer backs every bounded in-process store in the observability core:
// the log record buffer, the completed span list and the metric sample list.
// Storage is allocated once at construction so a burst of pushes never grows
// memory beyond capacity, not even transiently.
//
// # Thread Safety
//
// RingBuffer is safe for concurrent use from multiple goroutines.
//
// # Example
//
//	buf := NewRingBuffer[string](3)
//	buf.Push("a")
//	buf.Push("b")
//	latest := buf.Newest(1) // ["b"]
//
// # Limitations
//
//   - Items are copied by value; pointer items are shared with callers
//
// # Assumptions
//
//   - Dropping the oldest data under pressure is acceptable
type RingBuffer[T any] struct {
	buffer   []T
	head     int
	tail     int
	size     int
	capacity int
	dropped  int64
	mu       sync.Mutex
}

// NewRingBuffer creates a ring buffer holding at most capacity items.
//
// # Inputs
//
//   - capacity: Maximum number of retained items. Must be positive.
//
// # Outputs
//
//   - *RingBuffer[T]: Empty buffer
//
// # Limitations
//
//   - Panics when capacity <= 0; this is a programming error
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic("ring buffer capacity must be positive")
	}

	return &RingBuffer[T]{
		buffer:   make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends an item, evicting the oldest one when full.
//
// Returns true if an item was evicted to make room.
func (r *RingBuffer[T]) Push(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := false
	if r.size == r.capacity {
		var zero T
		r.buffer[r.head] = zero
		r.head = (r.head + 1) % r.capacity
		r.size--
		atomic.AddInt64(&r.dropped, 1)
		evicted = true
	}

	r.buffer[r.tail] = item
	r.tail = (r.tail + 1) % r.capacity
	r.size++

	return evicted
}

// ToSlice returns all items, oldest first.
func (r *RingBuffer[T]) ToSlice() []T {
	return r.Matching(nil)
}

// Matching returns the items accepted by keep, oldest first.
//
// A nil keep accepts every item.
func (r *RingBuffer[T]) Matching(keep func(T) bool) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]T, 0, r.size)
	idx := r.head
	for i := 0; i < r.size; i++ {
		item := r.buffer[idx]
		if keep == nil || keep(item) {
			result = append(result, item)
		}
		idx = (idx + 1) % r.capacity
	}
	return result
}

// Newest returns up to limit items, most recent first.
//
// A limit <= 0 returns every item.
func (r *RingBuffer[T]) Newest(limit int) []T {
	return r.NewestMatching(limit, nil)
}

// NewestMatching walks the buffer from the most recent item backwards and
// returns up to limit items accepted by keep.
//
// # Inputs
//
//   - limit: Maximum number of items returned; <= 0 means unbounded
//   - keep: Filter predicate; nil accepts every item
//
// # Outputs
//
//   - []T: Matching items in reverse insertion order (never nil)
func (r *RingBuffer[T]) NewestMatching(limit int, keep func(T) bool) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	capHint := r.size
	if limit > 0 && limit < capHint {
		capHint = limit
	}
	result := make([]T, 0, capHint)

	idx := (r.tail - 1 + r.capacity) % r.capacity
	for i := 0; i < r.size; i++ {
		if limit > 0 && len(result) >= limit {
			break
		}
		item := r.buffer[idx]
		if keep == nil || keep(item) {
			result = append(result, item)
		}
		idx = (idx - 1 + r.capacity) % r.capacity
	}
	return result
}

// Size returns the current number of items.
func (r *RingBuffer[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the maximum number of items.
func (r *RingBuffer[T]) Capacity() int {
	return r.capacity
}

// DroppedCount returns how many items were evicted since creation or the
// last Clear.
func (r *RingBuffer[T]) DroppedCount() int64 {
	return atomic.LoadInt64(&r.dropped)
}

// Clear removes every item and resets the eviction counter.
func (r *RingBuffer[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.buffer {
		r.buffer[i] = zero
	}
	r.head = 0
	r.tail = 0
	r.size = 0
	atomic.StoreInt64(&r.dropped, 0)
}
