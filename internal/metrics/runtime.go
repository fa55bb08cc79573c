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
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// MemoryStats is a point-in-time view of this process's memory, in bytes.
type MemoryStats struct {
	// RSS is the resident set size reported by the OS.
	RSS uint64 `json:"rss"`

	// HeapUsed is the live heap (runtime HeapAlloc).
	HeapUsed uint64 `json:"heapUsed"`

	// HeapTotal is the heap reserved from the OS (runtime HeapSys).
	HeapTotal uint64 `json:"heapTotal"`

	// External is runtime memory outside the heap: stacks, GC metadata
	// and other off-heap allocations (Sys - HeapSys).
	External uint64 `json:"external"`
}

// HeapRatio returns HeapUsed/HeapTotal, or 0 when HeapTotal is 0.
func (m MemoryStats) HeapRatio() float64 {
	if m.HeapTotal == 0 {
		return 0
	}
	return float64(m.HeapUsed) / float64(m.HeapTotal)
}

// CPUTimes is the cumulative CPU time consumed by this process.
type CPUTimes struct {
	User   time.Duration `json:"user"`
	System time.Duration `json:"system"`
}

// ProcessStats samples the current process.
type ProcessStats interface {
	Memory() MemoryStats
	CPU() CPUTimes
}

// RuntimeStats reads the Go runtime and, through gopsutil, the OS view of
// the current process.
type RuntimeStats struct {
	proc *process.Process
}

// NewRuntimeStats returns a ProcessStats for the current process. When the
// OS process handle cannot be opened, RSS falls back to runtime Sys and CPU
// times read as zero.
func NewRuntimeStats() *RuntimeStats {
	proc, err := process.NewProcessWithContext(context.Background(), int32(os.Getpid()))
	if err != nil {
		proc = nil
	}
	return &RuntimeStats{proc: proc}
}

// Memory implements ProcessStats.
func (r *RuntimeStats) Memory() MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := MemoryStats{
		RSS:       ms.Sys,
		HeapUsed:  ms.HeapAlloc,
		HeapTotal: ms.HeapSys,
	}
	if ms.Sys > ms.HeapSys {
		stats.External = ms.Sys - ms.HeapSys
	}
	if r.proc != nil {
		if info, err := r.proc.MemoryInfoWithContext(context.Background()); err == nil && info != nil {
			stats.RSS = info.RSS
		}
	}
	return stats
}

// CPU implements ProcessStats.
func (r *RuntimeStats) CPU() CPUTimes {
	if r.proc == nil {
		return CPUTimes{}
	}
	times, err := r.proc.TimesWithContext(context.Background())
	if err != nil || times == nil {
		return CPUTimes{}
	}
	return CPUTimes{
		User:   time.Duration(times.User * float64(time.Second)),
		System: time.Duration(times.System * float64(time.Second)),
	}
}

var _ ProcessStats = (*RuntimeStats)(nil)
