// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/AleutianAI/proxmox-mpc/internal/diagnostics"
	"github.com/AleutianAI/proxmox-mpc/pkg/logging"
)

// logHistory serves recent records from the log file when the file sink
// is enabled, so a one-shot command sees what earlier runs logged. Without
// a file it falls back to the in-process buffer.
type logHistory struct {
	*logging.Logger
}

func newLogHistory(logger *logging.Logger) *logHistory {
	return &logHistory{Logger: logger}
}

// RecentLogs returns up to limit records, most recent first.
func (h *logHistory) RecentLogs(limit int, filter logging.LogFilter) []logging.LogRecord {
	cfg := h.Config()
	if !cfg.EnableFile || cfg.FilePath == "" {
		return h.Logger.RecentLogs(limit, filter)
	}
	records, err := logging.ReadLogFile(cfg.FilePath, limit, filter)
	if err != nil {
		h.Warn("Reading log history failed, using in-memory records", logging.Fields{
			"path":  cfg.FilePath,
			"error": err.Error(),
		})
		return h.Logger.RecentLogs(limit, filter)
	}
	return records
}

var _ diagnostics.Logger = (*logHistory)(nil)
