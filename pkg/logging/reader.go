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
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/AleutianAI/proxmox-mpc/internal/util"
)

// maxLineBytes bounds one JSON line when reading a log file back.
const maxLineBytes = 1 << 20

// ReadRecords decodes JSON-lines log output, as written by the file sink,
// and returns up to limit matching records, most recent first.
//
// # Description
//
// Lines that are not valid records (partial writes, foreign output) are
// skipped. Only the newest limit matches are held in memory while
// scanning, so large files are read in constant space. A limit <= 0
// returns every match.
//
// # Outputs
//
//   - []LogRecord: Most recent first.
//   - int: Number of lines skipped as malformed.
//   - error: Only read errors from r.
func ReadRecords(r io.Reader, limit int, filter LogFilter) ([]LogRecord, int, error) {
	var keep *util.RingBuffer[LogRecord]
	var all []LogRecord
	if limit > 0 {
		keep = util.NewRingBuffer[LogRecord](limit)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	skipped := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec LogRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.Message == "" && rec.Timestamp.IsZero() {
			skipped++
			continue
		}
		if !filter.matches(rec) {
			continue
		}
		if keep != nil {
			keep.Push(rec)
		} else {
			all = append(all, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("read log records: %w", err)
	}

	if keep != nil {
		return keep.Newest(0), skipped, nil
	}
	slices.Reverse(all)
	return all, skipped, nil
}

// ReadLogFile is ReadRecords over the file at path. A missing file yields
// no records and no error.
func ReadLogFile(path string, limit int, filter LogFilter) ([]LogRecord, error) {
	f, err := os.Open(expandPath(path))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	records, _, err := ReadRecords(f, limit, filter)
	return records, err
}
