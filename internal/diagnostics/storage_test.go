// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnostics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *FileStorage {
	t.Helper()
	s, err := NewFileStorage(filepath.Join(t.TempDir(), "diagnostics"))
	require.NoError(t, err)

	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestFileStorage_StoreAndLoad(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	snap := &DiagnosticSnapshot{
		ID:           "abc",
		Operation:    "sync vms/all",
		HealthStatus: []HealthStatus{{Component: "memory", Status: StateError}},
	}

	path, err := s.Store(ctx, snap)
	require.NoError(t, err)

	assert.Equal(t, s.BaseDir(), filepath.Dir(path))
	name := filepath.Base(path)
	assert.True(t, strings.HasPrefix(name, "snapshot-20250301-120001-"), name)
	assert.True(t, strings.HasSuffix(name, "-sync_vms_all.json"), name)
	_, err = os.Stat(path + ".tmp")
	assert.ErrorIs(t, err, os.ErrNotExist)

	loaded, err := s.Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "abc", loaded.ID)
	assert.Equal(t, StateError, loaded.HealthStatus[0].Status)
}

func TestFileStorage_LoadRejectsOutsidePaths(t *testing.T) {
	s := newTestStorage(t)
	outside := filepath.Join(t.TempDir(), "snapshot-x.json")
	require.NoError(t, os.WriteFile(outside, []byte("{}"), 0o640))

	_, err := s.Load(context.Background(), outside)
	assert.ErrorContains(t, err, "outside storage directory")

	_, err = s.Load(context.Background(), filepath.Join(s.BaseDir(), "..", "x.json"))
	assert.ErrorContains(t, err, "outside storage directory")
}

func TestFileStorage_ListNewestFirst(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	var paths []string
	for _, op := range []string{"first", "second", "third"} {
		p, err := s.Store(ctx, &DiagnosticSnapshot{Operation: op})
		require.NoError(t, err)
		paths = append(paths, p)
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.BaseDir(), "notes.txt"), nil, 0o640))

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{paths[2], paths[1], paths[0]}, all)

	limited, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{paths[2], paths[1]}, limited)

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestFileStorage_Prune(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	old, err := s.Store(ctx, &DiagnosticSnapshot{Operation: "old"})
	require.NoError(t, err)
	fresh, err := s.Store(ctx, &DiagnosticSnapshot{Operation: "fresh"})
	require.NoError(t, err)

	s.now = time.Now
	stale := time.Now().AddDate(0, 0, -(DefaultRetentionDays + 5))
	require.NoError(t, os.Chtimes(old, stale, stale))

	deleted, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = os.Stat(old)
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestFileStorage_SetRetentionDays(t *testing.T) {
	s := newTestStorage(t)
	s.SetRetentionDays(0)
	assert.Equal(t, DefaultRetentionDays, s.retentionDays)
	s.SetRetentionDays(7)
	assert.Equal(t, 7, s.retentionDays)
}

func TestFileStorage_NilAndCancelled(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.Store(context.Background(), nil)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Store(ctx, &DiagnosticSnapshot{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSanitizeFilenameHint(t *testing.T) {
	assert.Equal(t, "", sanitizeFilenameHint(""))
	assert.Equal(t, "report-issue_1", sanitizeFilenameHint("report-issue 1"))
	assert.Len(t, sanitizeFilenameHint(strings.Repeat("a", 80)), 50)
}
