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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultRetentionDays is how long FileStorage keeps snapshots.
const DefaultRetentionDays = 30

// SnapshotStorage persists snapshots.
type SnapshotStorage interface {
	// Store writes snapshot and returns its location.
	Store(ctx context.Context, snapshot *DiagnosticSnapshot) (string, error)

	// Load reads a snapshot previously returned by Store or List.
	Load(ctx context.Context, location string) (*DiagnosticSnapshot, error)

	// List returns up to limit locations, newest first. limit <= 0 lists all.
	List(ctx context.Context, limit int) ([]string, error)

	// Prune deletes snapshots older than the retention period and returns
	// how many were removed.
	Prune(ctx context.Context) (int, error)
}

// FileStorage keeps snapshots as indented JSON files in one directory.
//
// # Description
//
// Files are named snapshot-<yyyymmdd-hhmmss>-<nanos>[-<operation>].json
// so names sort chronologically. Writes go to a temp file that is renamed
// into place, so a crash never leaves a partial snapshot behind.
//
// # Thread Safety
//
// Safe for concurrent use within one process.
type FileStorage struct {
	baseDir       string
	retentionDays int
	now           func() time.Time

	mu sync.RWMutex
}

const (
	snapshotPrefix = "snapshot"
	snapshotExt    = ".json"
)

// DefaultStorageDir returns ~/.proxmox-mpc/diagnostics.
func DefaultStorageDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, StateDirName, "diagnostics"), nil
}

// NewFileStorage creates baseDir if needed. An empty baseDir means
// DefaultStorageDir.
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if baseDir == "" {
		dir, err := DefaultStorageDir()
		if err != nil {
			return nil, err
		}
		baseDir = dir
	}
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create diagnostics directory %s: %w", baseDir, err)
	}
	return &FileStorage{
		baseDir:       baseDir,
		retentionDays: DefaultRetentionDays,
		now:           time.Now,
	}, nil
}

// BaseDir returns the storage directory.
func (s *FileStorage) BaseDir() string {
	return s.baseDir
}

// SetRetentionDays changes the Prune cutoff. Non-positive values are ignored.
func (s *FileStorage) SetRetentionDays(days int) {
	if days <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retentionDays = days
}

// Store implements SnapshotStorage.
func (s *FileStorage) Store(ctx context.Context, snapshot *DiagnosticSnapshot) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if snapshot == nil {
		return "", fmt.Errorf("store snapshot: nil snapshot")
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, s.filename(snapshot.Operation))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return "", fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize snapshot file: %w", err)
	}
	return path, nil
}

// Load implements SnapshotStorage. Locations outside the storage
// directory are rejected.
func (s *FileStorage) Load(ctx context.Context, location string) (*DiagnosticSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Clean(location))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return nil, fmt.Errorf("path outside storage directory: %s", location)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	var snap DiagnosticSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", location, err)
	}
	return &snap, nil
}

type snapshotFile struct {
	path    string
	name    string
	modTime time.Time
}

func (s *FileStorage) files() ([]snapshotFile, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list diagnostics directory: %w", err)
	}
	var files []snapshotFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // removed since ReadDir
		}
		files = append(files, snapshotFile{
			path:    filepath.Join(s.baseDir, name),
			name:    name,
			modTime: info.ModTime(),
		})
	}
	return files, nil
}

// List implements SnapshotStorage.
func (s *FileStorage) List(ctx context.Context, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := s.files()
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].modTime.Equal(files[j].modTime) {
			return files[i].modTime.After(files[j].modTime)
		}
		return files[i].name > files[j].name
	})
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// Prune implements SnapshotStorage.
func (s *FileStorage) Prune(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.files()
	if err != nil {
		return 0, err
	}
	cutoff := s.now().AddDate(0, 0, -s.retentionDays)

	var deleted int
	for _, f := range files {
		if !f.modTime.Before(cutoff) {
			continue
		}
		if err := os.Remove(f.path); err != nil {
			return deleted, fmt.Errorf("failed to delete %s: %w", f.name, err)
		}
		deleted++
	}
	return deleted, nil
}

// Count returns the number of stored snapshots.
func (s *FileStorage) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files, err := s.files()
	return len(files), err
}

func (s *FileStorage) filename(hint string) string {
	now := s.now()
	stamp := fmt.Sprintf("%s-%s-%09d", snapshotPrefix, now.Format("20060102-150405"), now.Nanosecond())
	if hint = sanitizeFilenameHint(hint); hint != "" {
		return stamp + "-" + hint + snapshotExt
	}
	return stamp + snapshotExt
}

// sanitizeFilenameHint keeps [A-Za-z0-9_-], replaces everything else with
// '_' and caps the result at 50 bytes.
func sanitizeFilenameHint(hint string) string {
	if hint == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range hint {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > 50 {
		out = out[:50]
	}
	return out
}

var _ SnapshotStorage = (*FileStorage)(nil)
