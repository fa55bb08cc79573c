// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Locker is an exclusive, cross-process lock.
type Locker interface {
	// Acquire takes the lock without blocking. It returns *LockHeldError
	// when another process holds it.
	Acquire() error

	// Release gives the lock up. Safe to call when not held.
	Release() error

	// IsHeld reports whether this instance holds the lock.
	IsHeld() bool

	// HolderPID returns the PID recorded by the holder, or 0.
	HolderPID() int
}

// LockConfig configures NewLock.
type LockConfig struct {
	// Dir holds the .lock and .pid files. Defaults to os.TempDir().
	Dir string

	// Name is the base file name. Defaults to "proxmox-mpc".
	Name string
}

// Lock implements Locker with a lock file plus a PID file for diagnostics.
type Lock struct {
	lockPath string
	pidPath  string
	file     *os.File
	held     bool
}

// NewLock creates an unacquired lock.
func NewLock(config LockConfig) *Lock {
	if config.Dir == "" {
		config.Dir = os.TempDir()
	}
	if config.Name == "" {
		config.Name = "proxmox-mpc"
	}
	return &Lock{
		lockPath: filepath.Join(config.Dir, config.Name+".lock"),
		pidPath:  filepath.Join(config.Dir, config.Name+".pid"),
	}
}

// Acquire implements Locker.
//
// # Error Conditions
//
//   - *LockHeldError: another process holds the lock.
//   - The lock directory or file cannot be created.
func (l *Lock) Acquire() error {
	if l.held {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.lockPath), 0750); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := tryLock(l.lockPath)
	if err != nil {
		if errors.Is(err, errWouldBlock) {
			return &LockHeldError{HolderPID: l.readHolderPID(), LockPath: l.lockPath}
		}
		return fmt.Errorf("failed to acquire lock %s: %w", l.lockPath, err)
	}

	l.file = f
	l.held = true
	// The PID file is informational; the lock holds without it.
	_ = os.WriteFile(l.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
	return nil
}

// Release implements Locker.
func (l *Lock) Release() error {
	if !l.held || l.file == nil {
		return nil
	}
	_ = os.Remove(l.pidPath)
	err := unlock(l.file, l.lockPath)
	l.file = nil
	l.held = false
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// IsHeld implements Locker.
func (l *Lock) IsHeld() bool {
	return l.held
}

// HolderPID implements Locker.
func (l *Lock) HolderPID() int {
	return l.readHolderPID()
}

// LockPath returns the lock file path.
func (l *Lock) LockPath() string {
	return l.lockPath
}

func (l *Lock) readHolderPID() int {
	data, err := os.ReadFile(l.pidPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// errWouldBlock is returned by tryLock when the lock is taken.
var errWouldBlock = errors.New("lock is held")

// LockHeldError is returned when another process holds the lock.
type LockHeldError struct {
	HolderPID int
	LockPath  string
}

func (e *LockHeldError) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("another proxmox-mpc instance is running (PID %d)", e.HolderPID)
	}
	return fmt.Sprintf("another proxmox-mpc instance is running (check: lsof %s)", e.LockPath)
}

var _ Locker = (*Lock)(nil)
