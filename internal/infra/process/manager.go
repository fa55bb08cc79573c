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
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Manager runs external commands.
type Manager interface {
	// Run executes a command and waits for it.
	//
	// # Inputs
	//
	//   - ctx: Cancels the process when done. Health probes pass a
	//     per-probe timeout here.
	//   - name: Executable name, resolved through PATH.
	//   - args: Command arguments.
	//
	// # Outputs
	//
	//   - []byte: Stdout, or combined output when stdout is empty (some
	//     tools print their version on stderr).
	//   - error: Non-nil when the command cannot start, exits non-zero or
	//     is cancelled. Stderr is appended to the message.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// LookPath reports where name resolves on PATH.
	LookPath(name string) (string, error)
}

// DefaultManager runs real processes with os/exec.
type DefaultManager struct{}

// NewDefaultManager returns a Manager backed by os/exec.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// Run implements Manager.
func (pm *DefaultManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", name, ctxErr)
		}
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}

	if stdout.Len() == 0 {
		return stderr.Bytes(), nil
	}
	return stdout.Bytes(), nil
}

// LookPath implements Manager.
func (pm *DefaultManager) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// =============================================================================
// Mock
// =============================================================================

// MockManager is a scriptable Manager for tests.
//
// Unlike a strict mock it does not panic when RunFunc is nil; it returns
// an error so probes under test fail the way a missing tool would.
type MockManager struct {
	RunFunc      func(ctx context.Context, name string, args ...string) ([]byte, error)
	LookPathFunc func(name string) (string, error)

	mu    sync.Mutex
	calls []Call
}

// Call records one invocation of a MockManager.
type Call struct {
	Method string
	Name   string
	Args   []string
}

// Run implements Manager. The call is recorded before RunFunc runs, and
// RunFunc runs without the mock's lock so concurrent calls can block
// independently.
func (m *MockManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.record(Call{Method: "Run", Name: name, Args: args})
	if m.RunFunc == nil {
		return nil, fmt.Errorf("exec: %q: executable file not found in $PATH", name)
	}
	return m.RunFunc(ctx, name, args...)
}

// LookPath implements Manager.
func (m *MockManager) LookPath(name string) (string, error) {
	m.record(Call{Method: "LookPath", Name: name})
	if m.LookPathFunc == nil {
		return "/usr/bin/" + name, nil
	}
	return m.LookPathFunc(name)
}

func (m *MockManager) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

// Calls returns a copy of the recorded calls.
func (m *MockManager) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

var _ Manager = (*DefaultManager)(nil)
var _ Manager = (*MockManager)(nil)
