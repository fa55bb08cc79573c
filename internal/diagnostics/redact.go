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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// RedactedValue replaces sensitive configuration values.
const RedactedValue = "[REDACTED]"

// WorkspaceConfigFile is the configuration file inside a workspace.
const WorkspaceConfigFile = "config.yaml"

// sensitiveKeyParts match normalized keys: lowercased, with '_', '-' and
// '.' removed. "tokenSecret", "token_secret" and "TOKEN-SECRET" all match.
var sensitiveKeyParts = []string{
	"secret",
	"password",
	"passwd",
	"token",
	"apikey",
	"privatekey",
	"passphrase",
	"credential",
}

// IsSensitiveKey reports whether a configuration key holds a secret.
func IsSensitiveKey(key string) bool {
	normalized := strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.':
			return -1
		}
		return r
	}, strings.ToLower(key))

	for _, part := range sensitiveKeyParts {
		if strings.Contains(normalized, part) {
			return true
		}
	}
	return false
}

// RedactConfig returns a deep copy of cfg with every sensitive value
// replaced by RedactedValue. Nested maps and lists are walked; a sensitive
// key hides its whole subtree.
func RedactConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		if IsSensitiveKey(k) {
			out[k] = RedactedValue
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return RedactConfig(val)
	case map[any]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[fmt.Sprint(k)] = inner
		}
		return RedactConfig(m)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}

// WorkspaceConfigPath returns <workspace>/.proxmox-mpc/config.yaml.
func WorkspaceConfigPath(workspace string) string {
	return filepath.Join(workspace, StateDirName, WorkspaceConfigFile)
}

// ReadWorkspaceConfig loads and redacts a workspace's YAML configuration.
func ReadWorkspaceConfig(workspace string) (map[string]any, error) {
	info, err := os.Stat(workspace)
	if err != nil {
		return nil, fmt.Errorf("workspace not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", workspace)
	}

	path := WorkspaceConfigPath(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workspace config: %w", err)
	}

	var cfg map[string]any
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse workspace config %s: %w", path, err)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	return RedactConfig(cfg), nil
}
