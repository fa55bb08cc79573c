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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"tokenSecret", true},
		{"token_secret", true},
		{"TOKEN-SECRET", true},
		{"password", true},
		{"apiKey", true},
		{"api_key", true},
		{"secret", true},
		{"token", true},
		{"privateKey", true},
		{"ssh.private_key", true},
		{"sshPassphrase", true},
		{"cloudCredentials", true},
		{"host", false},
		{"port", false},
		{"username", false},
		{"node", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSensitiveKey(tt.key))
		})
	}
}

func TestRedactConfig_NestedAndLists(t *testing.T) {
	in := map[string]any{
		"host": "pve1",
		"proxmox": map[string]any{
			"password": "hunter2",
			"nodes":    []any{map[string]any{"name": "a", "apiKey": "k1"}, "plain"},
		},
		"credentials": map[string]any{"user": "root"},
		"numbered":    map[any]any{1: "one", "token": "t"},
	}

	out := RedactConfig(in)

	assert.Equal(t, "pve1", out["host"])
	proxmox := out["proxmox"].(map[string]any)
	assert.Equal(t, RedactedValue, proxmox["password"])
	nodes := proxmox["nodes"].([]any)
	assert.Equal(t, RedactedValue, nodes[0].(map[string]any)["apiKey"])
	assert.Equal(t, "a", nodes[0].(map[string]any)["name"])
	assert.Equal(t, "plain", nodes[1])
	assert.Equal(t, RedactedValue, out["credentials"])
	numbered := out["numbered"].(map[string]any)
	assert.Equal(t, "one", numbered["1"])
	assert.Equal(t, RedactedValue, numbered["token"])

	assert.Equal(t, "hunter2", in["proxmox"].(map[string]any)["password"], "input must not change")
	assert.Nil(t, RedactConfig(nil))
}

func TestReadWorkspaceConfig(t *testing.T) {
	t.Run("redacts secrets", func(t *testing.T) {
		ws := makeWorkspace(t)
		require.NoError(t, os.WriteFile(WorkspaceConfigPath(ws),
			[]byte("apiKey: abc\nnode: pve1\n"), 0o640))

		cfg, err := ReadWorkspaceConfig(ws)
		require.NoError(t, err)
		assert.Equal(t, RedactedValue, cfg["apiKey"])
		assert.Equal(t, "pve1", cfg["node"])
	})

	t.Run("empty file", func(t *testing.T) {
		ws := makeWorkspace(t)
		require.NoError(t, os.WriteFile(WorkspaceConfigPath(ws), nil, 0o640))

		cfg, err := ReadWorkspaceConfig(ws)
		require.NoError(t, err)
		assert.Empty(t, cfg)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		ws := makeWorkspace(t)
		require.NoError(t, os.WriteFile(WorkspaceConfigPath(ws), []byte("a: [unclosed"), 0o640))

		_, err := ReadWorkspaceConfig(ws)
		assert.ErrorContains(t, err, "parse workspace config")
	})

	t.Run("missing config", func(t *testing.T) {
		_, err := ReadWorkspaceConfig(makeWorkspace(t))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("workspace is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, nil, 0o640))

		_, err := ReadWorkspaceConfig(file)
		assert.ErrorContains(t, err, "not a directory")
	})
}
