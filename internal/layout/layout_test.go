package layout

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jsonLayout = `{
  "clients": [
    {"name": "agent-client", "ipAddress": "10.1.0.1", "role": "Client"},
    {"name": "agent-server-1", "ipAddress": "10.1.0.2", "role": "Server", "port": 4600},
    {"name": "agent-server-2", "ipAddress": "10.1.0.3", "roles": ["Server", "Monitor"]}
  ]
}`

func TestParseJSONLayout(t *testing.T) {
	l, err := Parse([]byte(jsonLayout))
	require.NoError(t, err)
	assert.Len(t, l.Clients(), 3)

	servers := l.ByRole("server")
	require.Len(t, servers, 2)
	assert.Equal(t, "agent-server-1", servers[0].Name)
	assert.Equal(t, "agent-server-2", servers[1].Name)
	assert.Equal(t, "10.1.0.2:4600", servers[0].Address(4500))
	assert.Equal(t, "10.1.0.3:4500", servers[1].Address(4500))

	assert.Empty(t, l.ByRole("Database"))
	assert.Equal(t, []string{"Server", "Monitor"}, l.Roles("AGENT-SERVER-2"))
	_, ok := l.Instance("nobody")
	assert.False(t, ok)
}

func TestParseYAMLLayout(t *testing.T) {
	content := `
clients:
  - name: a
    ipAddress: 127.0.0.1
    role: Client
    roles: [client, Server]
`
	l, err := Parse([]byte(content))
	require.NoError(t, err)
	c, ok := l.Instance("A")
	require.True(t, ok)
	assert.Equal(t, []string{"Client", "Server"}, c.AllRoles())
	assert.True(t, c.HasRole(RoleServer))
}

func TestLayoutValidation(t *testing.T) {
	tests := []struct {
		name    string
		clients []ClientInstance
	}{
		{"missing name", []ClientInstance{{IPAddress: "1.1.1.1", Role: "Client"}}},
		{"missing address", []ClientInstance{{Name: "a", Role: "Client"}}},
		{"missing role", []ClientInstance{{Name: "a", IPAddress: "1.1.1.1"}}},
		{"duplicate name", []ClientInstance{
			{Name: "a", IPAddress: "1.1.1.1", Role: "Client"},
			{Name: "A", IPAddress: "1.1.1.2", Role: "Server"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.clients)
			assert.Error(t, err)
		})
	}
}

func TestLayoutIsImmutable(t *testing.T) {
	clients := []ClientInstance{{Name: "a", IPAddress: "1.1.1.1", Roles: []string{"Client"}}}
	l, err := New(clients)
	require.NoError(t, err)
	clients[0].Roles[0] = "Server"
	returned := l.Clients()
	returned[0].Name = "changed"
	c, ok := l.Instance("a")
	require.True(t, ok)
	assert.Equal(t, []string{"Client"}, c.AllRoles())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.json")
	require.NoError(t, os.WriteFile(path, []byte(jsonLayout), 0644))
	l, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, l.ByRole(RoleClient), 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestNilLayout(t *testing.T) {
	var l *EnvironmentLayout
	assert.Nil(t, l.ByRole(RoleServer))
	assert.Nil(t, l.Clients())
	assert.Nil(t, l.Roles("a"))
}
