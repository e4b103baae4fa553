// Package layout describes the agent instances that take part in one
// experiment and the roles each of them plays.
package layout

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"gopkg.in/yaml.v2"
)

// Well known roles.
const (
	RoleClient = "Client"
	RoleServer = "Server"
)

// ClientInstance is one agent in the experiment.
type ClientInstance struct {
	Name      string   `yaml:"name" json:"name"`
	IPAddress string   `yaml:"ipAddress" json:"ipAddress"`
	Port      int      `yaml:"port,omitempty" json:"port,omitempty"`
	Role      string   `yaml:"role,omitempty" json:"role,omitempty"`
	Roles     []string `yaml:"roles,omitempty" json:"roles,omitempty"`
}

// AllRoles returns the union of Role and Roles.
func (c ClientInstance) AllRoles() []string {
	roles := mapset.NewThreadUnsafeSet[string]()
	var ordered []string
	for _, r := range append([]string{c.Role}, c.Roles...) {
		r = strings.TrimSpace(r)
		if r == "" || roles.Contains(strings.ToLower(r)) {
			continue
		}
		roles.Add(strings.ToLower(r))
		ordered = append(ordered, r)
	}
	return ordered
}

// HasRole reports whether the instance plays role (case insensitive).
func (c ClientInstance) HasRole(role string) bool {
	return slices.ContainsFunc(c.AllRoles(), func(r string) bool { return strings.EqualFold(r, role) })
}

// Address returns host:port for the instance control plane.
func (c ClientInstance) Address(defaultPort int) string {
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(c.IPAddress, strconv.Itoa(port))
}

// EnvironmentLayout is read-only after Load.
type EnvironmentLayout struct {
	clients []ClientInstance
}

type layoutDocument struct {
	Clients []ClientInstance `yaml:"clients"`
}

// New validates clients and returns a layout over a copy of them.
func New(clients []ClientInstance) (*EnvironmentLayout, error) {
	names := mapset.NewThreadUnsafeSet[string]()
	for i, c := range clients {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("layout client %d has no name", i)
		}
		if strings.TrimSpace(c.IPAddress) == "" {
			return nil, fmt.Errorf("layout client %s has no ipAddress", c.Name)
		}
		if len(c.AllRoles()) == 0 {
			return nil, fmt.Errorf("layout client %s has no role", c.Name)
		}
		if !names.Add(strings.ToLower(c.Name)) {
			return nil, fmt.Errorf("layout client name %s is not unique", c.Name)
		}
	}
	cp := make([]ClientInstance, len(clients))
	for i, c := range clients {
		cp[i] = c
		cp[i].Roles = slices.Clone(c.Roles)
	}
	return &EnvironmentLayout{clients: cp}, nil
}

// Parse reads a layout document. JSON and YAML are both accepted.
func Parse(content []byte) (*EnvironmentLayout, error) {
	var doc layoutDocument
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}
	return New(doc.Clients)
}

// Load reads the layout document at path.
func Load(path string) (*EnvironmentLayout, error) {
	content, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read layout file: %w", err)
	}
	l, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Clients returns a copy of all instances in layout order.
func (l *EnvironmentLayout) Clients() []ClientInstance {
	if l == nil {
		return nil
	}
	return slices.Clone(l.clients)
}

// Instance returns the instance with the given name.
func (l *EnvironmentLayout) Instance(name string) (ClientInstance, bool) {
	if l == nil {
		return ClientInstance{}, false
	}
	for _, c := range l.clients {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ClientInstance{}, false
}

// ByRole returns the instances playing role, in layout order.
func (l *EnvironmentLayout) ByRole(role string) []ClientInstance {
	if l == nil {
		return nil
	}
	var matches []ClientInstance
	for _, c := range l.clients {
		if c.HasRole(role) {
			matches = append(matches, c)
		}
	}
	return matches
}

// Roles returns the roles played by the named instance.
func (l *EnvironmentLayout) Roles(name string) []string {
	c, ok := l.Instance(name)
	if !ok {
		return nil
	}
	return c.AllRoles()
}
