// Package component defines what a profile component is to the scheduler:
// a capability interface, optional capabilities discovered by type
// assertion, and a registry from profile Type names to factories.
package component

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"slices"
	"strings"
	"sync"

	"hostbench/internal/fault"
	"hostbench/internal/profile"
	"hostbench/internal/retry"
)

// Status is the outcome of a component execution that did not fail.
type Status string

const (
	StatusCompleted Status = "Completed"
	StatusSkipped   Status = "Skipped"
)

// Result is returned by the scheduler for every component it runs.
type Result struct {
	Status Status
	// Reason explains a skip.
	Reason string
	// Attempts is the number of Execute calls made.
	Attempts int
}

// Component is the runnable unit named by a profile entry.
type Component interface {
	// Initialize prepares the component. It is called once per run, before
	// the first Execute.
	Initialize(ctx context.Context) error
	// Execute does the work. It may be called repeatedly, once per
	// iteration or monitor interval.
	Execute(ctx context.Context) error
}

// Supporter is implemented by components that only work on some platforms.
// A non-nil error means the component is skipped.
type Supporter interface {
	IsSupported(rc *RunContext) error
}

// Stateful is implemented by components whose completion is recorded
// under StateKey so that later runs, or peers, can skip the work.
type Stateful interface {
	StateKey() string
}

// StateProvider contributes fields to the persisted completion state.
type StateProvider interface {
	State() map[string]any
}

// RetryPolicyProvider supplies the retry policy for Execute.
type RetryPolicyProvider interface {
	RetryPolicy() retry.Policy
}

// Factory creates a component for descriptor d.
type Factory func(rc *RunContext, d profile.ComponentDescriptor) (Component, error)

// Registry maps profile Type names to factories. Names are case insensitive.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	names     map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}, names: map[string]string{}}
}

// Register adds or replaces the factory for typeName.
func (r *Registry) Register(typeName string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(typeName)
	r.factories[key] = f
	r.names[key] = typeName
}

// Has reports whether typeName is registered.
func (r *Registry) Has(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[strings.ToLower(typeName)]
	return ok
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for _, name := range r.names {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Create builds the component for d.
func (r *Registry) Create(rc *RunContext, d profile.ComponentDescriptor) (Component, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(d.Type)]
	r.mu.RUnlock()
	if !ok {
		return nil, fault.New(fault.KindProfileComposition, fault.ReasonUnknownComponentType, "unknown component type %s", d.Type)
	}
	c, err := f(rc, d)
	if err != nil {
		if fault.KindOf(err) == fault.KindUnknown {
			err = fault.Wrap(fault.KindInvalidInput, "", err, "invalid %s component %s", d.Type, d.ScenarioName())
		}
		return nil, err
	}
	return c, nil
}

// Validate checks that every component type in p is registered.
func (r *Registry) Validate(p *profile.ExecutionProfile) error {
	return p.Walk(func(category string, d *profile.ComponentDescriptor) error {
		if strings.EqualFold(d.Type, ParallelExecutionType) {
			return nil
		}
		if !r.Has(d.Type) {
			return fault.New(fault.KindProfileComposition, fault.ReasonUnknownComponentType,
				"%s %s has unknown component type %s", category, d.ScenarioName(), d.Type)
		}
		return nil
	})
}

// ParallelExecutionType is the composite type whose Components the
// scheduler runs concurrently.
const ParallelExecutionType = "ParallelExecution"
