package component

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"log/slog"
	"maps"
	"slices"

	"hostbench/internal/layout"
	"hostbench/internal/profile"
	"hostbench/internal/rolesync"
	"hostbench/internal/state"
	"hostbench/internal/target"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// RunContextOptions holds everything a RunContext is built from.
type RunContextOptions struct {
	ExperimentID string
	AgentID      string
	Platform     string
	Parameters   map[string]any
	Metadata     map[string]any
	Environment  map[string]string
	Layout       *layout.EnvironmentLayout
	Store        state.Store
	Sync         *rolesync.Client
	Target       target.Target
	Registerer   prometheus.Registerer
	Logger       *slog.Logger
}

// RunContext is the read-only context shared by every component of one run.
type RunContext struct {
	experimentID string
	agentID      string
	platform     string
	parameters   profile.Parameters
	metadata     profile.Parameters
	environment  map[string]string
	layout       *layout.EnvironmentLayout
	store        state.Store
	sync         *rolesync.Client
	target       target.Target
	registerer   prometheus.Registerer
	logger       *slog.Logger
}

// NewRunContext copies opts into a RunContext, filling defaults: a new
// experiment id, the host platform, a local target, and the default logger
// and registerer.
func NewRunContext(opts RunContextOptions) *RunContext {
	rc := &RunContext{
		experimentID: opts.ExperimentID,
		agentID:      opts.AgentID,
		platform:     opts.Platform,
		parameters:   profile.Parameters(maps.Clone(opts.Parameters)),
		metadata:     profile.Parameters(maps.Clone(opts.Metadata)),
		environment:  maps.Clone(opts.Environment),
		layout:       opts.Layout,
		store:        opts.Store,
		sync:         opts.Sync,
		target:       opts.Target,
		registerer:   opts.Registerer,
		logger:       opts.Logger,
	}
	if rc.experimentID == "" {
		rc.experimentID = uuid.NewString()
	}
	if rc.target == nil {
		rc.target = target.NewLocalTarget()
	}
	if rc.agentID == "" {
		rc.agentID = rc.target.GetName()
	}
	if rc.platform == "" {
		rc.platform = rc.target.GetPlatform()
	}
	if rc.registerer == nil {
		rc.registerer = prometheus.DefaultRegisterer
	}
	if rc.logger == nil {
		rc.logger = slog.Default()
	}
	rc.logger = rc.logger.With(slog.String("experimentId", rc.experimentID), slog.String("agentId", rc.agentID))
	if rc.sync == nil && rc.store != nil {
		rc.sync = rolesync.NewClient(rc.layout, rc.store)
	}
	return rc
}

func (rc *RunContext) ExperimentID() string { return rc.experimentID }
func (rc *RunContext) AgentID() string      { return rc.agentID }
func (rc *RunContext) Platform() string     { return rc.platform }

// Parameters returns a copy of the resolved profile parameters.
func (rc *RunContext) Parameters() profile.Parameters { return rc.parameters.Clone() }

// Metadata returns a copy of the resolved metadata.
func (rc *RunContext) Metadata() profile.Parameters { return rc.metadata.Clone() }

// Environment returns a copy of the profile environment variables.
func (rc *RunContext) Environment() map[string]string { return maps.Clone(rc.environment) }

// EnvironmentList returns the profile environment as KEY=VALUE entries, sorted.
func (rc *RunContext) EnvironmentList() []string {
	var env []string
	for _, k := range slices.Sorted(maps.Keys(rc.environment)) {
		env = append(env, k+"="+rc.environment[k])
	}
	return env
}

func (rc *RunContext) Layout() *layout.EnvironmentLayout { return rc.layout }
func (rc *RunContext) Store() state.Store                { return rc.store }
func (rc *RunContext) Sync() *rolesync.Client            { return rc.sync }
func (rc *RunContext) Target() target.Target             { return rc.target }
func (rc *RunContext) Registerer() prometheus.Registerer { return rc.registerer }
func (rc *RunContext) Logger() *slog.Logger              { return rc.logger }

// ComponentLogger returns the run logger annotated with the component identity.
func (rc *RunContext) ComponentLogger(category string, d profile.ComponentDescriptor) *slog.Logger {
	return rc.logger.With(slog.String("category", category), slog.String("scenario", d.ScenarioName()), slog.String("type", d.Type))
}
