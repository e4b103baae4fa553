package scheduler

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"hostbench/internal/component"
	"hostbench/internal/fault"
	"hostbench/internal/profile"
	"hostbench/internal/retry"
	"hostbench/internal/state"
)

// Descriptor parameters interpreted by the scheduler rather than the component.
const (
	ParameterStateKey            = "StateKey"
	ParameterStateRole           = "StateRole"
	ParameterRetryAttempts       = "RetryAttempts"
	ParameterRetryWait           = "RetryWait"
	ParameterMaxParallelism      = "MaxParallelism"
	ParameterMonitorFrequency    = "MonitorFrequency"
	ParameterMonitorWarmupPeriod = "MonitorWarmupPeriod"
)

// Operation names attached to component errors.
const (
	OpInitialize = "Initialize"
	OpExecute    = "Execute"
	OpStateCheck = "StateCheck"
	OpSaveState  = "SaveState"
)

// Unit is an instantiated component with the descriptor it came from. A unit
// is initialized at most once per run.
type Unit struct {
	Category    string
	Descriptor  profile.ComponentDescriptor
	Component   component.Component
	initialized bool
}

// NewUnit pairs c with its descriptor.
func NewUnit(category string, d profile.ComponentDescriptor, c component.Component) *Unit {
	return &Unit{Category: category, Descriptor: d, Component: c}
}

// StateKey is the key under which the unit records completion: the StateKey
// parameter, else the component's own key. Empty when the unit is stateless.
func (u *Unit) StateKey() string {
	if key, ok := u.Descriptor.Parameters.GetString(ParameterStateKey); ok && key != "" {
		return key
	}
	if s, ok := u.Component.(component.Stateful); ok {
		return s.StateKey()
	}
	return ""
}

// PolicyFor returns the retry policy for u: the component's own policy, the
// RetryAttempts and RetryWait descriptor parameters, or retry.Default.
func PolicyFor(u *Unit) (retry.Policy, error) {
	if p, ok := u.Component.(component.RetryPolicyProvider); ok {
		return p.RetryPolicy(), nil
	}
	policy := retry.Default
	attempts, ok, err := u.Descriptor.Parameters.GetInt(ParameterRetryAttempts)
	if err != nil {
		return policy, fault.Wrap(fault.KindInvalidInput, "", err, "invalid retry attempts")
	}
	if ok {
		if attempts < 1 {
			return policy, fault.New(fault.KindInvalidInput, "", "%s must be at least 1", ParameterRetryAttempts)
		}
		policy.MaxAttempts = attempts
	}
	wait, ok, err := u.Descriptor.Parameters.GetDuration(ParameterRetryWait)
	if err != nil {
		return policy, fault.Wrap(fault.KindInvalidInput, "", err, "invalid retry wait")
	}
	if ok {
		policy.Backoff = retry.Constant(wait)
	}
	return policy, nil
}

// ExecuteWithPolicy runs u once under policy. A unit whose state key is
// already completed, locally or on a peer of the StateRole role, is skipped
// without being initialized. On success the completion is persisted to the
// local store together with any state the component provides.
func ExecuteWithPolicy(ctx context.Context, rc *component.RunContext, u *Unit, policy retry.Policy) (component.Result, error) {
	scenario := u.Descriptor.ScenarioName()
	logger := rc.ComponentLogger(u.Category, u.Descriptor)
	key := u.StateKey()

	if key != "" {
		skip, reason, err := completedElsewhere(ctx, rc, u, key)
		if err != nil {
			return component.Result{}, fault.WithComponent(err, u.Category, scenario, OpStateCheck)
		}
		if skip {
			logger.Info("skipping component, state is already completed", slog.String("stateKey", key), slog.String("source", reason))
			return component.Result{Status: component.StatusSkipped, Reason: reason}, nil
		}
	}

	if s, ok := u.Component.(component.Supporter); ok {
		if err := s.IsSupported(rc); err != nil {
			if fault.Is(err, fault.KindNotSupported) {
				logger.Warn("skipping component, not supported", slog.String("error", err.Error()))
				return component.Result{Status: component.StatusSkipped, Reason: err.Error()}, nil
			}
			return component.Result{}, fault.WithComponent(err, u.Category, scenario, OpInitialize)
		}
	}

	onRetry := func(op string) retry.AttemptFunc {
		return func(attempt int, err error, wait time.Duration) {
			logger.Warn("component attempt failed, retrying",
				slog.String("op", op), slog.Int("attempt", attempt), slog.Duration("wait", wait), slog.String("error", err.Error()))
		}
	}

	if !u.initialized {
		if err := retry.Do(ctx, policy, u.Component.Initialize, onRetry(OpInitialize)); err != nil {
			return component.Result{}, fault.WithComponent(err, u.Category, scenario, OpInitialize)
		}
		u.initialized = true
	}

	attempts := 0
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		attempts++
		return u.Component.Execute(ctx)
	}, onRetry(OpExecute))
	if err != nil {
		return component.Result{Attempts: attempts}, fault.WithComponent(err, u.Category, scenario, OpExecute)
	}

	if key != "" && rc.Store() != nil {
		definition := map[string]any{}
		if p, ok := u.Component.(component.StateProvider); ok {
			maps.Copy(definition, p.State())
		}
		definition[state.StatusField] = state.StatusCompleted
		if _, err := rc.Store().Put(ctx, key, state.NewItem(key, definition)); err != nil {
			return component.Result{Attempts: attempts}, fault.WithComponent(
				fault.Wrap(fault.KindTransientExecution, "", err, "failed to save state %s", key), u.Category, scenario, OpSaveState)
		}
		logger.Debug("saved component state", slog.String("stateKey", key))
	}
	return component.Result{Status: component.StatusCompleted, Attempts: attempts}, nil
}

// completedElsewhere reports whether key is completed in the local store or,
// when StateRole is set, on any peer playing that role. Unreachable peers do
// not prevent execution; a role the layout cannot resolve does.
func completedElsewhere(ctx context.Context, rc *component.RunContext, u *Unit, key string) (bool, string, error) {
	if rc.Store() != nil {
		item, err := rc.Store().Get(ctx, key)
		switch {
		case err == nil && item.Completed():
			return true, "local", nil
		case err != nil && !isNotFound(err):
			return false, "", err
		}
	}
	role, ok := u.Descriptor.Parameters.GetString(ParameterStateRole)
	if !ok || role == "" {
		return false, "", nil
	}
	if rc.Sync() == nil {
		return false, "", fault.New(fault.KindInvalidInput, "", "%s %s requires an environment layout", ParameterStateRole, role)
	}
	peers, err := rc.Sync().ReadPeerState(ctx, role, key)
	if err != nil {
		if fault.Is(err, fault.KindInvalidInput) || ctx.Err() != nil {
			return false, "", err
		}
		rc.Logger().Warn("failed to read peer state, executing component", slog.String("role", role), slog.String("stateKey", key), slog.String("error", err.Error()))
		return false, "", nil
	}
	for _, p := range peers {
		if p.Item != nil && p.Item.Completed() {
			return true, "peer " + p.Instance.Name, nil
		}
	}
	return false, "", nil
}

func isNotFound(err error) bool {
	return errors.Is(err, state.ErrNotFound)
}
