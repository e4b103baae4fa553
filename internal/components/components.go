// Package components provides the built-in component types that profiles
// can reference without any extension installed.
package components

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"log/slog"
	"time"

	"hostbench/internal/component"
	"hostbench/internal/profile"
)

// Built-in component type names.
const (
	ExecuteCommandType        = "ExecuteCommand"
	ExecuteCommandMonitorType = "ExecuteCommandMonitor"
	HostMonitorType           = "HostMonitor"
	WaitType                  = "Wait"
	PublishStateType          = "PublishState"
	WaitForStateType          = "WaitForState"
)

// Register adds the built-in component types to reg.
func Register(reg *component.Registry) {
	reg.Register(ExecuteCommandType, newExecuteCommand)
	reg.Register(ExecuteCommandMonitorType, newExecuteCommandMonitor)
	reg.Register(HostMonitorType, newHostMonitor)
	reg.Register(WaitType, newWait)
	reg.Register(PublishStateType, newPublishState)
	reg.Register(WaitForStateType, newWaitForState)
}

// NewRegistry returns a registry holding the built-in component types.
func NewRegistry() *component.Registry {
	reg := component.NewRegistry()
	Register(reg)
	return reg
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func componentLogger(rc *component.RunContext, d profile.ComponentDescriptor) *slog.Logger {
	return rc.Logger().With(slog.String("scenario", d.ScenarioName()), slog.String("type", d.Type))
}
