package components

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"log/slog"
	"time"

	"hostbench/internal/component"
	"hostbench/internal/fault"
	"hostbench/internal/profile"
)

type waitOptions struct {
	Duration time.Duration
}

// Wait idles for Duration.
type Wait struct {
	opts   waitOptions
	logger *slog.Logger
}

func newWait(rc *component.RunContext, d profile.ComponentDescriptor) (component.Component, error) {
	w := &Wait{logger: componentLogger(rc, d)}
	if err := component.RequireParameters(d.Parameters, "Duration"); err != nil {
		return nil, err
	}
	if err := component.DecodeOptions(d.Parameters, &w.opts); err != nil {
		return nil, err
	}
	if w.opts.Duration < 0 {
		return nil, fault.New(fault.KindInvalidInput, "", "Duration must not be negative")
	}
	return w, nil
}

func (w *Wait) Initialize(context.Context) error { return nil }

func (w *Wait) Execute(ctx context.Context) error {
	w.logger.Debug("waiting", slog.Duration("duration", w.opts.Duration))
	return sleepContext(ctx, w.opts.Duration)
}
