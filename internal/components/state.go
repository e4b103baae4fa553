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
	"hostbench/internal/rolesync"
	"hostbench/internal/state"
)

const defaultWaitForStateTimeout = 30 * time.Minute

type publishStateOptions struct {
	Key    string
	Status string
	Role   string
}

// PublishState publishes {status: Status} under Key in the local store. With
// Role set, the state is also pushed to every peer playing that role.
type PublishState struct {
	rc     *component.RunContext
	opts   publishStateOptions
	logger *slog.Logger
}

func newPublishState(rc *component.RunContext, d profile.ComponentDescriptor) (component.Component, error) {
	if err := component.RequireParameters(d.Parameters, "Key"); err != nil {
		return nil, err
	}
	p := &PublishState{rc: rc, opts: publishStateOptions{Status: state.StatusReady}, logger: componentLogger(rc, d)}
	if err := component.DecodeOptions(d.Parameters, &p.opts); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PublishState) Initialize(context.Context) error {
	if p.rc.Sync() == nil {
		return fault.New(fault.KindInvalidInput, "", "%s requires a state store", PublishStateType)
	}
	return nil
}

func (p *PublishState) Execute(ctx context.Context) error {
	definition := map[string]any{state.StatusField: p.opts.Status}
	if _, err := p.rc.Sync().PublishState(ctx, p.opts.Key, definition); err != nil {
		return err
	}
	p.logger.Info("published state", slog.String("key", p.opts.Key), slog.String("status", p.opts.Status))
	if p.opts.Role == "" {
		return nil
	}
	if err := p.rc.Sync().PushState(ctx, p.opts.Role, p.opts.Key, definition); err != nil {
		return err
	}
	p.logger.Info("pushed state to peers", slog.String("key", p.opts.Key), slog.String("role", p.opts.Role))
	return nil
}

type waitForStateOptions struct {
	Key            string
	Role           string
	ExpectedStatus string
	Timeout        time.Duration
	Mode           string
}

// WaitForState blocks until the peers playing Role expose Key with
// ExpectedStatus. In All mode every peer's control plane must answer a
// heartbeat first.
type WaitForState struct {
	rc     *component.RunContext
	opts   waitForStateOptions
	mode   rolesync.Mode
	logger *slog.Logger
	peers  []rolesync.PeerState
}

func newWaitForState(rc *component.RunContext, d profile.ComponentDescriptor) (component.Component, error) {
	if err := component.RequireParameters(d.Parameters, "Key", "Role"); err != nil {
		return nil, err
	}
	w := &WaitForState{
		rc:     rc,
		opts:   waitForStateOptions{ExpectedStatus: state.StatusReady, Timeout: defaultWaitForStateTimeout},
		logger: componentLogger(rc, d),
	}
	if err := component.DecodeOptions(d.Parameters, &w.opts); err != nil {
		return nil, err
	}
	mode, err := rolesync.ParseMode(w.opts.Mode)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidInput, "", err, "invalid Mode")
	}
	w.mode = mode
	if w.opts.Timeout <= 0 {
		return nil, fault.New(fault.KindInvalidInput, "", "Timeout must be greater than zero")
	}
	return w, nil
}

func (w *WaitForState) Initialize(context.Context) error {
	if w.rc.Sync() == nil {
		return fault.New(fault.KindInvalidInput, "", "%s requires a state store", WaitForStateType)
	}
	_, err := w.rc.Sync().Peers(w.opts.Role)
	return err
}

func (w *WaitForState) Execute(ctx context.Context) error {
	deadline := time.Now().Add(w.opts.Timeout)
	w.logger.Info("waiting for peer state", slog.String("role", w.opts.Role), slog.String("key", w.opts.Key),
		slog.String("status", w.opts.ExpectedStatus), slog.String("mode", w.mode.String()), slog.Duration("timeout", w.opts.Timeout))
	if w.mode == rolesync.ModeAll {
		if err := w.rc.Sync().WaitForHeartbeat(ctx, w.opts.Role, w.opts.Timeout); err != nil {
			return err
		}
	}
	peers, err := w.rc.Sync().WaitForPeerState(ctx, w.opts.Role, w.opts.Key, time.Until(deadline),
		rolesync.WithMode(w.mode), rolesync.WithExpectedStatus(w.opts.ExpectedStatus))
	if err != nil {
		return err
	}
	w.peers = peers
	for _, p := range peers {
		w.logger.Info("peer state matched", slog.String("peer", p.Instance.Name), slog.String("status", p.Item.Status()))
	}
	return nil
}

// State lists the peers that matched.
func (w *WaitForState) State() map[string]any {
	var names []string
	for _, p := range w.peers {
		names = append(names, p.Instance.Name)
	}
	return map[string]any{"peers": names}
}
