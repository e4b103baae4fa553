// Package rolesync lets agents discover each other's readiness through the
// state control plane. Peers are resolved by role from the environment
// layout and polled until they expose the expected state.
package rolesync

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"hostbench/internal/fault"
	"hostbench/internal/layout"
	"hostbench/internal/retry"
	"hostbench/internal/state"

	"golang.org/x/sync/errgroup"
)

// DefaultPollInterval is the base wait between polls of one peer.
const DefaultPollInterval = 2 * time.Second

// Mode selects how many peers must reach the expected state.
type Mode int

const (
	// ModeAll waits for every peer in the role.
	ModeAll Mode = iota
	// ModeAny returns as soon as one peer matches.
	ModeAny
)

func (m Mode) String() string {
	if m == ModeAny {
		return "Any"
	}
	return "All"
}

// ParseMode accepts "All" or "Any", ignoring case. Empty means All.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return ModeAll, nil
	case "any":
		return ModeAny, nil
	}
	return ModeAll, fmt.Errorf("invalid mode %q, expected All or Any", s)
}

// PeerState is the state one peer exposed for a key.
type PeerState struct {
	Instance layout.ClientInstance
	Item     *state.Item
}

// Client synchronizes with peers. It is safe for concurrent use.
type Client struct {
	layout       *layout.EnvironmentLayout
	local        state.Store
	httpClient   *http.Client
	defaultPort  int
	pollInterval time.Duration
	pushPolicy   retry.Policy
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used to reach peers.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) { client.httpClient = c }
}

// WithPollInterval sets the base poll interval. Up to 50% jitter is added.
func WithPollInterval(d time.Duration) Option {
	return func(client *Client) { client.pollInterval = d }
}

// WithDefaultPort sets the control plane port used for peers without one.
func WithDefaultPort(port int) Option {
	return func(client *Client) { client.defaultPort = port }
}

// WithPushPolicy sets the retry policy for PushState.
func WithPushPolicy(p retry.Policy) Option {
	return func(client *Client) { client.pushPolicy = p }
}

// NewClient returns a client resolving peers from l and publishing to local.
// l may be nil when the run has no peers.
func NewClient(l *layout.EnvironmentLayout, local state.Store, opts ...Option) *Client {
	c := &Client{
		layout:       l,
		local:        local,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		defaultPort:  state.DefaultPort,
		pollInterval: DefaultPollInterval,
		pushPolicy: retry.Policy{
			MaxAttempts: retry.Default.MaxAttempts,
			Backoff:     retry.Default.Backoff,
			Retryable:   retryablePeerError,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Peers returns the instances playing role.
func (c *Client) Peers(role string) ([]layout.ClientInstance, error) {
	if c.layout == nil {
		return nil, fault.New(fault.KindInvalidInput, "", "no environment layout was provided; role %s cannot be resolved", role)
	}
	peers := c.layout.ByRole(role)
	if len(peers) == 0 {
		return nil, fault.New(fault.KindInvalidInput, "", "environment layout has no instance with role %s", role)
	}
	return peers, nil
}

func (c *Client) peerClient(peer layout.ClientInstance) (*state.Client, error) {
	return state.NewClient("http://"+peer.Address(c.defaultPort), c.httpClient)
}

// PublishState writes definition under key in the local store, which the
// local control plane serves to peers.
func (c *Client) PublishState(ctx context.Context, key string, definition map[string]any) (*state.Item, error) {
	item, err := c.local.Put(ctx, key, state.NewItem(key, definition))
	if err != nil {
		return nil, fmt.Errorf("failed to publish state %s: %w", key, err)
	}
	slog.Debug("published state", slog.String("key", key))
	return item, nil
}

// PushState writes definition under key on every peer playing role.
func (c *Client) PushState(ctx context.Context, role, key string, definition map[string]any) error {
	peers, err := c.Peers(role)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range peers {
		g.Go(func() error {
			client, err := c.peerClient(peer)
			if err != nil {
				return err
			}
			return retry.Do(gctx, c.pushPolicy, func(ctx context.Context) error {
				_, err := client.Put(ctx, key, state.NewItem(key, definition))
				if err != nil {
					return fmt.Errorf("failed to push state %s to %s: %w", key, peer.Name, err)
				}
				return nil
			}, func(attempt int, err error, wait time.Duration) {
				slog.Debug("retrying state push", slog.String("peer", peer.Name), slog.Int("attempt", attempt), slog.Duration("wait", wait), slog.String("error", err.Error()))
			})
		})
	}
	return g.Wait()
}

// ReadPeerState reads key once from every peer playing role. Peers that do
// not have the key are returned with a nil Item.
func (c *Client) ReadPeerState(ctx context.Context, role, key string) ([]PeerState, error) {
	peers, err := c.Peers(role)
	if err != nil {
		return nil, err
	}
	results := make([]PeerState, len(peers))
	g, gctx := errgroup.WithContext(ctx)
	for i, peer := range peers {
		g.Go(func() error {
			results[i].Instance = peer
			client, err := c.peerClient(peer)
			if err != nil {
				return err
			}
			item, err := client.Get(gctx, key)
			if err != nil {
				if errors.Is(err, state.ErrNotFound) {
					return nil
				}
				return fmt.Errorf("failed to read state %s from %s: %w", key, peer.Name, err)
			}
			results[i].Item = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

type waitOptions struct {
	mode      Mode
	predicate func(*state.Item) bool
}

// WaitOption configures WaitForPeerState.
type WaitOption func(*waitOptions)

// WithMode selects All or Any.
func WithMode(m Mode) WaitOption {
	return func(o *waitOptions) { o.mode = m }
}

// WithPredicate accepts a peer state only when match returns true.
func WithPredicate(match func(*state.Item) bool) WaitOption {
	return func(o *waitOptions) { o.predicate = match }
}

// WithExpectedStatus accepts a peer state only when its status equals
// status, ignoring case.
func WithExpectedStatus(status string) WaitOption {
	return WithPredicate(func(item *state.Item) bool {
		return strings.EqualFold(item.Status(), status)
	})
}

// WaitForPeerState polls every peer playing role until it exposes key (and
// satisfies the predicate, if any). With ModeAny it returns after the first
// matching peer. When timeout elapses first the error is of kind
// PeerSynchronizationTimeout. Connection failures, 404 and 5xx responses
// are retried; any other 4xx response is fatal.
func (c *Client) WaitForPeerState(ctx context.Context, role, key string, timeout time.Duration, opts ...WaitOption) ([]PeerState, error) {
	o := waitOptions{mode: ModeAll}
	for _, opt := range opts {
		opt(&o)
	}
	peers, err := c.Peers(role)
	if err != nil {
		return nil, err
	}
	slog.Info("waiting for peer state", slog.String("role", role), slog.String("key", key), slog.String("mode", o.mode.String()), slog.Duration("timeout", timeout), slog.Int("peers", len(peers)))

	waitCtx, cancelWait := context.WithTimeout(ctx, timeout)
	defer cancelWait()
	anyCtx, anyFound := context.WithCancel(waitCtx)
	defer anyFound()

	var mu sync.Mutex
	found := make([]*state.Item, len(peers))
	g, gctx := errgroup.WithContext(anyCtx)
	for i, peer := range peers {
		g.Go(func() error {
			item, err := c.pollPeer(gctx, peer, key, o.predicate)
			if err != nil {
				return err
			}
			mu.Lock()
			found[i] = item
			mu.Unlock()
			if o.mode == ModeAny {
				anyFound()
			}
			return nil
		})
	}
	groupErr := g.Wait()

	var results []PeerState
	for i, item := range found {
		if item != nil {
			results = append(results, PeerState{Instance: peers[i], Item: item})
		}
	}
	if o.mode == ModeAny && len(results) > 0 {
		return results, nil
	}
	if groupErr == nil {
		return results, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if waitCtx.Err() != nil {
		return nil, fault.New(fault.KindPeerSynchronizationTimeout, fault.ReasonApiStatePollingTimeout,
			"timed out after %s waiting for state %s from role %s (%d of %d peers ready)", timeout, key, role, len(results), len(peers))
	}
	return nil, groupErr
}

// WaitForHeartbeat polls every peer playing role until its control plane
// answers, or fails with PeerSynchronizationTimeout.
func (c *Client) WaitForHeartbeat(ctx context.Context, role string, timeout time.Duration) error {
	peers, err := c.Peers(role)
	if err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	g, gctx := errgroup.WithContext(waitCtx)
	for _, peer := range peers {
		g.Go(func() error {
			client, err := c.peerClient(peer)
			if err != nil {
				return err
			}
			for {
				err := client.Heartbeat(gctx)
				if err == nil {
					slog.Debug("peer is online", slog.String("peer", peer.Name))
					return nil
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if !retryablePeerError(err) {
					return err
				}
				if err := c.sleep(gctx); err != nil {
					return err
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if waitCtx.Err() != nil {
			return fault.New(fault.KindPeerSynchronizationTimeout, fault.ReasonApiStatePollingTimeout,
				"timed out after %s waiting for role %s to come online", timeout, role)
		}
		return err
	}
	return nil
}

// pollPeer returns the first state of key on peer accepted by predicate.
func (c *Client) pollPeer(ctx context.Context, peer layout.ClientInstance, key string, predicate func(*state.Item) bool) (*state.Item, error) {
	client, err := c.peerClient(peer)
	if err != nil {
		return nil, err
	}
	for attempt := 1; ; attempt++ {
		item, err := client.Get(ctx, key)
		switch {
		case err == nil && (predicate == nil || predicate(item)):
			slog.Debug("peer state ready", slog.String("peer", peer.Name), slog.String("key", key), slog.Int("attempt", attempt))
			return item, nil
		case err == nil:
			slog.Debug("peer state not yet expected", slog.String("peer", peer.Name), slog.String("key", key), slog.String("status", item.Status()))
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, state.ErrNotFound), retryablePeerError(err):
			slog.Debug("peer state not available", slog.String("peer", peer.Name), slog.String("key", key), slog.String("error", err.Error()))
		default:
			return nil, fault.Wrap(fault.KindInvalidInput, "", err, "peer %s rejected state request for %s", peer.Name, key)
		}
		if err := c.sleep(ctx); err != nil {
			return nil, err
		}
	}
}

// sleep waits the poll interval plus up to 50% jitter.
func (c *Client) sleep(ctx context.Context) error {
	wait := c.pollInterval
	if wait > 0 {
		wait += time.Duration(rand.Int64N(int64(wait)/2 + 1)) // #nosec G404
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryablePeerError treats transport failures and 5xx responses as
// transient. 408 and 429 are retried as well.
func retryablePeerError(err error) bool {
	var statusErr *state.StatusError
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode
		return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
	}
	if errors.Is(err, state.ErrNotFound) || errors.Is(err, state.ErrConflict) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// anything below HTTP is a connection problem
	return true
}
