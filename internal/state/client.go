package state

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StatusError is returned by Client when the control plane answers with an
// unexpected HTTP status.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("control plane returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("control plane returned %d", e.StatusCode)
}

// Client talks to a peer agent's control plane. It implements Store.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient returns a client for the control plane at baseURL, e.g.
// "http://10.0.0.4:4500".
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid control plane address %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid control plane address %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: u, httpClient: httpClient}, nil
}

// BaseURL returns the control plane address.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) stateURL(key string) string {
	return c.baseURL.JoinPath("state", url.PathEscape(key)).String()
}

// Get fetches the item for key. A 404 maps to ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) (*Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.stateURL(key), nil)
	if err != nil {
		return nil, err
	}
	var item Item
	if err := c.do(req, http.StatusOK, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Put replaces the item for key on the peer.
func (c *Client) Put(ctx context.Context, key string, item *Item) (*Item, error) {
	return c.send(ctx, http.MethodPut, key, item, http.StatusOK)
}

// Create stores the item only if the peer has none; a 409 maps to ErrConflict.
func (c *Client) Create(ctx context.Context, key string, item *Item) (*Item, error) {
	return c.send(ctx, http.MethodPost, key, item, http.StatusCreated)
}

// Delete removes the item for key on the peer.
func (c *Client) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.stateURL(key), nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusNoContent, nil)
}

// Heartbeat returns nil when the peer's control plane answers.
func (c *Client) Heartbeat(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.JoinPath("heartbeat").String(), nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusOK, nil)
}

func (c *Client) send(ctx context.Context, method, key string, item *Item, expected int) (*Item, error) {
	if item == nil {
		return nil, fmt.Errorf("state %s: nil item", key)
	}
	body := item.Clone()
	body.ID = key
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.stateURL(key), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	var stored Item
	if err := c.do(req, expected, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (c *Client) do(req *http.Request, expected int, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("failed to read control plane response: %w", err)
	}
	switch {
	case resp.StatusCode == expected:
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return ErrConflict
	default:
		var problem Problem
		detail := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &problem) == nil && problem.Detail != "" {
			detail = problem.Detail
		}
		return &StatusError{StatusCode: resp.StatusCode, Detail: detail}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unexpected control plane response: %w", err)
	}
	return nil
}
