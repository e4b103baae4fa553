// Package state persists idempotency state and serves it to peer agents.
// The same Store interface is implemented by the local file-backed store and
// by the HTTP client of a peer's control plane, so callers do not care where
// a state item lives.
package state

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrNotFound is returned by Get when no item exists for the key.
var ErrNotFound = errors.New("state not found")

// ErrConflict is returned by Create when an item already exists for the key.
var ErrConflict = errors.New("state already exists")

// ErrInvalidKey is returned when a key cannot name a state item.
var ErrInvalidKey = errors.New("invalid state key")

// Status values written into item definitions by the engine.
const (
	StatusCompleted = "Completed"
	StatusReady     = "Ready"
)

// StatusField is the definition field holding the item status.
const StatusField = "status"

// Item is one state document. Definition is owned by the component that
// produced it; the engine only reads and writes the status field.
type Item struct {
	ID           string         `json:"id"`
	Created      time.Time      `json:"created"`
	LastModified time.Time      `json:"lastModified"`
	Definition   map[string]any `json:"definition"`
}

// NewItem creates an item for key with a copy of definition.
func NewItem(key string, definition map[string]any) *Item {
	now := time.Now().UTC()
	return &Item{
		ID:           key,
		Created:      now,
		LastModified: now,
		Definition:   maps.Clone(definition),
	}
}

// Status returns the definition's status field, if any.
func (i *Item) Status() string {
	if i == nil || i.Definition == nil {
		return ""
	}
	if s, ok := i.Definition[StatusField].(string); ok {
		return s
	}
	return ""
}

// Completed reports whether the item marks a finished component.
func (i *Item) Completed() bool {
	return strings.EqualFold(i.Status(), StatusCompleted)
}

// Clone returns a deep-enough copy for callers that may modify the definition.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	cp := *i
	if i.Definition != nil {
		raw, err := json.Marshal(i.Definition)
		if err == nil {
			var def map[string]any
			if json.Unmarshal(raw, &def) == nil {
				cp.Definition = def
				return &cp
			}
		}
		cp.Definition = maps.Clone(i.Definition)
	}
	return &cp
}

// Store reads and writes state items by key. Put replaces the whole item.
type Store interface {
	Get(ctx context.Context, key string) (*Item, error)
	Put(ctx context.Context, key string, item *Item) (*Item, error)
	Create(ctx context.Context, key string, item *Item) (*Item, error)
	Delete(ctx context.Context, key string) error
}

var keyCaser = cases.Lower(language.Und)

// NormalizeKey returns the canonical form of a state key. Keys are case
// insensitive.
func NormalizeKey(key string) string {
	return keyCaser.String(strings.TrimSpace(key))
}

var validKeyRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ValidateKey returns ErrInvalidKey unless the normalized key is made of
// lower case letters, digits, dots, dashes and underscores.
func ValidateKey(key string) error {
	if !validKeyRegex.MatchString(NormalizeKey(key)) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
