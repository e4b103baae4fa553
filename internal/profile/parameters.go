package profile

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"hostbench/internal/util"
)

// Parameters is a bag of scalar values (string, int, float64, bool) keyed
// by name. Lookups are case insensitive; the first spelling of a key is
// kept when values are overlaid.
type Parameters map[string]any

// Lookup returns the value stored under key, ignoring case.
func (p Parameters) Lookup(key string) (any, bool) {
	if v, ok := p[key]; ok {
		return v, true
	}
	for k, v := range p {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// Has reports whether key is present, ignoring case.
func (p Parameters) Has(key string) bool {
	_, ok := p.Lookup(key)
	return ok
}

// keyOf returns the stored spelling of key, or "" when absent.
func (p Parameters) keyOf(key string) string {
	if _, ok := p[key]; ok {
		return key
	}
	for k := range p {
		if strings.EqualFold(k, key) {
			return k
		}
	}
	return ""
}

// Set stores value under key, replacing any existing key that differs only
// in case.
func (p Parameters) Set(key string, value any) {
	if existing := p.keyOf(key); existing != "" {
		p[existing] = value
		return
	}
	p[key] = value
}

// Overlay copies every entry of other into p; other wins on collisions.
func (p Parameters) Overlay(other map[string]any) {
	for _, k := range slices.Sorted(maps.Keys(other)) {
		p.Set(k, other[k])
	}
}

// Underlay copies entries of other that p does not already have.
func (p Parameters) Underlay(other map[string]any) {
	for _, k := range slices.Sorted(maps.Keys(other)) {
		if !p.Has(k) {
			p[k] = other[k]
		}
	}
}

// Clone returns a shallow copy. Values are scalars so it is also a deep one.
func (p Parameters) Clone() Parameters {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// GetString returns the value for key formatted as a string.
func (p Parameters) GetString(key string) (string, bool) {
	v, ok := p.Lookup(key)
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// GetStringOr returns the string value for key or def when absent or empty.
func (p Parameters) GetStringOr(key, def string) string {
	if s, ok := p.GetString(key); ok && s != "" {
		return s
	}
	return def
}

// GetInt returns the value for key as an int.
func (p Parameters) GetInt(key string) (int, bool, error) {
	v, ok := p.Lookup(key)
	if !ok || v == nil {
		return 0, false, nil
	}
	switch t := v.(type) {
	case int:
		return t, true, nil
	case int64:
		return int(t), true, nil
	case float64:
		if t != float64(int(t)) {
			return 0, true, fmt.Errorf("parameter %s: %v is not an integer", key, t)
		}
		return int(t), true, nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, true, fmt.Errorf("parameter %s: %q is not an integer", key, t)
		}
		return i, true, nil
	}
	return 0, true, fmt.Errorf("parameter %s: unsupported type %T", key, v)
}

// GetBool returns the value for key as a bool.
func (p Parameters) GetBool(key string) (bool, bool, error) {
	v, ok := p.Lookup(key)
	if !ok || v == nil {
		return false, false, nil
	}
	switch t := v.(type) {
	case bool:
		return t, true, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, true, fmt.Errorf("parameter %s: %q is not a boolean", key, t)
		}
		return b, true, nil
	}
	return false, true, fmt.Errorf("parameter %s: unsupported type %T", key, v)
}

// GetDuration returns the value for key as a duration. Integers are
// seconds; strings may be Go durations or timespans (hh:mm:ss).
func (p Parameters) GetDuration(key string) (time.Duration, bool, error) {
	v, ok := p.Lookup(key)
	if !ok || v == nil {
		return 0, false, nil
	}
	switch t := v.(type) {
	case int:
		return time.Duration(t) * time.Second, true, nil
	case float64:
		return time.Duration(t * float64(time.Second)), true, nil
	case string:
		d, err := util.ParseDuration(t)
		if err != nil {
			return 0, true, fmt.Errorf("parameter %s: %w", key, err)
		}
		return d, true, nil
	}
	return 0, true, fmt.Errorf("parameter %s: unsupported type %T", key, v)
}
