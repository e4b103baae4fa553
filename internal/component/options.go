package component

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"reflect"
	"time"

	"hostbench/internal/fault"
	"hostbench/internal/profile"
	"hostbench/internal/util"

	"github.com/mitchellh/mapstructure"
)

var durationType = reflect.TypeOf(time.Duration(0))

// durationHook decodes durations from Go duration strings, timespans
// (hh:mm:ss) and integer seconds.
func durationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return util.ParseDuration(v)
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return data, nil
}

// DecodeOptions decodes component parameters into the struct pointed to by
// out. Field names match parameter names ignoring case, scalar types are
// converted weakly, and time.Duration fields accept timespans.
func DecodeOptions(parameters profile.Parameters, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook:       durationHook,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create options decoder: %w", err)
	}
	if err := decoder.Decode(map[string]any(parameters)); err != nil {
		return fault.Wrap(fault.KindInvalidInput, "", err, "invalid component parameters")
	}
	return nil
}

// RequireParameters fails with InvalidInput when any of names is missing or empty.
func RequireParameters(parameters profile.Parameters, names ...string) error {
	for _, name := range names {
		if s, ok := parameters.GetString(name); !ok || s == "" {
			return fault.New(fault.KindInvalidInput, "", "required parameter %s is missing", name)
		}
	}
	return nil
}
