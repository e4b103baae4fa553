package profile

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"log/slog"
	"maps"
	"slices"
	"strings"

	"hostbench/internal/fault"
)

// Merge composes primary documents and then overlays into one profile.
//
// Component lists are concatenated in input order. Parameters and metadata
// are unioned with the earliest document winning. The default monitors are
// appended when no document declares monitors, the result has at least one
// action, and no overlay is an empty (no monitors) marker. Inputs are not
// modified.
func Merge(primary []*Document, overlays []*Document) (*ExecutionProfile, error) {
	merged := &ExecutionProfile{
		Parameters: Parameters{},
		Metadata:   Parameters{},
	}
	environmentSource := map[string]string{}
	intervalSource := ""
	declaresMonitors := false
	suppressMonitors := false

	add := func(doc *Document) error {
		if doc == nil || doc.Profile == nil {
			return nil
		}
		p := doc.Profile.Clone()
		if merged.Description == "" {
			merged.Description = p.Description
		}
		if interval := strings.TrimSpace(p.MinimumExecutionInterval); interval != "" {
			if merged.MinimumExecutionInterval == "" {
				merged.MinimumExecutionInterval = interval
				intervalSource = doc.Name
			} else if merged.MinimumExecutionInterval != interval {
				return fault.New(fault.KindProfileComposition, fault.ReasonContradictoryProfiles,
					"profiles %s and %s define different MinimumExecutionInterval values (%s, %s)",
					intervalSource, doc.Name, merged.MinimumExecutionInterval, interval)
			}
		}
		for _, name := range slices.Sorted(maps.Keys(p.Environment)) {
			value := p.Environment[name]
			if existing, ok := merged.Environment[name]; ok {
				if existing != value {
					return fault.New(fault.KindProfileComposition, fault.ReasonContradictoryProfiles,
						"profiles %s and %s set environment variable %s to different values",
						environmentSource[name], doc.Name, name)
				}
				continue
			}
			if merged.Environment == nil {
				merged.Environment = map[string]string{}
			}
			merged.Environment[name] = value
			environmentSource[name] = doc.Name
		}
		merged.Parameters.Underlay(p.Parameters)
		merged.Metadata.Underlay(p.Metadata)
		merged.ParametersOn = append(merged.ParametersOn, p.ParametersOn...)
		merged.Dependencies = append(merged.Dependencies, p.Dependencies...)
		merged.Actions = append(merged.Actions, p.Actions...)
		merged.Monitors = append(merged.Monitors, p.Monitors...)
		if len(p.Monitors) > 0 {
			declaresMonitors = true
		}
		return nil
	}

	for _, doc := range primary {
		if err := add(doc); err != nil {
			return nil, err
		}
	}
	for _, doc := range overlays {
		if doc != nil && doc.Profile != nil && doc.Profile.IsEmpty() {
			suppressMonitors = true
		}
		if err := add(doc); err != nil {
			return nil, err
		}
	}

	if !declaresMonitors && !suppressMonitors && len(merged.Actions) > 0 {
		defaults, err := Builtin(DefaultMonitorsProfile)
		if err != nil {
			return nil, err
		}
		slog.Debug("adding default monitors", slog.String("profile", defaults.Name))
		if err := add(defaults); err != nil {
			return nil, err
		}
	}
	return merged, nil
}
