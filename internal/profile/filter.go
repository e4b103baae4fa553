package profile

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// ScenarioFilter selects components by scenario name. Names prefixed with
// '-' are excluded.
type ScenarioFilter struct {
	include mapset.Set[string]
	exclude mapset.Set[string]
}

// NewScenarioFilter parses scenario names. Each entry may itself be a comma
// separated list.
func NewScenarioFilter(scenarios []string) ScenarioFilter {
	f := ScenarioFilter{
		include: mapset.NewThreadUnsafeSet[string](),
		exclude: mapset.NewThreadUnsafeSet[string](),
	}
	for _, entry := range scenarios {
		for name := range strings.SplitSeq(entry, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if excluded, ok := strings.CutPrefix(name, "-"); ok {
				if excluded = strings.TrimSpace(excluded); excluded != "" {
					f.exclude.Add(excluded)
				}
				continue
			}
			if name != "" {
				f.include.Add(name)
			}
		}
	}
	return f
}

// Empty reports whether the filter selects everything.
func (f ScenarioFilter) Empty() bool {
	return f.include == nil || (f.include.Cardinality() == 0 && f.exclude.Cardinality() == 0)
}

// Includes returns the included scenario names.
func (f ScenarioFilter) Includes() []string {
	if f.include == nil {
		return nil
	}
	names := f.include.ToSlice()
	slices.Sort(names)
	return names
}

// Excludes returns the excluded scenario names.
func (f ScenarioFilter) Excludes() []string {
	if f.exclude == nil {
		return nil
	}
	names := f.exclude.ToSlice()
	slices.Sort(names)
	return names
}

// keepAction applies includes first; excludes only apply when there are no includes.
func (f ScenarioFilter) keepAction(d ComponentDescriptor) bool {
	scenario := strings.ToLower(d.ScenarioName())
	if f.include.Cardinality() > 0 {
		return f.include.Contains(scenario)
	}
	return !f.exclude.Contains(scenario)
}

func (f ScenarioFilter) keepOther(d ComponentDescriptor) bool {
	return !f.exclude.Contains(strings.ToLower(d.ScenarioName()))
}

// Apply returns a copy of p without the filtered out components. Actions
// honor includes and excludes; dependencies and monitors honor excludes.
func (f ScenarioFilter) Apply(p *ExecutionProfile) *ExecutionProfile {
	filtered := p.Clone()
	if f.Empty() {
		return filtered
	}
	filtered.Actions = filterDescriptors(filtered.Actions, f.keepAction, f.keepOther)
	filtered.Dependencies = filterDescriptors(filtered.Dependencies, f.keepOther, f.keepOther)
	filtered.Monitors = filterDescriptors(filtered.Monitors, f.keepOther, f.keepOther)
	return filtered
}

// filterDescriptors keeps top level descriptors by keep, and their children by
// keepChild. Composites left without children are dropped.
func filterDescriptors(descriptors []ComponentDescriptor, keep, keepChild func(ComponentDescriptor) bool) []ComponentDescriptor {
	var kept []ComponentDescriptor
	for _, d := range descriptors {
		if !keep(d) {
			continue
		}
		if len(d.Components) > 0 {
			d.Components = filterDescriptors(d.Components, keepChild, keepChild)
			// a composite with every child filtered out has nothing to run
			if len(d.Components) == 0 {
				continue
			}
		}
		kept = append(kept, d)
	}
	return kept
}
