// Package profile loads execution profile documents and composes them into
// a single resolved execution plan.
package profile

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"maps"
	"slices"
	"strings"
	"time"

	"hostbench/internal/fault"
	"hostbench/internal/util"

	"gopkg.in/yaml.v2"
)

// Built-in profile names.
const (
	DefaultMonitorsProfile = "MONITORS-DEFAULT"
	NoMonitorsProfile      = "MONITORS-NONE"
	SmokeProfile           = "PERF-HOST-SMOKE"
)

// Well known parameter and metadata names.
const (
	ParameterScenario                    = "Scenario"
	MetadataSupportsIterations           = "SupportsIterations"
	MetadataMinimumRequiredExecutionTime = "MinimumRequiredExecutionTime"
	MetadataSupportedPlatforms           = "SupportedPlatforms"
)

// Component categories.
const (
	CategoryDependency = "Dependency"
	CategoryAction     = "Action"
	CategoryMonitor    = "Monitor"
)

// ComponentDescriptor is one entry in a dependency, action or monitor list.
type ComponentDescriptor struct {
	Type       string                `yaml:"Type" json:"Type"`
	Scenario   string                `yaml:"Scenario,omitempty" json:"Scenario,omitempty"`
	Group      string                `yaml:"Group,omitempty" json:"Group,omitempty"`
	BestEffort bool                  `yaml:"BestEffort,omitempty" json:"BestEffort,omitempty"`
	Tags       []string              `yaml:"Tags,omitempty" json:"Tags,omitempty"`
	Parameters Parameters            `yaml:"Parameters,omitempty" json:"Parameters,omitempty"`
	Metadata   Parameters            `yaml:"Metadata,omitempty" json:"Metadata,omitempty"`
	Components []ComponentDescriptor `yaml:"Components,omitempty" json:"Components,omitempty"`
}

// ScenarioName returns Scenario, falling back to the Scenario parameter.
func (c ComponentDescriptor) ScenarioName() string {
	if c.Scenario != "" {
		return c.Scenario
	}
	s, _ := c.Parameters.GetString(ParameterScenario)
	return s
}

// HasTag reports whether the descriptor carries tag, ignoring case.
func (c ComponentDescriptor) HasTag(tag string) bool {
	return slices.ContainsFunc(c.Tags, func(t string) bool { return strings.EqualFold(t, tag) })
}

// Clone returns a deep copy.
func (c ComponentDescriptor) Clone() ComponentDescriptor {
	cp := c
	cp.Tags = slices.Clone(c.Tags)
	cp.Parameters = c.Parameters.Clone()
	cp.Metadata = c.Metadata.Clone()
	cp.Components = cloneDescriptors(c.Components)
	return cp
}

func cloneDescriptors(descriptors []ComponentDescriptor) []ComponentDescriptor {
	if descriptors == nil {
		return nil
	}
	cp := make([]ComponentDescriptor, len(descriptors))
	for i, d := range descriptors {
		cp[i] = d.Clone()
	}
	return cp
}

// ConditionalParameterRule overlays Parameters when Condition holds. With a
// Group the overlay applies to the parameters of components in that group.
type ConditionalParameterRule struct {
	Condition  string     `yaml:"Condition" json:"Condition"`
	Group      string     `yaml:"Group,omitempty" json:"Group,omitempty"`
	Parameters Parameters `yaml:"Parameters" json:"Parameters"`
}

// ExecutionProfile is the root of a profile document and of a merged plan.
type ExecutionProfile struct {
	Description              string                     `yaml:"Description,omitempty" json:"Description,omitempty"`
	MinimumExecutionInterval string                     `yaml:"MinimumExecutionInterval,omitempty" json:"MinimumExecutionInterval,omitempty"`
	Parameters               Parameters                 `yaml:"Parameters,omitempty" json:"Parameters,omitempty"`
	Metadata                 Parameters                 `yaml:"Metadata,omitempty" json:"Metadata,omitempty"`
	Environment              map[string]string          `yaml:"Environment,omitempty" json:"Environment,omitempty"`
	ParametersOn             []ConditionalParameterRule `yaml:"ParametersOn,omitempty" json:"ParametersOn,omitempty"`
	Dependencies             []ComponentDescriptor      `yaml:"Dependencies,omitempty" json:"Dependencies,omitempty"`
	Actions                  []ComponentDescriptor      `yaml:"Actions,omitempty" json:"Actions,omitempty"`
	Monitors                 []ComponentDescriptor      `yaml:"Monitors,omitempty" json:"Monitors,omitempty"`
}

// IsEmpty reports whether the profile declares no components at all.
func (p *ExecutionProfile) IsEmpty() bool {
	return len(p.Dependencies) == 0 && len(p.Actions) == 0 && len(p.Monitors) == 0
}

// MinimumInterval parses MinimumExecutionInterval. Zero when unset.
func (p *ExecutionProfile) MinimumInterval() (time.Duration, error) {
	if strings.TrimSpace(p.MinimumExecutionInterval) == "" {
		return 0, nil
	}
	d, err := util.ParseDuration(p.MinimumExecutionInterval)
	if err != nil {
		return 0, fault.Wrap(fault.KindProfileComposition, fault.ReasonSchemaValidation, err, "invalid MinimumExecutionInterval")
	}
	return d, nil
}

// Clone returns a deep copy.
func (p *ExecutionProfile) Clone() *ExecutionProfile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Parameters = p.Parameters.Clone()
	cp.Metadata = p.Metadata.Clone()
	cp.Environment = maps.Clone(p.Environment)
	if p.ParametersOn != nil {
		cp.ParametersOn = make([]ConditionalParameterRule, len(p.ParametersOn))
		for i, r := range p.ParametersOn {
			cp.ParametersOn[i] = ConditionalParameterRule{Condition: r.Condition, Group: r.Group, Parameters: r.Parameters.Clone()}
		}
	}
	cp.Dependencies = cloneDescriptors(p.Dependencies)
	cp.Actions = cloneDescriptors(p.Actions)
	cp.Monitors = cloneDescriptors(p.Monitors)
	return &cp
}

// Walk calls fn for every descriptor in the profile, including nested
// Components, with the category of the top-level list it belongs to.
func (p *ExecutionProfile) Walk(fn func(category string, d *ComponentDescriptor) error) error {
	var walk func(category string, descriptors []ComponentDescriptor) error
	walk = func(category string, descriptors []ComponentDescriptor) error {
		for i := range descriptors {
			if err := fn(category, &descriptors[i]); err != nil {
				return err
			}
			if err := walk(category, descriptors[i].Components); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(CategoryDependency, p.Dependencies); err != nil {
		return err
	}
	if err := walk(CategoryAction, p.Actions); err != nil {
		return err
	}
	return walk(CategoryMonitor, p.Monitors)
}

// Document is a parsed profile document and where it came from.
type Document struct {
	Name    string
	Source  string
	Profile *ExecutionProfile
}

// Parse validates content against the profile schema and decodes it.
// JSON and YAML are both accepted.
func Parse(name string, content []byte) (*Document, error) {
	if err := validateDocument(content); err != nil {
		return nil, fault.Wrap(fault.KindProfileComposition, fault.ReasonSchemaValidation, err, "profile %s is invalid", name)
	}
	var p ExecutionProfile
	if err := yaml.Unmarshal(content, &p); err != nil {
		return nil, fault.Wrap(fault.KindProfileComposition, fault.ReasonSchemaValidation, err, "failed to parse profile %s", name)
	}
	if _, err := p.MinimumInterval(); err != nil {
		return nil, err
	}
	return &Document{Name: name, Profile: &p}, nil
}

// Marshal renders a profile as YAML.
func Marshal(p *ExecutionProfile) ([]byte, error) {
	return yaml.Marshal(p)
}
