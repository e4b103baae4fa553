package profile

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"log/slog"
	"strings"

	"hostbench/internal/fault"

	"github.com/casbin/govaluate"
)

// ReferencePrefix marks a component parameter value that refers to a
// profile parameter, e.g. $.Parameters.Duration.
const ReferencePrefix = "$.Parameters."

// Resolve returns a copy of p with CLI parameters and metadata applied, the
// first matching ParametersOn rule applied, and parameter references inlined.
func Resolve(p *ExecutionProfile, cliParameters, cliMetadata map[string]any) (*ExecutionProfile, error) {
	resolved := p.Clone()
	if resolved.Parameters == nil {
		resolved.Parameters = Parameters{}
	}
	if resolved.Metadata == nil {
		resolved.Metadata = Parameters{}
	}
	resolved.Parameters.Overlay(cliParameters)
	resolved.Metadata.Overlay(cliMetadata)

	for i, rule := range resolved.ParametersOn {
		matched, err := evaluateCondition(rule.Condition, resolved.Parameters)
		if err != nil {
			return nil, fault.Wrap(fault.KindProfileComposition, fault.ReasonInvalidParameterCondition, err,
				"ParametersOn rule %d condition %q", i+1, rule.Condition)
		}
		if !matched {
			continue
		}
		slog.Debug("applying conditional parameters", slog.Int("rule", i+1), slog.String("condition", rule.Condition), slog.String("group", rule.Group))
		if rule.Group == "" {
			resolved.Parameters.Overlay(rule.Parameters)
		} else {
			_ = resolved.Walk(func(_ string, d *ComponentDescriptor) error {
				if strings.EqualFold(d.Group, rule.Group) {
					if d.Parameters == nil {
						d.Parameters = Parameters{}
					}
					d.Parameters.Overlay(rule.Parameters)
				}
				return nil
			})
		}
		break
	}

	if err := Inline(resolved); err != nil {
		return nil, err
	}
	return resolved, nil
}

// Inline replaces every component parameter of the form $.Parameters.<Name>
// with the value of the profile parameter Name, in place.
func Inline(p *ExecutionProfile) error {
	return p.Walk(func(category string, d *ComponentDescriptor) error {
		for key, value := range d.Parameters {
			s, ok := value.(string)
			if !ok || len(s) < len(ReferencePrefix) || !strings.EqualFold(s[:len(ReferencePrefix)], ReferencePrefix) {
				continue
			}
			name := strings.TrimSpace(s[len(ReferencePrefix):])
			referenced, found := p.Parameters.Lookup(name)
			if !found {
				return fault.New(fault.KindProfileComposition, fault.ReasonInvalidProfileReference,
					"%s %s parameter %s refers to undefined profile parameter %s", category, d.ScenarioName(), key, name)
			}
			d.Parameters[key] = referenced
		}
		return nil
	})
}

// evaluateCondition evaluates a boolean expression over parameters.
func evaluateCondition(condition string, parameters Parameters) (bool, error) {
	expression, err := govaluate.NewEvaluableExpression(condition)
	if err != nil {
		return false, err
	}
	variables := make(map[string]any)
	for _, name := range expression.Vars() {
		if v, ok := parameters.Lookup(name); ok {
			variables[name] = conditionValue(v)
		}
	}
	result, err := expression.Evaluate(variables)
	if err != nil {
		return false, err
	}
	matched, ok := result.(bool)
	if !ok {
		return false, fault.New(fault.KindProfileComposition, fault.ReasonInvalidParameterCondition, "condition evaluated to %v, not a boolean", result)
	}
	return matched, nil
}

// conditionValue widens numbers to float64, the only numeric type
// expression literals have.
func conditionValue(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	}
	return v
}
