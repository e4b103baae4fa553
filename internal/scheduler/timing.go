package scheduler

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"hostbench/internal/fault"
	"hostbench/internal/profile"
	"hostbench/internal/util"
)

// Discipline controls how a timeout interacts with running actions.
type Discipline int

const (
	// Immediate cancels in-flight actions when the timeout expires.
	Immediate Discipline = iota
	// DeterministicComponent lets the running action finish and checks the
	// deadline between actions.
	DeterministicComponent
	// DeterministicIteration checks the deadline only after a full pass over
	// the action list.
	DeterministicIteration
)

func (d Discipline) String() string {
	switch d {
	case DeterministicComponent:
		return "deterministic"
	case DeterministicIteration:
		return "deterministic*"
	}
	return "immediate"
}

// Timing is the run's iteration or timeout directive. At most one of
// Iterations and Timeout is set.
type Timing struct {
	Iterations int
	Timeout    time.Duration
	Discipline Discipline
}

// ParseTimeout parses timeout text: a Go duration ("90m"), a timespan
// ("01:30:00") or integer minutes, optionally followed by ",deterministic"
// or ",deterministic*".
func ParseTimeout(text string) (time.Duration, Discipline, error) {
	value, modifier, _ := strings.Cut(strings.TrimSpace(text), ",")
	value = strings.TrimSpace(value)
	discipline := Immediate
	switch strings.ToLower(strings.TrimSpace(modifier)) {
	case "":
	case "deterministic":
		discipline = DeterministicComponent
	case "deterministic*":
		discipline = DeterministicIteration
	default:
		return 0, Immediate, fault.New(fault.KindUsage, fault.ReasonConflictingDirectives, "invalid timeout modifier %q, expected deterministic or deterministic*", modifier)
	}
	if value == "" {
		return 0, Immediate, fault.New(fault.KindUsage, "", "timeout value is empty")
	}
	var d time.Duration
	if minutes, err := strconv.Atoi(value); err == nil {
		d = time.Duration(minutes) * time.Minute
	} else if d, err = util.ParseDuration(value); err != nil {
		return 0, Immediate, fault.Wrap(fault.KindUsage, "", err, "invalid timeout %q", text)
	}
	if d <= 0 {
		return 0, Immediate, fault.New(fault.KindUsage, "", "timeout must be greater than zero")
	}
	return d, discipline, nil
}

// Validate checks the directive on its own and against dependencies-only mode.
func (t Timing) Validate(dependenciesOnly bool) error {
	if t.Iterations < 0 {
		return fault.New(fault.KindUsage, "", "iterations must be greater than zero")
	}
	if t.Timeout < 0 {
		return fault.New(fault.KindUsage, "", "timeout must be greater than zero")
	}
	if t.Iterations > 0 && t.Timeout > 0 {
		return fault.New(fault.KindUsage, fault.ReasonConflictingDirectives, "iterations and timeout cannot be combined")
	}
	if dependenciesOnly && (t.Iterations > 0 || t.Timeout > 0) {
		return fault.New(fault.KindUsage, fault.ReasonConflictingDirectives, "iterations and timeout cannot be combined with dependencies-only mode")
	}
	return nil
}

// String renders the directive the way it is logged.
func (t Timing) String() string {
	switch {
	case t.Iterations > 0:
		return fmt.Sprintf("iterations=%d", t.Iterations)
	case t.Timeout > 0:
		return fmt.Sprintf("timeout=%s,%s", t.Timeout, t.Discipline)
	}
	return "iterations=1"
}

// CheckMetadata validates the directive and host against the profile metadata:
// SupportsIterations, MinimumRequiredExecutionTime and SupportedPlatforms.
func CheckMetadata(t Timing, metadata profile.Parameters, platform string) error {
	supportsIterations, ok, err := metadata.GetBool(profile.MetadataSupportsIterations)
	if err != nil {
		return fault.Wrap(fault.KindUsage, "", err, "invalid profile metadata")
	}
	if ok && !supportsIterations && t.Iterations > 0 {
		return fault.New(fault.KindUsage, fault.ReasonConflictingDirectives, "the profile does not support iterations, use a timeout instead")
	}
	minimum, ok, err := metadata.GetDuration(profile.MetadataMinimumRequiredExecutionTime)
	if err != nil {
		return fault.Wrap(fault.KindUsage, "", err, "invalid profile metadata")
	}
	if ok && t.Timeout > 0 && minimum > t.Timeout {
		return fault.New(fault.KindUsage, fault.ReasonConflictingDirectives,
			"the profile requires at least %s of execution time, timeout is %s", minimum, t.Timeout)
	}
	if supported, ok := metadata.GetString(profile.MetadataSupportedPlatforms); ok && strings.TrimSpace(supported) != "" {
		var platforms []string
		for p := range strings.SplitSeq(supported, ",") {
			platforms = append(platforms, strings.ToLower(strings.TrimSpace(p)))
		}
		if !slices.Contains(platforms, strings.ToLower(platform)) {
			return fault.New(fault.KindNotSupported, fault.ReasonPlatformNotSupported,
				"the profile supports %s, this host is %s", supported, platform)
		}
	}
	return nil
}
