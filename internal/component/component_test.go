package component

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"errors"
	"testing"
	"time"

	"hostbench/internal/fault"
	"hostbench/internal/profile"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopComponent struct{}

func (nopComponent) Initialize(context.Context) error { return nil }
func (nopComponent) Execute(context.Context) error    { return nil }

func nopFactory(*RunContext, profile.ComponentDescriptor) (Component, error) {
	return nopComponent{}, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Wait", nopFactory)
	reg.Register("ExecuteCommand", nopFactory)

	assert.True(t, reg.Has("wait"))
	assert.False(t, reg.Has("Sleep"))
	assert.Equal(t, []string{"ExecuteCommand", "Wait"}, reg.Types())

	rc := NewRunContext(RunContextOptions{Registerer: prometheus.NewRegistry()})
	c, err := reg.Create(rc, profile.ComponentDescriptor{Type: "WAIT"})
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = reg.Create(rc, profile.ComponentDescriptor{Type: "Sleep"})
	require.Error(t, err)
	assert.Equal(t, fault.KindProfileComposition, fault.KindOf(err))
	assert.Equal(t, fault.ReasonUnknownComponentType, fault.ReasonOf(err))
}

func TestRegistryClassifiesFactoryErrors(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Broken", func(*RunContext, profile.ComponentDescriptor) (Component, error) {
		return nil, errors.New("bad parameter")
	})
	reg.Register("Unsupported", func(*RunContext, profile.ComponentDescriptor) (Component, error) {
		return nil, fault.New(fault.KindNotSupported, fault.ReasonPlatformNotSupported, "not here")
	})
	rc := NewRunContext(RunContextOptions{Registerer: prometheus.NewRegistry()})

	_, err := reg.Create(rc, profile.ComponentDescriptor{Type: "Broken", Scenario: "b"})
	assert.Equal(t, fault.KindInvalidInput, fault.KindOf(err))
	_, err = reg.Create(rc, profile.ComponentDescriptor{Type: "Unsupported"})
	assert.Equal(t, fault.KindNotSupported, fault.KindOf(err))
}

func TestRegistryValidate(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Wait", nopFactory)

	p := &profile.ExecutionProfile{
		Actions: []profile.ComponentDescriptor{
			{Type: ParallelExecutionType, Components: []profile.ComponentDescriptor{{Type: "Wait"}, {Type: "wait"}}},
		},
		Monitors: []profile.ComponentDescriptor{{Type: "Wait"}},
	}
	require.NoError(t, reg.Validate(p))

	p.Dependencies = []profile.ComponentDescriptor{{Type: "Installer", Scenario: "setup"}}
	err := reg.Validate(p)
	require.Error(t, err)
	assert.Equal(t, fault.ReasonUnknownComponentType, fault.ReasonOf(err))
	assert.Contains(t, err.Error(), "setup")

	p.Dependencies = nil
	p.Actions[0].Components = append(p.Actions[0].Components, profile.ComponentDescriptor{Type: "Nested"})
	assert.Error(t, reg.Validate(p))
}

func TestRunContextDefaultsAndCopies(t *testing.T) {
	params := map[string]any{"Duration": "00:00:01"}
	env := map[string]string{"B": "2", "A": "1"}
	rc := NewRunContext(RunContextOptions{
		AgentID:     "agent-7",
		Parameters:  params,
		Environment: env,
		Registerer:  prometheus.NewRegistry(),
	})

	assert.NotEmpty(t, rc.ExperimentID())
	assert.Equal(t, "agent-7", rc.AgentID())
	assert.NotEmpty(t, rc.Platform())
	assert.NotNil(t, rc.Target())
	assert.Nil(t, rc.Sync())
	assert.Equal(t, []string{"A=1", "B=2"}, rc.EnvironmentList())

	got := rc.Parameters()
	got.Set("Duration", "changed")
	assert.Equal(t, "00:00:01", rc.Parameters()["Duration"])
	params["Extra"] = true
	assert.False(t, rc.Parameters().Has("Extra"))
	rc.Environment()["C"] = "3"
	assert.Len(t, rc.Environment(), 2)

	other := NewRunContext(RunContextOptions{Registerer: prometheus.NewRegistry()})
	assert.NotEqual(t, rc.ExperimentID(), other.ExperimentID())
}

type waitOptions struct {
	Duration  time.Duration
	Count     int
	Enabled   bool
	Label     string
	Retryable []int
}

func TestDecodeOptions(t *testing.T) {
	tests := []struct {
		name   string
		params profile.Parameters
		want   waitOptions
	}{
		{
			name:   "timespan and weak scalars",
			params: profile.Parameters{"duration": "00:01:30", "COUNT": "4", "Enabled": "true", "Label": 12},
			want:   waitOptions{Duration: 90 * time.Second, Count: 4, Enabled: true, Label: "12"},
		},
		{
			name:   "go duration",
			params: profile.Parameters{"Duration": "250ms"},
			want:   waitOptions{Duration: 250 * time.Millisecond},
		},
		{
			name:   "integer seconds",
			params: profile.Parameters{"Duration": 5},
			want:   waitOptions{Duration: 5 * time.Second},
		},
		{
			name:   "slice",
			params: profile.Parameters{"Retryable": []any{1, 137}},
			want:   waitOptions{Retryable: []int{1, 137}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got waitOptions
			require.NoError(t, DecodeOptions(tt.params, &got))
			assert.Equal(t, tt.want, got)
		})
	}

	var opts waitOptions
	err := DecodeOptions(profile.Parameters{"Duration": "soon"}, &opts)
	assert.Equal(t, fault.KindInvalidInput, fault.KindOf(err))
}

func TestRequireParameters(t *testing.T) {
	params := profile.Parameters{"Command": "true", "Empty": ""}
	assert.NoError(t, RequireParameters(params, "command"))
	assert.Equal(t, fault.KindInvalidInput, fault.KindOf(RequireParameters(params, "Empty")))
	assert.Error(t, RequireParameters(params, "Missing"))
}
