package scheduler

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"net"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hostbench/internal/component"
	"hostbench/internal/fault"
	"hostbench/internal/layout"
	"hostbench/internal/profile"
	"hostbench/internal/retry"
	"hostbench/internal/state"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// probe records what test components did.
type probe struct {
	mu         sync.Mutex
	events     []string
	running    atomic.Int32
	maxRunning atomic.Int32
}

func (p *probe) record(event string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *probe) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *probe) count(event string) int {
	n := 0
	for _, e := range p.Events() {
		if e == event {
			n++
		}
	}
	return n
}

type testOptions struct {
	Sleep             time.Duration
	IgnoreCancel      bool
	TransientFailures int
	Fail              bool
	Provides          string
}

type testComponent struct {
	probe *probe
	name  string
	opts  testOptions
	inits int
}

func (c *testComponent) Initialize(context.Context) error {
	c.inits++
	c.probe.record("init:" + c.name)
	return nil
}

func (c *testComponent) Execute(ctx context.Context) error {
	n := c.probe.running.Add(1)
	defer c.probe.running.Add(-1)
	for {
		current := c.probe.maxRunning.Load()
		if n <= current || c.probe.maxRunning.CompareAndSwap(current, n) {
			break
		}
	}
	if c.opts.Sleep > 0 {
		if c.opts.IgnoreCancel {
			time.Sleep(c.opts.Sleep)
		} else if err := sleep(ctx, c.opts.Sleep); err != nil {
			return err
		}
	}
	if c.opts.TransientFailures > 0 {
		c.opts.TransientFailures--
		return fault.New(fault.KindTransientExecution, "", "%s hiccup", c.name)
	}
	if c.opts.Fail {
		return fault.New(fault.KindInvalidInput, "", "%s failed", c.name)
	}
	c.probe.record(c.name)
	return nil
}

func (c *testComponent) State() map[string]any {
	if c.opts.Provides == "" {
		return nil
	}
	return map[string]any{"provides": c.opts.Provides}
}

func newRegistry(p *probe) *component.Registry {
	reg := component.NewRegistry()
	reg.Register("Test", func(rc *component.RunContext, d profile.ComponentDescriptor) (component.Component, error) {
		c := &testComponent{probe: p, name: d.ScenarioName()}
		if err := component.DecodeOptions(d.Parameters, &c.opts); err != nil {
			return nil, err
		}
		return c, nil
	})
	return reg
}

func testRunContext(t *testing.T, l *layout.EnvironmentLayout) *component.RunContext {
	t.Helper()
	store, err := state.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return component.NewRunContext(component.RunContextOptions{
		AgentID:    "test-agent",
		Layout:     l,
		Store:      store,
		Registerer: prometheus.NewRegistry(),
	})
}

func desc(scenario string, params profile.Parameters) profile.ComponentDescriptor {
	if params == nil {
		params = profile.Parameters{}
	}
	if _, ok := params.Lookup(ParameterRetryWait); !ok {
		params[ParameterRetryWait] = "1ms"
	}
	return profile.ComponentDescriptor{Type: "Test", Scenario: scenario, Parameters: params}
}

func newExecutor(t *testing.T, rc *component.RunContext, p *probe, prof *profile.ExecutionProfile, opts Options) *Executor {
	t.Helper()
	e, err := NewExecutor(rc, newRegistry(p), prof, opts)
	require.NoError(t, err)
	return e
}

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		text       string
		want       time.Duration
		discipline Discipline
		wantErr    bool
	}{
		{text: "90m", want: 90 * time.Minute},
		{text: "01:30:00", want: 90 * time.Minute},
		{text: "5", want: 5 * time.Minute},
		{text: "10,deterministic", want: 10 * time.Minute, discipline: DeterministicComponent},
		{text: "00:00:30, Deterministic*", want: 30 * time.Second, discipline: DeterministicIteration},
		{text: "10,eventually", wantErr: true},
		{text: "soon", wantErr: true},
		{text: "0", wantErr: true},
		{text: ",deterministic", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			d, discipline, err := ParseTimeout(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, fault.KindUsage, fault.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
			assert.Equal(t, tt.discipline, discipline)
		})
	}
}

func TestTimingExclusivity(t *testing.T) {
	tests := []struct {
		name             string
		timing           Timing
		dependenciesOnly bool
		wantErr          bool
	}{
		{name: "none", timing: Timing{}},
		{name: "iterations", timing: Timing{Iterations: 3}},
		{name: "timeout", timing: Timing{Timeout: time.Minute}},
		{name: "both", timing: Timing{Iterations: 3, Timeout: time.Minute}, wantErr: true},
		{name: "iterations with dependencies only", timing: Timing{Iterations: 2}, dependenciesOnly: true, wantErr: true},
		{name: "timeout with dependencies only", timing: Timing{Timeout: time.Minute}, dependenciesOnly: true, wantErr: true},
		{name: "dependencies only", dependenciesOnly: true},
		{name: "negative iterations", timing: Timing{Iterations: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.timing.Validate(tt.dependenciesOnly)
			if tt.wantErr {
				assert.Equal(t, fault.KindUsage, fault.KindOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("checked before execution", func(t *testing.T) {
		p := &probe{}
		prof := &profile.ExecutionProfile{Actions: []profile.ComponentDescriptor{desc("a", nil)}}
		_, err := NewExecutor(testRunContext(t, nil), newRegistry(p), prof, Options{Timing: Timing{Iterations: 1, Timeout: time.Second}})
		assert.Equal(t, fault.KindUsage, fault.KindOf(err))
		assert.Empty(t, p.Events())
	})
}

func TestCheckMetadata(t *testing.T) {
	tests := []struct {
		name     string
		timing   Timing
		metadata profile.Parameters
		platform string
		wantKind fault.Kind
	}{
		{name: "no metadata", timing: Timing{Iterations: 2}, platform: "linux-x64"},
		{name: "iterations unsupported", timing: Timing{Iterations: 2}, metadata: profile.Parameters{"SupportsIterations": false}, wantKind: fault.KindUsage},
		{name: "timeout allowed when iterations unsupported", timing: Timing{Timeout: time.Hour}, metadata: profile.Parameters{"SupportsIterations": "false"}},
		{name: "timeout shorter than required", timing: Timing{Timeout: time.Minute}, metadata: profile.Parameters{"MinimumRequiredExecutionTime": "00:10:00"}, wantKind: fault.KindUsage},
		{name: "timeout long enough", timing: Timing{Timeout: time.Hour}, metadata: profile.Parameters{"MinimumRequiredExecutionTime": "00:10:00"}},
		{name: "platform supported", metadata: profile.Parameters{"SupportedPlatforms": "linux-x64, linux-arm64"}, platform: "linux-arm64"},
		{name: "platform not supported", metadata: profile.Parameters{"SupportedPlatforms": "win-x64"}, platform: "linux-x64", wantKind: fault.KindNotSupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckMetadata(tt.timing, tt.metadata, tt.platform)
			if tt.wantKind == fault.KindUnknown {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantKind, fault.KindOf(err))
		})
	}
}

func TestRunOrdersDependenciesBeforeActions(t *testing.T) {
	p := &probe{}
	prof := &profile.ExecutionProfile{
		Dependencies: []profile.ComponentDescriptor{desc("dep1", nil), desc("dep2", nil)},
		Actions:      []profile.ComponentDescriptor{desc("w1", nil), desc("w2", nil)},
	}
	e := newExecutor(t, testRunContext(t, nil), p, prof, Options{Timing: Timing{Iterations: 2}})

	out := e.Run(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, StateCompleted, e.State())
	assert.Equal(t, 2, out.Iterations)
	assert.Equal(t, 6, out.Succeeded)
	assert.Equal(t, []string{
		"init:dep1", "dep1", "init:dep2", "dep2",
		"init:w1", "w1", "init:w2", "w2",
		"w1", "w2",
	}, p.Events())
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.Iterations))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.RunState.WithLabelValues(string(StateCompleted))))
}

func TestNoTimingRunsOneIteration(t *testing.T) {
	p := &probe{}
	prof := &profile.ExecutionProfile{Actions: []profile.ComponentDescriptor{desc("w1", nil)}}
	out := newExecutor(t, testRunContext(t, nil), p, prof, Options{}).Run(context.Background())
	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, 1, out.Iterations)
	assert.Equal(t, 1, p.count("w1"))
}

func TestDependencyFailureIsFatal(t *testing.T) {
	p := &probe{}
	prof := &profile.ExecutionProfile{
		Dependencies: []profile.ComponentDescriptor{desc("install", profile.Parameters{"Fail": true})},
		Actions:      []profile.ComponentDescriptor{desc("w1", nil)},
	}
	out := newExecutor(t, testRunContext(t, nil), p, prof, Options{}).Run(context.Background())
	assert.Equal(t, StateFailed, out.State)
	require.Error(t, out.Err)
	assert.Equal(t, fault.KindDependencyInstallation, fault.KindOf(out.Err))
	assert.Contains(t, out.Err.Error(), `"install" Execute`)
	assert.Zero(t, p.count("w1"))
}

func TestBestEffortFailuresAreTolerated(t *testing.T) {
	p := &probe{}
	failing := desc("flaky", profile.Parameters{"Fail": true})
	failing.BestEffort = true
	dep := desc("optional", profile.Parameters{"Fail": true})
	dep.BestEffort = true
	prof := &profile.ExecutionProfile{
		Dependencies: []profile.ComponentDescriptor{dep},
		Actions:      []profile.ComponentDescriptor{failing, desc("w1", nil)},
	}
	out := newExecutor(t, testRunContext(t, nil), p, prof, Options{}).Run(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, 2, out.Failures)
	assert.Equal(t, 1, p.count("w1"))
}

func TestFailFastOverridesBestEffortAssumption(t *testing.T) {
	p := &probe{}
	failing := desc("flaky", profile.Parameters{"Fail": true})
	failing.BestEffort = true
	prof := &profile.ExecutionProfile{Actions: []profile.ComponentDescriptor{failing, desc("w1", nil)}}
	out := newExecutor(t, testRunContext(t, nil), p, prof, Options{FailFast: true}).Run(context.Background())
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, fault.KindInvalidInput, fault.KindOf(out.Err))
	assert.Zero(t, p.count("w1"))
}

func TestActionFailureIsFatal(t *testing.T) {
	p := &probe{}
	prof := &profile.ExecutionProfile{Actions: []profile.ComponentDescriptor{desc("w1", profile.Parameters{"Fail": true}), desc("w2", nil)}}
	out := newExecutor(t, testRunContext(t, nil), p, prof, Options{Timing: Timing{Iterations: 3}}).Run(context.Background())
	assert.Equal(t, StateFailed, out.State)
	assert.Zero(t, out.Iterations)
	assert.Zero(t, p.count("w2"))
}

func TestTransientFailuresAreRetried(t *testing.T) {
	p := &probe{}
	prof := &profile.ExecutionProfile{Actions: []profile.ComponentDescriptor{
		desc("w1", profile.Parameters{"TransientFailures": 2, "RetryAttempts": 3}),
	}}
	e := newExecutor(t, testRunContext(t, nil), p, prof, Options{})
	out := e.Run(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, 1, p.count("w1"))
	assert.Equal(t, 1, p.count("init:w1"))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.Retries.WithLabelValues(profile.CategoryAction, "Test")))

	p = &probe{}
	prof.Actions[0].Parameters["RetryAttempts"] = 2
	out = newExecutor(t, testRunContext(t, nil), p, prof, Options{}).Run(context.Background())
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, fault.KindTransientExecution, fault.KindOf(out.Err))
}

func TestNonTransientFailuresAreNotRetried(t *testing.T) {
	p := &probe{}
	u := NewUnit(profile.CategoryAction, desc("w1", profile.Parameters{"Fail": true}), &testComponent{probe: p, name: "w1", opts: testOptions{Fail: true}})
	result, err := ExecuteWithPolicy(context.Background(), testRunContext(t, nil), u, retry.Policy{MaxAttempts: 5, Retryable: retry.IsTransient})
	require.Error(t, err)
	assert.Equal(t, 1, result.Attempts)
	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, OpExecute, fe.Op)
	assert.Equal(t, "w1", fe.Scenario)
}

func TestIdempotentSkip(t *testing.T) {
	rc := testRunContext(t, nil)
	p := &probe{}
	prof := &profile.ExecutionProfile{Dependencies: []profile.ComponentDescriptor{
		desc("install", profile.Parameters{"StateKey": "InstallTools", "Provides": "tools-1.0"}),
	}}

	out := newExecutor(t, rc, p, prof, Options{DependenciesOnly: true}).Run(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, 1, p.count("install"))
	item, err := rc.Store().Get(context.Background(), "installtools")
	require.NoError(t, err)
	assert.True(t, item.Completed())
	assert.Equal(t, "tools-1.0", item.Definition["provides"])

	second := &probe{}
	e := newExecutor(t, rc, second, prof, Options{DependenciesOnly: true})
	out = e.Run(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, 1, out.Skipped)
	assert.Empty(t, second.Events())
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Skips.WithLabelValues(profile.CategoryDependency, "state")))
}

func TestPeerStateSkip(t *testing.T) {
	peerStore, err := state.NewFileStore(t.TempDir())
	require.NoError(t, err)
	server := httptest.NewServer(state.NewServer(peerStore, nil))
	defer server.Close()
	_, err = peerStore.Put(context.Background(), "dataset", state.NewItem("dataset", map[string]any{state.StatusField: state.StatusCompleted}))
	require.NoError(t, err)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	host, portText, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)
	l, err := layout.New([]layout.ClientInstance{{Name: "server-1", IPAddress: host, Port: port, Role: layout.RoleServer}})
	require.NoError(t, err)

	rc := testRunContext(t, l)
	p := &probe{}
	unit := NewUnit(profile.CategoryDependency, desc("load", profile.Parameters{"StateKey": "dataset", "StateRole": "Server"}), &testComponent{probe: p, name: "load"})
	result, err := ExecuteWithPolicy(context.Background(), rc, unit, retry.None)
	require.NoError(t, err)
	assert.Equal(t, component.StatusSkipped, result.Status)
	assert.Equal(t, "peer server-1", result.Reason)
	assert.Empty(t, p.Events())

	unit = NewUnit(profile.CategoryDependency, desc("other", profile.Parameters{"StateKey": "other", "StateRole": "Server"}), &testComponent{probe: p, name: "other"})
	result, err = ExecuteWithPolicy(context.Background(), rc, unit, retry.None)
	require.NoError(t, err)
	assert.Equal(t, component.StatusCompleted, result.Status)

	unit = NewUnit(profile.CategoryDependency, desc("x", profile.Parameters{"StateKey": "x", "StateRole": "Client"}), &testComponent{probe: p, name: "x"})
	_, err = ExecuteWithPolicy(context.Background(), rc, unit, retry.None)
	assert.Equal(t, fault.KindInvalidInput, fault.KindOf(err))
}

func TestImmediateTimeoutCancelsInFlightAction(t *testing.T) {
	p := &probe{}
	prof := &profile.ExecutionProfile{Actions: []profile.ComponentDescriptor{desc("long", profile.Parameters{"Sleep": "5s"})}}
	start := time.Now()
	out := newExecutor(t, testRunContext(t, nil), p, prof, Options{Timing: Timing{Timeout: 100 * time.Millisecond}}).Run(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, StateCompleted, out.State)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Zero(t, p.count("long"))
}

func TestDeterministicTimeoutLetsComponentFinish(t *testing.T) {
	p := &probe{}
	prof := &profile.ExecutionProfile{Actions: []profile.ComponentDescriptor{
		desc("first", profile.Parameters{"Sleep": "300ms"}),
		desc("second", nil),
	}}
	out := newExecutor(t, testRunContext(t, nil), p, prof, Options{Timing: Timing{Timeout: 100 * time.Millisecond, Discipline: DeterministicComponent}}).Run(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, 1, p.count("first"))
	assert.Zero(t, p.count("second"))
	assert.Zero(t, out.Iterations)
}

func TestDeterministicIterationTimeoutFinishesIteration(t *testing.T) {
	p := &probe{}
	prof := &profile.ExecutionProfile{Actions: []profile.ComponentDescriptor{
		desc("first", profile.Parameters{"Sleep": "150ms"}),
		desc("second", profile.Parameters{"Sleep": "50ms"}),
	}}
	out := newExecutor(t, testRunContext(t, nil), p, prof, Options{Timing: Timing{Timeout: 100 * time.Millisecond, Discipline: DeterministicIteration}}).Run(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, 1, out.Iterations)
	assert.Equal(t, 1, p.count("first"))
	assert.Equal(t, 1, p.count("second"))
}

func TestMinimumExecutionInterval(t *testing.T) {
	p := &probe{}
	prof := &profile.ExecutionProfile{
		MinimumExecutionInterval: "150ms",
		Actions:                  []profile.ComponentDescriptor{desc("w1", nil)},
	}
	start := time.Now()
	out := newExecutor(t, testRunContext(t, nil), p, prof, Options{Timing: Timing{Iterations: 3}}).Run(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, 3, out.Iterations)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestMonitorsRunDuringActionsAndStop(t *testing.T) {
	p := &probe{}
	prof := &profile.ExecutionProfile{
		Actions:  []profile.ComponentDescriptor{desc("w1", profile.Parameters{"Sleep": "200ms"})},
		Monitors: []profile.ComponentDescriptor{desc("mon", profile.Parameters{"MonitorFrequency": "20ms"})},
	}
	out := newExecutor(t, testRunContext(t, nil), p, prof, Options{ExitWait: time.Second}).Run(context.Background())
	require.NoError(t, out.Err)
	samples := p.count("mon")
	assert.GreaterOrEqual(t, samples, 2)
	assert.Equal(t, 1, p.count("init:mon"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, samples, p.count("mon"))
}

func TestMonitorFailuresAreNotFatal(t *testing.T) {
	p := &probe{}
	prof := &profile.ExecutionProfile{
		Actions:  []profile.ComponentDescriptor{desc("w1", profile.Parameters{"Sleep": "100ms"})},
		Monitors: []profile.ComponentDescriptor{desc("mon", profile.Parameters{"Fail": true, "MonitorFrequency": "10ms"})},
	}
	out := newExecutor(t, testRunContext(t, nil), p, prof, Options{}).Run(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, 1, p.count("w1"))
}

func TestMonitorsWithoutActionsRunUntilTimeout(t *testing.T) {
	p := &probe{}
	prof := &profile.ExecutionProfile{
		Monitors: []profile.ComponentDescriptor{desc("mon", profile.Parameters{"MonitorFrequency": "20ms", "MonitorWarmupPeriod": "10ms"})},
	}
	start := time.Now()
	out := newExecutor(t, testRunContext(t, nil), p, prof, Options{Timing: Timing{Timeout: 150 * time.Millisecond}}).Run(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, StateCompleted, out.State)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.GreaterOrEqual(t, p.count("mon"), 2)
}

func TestDependenciesOnlySkipsActionsAndMonitors(t *testing.T) {
	p := &probe{}
	prof := &profile.ExecutionProfile{
		Dependencies: []profile.ComponentDescriptor{desc("dep", nil)},
		Actions:      []profile.ComponentDescriptor{desc("w1", nil)},
		Monitors:     []profile.ComponentDescriptor{desc("mon", nil)},
	}
	out := newExecutor(t, testRunContext(t, nil), p, prof, Options{DependenciesOnly: true}).Run(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, []string{"init:dep", "dep"}, p.Events())
}

func TestParallelExecution(t *testing.T) {
	children := []profile.ComponentDescriptor{
		desc("c1", profile.Parameters{"Sleep": "100ms"}),
		desc("c2", profile.Parameters{"Sleep": "100ms"}),
		desc("c3", profile.Parameters{"Sleep": "100ms"}),
		desc("c4", profile.Parameters{"Sleep": "100ms"}),
	}

	t.Run("bounded by MaxParallelism", func(t *testing.T) {
		p := &probe{}
		prof := &profile.ExecutionProfile{Actions: []profile.ComponentDescriptor{{
			Type:       component.ParallelExecutionType,
			Parameters: profile.Parameters{"MaxParallelism": 2},
			Components: children,
		}}}
		out := newExecutor(t, testRunContext(t, nil), p, prof, Options{}).Run(context.Background())
		require.NoError(t, out.Err)
		assert.Equal(t, 4, out.Succeeded)
		assert.LessOrEqual(t, p.maxRunning.Load(), int32(2))
	})

	t.Run("all children concurrently by default", func(t *testing.T) {
		p := &probe{}
		prof := &profile.ExecutionProfile{Actions: []profile.ComponentDescriptor{{Type: component.ParallelExecutionType, Components: children}}}
		start := time.Now()
		out := newExecutor(t, testRunContext(t, nil), p, prof, Options{}).Run(context.Background())
		require.NoError(t, out.Err)
		assert.Less(t, time.Since(start), 350*time.Millisecond)
		assert.Greater(t, p.maxRunning.Load(), int32(1))
	})

	t.Run("child failure fails the group", func(t *testing.T) {
		p := &probe{}
		failing := append([]profile.ComponentDescriptor{desc("bad", profile.Parameters{"Fail": true})}, children...)
		prof := &profile.ExecutionProfile{Actions: []profile.ComponentDescriptor{{Type: component.ParallelExecutionType, Components: failing}}}
		out := newExecutor(t, testRunContext(t, nil), p, prof, Options{}).Run(context.Background())
		assert.Equal(t, StateFailed, out.State)
		assert.Equal(t, fault.KindInvalidInput, fault.KindOf(out.Err))
	})

	t.Run("best-effort group failure is tolerated", func(t *testing.T) {
		group := profile.ComponentDescriptor{
			Type:       component.ParallelExecutionType,
			BestEffort: true,
			Components: []profile.ComponentDescriptor{desc("bad", profile.Parameters{"Fail": true}), desc("c1", nil)},
		}
		prof := &profile.ExecutionProfile{Actions: []profile.ComponentDescriptor{group, desc("after", nil)}}

		p := &probe{}
		out := newExecutor(t, testRunContext(t, nil), p, prof, Options{}).Run(context.Background())
		require.NoError(t, out.Err)
		assert.Equal(t, StateCompleted, out.State)
		assert.Equal(t, 1, out.Failures)
		assert.Equal(t, 1, p.count("after"))

		p = &probe{}
		out = newExecutor(t, testRunContext(t, nil), p, prof, Options{FailFast: true}).Run(context.Background())
		assert.Equal(t, StateFailed, out.State)
		assert.Zero(t, p.count("after"))
	})

	t.Run("empty group is invalid", func(t *testing.T) {
		prof := &profile.ExecutionProfile{Actions: []profile.ComponentDescriptor{{Type: component.ParallelExecutionType}}}
		out := newExecutor(t, testRunContext(t, nil), &probe{}, prof, Options{}).Run(context.Background())
		assert.Equal(t, fault.KindInvalidInput, fault.KindOf(out.Err))
	})
}

func TestCancellationYieldsCancelledState(t *testing.T) {
	p := &probe{}
	prof := &profile.ExecutionProfile{
		Actions:  []profile.ComponentDescriptor{desc("long", profile.Parameters{"Sleep": "10s"})},
		Monitors: []profile.ComponentDescriptor{desc("mon", profile.Parameters{"MonitorFrequency": "10ms"})},
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	out := newExecutor(t, testRunContext(t, nil), p, prof, Options{Timing: Timing{Iterations: 5}}).Run(ctx)
	assert.Equal(t, StateCancelled, out.State)
	assert.NoError(t, out.Err)
	assert.Zero(t, p.count("long"))
}

func TestObserverReceivesTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	observer := func(category, scenario string, status ComponentStatus) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, category+"/"+scenario+"/"+string(status))
	}
	prof := &profile.ExecutionProfile{
		Dependencies: []profile.ComponentDescriptor{desc("dep", nil)},
		Actions:      []profile.ComponentDescriptor{desc("bad", profile.Parameters{"Fail": true})},
	}
	out := newExecutor(t, testRunContext(t, nil), &probe{}, prof, Options{Observer: observer}).Run(context.Background())
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, []string{
		"Dependency/dep/Running", "Dependency/dep/Succeeded",
		"Action/bad/Running", "Action/bad/Failed",
	}, seen)
}

func TestUnknownComponentTypeIsRejectedUpFront(t *testing.T) {
	prof := &profile.ExecutionProfile{Actions: []profile.ComponentDescriptor{{Type: "Nope"}}}
	_, err := NewExecutor(testRunContext(t, nil), newRegistry(&probe{}), prof, Options{})
	assert.Equal(t, fault.KindProfileComposition, fault.KindOf(err))
}

func TestInvalidStateKeyIsRejectedUpFront(t *testing.T) {
	prof := &profile.ExecutionProfile{Dependencies: []profile.ComponentDescriptor{
		{Type: component.ParallelExecutionType, Components: []profile.ComponentDescriptor{
			desc("install", profile.Parameters{"StateKey": "Install Redis"}),
		}},
	}}
	_, err := NewExecutor(testRunContext(t, nil), newRegistry(&probe{}), prof, Options{})
	require.Error(t, err)
	assert.Equal(t, fault.KindProfileComposition, fault.KindOf(err))
	assert.Equal(t, fault.ReasonInvalidStateKey, fault.ReasonOf(err))
	assert.ErrorIs(t, err, state.ErrInvalidKey)
}

func TestPolicyFor(t *testing.T) {
	u := NewUnit(profile.CategoryAction, profile.ComponentDescriptor{Type: "Test", Parameters: profile.Parameters{"RetryAttempts": "5", "RetryWait": "00:00:02"}}, &testComponent{})
	policy, err := PolicyFor(u)
	require.NoError(t, err)
	assert.Equal(t, 5, policy.MaxAttempts)
	assert.Equal(t, 2*time.Second, policy.Backoff(3))

	u.Descriptor.Parameters = profile.Parameters{}
	policy, err = PolicyFor(u)
	require.NoError(t, err)
	assert.Equal(t, retry.Default.MaxAttempts, policy.MaxAttempts)

	u.Descriptor.Parameters = profile.Parameters{"RetryAttempts": 0}
	_, err = PolicyFor(u)
	assert.Equal(t, fault.KindInvalidInput, fault.KindOf(err))
}
