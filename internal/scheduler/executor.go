// Package scheduler runs a resolved execution profile: dependencies in order,
// then the action list under the run's timing directive while monitors sample
// the host in the background.
package scheduler

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hostbench/internal/component"
	"hostbench/internal/fault"
	"hostbench/internal/profile"
	"hostbench/internal/state"

	"github.com/alitto/pond"
)

const (
	DefaultExitWait         = 2 * time.Minute
	DefaultMonitorFrequency = time.Minute
)

// RunState is the state of a run.
type RunState string

const (
	StateNotStarted          RunState = "NotStarted"
	StateRunningDependencies RunState = "RunningDependencies"
	StateRunningActions      RunState = "RunningActions"
	StateCompleted           RunState = "Completed"
	StateFailed              RunState = "Failed"
	StateCancelled           RunState = "Cancelled"
)

var allRunStates = []RunState{StateNotStarted, StateRunningDependencies, StateRunningActions, StateCompleted, StateFailed, StateCancelled}

// ComponentStatus is reported to the observer as components progress.
type ComponentStatus string

const (
	ComponentRunning   ComponentStatus = "Running"
	ComponentSucceeded ComponentStatus = "Succeeded"
	ComponentSkipped   ComponentStatus = "Skipped"
	ComponentFailed    ComponentStatus = "Failed"
)

// Observer receives component transitions. It is called from monitor and
// parallel goroutines and must be safe for concurrent use.
type Observer func(category, scenario string, status ComponentStatus)

// Options configure an Executor.
type Options struct {
	Timing           Timing
	DependenciesOnly bool
	// FailFast makes every component failure fatal, BestEffort included.
	FailFast bool
	// ExitWait bounds the wait for monitors to stop after the actions finish.
	ExitWait time.Duration
	Observer Observer
}

// Outcome summarizes a finished run. Err is set only for StateFailed.
type Outcome struct {
	State      RunState
	Err        error
	Iterations int
	Succeeded  int
	Skipped    int
	// Failures counts tolerated best-effort failures.
	Failures int
	Duration time.Duration
}

// node is a unit or a ParallelExecution group of nodes.
type node struct {
	category    string
	descriptor  profile.ComponentDescriptor
	unit        *Unit
	children    []*node
	parallelism int
	warmup      time.Duration
	frequency   time.Duration
}

// Executor runs one profile once.
type Executor struct {
	rc       *component.RunContext
	registry *component.Registry
	profile  *profile.ExecutionProfile
	opts     Options
	metrics  *Metrics
	interval time.Duration

	mu    sync.Mutex
	state RunState

	succeeded atomic.Int64
	skipped   atomic.Int64
	failures  atomic.Int64
}

// NewExecutor validates the timing directive and the component types of p.
func NewExecutor(rc *component.RunContext, registry *component.Registry, p *profile.ExecutionProfile, opts Options) (*Executor, error) {
	if err := opts.Timing.Validate(opts.DependenciesOnly); err != nil {
		return nil, err
	}
	if err := registry.Validate(p); err != nil {
		return nil, err
	}
	if err := validateStateKeys(p); err != nil {
		return nil, err
	}
	interval, err := p.MinimumInterval()
	if err != nil {
		return nil, err
	}
	if opts.ExitWait <= 0 {
		opts.ExitWait = DefaultExitWait
	}
	e := &Executor{
		rc:       rc,
		registry: registry,
		profile:  p,
		opts:     opts,
		metrics:  NewMetrics(rc.Registerer()),
		interval: interval,
		state:    StateNotStarted,
	}
	e.metrics.setState(StateNotStarted)
	return e, nil
}

// validateStateKeys rejects StateKey parameters that cannot name a state item.
func validateStateKeys(p *profile.ExecutionProfile) error {
	return p.Walk(func(category string, d *profile.ComponentDescriptor) error {
		key, ok := d.Parameters.GetString(ParameterStateKey)
		if !ok || key == "" {
			return nil
		}
		if err := state.ValidateKey(key); err != nil {
			return fault.Wrap(fault.KindProfileComposition, fault.ReasonInvalidStateKey, err, "%s %s has an invalid %s", category, d.ScenarioName(), ParameterStateKey)
		}
		return nil
	})
}

// State returns the current run state.
func (e *Executor) State() RunState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Executor) setState(s RunState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.metrics.setState(s)
	e.rc.Logger().Debug("run state changed", slog.String("state", string(s)))
}

func (e *Executor) observe(category, scenario string, status ComponentStatus) {
	if e.opts.Observer != nil {
		e.opts.Observer(category, scenario, status)
	}
}

// Run executes the profile. Cancelling ctx stops the run cooperatively and
// yields StateCancelled with a nil error.
func (e *Executor) Run(ctx context.Context) Outcome {
	start := time.Now()
	logger := e.rc.Logger()
	logger.Info("run started", slog.String("timing", e.opts.Timing.String()), slog.Bool("dependenciesOnly", e.opts.DependenciesOnly),
		slog.Int("dependencies", len(e.profile.Dependencies)), slog.Int("actions", len(e.profile.Actions)), slog.Int("monitors", len(e.profile.Monitors)))

	out := Outcome{}
	finish := func(s RunState, err error) Outcome {
		if s != StateFailed {
			err = nil
		}
		e.setState(s)
		out.State = s
		out.Err = err
		out.Succeeded = int(e.succeeded.Load())
		out.Skipped = int(e.skipped.Load())
		out.Failures = int(e.failures.Load())
		out.Duration = time.Since(start)
		attrs := []any{slog.String("state", string(s)), slog.Duration("duration", out.Duration), slog.Int("iterations", out.Iterations)}
		if err != nil {
			logger.Error("run finished", append(attrs, slog.String("error", err.Error()))...)
		} else {
			logger.Info("run finished", attrs...)
		}
		return out
	}
	interrupted := func(err error) Outcome {
		if ctx.Err() != nil {
			return finish(StateCancelled, nil)
		}
		return finish(StateFailed, err)
	}

	dependencies, err := e.instantiate(profile.CategoryDependency, e.profile.Dependencies)
	if err != nil {
		return finish(StateFailed, err)
	}
	var actions, monitors []*node
	if !e.opts.DependenciesOnly {
		if actions, err = e.instantiate(profile.CategoryAction, e.profile.Actions); err != nil {
			return finish(StateFailed, err)
		}
		if monitors, err = e.instantiate(profile.CategoryMonitor, e.profile.Monitors); err != nil {
			return finish(StateFailed, err)
		}
	}

	e.setState(StateRunningDependencies)
	for _, n := range dependencies {
		if ctx.Err() != nil {
			return finish(StateCancelled, nil)
		}
		if err := e.runNode(ctx, n); err != nil {
			return interrupted(fault.Reclassify(err, fault.KindDependencyInstallation))
		}
	}
	if e.opts.DependenciesOnly {
		return finish(StateCompleted, nil)
	}
	if ctx.Err() != nil {
		return finish(StateCancelled, nil)
	}

	e.setState(StateRunningActions)
	monitorCtx, stopMonitors := context.WithCancel(ctx)
	defer stopMonitors()
	monitorsDone := e.startMonitors(monitorCtx, monitors)

	iterations, err := e.runActions(ctx, actions, len(monitors) > 0)
	out.Iterations = iterations
	stopMonitors()
	e.awaitMonitors(monitorsDone)
	if err != nil {
		return interrupted(err)
	}
	if ctx.Err() != nil {
		return finish(StateCancelled, nil)
	}
	return finish(StateCompleted, nil)
}

// runActions runs the action list under the timing directive and returns the
// number of completed iterations. A timeout expiry is not an error.
func (e *Executor) runActions(ctx context.Context, actions []*node, hasMonitors bool) (int, error) {
	timing := e.opts.Timing
	var deadline time.Time
	actionsCtx := ctx
	if timing.Timeout > 0 {
		deadline = time.Now().Add(timing.Timeout)
		if timing.Discipline == Immediate {
			var cancel context.CancelFunc
			actionsCtx, cancel = context.WithDeadline(ctx, deadline)
			defer cancel()
		}
	}
	expired := func() bool {
		return !deadline.IsZero() && !time.Now().Before(deadline)
	}

	if len(actions) == 0 {
		if hasMonitors {
			if deadline.IsZero() {
				<-ctx.Done()
			} else {
				_ = sleep(ctx, time.Until(deadline))
			}
		}
		return 0, nil
	}

	maxIterations := timing.Iterations
	if maxIterations == 0 && timing.Timeout == 0 {
		maxIterations = 1
	}
	completed := 0
	for maxIterations == 0 || completed < maxIterations {
		if ctx.Err() != nil || expired() {
			return completed, nil
		}
		iterationStart := time.Now()
		for _, n := range actions {
			if err := e.runNode(actionsCtx, n); err != nil {
				if ctx.Err() == nil && actionsCtx.Err() != nil {
					e.rc.Logger().Info("timeout reached, stopping actions")
					return completed, nil
				}
				return completed, err
			}
			if ctx.Err() != nil {
				return completed, nil
			}
			if timing.Discipline != DeterministicIteration && expired() {
				e.rc.Logger().Info("timeout reached, stopping actions", slog.String("discipline", timing.Discipline.String()))
				return completed, nil
			}
		}
		completed++
		e.metrics.Iterations.Inc()
		e.rc.Logger().Debug("iteration completed", slog.Int("iteration", completed), slog.Duration("duration", time.Since(iterationStart)))
		if maxIterations > 0 && completed >= maxIterations {
			break
		}
		if remaining := e.interval - time.Since(iterationStart); remaining > 0 && !expired() {
			if !deadline.IsZero() {
				remaining = min(remaining, time.Until(deadline))
			}
			e.rc.Logger().Debug("waiting for minimum execution interval", slog.Duration("wait", remaining))
			if err := sleep(actionsCtx, remaining); err != nil {
				return completed, nil
			}
		}
	}
	return completed, nil
}

// instantiate creates the components for descriptors, recursing into
// ParallelExecution groups.
func (e *Executor) instantiate(category string, descriptors []profile.ComponentDescriptor) ([]*node, error) {
	var nodes []*node
	for _, d := range descriptors {
		n := &node{category: category, descriptor: d}
		if strings.EqualFold(d.Type, component.ParallelExecutionType) {
			if len(d.Components) == 0 {
				return nil, fault.New(fault.KindInvalidInput, "", "%s %s has no components", component.ParallelExecutionType, d.ScenarioName())
			}
			children, err := e.instantiate(category, d.Components)
			if err != nil {
				return nil, err
			}
			n.children = children
			n.parallelism = len(children)
			limit, ok, err := d.Parameters.GetInt(ParameterMaxParallelism)
			if err != nil {
				return nil, fault.Wrap(fault.KindInvalidInput, "", err, "invalid %s", ParameterMaxParallelism)
			}
			if ok && limit > 0 && limit < n.parallelism {
				n.parallelism = limit
			}
		} else {
			c, err := e.registry.Create(e.rc, d)
			if err != nil {
				return nil, fault.WithComponent(err, category, d.ScenarioName(), "Create")
			}
			n.unit = NewUnit(category, d, c)
			if key := n.unit.StateKey(); key != "" {
				if err := state.ValidateKey(key); err != nil {
					return nil, fault.WithComponent(fault.Wrap(fault.KindProfileComposition, fault.ReasonInvalidStateKey, err, "invalid state key"),
						category, d.ScenarioName(), "Create")
				}
			}
		}
		if category == profile.CategoryMonitor {
			if err := n.monitorSchedule(); err != nil {
				return nil, fault.WithComponent(err, category, d.ScenarioName(), "Create")
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (n *node) monitorSchedule() error {
	n.frequency = DefaultMonitorFrequency
	if d, ok, err := n.descriptor.Parameters.GetDuration(ParameterMonitorFrequency); err != nil {
		return fault.Wrap(fault.KindInvalidInput, "", err, "invalid monitor frequency")
	} else if ok && d > 0 {
		n.frequency = d
	}
	if d, ok, err := n.descriptor.Parameters.GetDuration(ParameterMonitorWarmupPeriod); err != nil {
		return fault.Wrap(fault.KindInvalidInput, "", err, "invalid monitor warmup period")
	} else if ok {
		n.warmup = d
	}
	return nil
}

// runNode runs a unit or a parallel group. Failures of best-effort
// components and groups are logged and counted unless the run is fail-fast.
func (e *Executor) runNode(ctx context.Context, n *node) error {
	if n.unit == nil {
		err := e.runParallel(ctx, n)
		if err == nil || ctx.Err() != nil || isInterruption(err) {
			return err
		}
		if n.descriptor.BestEffort && !e.opts.FailFast {
			e.failures.Add(1)
			e.rc.ComponentLogger(n.category, n.descriptor).Warn("best-effort group failed", slog.String("error", err.Error()))
			return nil
		}
		return err
	}
	u := n.unit
	scenario := u.Descriptor.ScenarioName()
	logger := e.rc.ComponentLogger(u.Category, u.Descriptor)
	e.observe(u.Category, scenario, ComponentRunning)
	logger.Info("component started")

	start := time.Now()
	result, err := e.execute(ctx, u)
	elapsed := time.Since(start)
	e.metrics.Duration.WithLabelValues(u.Category, u.Descriptor.Type).Observe(elapsed.Seconds())
	if result.Attempts > 1 {
		e.metrics.Retries.WithLabelValues(u.Category, u.Descriptor.Type).Add(float64(result.Attempts - 1))
	}

	if err == nil {
		if result.Status == component.StatusSkipped {
			e.skipped.Add(1)
			e.metrics.Skips.WithLabelValues(u.Category, skipReason(result.Reason)).Inc()
			e.observe(u.Category, scenario, ComponentSkipped)
			logger.Info("component skipped", slog.String("reason", result.Reason))
			return nil
		}
		e.succeeded.Add(1)
		e.metrics.Executions.WithLabelValues(u.Category, u.Descriptor.Type, "succeeded").Inc()
		e.observe(u.Category, scenario, ComponentSucceeded)
		logger.Info("component finished", slog.Duration("duration", elapsed), slog.Int("attempts", result.Attempts))
		return nil
	}

	e.metrics.Executions.WithLabelValues(u.Category, u.Descriptor.Type, "failed").Inc()
	e.observe(u.Category, scenario, ComponentFailed)
	if ctx.Err() != nil || isInterruption(err) {
		logger.Info("component interrupted", slog.Duration("duration", elapsed))
		return err
	}
	if u.Descriptor.BestEffort && !e.opts.FailFast {
		e.failures.Add(1)
		logger.Warn("best-effort component failed", slog.Duration("duration", elapsed), slog.String("error", err.Error()))
		return nil
	}
	logger.Error("component failed", slog.Duration("duration", elapsed), slog.String("error", err.Error()))
	return err
}

func (e *Executor) execute(ctx context.Context, u *Unit) (component.Result, error) {
	policy, err := PolicyFor(u)
	if err != nil {
		return component.Result{}, fault.WithComponent(err, u.Category, u.Descriptor.ScenarioName(), OpExecute)
	}
	return ExecuteWithPolicy(ctx, e.rc, u, policy)
}

func skipReason(reason string) string {
	switch {
	case reason == "local":
		return "state"
	case strings.HasPrefix(reason, "peer "):
		return "peer_state"
	}
	return "not_supported"
}

// runParallel runs the children of a ParallelExecution group on a bounded
// pool. The first fatal error cancels the remaining children.
func (e *Executor) runParallel(ctx context.Context, n *node) error {
	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errChan := make(chan error, len(n.children))
	pool := pond.New(n.parallelism, 0, pond.MinWorkers(n.parallelism))
	for _, child := range n.children {
		pool.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			if err := e.runNode(groupCtx, child); err != nil {
				errChan <- err
				cancel()
			}
		})
	}
	pool.StopAndWait()
	close(errChan)

	var first error
	for err := range errChan {
		if first == nil || (isInterruption(first) && !isInterruption(err)) {
			first = err
		}
	}
	return first
}

func isInterruption(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// startMonitors starts one goroutine per monitor. The returned channel is
// closed once every monitor has stopped.
func (e *Executor) startMonitors(ctx context.Context, monitors []*node) <-chan struct{} {
	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, m := range monitors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.monitor(ctx, m)
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

func (e *Executor) monitor(ctx context.Context, m *node) {
	logger := e.rc.ComponentLogger(m.category, m.descriptor)
	logger.Debug("monitor started", slog.Duration("warmup", m.warmup), slog.Duration("frequency", m.frequency))
	if err := sleep(ctx, m.warmup); err != nil {
		return
	}
	for {
		if err := e.runNode(ctx, m); err != nil && ctx.Err() == nil {
			logger.Warn("monitor failed", slog.String("error", err.Error()))
		}
		if err := sleep(ctx, m.frequency); err != nil {
			logger.Debug("monitor stopped")
			return
		}
	}
}

func (e *Executor) awaitMonitors(done <-chan struct{}) {
	timer := time.NewTimer(e.opts.ExitWait)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		e.rc.Logger().Warn("monitors did not stop within the exit wait", slog.Duration("exitWait", e.opts.ExitWait))
	}
}

// sleep waits for d or until ctx is done, returning ctx.Err() in that case.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// String renders the outcome for the run summary.
func (o Outcome) String() string {
	return fmt.Sprintf("%s after %s (%d iterations)", o.State, o.Duration.Round(time.Millisecond), o.Iterations)
}
