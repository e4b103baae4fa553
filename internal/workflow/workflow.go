// Package workflow implements the common flow for the commands that work
// with execution profiles: load, merge, resolve, filter, validate and run.
package workflow

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"os"
	"strings"
	"time"

	"hostbench/internal/app"
	"hostbench/internal/component"
	"hostbench/internal/components"
	"hostbench/internal/fault"
	"hostbench/internal/layout"
	"hostbench/internal/profile"
	"hostbench/internal/progress"
	"hostbench/internal/rolesync"
	"hostbench/internal/scheduler"
	"hostbench/internal/state"
	"hostbench/internal/target"
	"hostbench/internal/util"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// Directories exported to the environment of the commands run by components.
const (
	EnvPackagesDir = "HOSTBENCH_PACKAGES_DIR"
	EnvTempDir     = "HOSTBENCH_TEMP_DIR"
)

// ProfileOptions select and resolve the profiles of a run.
type ProfileOptions struct {
	Profiles   []string
	Parameters map[string]any
	Metadata   map[string]any
	Scenarios  []string
	NoMonitors bool
	// AppDir is the root of the profiles, downloads and extensions directories.
	AppDir string
}

// RunOptions configure a profile run.
type RunOptions struct {
	ProfileOptions
	Timing           scheduler.Timing
	DependenciesOnly bool
	FailFast         bool
	ExitWait         time.Duration
	AgentID          string
	LayoutPath       string
	StateDir         string
	PackagesDir      string
	// ListenAddr is the control plane address. Empty disables the control plane.
	ListenAddr string
	// APIPort is the control plane port assumed for peers whose layout entry has none.
	APIPort int
	// Progress receives the status board. Nil disables it.
	Progress io.Writer
	// Summary receives the run summary. Nil disables it.
	Summary io.Writer
	// KeepTempDir retains the run's temporary directory, for debugging.
	KeepTempDir bool
}

// LoadProfile locates, merges, resolves and filters the requested profiles.
func LoadProfile(ctx context.Context, opts ProfileOptions) (*profile.ExecutionProfile, error) {
	if len(opts.Profiles) == 0 {
		return nil, fault.New(fault.KindUsage, "", "at least one profile is required")
	}
	locator := profile.NewLocator(opts.AppDir)
	docs, err := locator.LoadAll(ctx, opts.Profiles)
	if err != nil {
		return nil, err
	}
	primary, overlays := splitDocuments(docs)
	if opts.NoMonitors {
		none, err := profile.Builtin(profile.NoMonitorsProfile)
		if err != nil {
			return nil, err
		}
		overlays = append(overlays, none)
	}
	merged, err := profile.Merge(primary, overlays)
	if err != nil {
		return nil, err
	}
	resolved, err := profile.Resolve(merged, opts.Parameters, opts.Metadata)
	if err != nil {
		return nil, err
	}
	filter := profile.NewScenarioFilter(opts.Scenarios)
	if !filter.Empty() {
		resolved = filter.Apply(resolved)
		slog.Info("filtered scenarios", slog.String("include", strings.Join(filter.Includes(), ",")), slog.String("exclude", strings.Join(filter.Excludes(), ",")))
	}
	slog.Info("resolved profile",
		slog.String("profiles", strings.Join(opts.Profiles, ",")),
		slog.Int("dependencies", len(resolved.Dependencies)),
		slog.Int("actions", len(resolved.Actions)),
		slog.Int("monitors", len(resolved.Monitors)))
	return resolved, nil
}

// splitDocuments separates workload documents from overlays. A document
// without actions that declares monitors, or declares nothing at all, is an
// overlay.
func splitDocuments(docs []*profile.Document) (primary, overlays []*profile.Document) {
	for _, doc := range docs {
		p := doc.Profile
		if p != nil && len(p.Actions) == 0 && (len(p.Monitors) > 0 || p.IsEmpty()) {
			overlays = append(overlays, doc)
			continue
		}
		primary = append(primary, doc)
	}
	return primary, overlays
}

// Run executes the requested profiles against the local host. The returned
// error is the first fatal error, or wraps app.ErrInterrupted when ctx was
// cancelled.
func Run(ctx context.Context, opts RunOptions) (scheduler.Outcome, error) {
	notStarted := scheduler.Outcome{State: scheduler.StateNotStarted}
	// timing directives are checked before anything is resolved
	if err := opts.Timing.Validate(opts.DependenciesOnly); err != nil {
		return notStarted, err
	}
	resolved, err := LoadProfile(ctx, opts.ProfileOptions)
	if err != nil {
		return notStarted, err
	}
	localTarget := target.NewLocalTarget()
	if err := scheduler.CheckMetadata(opts.Timing, resolved.Metadata, localTarget.GetPlatform()); err != nil {
		return notStarted, err
	}
	var environmentLayout *layout.EnvironmentLayout
	if opts.LayoutPath != "" {
		environmentLayout, err = layout.Load(opts.LayoutPath)
		if err != nil {
			return notStarted, err
		}
	}
	store, err := state.NewFileStore(opts.StateDir)
	if err != nil {
		return notStarted, fmt.Errorf("failed to open state store: %w", err)
	}
	environment := maps.Clone(resolved.Environment)
	if environment == nil {
		environment = map[string]string{}
	}
	if opts.PackagesDir != "" {
		if err := util.CreateDirectoryIfNotExists(opts.PackagesDir, 0755); err != nil { // #nosec G301
			return notStarted, fmt.Errorf("failed to create packages directory: %w", err)
		}
		environment[EnvPackagesDir] = opts.PackagesDir
	}
	tempDir, err := localTarget.CreateTempDirectory("")
	if err != nil {
		return notStarted, fmt.Errorf("failed to create temp directory: %w", err)
	}
	if !opts.KeepTempDir {
		defer func() {
			if err := localTarget.RemoveTempDirectory(); err != nil {
				slog.Error("error cleaning up temp directory", slog.String("tempDir", tempDir), slog.String("error", err.Error()))
			}
		}()
	}
	environment[EnvTempDir] = tempDir
	logHost(localTarget)

	registry := newMetricsRegistry()
	if opts.ListenAddr != "" {
		_, stop, err := startControlPlane(ctx, store, registry, opts.ListenAddr)
		if err != nil {
			return notStarted, err
		}
		defer stop()
	}

	var syncOptions []rolesync.Option
	if opts.APIPort > 0 {
		syncOptions = append(syncOptions, rolesync.WithDefaultPort(opts.APIPort))
	}
	rc := component.NewRunContext(component.RunContextOptions{
		AgentID:     opts.AgentID,
		Platform:    localTarget.GetPlatform(),
		Parameters:  resolved.Parameters,
		Metadata:    resolved.Metadata,
		Environment: environment,
		Layout:      environmentLayout,
		Store:       store,
		Sync:        rolesync.NewClient(environmentLayout, store, syncOptions...),
		Target:      localTarget,
		Registerer:  registry,
	})

	var board *progress.MultiSpinner
	var observer scheduler.Observer
	if opts.Progress != nil {
		board = progress.NewMultiSpinnerTo(opts.Progress)
		observer = func(category, scenario string, status scheduler.ComponentStatus) {
			board.Track(category+"/"+scenario, string(status))
		}
	}
	executor, err := scheduler.NewExecutor(rc, components.NewRegistry(), resolved, scheduler.Options{
		Timing:           opts.Timing,
		DependenciesOnly: opts.DependenciesOnly,
		FailFast:         opts.FailFast,
		ExitWait:         opts.ExitWait,
		Observer:         observer,
	})
	if err != nil {
		return notStarted, err
	}

	ctx, stopSignals := configureSignalHandler(ctx, func(msg string) {
		if board != nil {
			board.Track("Run", msg)
		}
	})
	defer stopSignals()
	if board != nil {
		board.Start()
	}
	rc.Logger().Info("starting run", slog.String("timing", opts.Timing.String()), slog.Bool("dependenciesOnly", opts.DependenciesOnly))
	outcome := executor.Run(ctx)
	if board != nil {
		board.Finish()
	}
	rc.Logger().Info("run finished", slog.String("state", string(outcome.State)), slog.Duration("duration", outcome.Duration))
	printSummary(opts.Summary, rc.ExperimentID(), outcome)

	switch outcome.State {
	case scheduler.StateFailed:
		return outcome, outcome.Err
	case scheduler.StateCancelled:
		cause := context.Cause(ctx)
		if cause == nil {
			cause = context.Canceled
		}
		return outcome, fmt.Errorf("%w: %w", app.ErrInterrupted, cause)
	}
	return outcome, nil
}

func logHost(t target.Target) {
	arch, err := t.GetArchitecture()
	if err != nil {
		slog.Warn("failed to determine host architecture", slog.String("error", err.Error()))
	}
	slog.Info("host", slog.String("name", t.GetName()), slog.String("platform", t.GetPlatform()),
		slog.String("architecture", arch), slog.Bool("superuser", t.IsSuperUser()))
}

// startControlPlane serves the state store and the run's metrics on addr.
// The returned func stops the server and waits for it to exit.
func startControlPlane(ctx context.Context, store state.Store, registry *prometheus.Registry, addr string) (net.Addr, func(), error) {
	serverCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	server := state.NewServer(store, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	listenAddr, errCh, err := server.ListenAndServe(serverCtx, addr)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return listenAddr, func() {
		cancel()
		for err := range errCh {
			slog.Warn("control plane stopped with error", slog.String("error", err.Error()))
		}
	}, nil
}

// Serve runs the control plane over the state store in stateDir until ctx
// is cancelled or a signal is received.
func Serve(ctx context.Context, stateDir, addr string) error {
	store, err := state.NewFileStore(stateDir)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	ctx, stopSignals := configureSignalHandler(ctx, nil)
	defer stopSignals()
	registry := newMetricsRegistry()
	server := state.NewServer(store, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	_, errCh, err := server.ListenAndServe(ctx, addr)
	if err != nil {
		return err
	}
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("control plane failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	// drain until the server has shut down
	for range errCh {
	}
	slog.Info("control plane stopped")
	return nil
}

func newMetricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// FlagValidationError is used to report an error with a flag
func FlagValidationError(cmd *cobra.Command, msg string) error {
	err := fault.New(fault.KindUsage, "", "%s", msg)
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	fmt.Fprintf(os.Stderr, "See '%s --help' for usage details.\n", cmd.CommandPath())
	cmd.SilenceUsage = true
	return err
}
