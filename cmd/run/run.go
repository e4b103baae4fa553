// Package run is a subcommand of the root command. It executes execution
// profiles on the local host.
package run

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hostbench/internal/app"
	"hostbench/internal/fault"
	"hostbench/internal/scheduler"
	"hostbench/internal/state"
	"hostbench/internal/util"
	"hostbench/internal/workflow"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const cmdName = "run"

var examples = []string{
	fmt.Sprintf("  Run a built-in profile once:              $ %s %s --profile PERF-HOST-SMOKE", app.Name, cmdName),
	fmt.Sprintf("  Run for 2 hours, finish the component:    $ %s %s --profile ./workload.yaml --timeout 02:00:00,deterministic", app.Name, cmdName),
	fmt.Sprintf("  Run 3 iterations with a parameter:        $ %s %s --profile ./workload.yaml --iterations 3 --parameters Threads=8", app.Name, cmdName),
	fmt.Sprintf("  Install dependencies only:                $ %s %s --profile ./workload.yaml --dependencies", app.Name, cmdName),
	fmt.Sprintf("  Run as the client of a client/server pair: $ %s %s --profile ./workload.yaml --layout ./layout.json --agent-id client-1", app.Name, cmdName),
}

var Cmd = &cobra.Command{
	Use:           cmdName,
	Short:         "Execute profiles on the local host",
	Long:          "",
	Example:       strings.Join(examples, "\n"),
	RunE:          runCmd,
	PreRunE:       validateFlags,
	GroupID:       "primary",
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

var (
	flagIterations   int
	flagTimeout      string
	flagDependencies bool
	flagFailFast     bool
	flagLayout       string
	flagAgentID      string
	flagAPIPort      int
	flagStateDir     string
	flagPackagesDir  string
	flagExitWait     string
)

const (
	flagIterationsName   = "iterations"
	flagTimeoutName      = "timeout"
	flagDependenciesName = "dependencies"
	flagFailFastName     = "fail-fast"
	flagLayoutName       = "layout"
	flagAgentIDName      = "agent-id"
	flagAPIPortName      = "api-port"
	flagStateDirName     = "state-dir"
	flagPackagesDirName  = "packages-dir"
	flagExitWaitName     = "exit-wait"
)

// set by validateFlags
var (
	timing   scheduler.Timing
	exitWait time.Duration
)

func init() {
	workflow.AddProfileFlags(Cmd)
	Cmd.Flags().IntVar(&flagIterations, flagIterationsName, 0, "")
	Cmd.Flags().StringVar(&flagTimeout, flagTimeoutName, "", "")
	Cmd.Flags().BoolVar(&flagDependencies, flagDependenciesName, false, "")
	Cmd.Flags().BoolVar(&flagFailFast, flagFailFastName, false, "")
	Cmd.Flags().StringVar(&flagLayout, flagLayoutName, "", "")
	Cmd.Flags().StringVar(&flagAgentID, flagAgentIDName, "", "")
	Cmd.Flags().IntVar(&flagAPIPort, flagAPIPortName, state.DefaultPort, "")
	Cmd.Flags().StringVar(&flagStateDir, flagStateDirName, "", "")
	Cmd.Flags().StringVar(&flagPackagesDir, flagPackagesDirName, "", "")
	Cmd.Flags().StringVar(&flagExitWait, flagExitWaitName, scheduler.DefaultExitWait.String(), "")

	Cmd.SetUsageFunc(usageFunc)
}

func usageFunc(cmd *cobra.Command) error {
	cmd.Printf("Usage: %s [flags]\n\n", cmd.CommandPath())
	cmd.Printf("Examples:\n%s\n\n", cmd.Example)
	cmd.Println("Flags:")
	for _, group := range getFlagGroups() {
		cmd.Printf("  %s:\n", group.GroupName)
		for _, flag := range group.Flags {
			flagDefault := ""
			if cmd.Flags().Lookup(flag.Name).DefValue != "" && cmd.Flags().Lookup(flag.Name).DefValue != "[]" {
				flagDefault = fmt.Sprintf(" (default: %s)", cmd.Flags().Lookup(flag.Name).DefValue)
			}
			cmd.Printf("    --%-20s %s%s\n", flag.Name, flag.Help, flagDefault)
		}
	}
	cmd.Println("\nGlobal Flags:")
	cmd.Parent().PersistentFlags().VisitAll(func(pf *pflag.Flag) {
		flagDefault := ""
		if pf.DefValue != "" {
			flagDefault = fmt.Sprintf(" (default: %s)", pf.DefValue)
		}
		cmd.Printf("  --%-20s %s%s\n", pf.Name, pf.Usage, flagDefault)
	})
	return nil
}

func getFlagGroups() []app.FlagGroup {
	var groups []app.FlagGroup
	groups = append(groups, workflow.GetProfileFlagGroup())
	groups = append(groups, app.FlagGroup{
		GroupName: "Timing Options",
		Flags: []app.Flag{
			{Name: flagIterationsName, Help: "number of times to run the actions"},
			{Name: flagTimeoutName, Help: "how long to run the actions, in minutes or as a timespan, optionally followed by ',deterministic' or ',deterministic*'"},
			{Name: flagDependenciesName, Help: "install the dependencies and exit"},
			{Name: flagFailFastName, Help: "treat every component failure as fatal, including best effort components"},
			{Name: flagExitWaitName, Help: "how long to wait for monitors to stop after the actions finish"},
		},
	})
	groups = append(groups, app.FlagGroup{
		GroupName: "Environment Options",
		Flags: []app.Flag{
			{Name: flagLayoutName, Help: "path to the environment layout describing the peer agents"},
			{Name: flagAgentIDName, Help: "name of this agent in the layout, defaults to the host name"},
			{Name: flagAPIPortName, Help: "port of the control plane, 0 disables it"},
			{Name: flagStateDirName, Help: "directory holding component state, defaults to 'state' in the application directory"},
			{Name: flagPackagesDirName, Help: "directory for installed packages, defaults to 'packages' in the application directory"},
		},
	})
	return groups
}

func validateFlags(cmd *cobra.Command, args []string) error {
	if flagIterations < 0 {
		return workflow.FlagValidationError(cmd, fmt.Sprintf("--%s must be 0 or greater", flagIterationsName))
	}
	timing = scheduler.Timing{Iterations: flagIterations}
	if cmd.Flags().Changed(flagTimeoutName) {
		timeout, discipline, err := scheduler.ParseTimeout(flagTimeout)
		if err != nil {
			return workflow.FlagValidationError(cmd, err.Error())
		}
		timing.Timeout = timeout
		timing.Discipline = discipline
	}
	// conflicting timing directives are usage errors, reported before any profile is loaded
	if err := timing.Validate(flagDependencies); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cmd.SilenceUsage = true
		return err
	}
	var err error
	exitWait, err = util.ParseDuration(flagExitWait)
	if err != nil || exitWait < 0 {
		return workflow.FlagValidationError(cmd, fmt.Sprintf("invalid --%s: %s", flagExitWaitName, flagExitWait))
	}
	if flagAPIPort < 0 || flagAPIPort > 65535 {
		return workflow.FlagValidationError(cmd, fmt.Sprintf("--%s must be between 0 and 65535", flagAPIPortName))
	}
	if flagLayout != "" {
		exists, err := util.FileExists(flagLayout)
		if err != nil || !exists {
			return workflow.FlagValidationError(cmd, fmt.Sprintf("layout file %s does not exist", flagLayout))
		}
	}
	return nil
}

func runCmd(cmd *cobra.Command, args []string) error {
	appContext := cmd.Parent().Context().Value(app.Context{}).(app.Context)
	profileOptions, err := workflow.ProfileOptionsFromFlags(cmd, appContext.AppDir)
	if err != nil {
		return err
	}
	opts := workflow.RunOptions{
		ProfileOptions:   profileOptions,
		Timing:           timing,
		DependenciesOnly: flagDependencies,
		FailFast:         flagFailFast,
		ExitWait:         exitWait,
		AgentID:          flagAgentID,
		LayoutPath:       flagLayout,
		StateDir:         dirOrDefault(flagStateDir, appContext.AppDir, "state"),
		PackagesDir:      dirOrDefault(flagPackagesDir, appContext.AppDir, "packages"),
		Progress:         os.Stderr,
		Summary:          os.Stdout,
		KeepTempDir:      appContext.Debug,
	}
	if flagAPIPort > 0 {
		opts.ListenAddr = fmt.Sprintf(":%d", flagAPIPort)
		opts.APIPort = flagAPIPort
	}
	_, err = workflow.Run(cmd.Context(), opts)
	if err != nil {
		if app.ExitCode(err) != app.ExitInterrupted {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		slog.Error(err.Error(), slog.String("kind", fault.KindOf(err).String()))
		cmd.SilenceUsage = true
		return err
	}
	return nil
}

func dirOrDefault(dir, appDir, name string) string {
	if dir == "" {
		return filepath.Join(appDir, name)
	}
	if abs, err := util.AbsPath(dir); err == nil {
		return abs
	}
	return dir
}
