// Package api is a subcommand of the root command. It serves the control
// plane so that peer agents can exchange state with this host.
package api

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"hostbench/internal/app"
	"hostbench/internal/state"
	"hostbench/internal/util"
	"hostbench/internal/workflow"

	"github.com/spf13/cobra"
)

const cmdName = "api"

var examples = []string{
	fmt.Sprintf("  Serve on the default port:  $ %s %s", app.Name, cmdName),
	fmt.Sprintf("  Serve on a specific port:   $ %s %s --api-port 4501 --state-dir /var/lib/hostbench", app.Name, cmdName),
}

var Cmd = &cobra.Command{
	Use:           cmdName,
	Short:         "Serve the state and heartbeat control plane until interrupted",
	Example:       strings.Join(examples, "\n"),
	RunE:          runCmd,
	PreRunE:       validateFlags,
	GroupID:       "primary",
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

var (
	flagAPIPort  int
	flagStateDir string
)

const (
	flagAPIPortName  = "api-port"
	flagStateDirName = "state-dir"
)

func init() {
	Cmd.Flags().IntVar(&flagAPIPort, flagAPIPortName, state.DefaultPort, "port to listen on")
	Cmd.Flags().StringVar(&flagStateDir, flagStateDirName, "", "directory holding component state (default: 'state' in the application directory)")
}

func validateFlags(cmd *cobra.Command, args []string) error {
	if flagAPIPort <= 0 || flagAPIPort > 65535 {
		return workflow.FlagValidationError(cmd, fmt.Sprintf("--%s must be between 1 and 65535", flagAPIPortName))
	}
	return nil
}

func runCmd(cmd *cobra.Command, args []string) error {
	appContext := cmd.Parent().Context().Value(app.Context{}).(app.Context)
	stateDir := flagStateDir
	if stateDir == "" {
		stateDir = filepath.Join(appContext.AppDir, "state")
	} else if abs, err := util.AbsPath(stateDir); err == nil {
		stateDir = abs
	}
	fmt.Printf("Serving the control plane on port %d, press Ctrl-C to stop.\n", flagAPIPort)
	err := workflow.Serve(cmd.Context(), stateDir, fmt.Sprintf(":%d", flagAPIPort))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	return nil
}
