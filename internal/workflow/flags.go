// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package workflow

import (
	"fmt"

	"hostbench/internal/app"
	"hostbench/internal/util"

	"github.com/spf13/cobra"
)

// AddProfileFlags adds the flags that select and resolve profiles to cmd.
func AddProfileFlags(cmd *cobra.Command) {
	cmd.Flags().StringArray(app.FlagProfileName, nil, "")
	cmd.Flags().StringArray(app.FlagParametersName, nil, "")
	cmd.Flags().StringArray(app.FlagMetadataName, nil, "")
	cmd.Flags().StringSlice(app.FlagScenariosName, nil, "")
	cmd.Flags().Bool(app.FlagNoMonitorsName, false, "")
}

// GetProfileFlagGroup returns the help for the flags added by AddProfileFlags.
func GetProfileFlagGroup() app.FlagGroup {
	return app.FlagGroup{
		GroupName: "Profile Options",
		Flags: []app.Flag{
			{Name: app.FlagProfileName, Help: "profile name, path or URI, may be repeated"},
			{Name: app.FlagParametersName, Help: "profile parameter overrides as key=value pairs separated by ',,,', may be repeated"},
			{Name: app.FlagMetadataName, Help: "metadata as key=value pairs separated by ',,,', may be repeated"},
			{Name: app.FlagScenariosName, Help: "comma separated scenarios to include, prefix with '-' to exclude"},
			{Name: app.FlagNoMonitorsName, Help: "do not run monitors, equivalent to adding the MONITORS-NONE profile"},
		},
	}
}

// ProfileOptionsFromFlags reads the flags added by AddProfileFlags.
func ProfileOptionsFromFlags(cmd *cobra.Command, appDir string) (ProfileOptions, error) {
	var opts ProfileOptions
	var err error
	flags := cmd.Flags()
	if opts.Profiles, err = flags.GetStringArray(app.FlagProfileName); err != nil {
		return opts, err
	}
	if len(opts.Profiles) == 0 {
		return opts, FlagValidationError(cmd, fmt.Sprintf("at least one --%s is required", app.FlagProfileName))
	}
	parameters, err := flags.GetStringArray(app.FlagParametersName)
	if err != nil {
		return opts, err
	}
	if opts.Parameters, err = util.ParseKeyValueList(parameters); err != nil {
		return opts, FlagValidationError(cmd, fmt.Sprintf("invalid --%s: %v", app.FlagParametersName, err))
	}
	metadata, err := flags.GetStringArray(app.FlagMetadataName)
	if err != nil {
		return opts, err
	}
	if opts.Metadata, err = util.ParseKeyValueList(metadata); err != nil {
		return opts, FlagValidationError(cmd, fmt.Sprintf("invalid --%s: %v", app.FlagMetadataName, err))
	}
	if opts.Scenarios, err = flags.GetStringSlice(app.FlagScenariosName); err != nil {
		return opts, err
	}
	if opts.NoMonitors, err = flags.GetBool(app.FlagNoMonitorsName); err != nil {
		return opts, err
	}
	opts.AppDir = appDir
	return opts, nil
}
