// Package inspect is a subcommand of the root command. It prints the
// resolved profile without executing it.
package inspect

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"hostbench/internal/app"
	"hostbench/internal/profile"
	"hostbench/internal/workflow"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const cmdName = "inspect"

const (
	formatYAML = "yaml"
	formatJSON = "json"
)

var formatOptions = []string{formatYAML, formatJSON}

var examples = []string{
	fmt.Sprintf("  Show a merged profile:         $ %s %s --profile ./workload.yaml --profile MONITORS-NONE", app.Name, cmdName),
	fmt.Sprintf("  Show parameter resolution:     $ %s %s --profile ./workload.yaml --parameters Threads=8 --format json", app.Name, cmdName),
	fmt.Sprintf("  List the built-in profiles:    $ %s %s --builtin", app.Name, cmdName),
}

var Cmd = &cobra.Command{
	Use:           cmdName,
	Short:         "Print the resolved profile without running it",
	Example:       strings.Join(examples, "\n"),
	RunE:          runCmd,
	PreRunE:       validateFlags,
	GroupID:       "primary",
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

var (
	flagFormat  string
	flagBuiltin bool
)

const flagBuiltinName = "builtin"

func init() {
	workflow.AddProfileFlags(Cmd)
	Cmd.Flags().StringVar(&flagFormat, app.FlagFormatName, formatYAML, "")
	Cmd.Flags().BoolVar(&flagBuiltin, flagBuiltinName, false, "")

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
			if def := cmd.Flags().Lookup(flag.Name).DefValue; def != "" && def != "[]" && def != "false" {
				flagDefault = fmt.Sprintf(" (default: %s)", def)
			}
			cmd.Printf("    --%-20s %s%s\n", flag.Name, flag.Help, flagDefault)
		}
	}
	cmd.Println("\nGlobal Flags:")
	cmd.Parent().PersistentFlags().VisitAll(func(pf *pflag.Flag) {
		cmd.Printf("  --%-20s %s\n", pf.Name, pf.Usage)
	})
	return nil
}

func getFlagGroups() []app.FlagGroup {
	return []app.FlagGroup{
		workflow.GetProfileFlagGroup(),
		{
			GroupName: "Output Options",
			Flags: []app.Flag{
				{Name: app.FlagFormatName, Help: fmt.Sprintf("choose output format from: %s", strings.Join(formatOptions, ", "))},
				{Name: flagBuiltinName, Help: "list the built-in profiles and exit"},
			},
		},
	}
}

func validateFlags(cmd *cobra.Command, args []string) error {
	if !slices.Contains(formatOptions, strings.ToLower(flagFormat)) {
		return workflow.FlagValidationError(cmd, fmt.Sprintf("format options are: %s", strings.Join(formatOptions, ", ")))
	}
	return nil
}

func runCmd(cmd *cobra.Command, args []string) error {
	if flagBuiltin {
		for _, name := range profile.BuiltinNames() {
			fmt.Println(name)
		}
		return nil
	}
	appContext := cmd.Parent().Context().Value(app.Context{}).(app.Context)
	profileOptions, err := workflow.ProfileOptionsFromFlags(cmd, appContext.AppDir)
	if err != nil {
		return err
	}
	resolved, err := workflow.LoadProfile(cmd.Context(), profileOptions)
	if err == nil {
		err = writeProfile(os.Stdout, resolved, strings.ToLower(flagFormat))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	return nil
}

func writeProfile(w io.Writer, p *profile.ExecutionProfile, format string) error {
	var out []byte
	var err error
	switch format {
	case formatJSON:
		out, err = json.MarshalIndent(p, "", "  ")
		out = append(out, '\n')
	default:
		out, err = profile.Marshal(p)
	}
	if err != nil {
		return fmt.Errorf("failed to render profile: %w", err)
	}
	_, err = w.Write(out)
	return err
}
