package components

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"hostbench/internal/component"
	"hostbench/internal/fault"
	"hostbench/internal/profile"
	"hostbench/internal/util"
)

type executeCommandOptions struct {
	Command            string
	WorkingDirectory   string
	Timeout            time.Duration
	RetryableExitCodes []int
}

// ExecuteCommand runs one or more commands, separated by "&&", on the local
// target. Each command runs through the platform shell. Execution stops at
// the first failing command.
type ExecuteCommand struct {
	rc       *component.RunContext
	opts     executeCommandOptions
	commands []string
	logger   *slog.Logger
	// monitor streams command output to the log at info level
	monitor  bool
	exitCode int
}

func newExecuteCommand(rc *component.RunContext, d profile.ComponentDescriptor) (component.Component, error) {
	return buildExecuteCommand(rc, d, false)
}

func newExecuteCommandMonitor(rc *component.RunContext, d profile.ComponentDescriptor) (component.Component, error) {
	return buildExecuteCommand(rc, d, true)
}

func buildExecuteCommand(rc *component.RunContext, d profile.ComponentDescriptor, monitor bool) (*ExecuteCommand, error) {
	if err := component.RequireParameters(d.Parameters, "Command"); err != nil {
		return nil, err
	}
	c := &ExecuteCommand{rc: rc, logger: componentLogger(rc, d), monitor: monitor}
	if err := component.DecodeOptions(d.Parameters, &c.opts); err != nil {
		return nil, err
	}
	c.commands = SplitCommands(c.opts.Command)
	if len(c.commands) == 0 {
		return nil, fault.New(fault.KindInvalidInput, "", "Command has no commands to run")
	}
	return c, nil
}

// SplitCommands splits a "&&" separated command line into its commands.
func SplitCommands(commandLine string) []string {
	var commands []string
	for part := range strings.SplitSeq(commandLine, "&&") {
		if part = strings.TrimSpace(part); part != "" {
			commands = append(commands, part)
		}
	}
	return commands
}

func (c *ExecuteCommand) Initialize(ctx context.Context) error {
	if c.opts.WorkingDirectory == "" {
		return nil
	}
	dir, err := util.AbsPath(c.opts.WorkingDirectory)
	if err != nil {
		return fault.Wrap(fault.KindInvalidInput, "", err, "invalid working directory")
	}
	exists, err := util.DirectoryExists(dir)
	if err != nil || !exists {
		return fault.New(fault.KindInvalidInput, "", "working directory %s does not exist", dir)
	}
	c.opts.WorkingDirectory = dir
	return nil
}

func (c *ExecuteCommand) Execute(ctx context.Context) error {
	for _, command := range c.commands {
		if err := c.run(ctx, command); err != nil {
			return err
		}
	}
	return nil
}

func (c *ExecuteCommand) run(ctx context.Context, command string) error {
	cmd := shellCommand(command)
	cmd.Dir = c.opts.WorkingDirectory
	cmd.Env = append(os.Environ(), c.rc.EnvironmentList()...)
	start := time.Now()
	var stdout, stderr string
	var exitCode int
	var err error
	if c.monitor {
		stderr, exitCode, err = c.stream(ctx, cmd, command)
	} else {
		stdout, stderr, exitCode, err = c.rc.Target().RunCommand(ctx, cmd, c.opts.Timeout)
	}
	c.exitCode = exitCode
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.logger.Debug("command finished", slog.String("command", command), slog.Int("exitCode", exitCode),
		slog.Duration("duration", time.Since(start)), slog.String("stdout", stdout), slog.String("stderr", stderr))
	if err == nil {
		return nil
	}
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = err.Error()
	}
	if slices.Contains(c.opts.RetryableExitCodes, exitCode) {
		return fault.New(fault.KindTransientExecution, fault.ReasonProcessFailed, "command %q exited with retryable code %d: %s", command, exitCode, detail)
	}
	if exitCode == -1 && c.opts.Timeout > 0 && time.Since(start) >= c.opts.Timeout {
		return fault.New(fault.KindInvalidInput, fault.ReasonProcessFailed, "command %q timed out after %s", command, c.opts.Timeout)
	}
	return fault.New(fault.KindInvalidInput, fault.ReasonProcessFailed, "command %q failed with exit code %d: %s", command, exitCode, detail)
}

// stream runs cmd, logging each line of output as it is produced. It returns
// the collected stderr.
func (c *ExecuteCommand) stream(ctx context.Context, cmd *exec.Cmd, command string) (stderr string, exitCode int, err error) {
	stdoutChannel := make(chan string)
	stderrChannel := make(chan string)
	finished := make(chan struct{})
	var stderrLines []string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case line := <-stdoutChannel:
				c.logger.Info("monitor output", slog.String("command", command), slog.String("line", line))
			case line := <-stderrChannel:
				stderrLines = append(stderrLines, line)
			case <-finished:
				return
			}
		}
	}()
	// every line has been received once RunCommandStream returns
	exitCode, err = c.rc.Target().RunCommandStream(ctx, cmd, c.opts.Timeout, stdoutChannel, stderrChannel)
	close(finished)
	wg.Wait()
	return strings.Join(stderrLines, "\n"), exitCode, err
}

// State records the command and its last exit code in the completion state.
func (c *ExecuteCommand) State() map[string]any {
	return map[string]any{"command": c.opts.Command, "exitCode": c.exitCode}
}

func shellCommand(command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.Command("cmd", "/C", command) // #nosec G204 // nosemgrep
	}
	return exec.Command("/bin/sh", "-c", command) // #nosec G204 // nosemgrep
}
