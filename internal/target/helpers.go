package target

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// time allowed for output pipes to drain after the process is killed
const waitDelay = 2 * time.Second

// commandWithContext rebuilds cmd so that it is killed when ctx is done or
// the timeout, if non-zero, elapses. The returned cancel must be called.
func commandWithContext(ctx context.Context, cmd *exec.Cmd, timeout time.Duration) (*exec.Cmd, context.CancelFunc) {
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	commandWithContext := exec.CommandContext(ctx, cmd.Path, cmd.Args[1:]...) // #nosec G204 // nosemgrep
	commandWithContext.Env = cmd.Env
	commandWithContext.Dir = cmd.Dir
	commandWithContext.Stdin = cmd.Stdin
	commandWithContext.WaitDelay = waitDelay
	return commandWithContext, cancel
}

// runLocalCommandWithTimeout executes a local command with a timeout.
// It captures the command's standard output, standard error, and exit code.
//
// Parameters:
//   - ctx: cancelling ctx kills the command.
//   - cmd: The command to execute, represented as an *exec.Cmd.
//   - timeout: If set to 0, no timeout is applied.
//
// Returns:
//   - stdout: The standard output of the command as a string.
//   - stderr: The standard error of the command as a string.
//   - exitCode: The exit code of the command, -1 if it was killed or could not be started.
//   - err: An error object if the command fails to execute or times out.
func runLocalCommandWithTimeout(ctx context.Context, cmd *exec.Cmd, timeout time.Duration) (stdout string, stderr string, exitCode int, err error) {
	slog.Debug("running local command", slog.String("cmd", cmd.String()), slog.String("dir", cmd.Dir), slog.Duration("timeout", timeout))
	cmd, cancel := commandWithContext(ctx, cmd, timeout)
	defer cancel()
	var outbuf, errbuf strings.Builder
	cmd.Stdout = &outbuf
	cmd.Stderr = &errbuf
	err = cmd.Run()
	stdout = outbuf.String()
	stderr = errbuf.String()
	exitCode = exitCodeOf(err)
	return
}

// runLocalCommandWithTimeoutStream executes a local command, streaming its
// stdout and stderr to the provided channels line by line.
//
// Parameters:
//   - ctx: cancelling ctx kills the command.
//   - cmd: The command to execute, represented as an *exec.Cmd.
//   - timeout: If 0 or less, no timeout is applied.
//   - stdoutChannel: A channel to send lines of stdout output.
//   - stderrChannel: A channel to send lines of stderr output.
//
// Returns:
//   - exitCode: The exit code of the command.
//   - err: An error if the command fails to start, or exits with an error.
func runLocalCommandWithTimeoutStream(ctx context.Context, cmd *exec.Cmd, timeout time.Duration, stdoutChannel chan string, stderrChannel chan string) (exitCode int, err error) {
	slog.Debug("running local command (stream)", slog.String("cmd", cmd.String()), slog.Duration("timeout", timeout))
	cmd, cancel := commandWithContext(ctx, cmd, timeout)
	defer cancel()
	// Wait stops copying output WaitDelay after a kill, even when
	// children of the shell still hold the pipes.
	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()
	cmd.Stdout = stdoutWriter
	cmd.Stderr = stderrWriter
	if err = cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to run command (%s): %w", cmd, err)
	}
	var wg sync.WaitGroup
	scan := func(reader *io.PipeReader, ch chan string) {
		defer wg.Done()
		scanner := bufio.NewScanner(reader)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
		// keep the writer unblocked if the scanner gave up early
		_, _ = io.Copy(io.Discard, reader)
	}
	wg.Add(2)
	go scan(stdoutReader, stdoutChannel)
	go scan(stderrReader, stderrChannel)
	err = cmd.Wait()
	stdoutWriter.Close()
	stderrWriter.Close()
	wg.Wait()
	return exitCodeOf(err), err
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	exitError := &exec.ExitError{}
	if errors.As(err, &exitError) {
		return exitError.ExitCode()
	}
	return -1
}

// getArchitecture determines the architecture of the target system by executing
// the "uname -m" command.
func getArchitecture(t Target) (arch string, err error) {
	cmd := exec.Command("uname", "-m")
	arch, _, _, err = t.RunCommand(context.Background(), cmd, 10*time.Second)
	if err != nil {
		return
	}
	arch = strings.TrimSpace(arch)
	return
}
