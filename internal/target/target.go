/*
Package target provides a way to run commands on the system under test.
*/
package target

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"os/exec"
	"runtime"
	"time"
)

// Target represents a machine where commands can be run.
type Target interface {
	// GetName returns the name of the target system.
	GetName() (name string)

	// GetArchitecture returns the architecture of the target system, e.g., x86_64.
	GetArchitecture() (arch string, err error)

	// GetPlatform returns the platform identifier, e.g., linux-x64.
	GetPlatform() string

	// IsSuperUser checks if the current user is a superuser.
	IsSuperUser() bool

	// RunCommand runs the specified command on the target.
	// Arguments:
	// - ctx: cancelling ctx kills the command
	// - cmd: the command to run
	// - timeout: the maximum time allowed for the command to run (zero means no timeout)
	// It returns the standard output, standard error, exit code, and any error that occurred.
	RunCommand(ctx context.Context, cmd *exec.Cmd, timeout time.Duration) (stdout string, stderr string, exitCode int, err error)

	// RunCommandStream runs the specified command on the target, sending each line of
	// standard output and standard error to the given channels as it is produced.
	// The channels are not closed. It returns the exit code and any error that occurred.
	RunCommandStream(ctx context.Context, cmd *exec.Cmd, timeout time.Duration, stdoutChannel chan string, stderrChannel chan string) (exitCode int, err error)

	// CreateTempDirectory creates a temporary directory on the target under rootDir.
	// It returns the path of the created directory and any error that occurred.
	CreateTempDirectory(rootDir string) (tempDir string, err error)

	// GetTempDirectory returns the path of the temporary directory on the target. It will be
	// empty if the temporary directory has not been created yet.
	GetTempDirectory() string

	// RemoveTempDirectory removes the temporary directory on the target.
	RemoveTempDirectory() error
}

// Platform returns the platform identifier for the given GOOS and GOARCH,
// e.g., linux-x64, linux-arm64, win-x64.
func Platform(goos, goarch string) string {
	os := goos
	if goos == "windows" {
		os = "win"
	}
	arch := goarch
	switch goarch {
	case "amd64":
		arch = "x64"
	case "386":
		arch = "x86"
	}
	return os + "-" + arch
}

// HostPlatform returns the platform identifier of the running process.
func HostPlatform() string {
	return Platform(runtime.GOOS, runtime.GOARCH)
}
