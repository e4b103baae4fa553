package target

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"hostbench/internal/util"
)

// LocalTarget runs commands on the local host. It is safe for concurrent use.
type LocalTarget struct {
	host    string
	mu      sync.Mutex
	tempDir string
	arch    string
}

// NewLocalTarget creates a new LocalTarget
func NewLocalTarget() *LocalTarget {
	hostName, err := os.Hostname()
	if err != nil {
		hostName = "localhost"
	}
	return &LocalTarget{host: hostName}
}

// GetName returns the host name of the Target.
func (t *LocalTarget) GetName() (host string) {
	return t.host
}

// GetPlatform returns the platform identifier of the local host.
func (t *LocalTarget) GetPlatform() string {
	return HostPlatform()
}

// RunCommand executes the given command with a timeout and returns the standard output,
// standard error, exit code, and any error that occurred.
func (t *LocalTarget) RunCommand(ctx context.Context, cmd *exec.Cmd, timeout time.Duration) (stdout string, stderr string, exitCode int, err error) {
	return runLocalCommandWithTimeout(ctx, cmd, timeout)
}

// RunCommandStream runs the given command, sending its output line by line to
// stdoutChannel and stderrChannel. It returns when the command exits.
func (t *LocalTarget) RunCommandStream(ctx context.Context, cmd *exec.Cmd, timeout time.Duration, stdoutChannel chan string, stderrChannel chan string) (exitCode int, err error) {
	return runLocalCommandWithTimeoutStream(ctx, cmd, timeout, stdoutChannel, stderrChannel)
}

func (t *LocalTarget) GetArchitecture() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	if t.arch == "" {
		t.arch, err = getArchitecture(t)
	}
	return t.arch, err
}

// CreateTempDirectory creates a temporary directory under the specified root directory.
// If the root directory is not specified, the temporary directory will be created in the default temp directory.
// It returns the path of the created temporary directory and any error encountered.
func (t *LocalTarget) CreateTempDirectory(rootDir string) (tempDir string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tempDir != "" {
		return t.tempDir, nil
	}
	temp, err := os.MkdirTemp(rootDir, "hostbench.tmp.")
	if err != nil {
		return
	}
	tempDir, err = util.AbsPath(temp)
	if err != nil {
		return
	}
	t.tempDir = tempDir
	return
}

// RemoveTempDirectory removes the temporary directory created by CreateTempDirectory.
func (t *LocalTarget) RemoveTempDirectory() (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tempDir != "" {
		err = os.RemoveAll(t.tempDir)
		if err == nil {
			t.tempDir = ""
		}
	}
	return
}

func (t *LocalTarget) GetTempDirectory() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tempDir
}

// IsSuperUser checks if the current user is a superuser.
// It returns true if the user is a superuser, false otherwise.
func (t *LocalTarget) IsSuperUser() bool {
	return os.Geteuid() == 0
}
