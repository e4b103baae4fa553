package components

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"net"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"hostbench/internal/component"
	"hostbench/internal/fault"
	"hostbench/internal/layout"
	"hostbench/internal/profile"
	"hostbench/internal/state"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runContextOption func(*component.RunContextOptions)

func newTestRunContext(t *testing.T, opts ...runContextOption) *component.RunContext {
	t.Helper()
	store, err := state.NewFileStore(t.TempDir())
	require.NoError(t, err)
	o := component.RunContextOptions{
		AgentID:    "agent-1",
		Platform:   "linux-x64",
		Store:      store,
		Registerer: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return component.NewRunContext(o)
}

func create(t *testing.T, rc *component.RunContext, typeName string, params profile.Parameters) (component.Component, error) {
	t.Helper()
	return NewRegistry().Create(rc, profile.ComponentDescriptor{Type: typeName, Scenario: "test", Parameters: params})
}

func mustCreate(t *testing.T, rc *component.RunContext, typeName string, params profile.Parameters) component.Component {
	t.Helper()
	c, err := create(t, rc, typeName, params)
	require.NoError(t, err)
	require.NoError(t, c.Initialize(context.Background()))
	return c
}

func TestRegisterBuiltins(t *testing.T) {
	assert.Equal(t, []string{
		ExecuteCommandType, ExecuteCommandMonitorType, HostMonitorType,
		PublishStateType, WaitType, WaitForStateType,
	}, NewRegistry().Types())
}

func TestSplitCommands(t *testing.T) {
	assert.Equal(t, []string{"uname -a", "df -h /"}, SplitCommands("uname -a && df -h /"))
	assert.Equal(t, []string{"true"}, SplitCommands(" && true &&"))
	assert.Empty(t, SplitCommands("  "))
}

func TestExecuteCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("commands use /bin/sh")
	}
	dir := t.TempDir()
	rc := newTestRunContext(t, func(o *component.RunContextOptions) {
		o.Environment = map[string]string{"HB_VALUE": "42"}
	})

	t.Run("runs every command in the working directory", func(t *testing.T) {
		c := mustCreate(t, rc, ExecuteCommandType, profile.Parameters{
			"Command":          "touch first && test \"$HB_VALUE\" = 42 && touch second",
			"WorkingDirectory": dir,
		})
		require.NoError(t, c.Execute(context.Background()))
		assert.FileExists(t, filepath.Join(dir, "first"))
		assert.FileExists(t, filepath.Join(dir, "second"))
		assert.Equal(t, 0, c.(component.StateProvider).State()["exitCode"])
	})

	t.Run("stops at the first failure", func(t *testing.T) {
		c := mustCreate(t, rc, ExecuteCommandType, profile.Parameters{
			"Command":          "exit 3 && touch never",
			"WorkingDirectory": dir,
		})
		err := c.Execute(context.Background())
		require.Error(t, err)
		assert.Equal(t, fault.KindInvalidInput, fault.KindOf(err))
		assert.Equal(t, fault.ReasonProcessFailed, fault.ReasonOf(err))
		assert.NoFileExists(t, filepath.Join(dir, "never"))
	})

	t.Run("retryable exit codes are transient", func(t *testing.T) {
		c := mustCreate(t, rc, ExecuteCommandType, profile.Parameters{"Command": "exit 3", "RetryableExitCodes": []any{3, 4}})
		assert.Equal(t, fault.KindTransientExecution, fault.KindOf(c.Execute(context.Background())))
	})

	t.Run("timeout", func(t *testing.T) {
		c := mustCreate(t, rc, ExecuteCommandType, profile.Parameters{"Command": "sleep 5", "Timeout": "100ms"})
		start := time.Now()
		err := c.Execute(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out")
		assert.Less(t, time.Since(start), 4*time.Second)
	})

	t.Run("cancellation", func(t *testing.T) {
		c := mustCreate(t, rc, ExecuteCommandType, profile.Parameters{"Command": "sleep 5"})
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, c.Execute(ctx), context.DeadlineExceeded)
	})

	t.Run("missing working directory", func(t *testing.T) {
		c, err := create(t, rc, ExecuteCommandType, profile.Parameters{"Command": "true", "WorkingDirectory": filepath.Join(dir, "missing")})
		require.NoError(t, err)
		assert.Equal(t, fault.KindInvalidInput, fault.KindOf(c.Initialize(context.Background())))
	})

	t.Run("missing command", func(t *testing.T) {
		_, err := create(t, rc, ExecuteCommandType, profile.Parameters{})
		assert.Equal(t, fault.KindInvalidInput, fault.KindOf(err))
	})

	t.Run("monitor", func(t *testing.T) {
		c := mustCreate(t, rc, ExecuteCommandMonitorType, profile.Parameters{"Command": "echo sample; echo second"})
		assert.NoError(t, c.Execute(context.Background()))

		failing := mustCreate(t, rc, ExecuteCommandMonitorType, profile.Parameters{"Command": "echo oops 1>&2; exit 2"})
		err := failing.Execute(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "oops")
		assert.Equal(t, 2, failing.(component.StateProvider).State()["exitCode"])
	})

	t.Run("monitor cancellation with a child process", func(t *testing.T) {
		c := mustCreate(t, rc, ExecuteCommandMonitorType, profile.Parameters{"Command": "sleep 8; echo done"})
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		start := time.Now()
		assert.ErrorIs(t, c.Execute(ctx), context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}

func TestWait(t *testing.T) {
	rc := newTestRunContext(t)
	c := mustCreate(t, rc, WaitType, profile.Parameters{"Duration": "50ms"})
	start := time.Now()
	require.NoError(t, c.Execute(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	c = mustCreate(t, rc, WaitType, profile.Parameters{"Duration": "00:10:00"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Execute(ctx), context.Canceled)

	_, err := create(t, rc, WaitType, profile.Parameters{})
	assert.Equal(t, fault.KindInvalidInput, fault.KindOf(err))
	_, err = create(t, rc, WaitType, profile.Parameters{"Duration": "later"})
	assert.Equal(t, fault.KindInvalidInput, fault.KindOf(err))
}

func TestHostMonitor(t *testing.T) {
	procRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(procRoot, "loadavg"), []byte("0.50 0.40 0.30 1/123 4567\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(procRoot, "meminfo"), []byte(
		"MemTotal:       16384 kB\nMemFree:         4096 kB\nMemAvailable:    8192 kB\n"), 0o644))

	rc := newTestRunContext(t)
	c := mustCreate(t, rc, HostMonitorType, profile.Parameters{"ProcRoot": procRoot})
	require.NoError(t, c.(component.Supporter).IsSupported(rc))
	require.NoError(t, c.Execute(context.Background()))

	m := c.(*HostMonitor)
	assert.InDelta(t, 0.5, testutil.ToFloat64(m.load.WithLabelValues("1m")), 0.001)
	assert.InDelta(t, 0.3, testutil.ToFloat64(m.load.WithLabelValues("15m")), 0.001)
	assert.Equal(t, 16384.0*1024, testutil.ToFloat64(m.memory.WithLabelValues("total")))
	assert.Equal(t, 8192.0*1024, testutil.ToFloat64(m.memory.WithLabelValues("available")))

	windows := newTestRunContext(t, func(o *component.RunContextOptions) { o.Platform = "win-x64" })
	assert.Equal(t, fault.KindNotSupported, fault.KindOf(c.(component.Supporter).IsSupported(windows)))

	again, err := create(t, rc, HostMonitorType, profile.Parameters{"ProcRoot": procRoot})
	require.NoError(t, err)
	assert.Same(t, m.load, again.(*HostMonitor).load)
}

func peerLayout(t *testing.T, name, role string, server *httptest.Server) *layout.EnvironmentLayout {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	host, portText, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)
	l, err := layout.New([]layout.ClientInstance{{Name: name, IPAddress: host, Port: port, Role: role}})
	require.NoError(t, err)
	return l
}

func TestPublishAndWaitForState(t *testing.T) {
	peerStore, err := state.NewFileStore(t.TempDir())
	require.NoError(t, err)
	peer := httptest.NewServer(state.NewServer(peerStore, nil))
	defer peer.Close()
	l := peerLayout(t, "server-1", layout.RoleServer, peer)
	rc := newTestRunContext(t, func(o *component.RunContextOptions) { o.Layout = l })

	publish := mustCreate(t, rc, PublishStateType, profile.Parameters{"Key": "ClientReady", "Role": "Server"})
	require.NoError(t, publish.Execute(context.Background()))
	local, err := rc.Store().Get(context.Background(), "clientready")
	require.NoError(t, err)
	assert.Equal(t, state.StatusReady, local.Status())
	pushed, err := peerStore.Get(context.Background(), "clientready")
	require.NoError(t, err)
	assert.Equal(t, state.StatusReady, pushed.Status())

	_, err = peerStore.Put(context.Background(), "ServerReady", state.NewItem("ServerReady", map[string]any{state.StatusField: "Started"}))
	require.NoError(t, err)
	wait := mustCreate(t, rc, WaitForStateType, profile.Parameters{
		"Key": "ServerReady", "Role": "Server", "ExpectedStatus": "Started", "Timeout": "00:00:05",
	})
	require.NoError(t, wait.Execute(context.Background()))
	assert.Equal(t, []string{"server-1"}, wait.(component.StateProvider).State()["peers"])

	short := mustCreate(t, rc, WaitForStateType, profile.Parameters{"Key": "Never", "Role": "Server", "Mode": "any", "Timeout": "200ms"})
	assert.Equal(t, fault.KindPeerSynchronizationTimeout, fault.KindOf(short.Execute(context.Background())))

	unknownRole, err := create(t, rc, WaitForStateType, profile.Parameters{"Key": "k", "Role": "Client"})
	require.NoError(t, err)
	assert.Equal(t, fault.KindInvalidInput, fault.KindOf(unknownRole.Initialize(context.Background())))

	_, err = create(t, rc, WaitForStateType, profile.Parameters{"Key": "k", "Role": "Server", "Mode": "most"})
	assert.Equal(t, fault.KindInvalidInput, fault.KindOf(err))
}

func TestStateComponentsRequireStore(t *testing.T) {
	rc := component.NewRunContext(component.RunContextOptions{Registerer: prometheus.NewRegistry()})
	c, err := create(t, rc, PublishStateType, profile.Parameters{"Key": "k"})
	require.NoError(t, err)
	assert.Equal(t, fault.KindInvalidInput, fault.KindOf(c.Initialize(context.Background())))
}
