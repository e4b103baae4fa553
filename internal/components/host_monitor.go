package components

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"hostbench/internal/component"
	"hostbench/internal/fault"
	"hostbench/internal/profile"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"
)

type hostMonitorOptions struct {
	ProcRoot string
}

// HostMonitor samples load average and memory from procfs into prometheus
// gauges. It only runs on Linux.
type HostMonitor struct {
	opts   hostMonitorOptions
	fs     procfs.FS
	logger *slog.Logger
	load   *prometheus.GaugeVec
	memory *prometheus.GaugeVec
}

var (
	hostLoadDesc = prometheus.GaugeOpts{
		Name: "hostbench_host_load_average",
		Help: "Host load average by period",
	}
	hostMemoryDesc = prometheus.GaugeOpts{
		Name: "hostbench_host_memory_bytes",
		Help: "Host memory by kind",
	}
)

func newHostMonitor(rc *component.RunContext, d profile.ComponentDescriptor) (component.Component, error) {
	m := &HostMonitor{opts: hostMonitorOptions{ProcRoot: procfs.DefaultMountPoint}, logger: componentLogger(rc, d)}
	if err := component.DecodeOptions(d.Parameters, &m.opts); err != nil {
		return nil, err
	}
	m.load = registerGaugeVec(rc.Registerer(), prometheus.NewGaugeVec(hostLoadDesc, []string{"period"}))
	m.memory = registerGaugeVec(rc.Registerer(), prometheus.NewGaugeVec(hostMemoryDesc, []string{"kind"}))
	return m, nil
}

func registerGaugeVec(reg prometheus.Registerer, g *prometheus.GaugeVec) *prometheus.GaugeVec {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.GaugeVec)
		}
		slog.Error("failed to register prometheus metric", slog.String("error", err.Error()))
	}
	return g
}

// IsSupported limits the monitor to Linux hosts.
func (m *HostMonitor) IsSupported(rc *component.RunContext) error {
	if !strings.HasPrefix(rc.Platform(), "linux-") {
		return fault.New(fault.KindNotSupported, fault.ReasonPlatformNotSupported, "%s is not supported on %s", HostMonitorType, rc.Platform())
	}
	return nil
}

func (m *HostMonitor) Initialize(context.Context) error {
	fs, err := procfs.NewFS(m.opts.ProcRoot)
	if err != nil {
		return fault.Wrap(fault.KindNotSupported, fault.ReasonPlatformNotSupported, err, "procfs is not available at %s", m.opts.ProcRoot)
	}
	m.fs = fs
	return nil
}

func (m *HostMonitor) Execute(context.Context) error {
	load, err := m.fs.LoadAvg()
	if err != nil {
		return fmt.Errorf("failed to read load average: %w", err)
	}
	m.load.WithLabelValues("1m").Set(load.Load1)
	m.load.WithLabelValues("5m").Set(load.Load5)
	m.load.WithLabelValues("15m").Set(load.Load15)

	meminfo, err := m.fs.Meminfo()
	if err != nil {
		return fmt.Errorf("failed to read meminfo: %w", err)
	}
	attrs := []any{slog.Float64("load1", load.Load1), slog.Float64("load5", load.Load5), slog.Float64("load15", load.Load15)}
	for kind, kb := range map[string]*uint64{"total": meminfo.MemTotal, "free": meminfo.MemFree, "available": meminfo.MemAvailable} {
		if kb == nil {
			continue
		}
		bytes := float64(*kb) * 1024
		m.memory.WithLabelValues(kind).Set(bytes)
		attrs = append(attrs, slog.Float64("mem_"+kind, bytes))
	}
	m.logger.Debug("host metrics", attrs...)
	return nil
}
