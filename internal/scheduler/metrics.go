package scheduler

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "hostbench_"

// Metrics are the scheduler's prometheus collectors.
type Metrics struct {
	Executions *prometheus.CounterVec
	Retries    *prometheus.CounterVec
	Skips      *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Iterations prometheus.Counter
	RunState   *prometheus.GaugeVec
}

// NewMetrics creates the scheduler collectors and registers them with reg.
// Collectors already registered by an earlier run are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "component_executions_total",
			Help: "Component executions by category, type and outcome",
		}, []string{"category", "type", "outcome"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "component_retries_total",
			Help: "Component execution retries by category and type",
		}, []string{"category", "type"}),
		Skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "component_skips_total",
			Help: "Components skipped by category and reason",
		}, []string{"category", "reason"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricPrefix + "component_duration_seconds",
			Help:    "Component execution duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"category", "type"}),
		Iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "action_iterations_total",
			Help: "Completed iterations of the action list",
		}),
		RunState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "run_state",
			Help: "1 for the current state of the run, 0 otherwise",
		}, []string{"state"}),
	}
	if reg == nil {
		return m
	}
	m.Executions = register(reg, m.Executions)
	m.Retries = register(reg, m.Retries)
	m.Skips = register(reg, m.Skips)
	m.Duration = register(reg, m.Duration)
	m.Iterations = register(reg, m.Iterations)
	m.RunState = register(reg, m.RunState)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		slog.Error("failed to register prometheus metric", slog.String("error", err.Error()))
	}
	return c
}

func (m *Metrics) setState(s RunState) {
	for _, state := range allRunStates {
		v := 0.0
		if state == s {
			v = 1
		}
		m.RunState.WithLabelValues(string(state)).Set(v)
	}
}
