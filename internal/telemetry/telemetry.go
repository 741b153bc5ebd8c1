// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry mirrors internal/ratelimiter/telemetry/churn's pattern of
// opt-in Prometheus instrumentation layered over stats the core already
// computes: every method here is a thin additional surface over numbers the
// CSV/text stats (internal/statlog, each device's LogStats) already carry,
// never a source of truth in its own right. A nil *Metrics is safe to call
// every method on — instrumentation is always optional.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds one run's Prometheus collectors, registered against a private
// registry (never the global DefaultRegisterer) so that constructing more
// than one Metrics in the same process — as package tests do — never panics
// on duplicate registration.
type Metrics struct {
	registry *prometheus.Registry

	busUtilization   *prometheus.GaugeVec
	busReversals     *prometheus.CounterVec
	switchPortDepth  *prometheus.GaugeVec
	snoopEvictions   *prometheus.CounterVec
	packetsCompleted prometheus.Counter
	server           *http.Server
}

// New constructs a Metrics with every collector registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		busUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fabricsim_bus_utilization_ratio",
			Help: "Fraction of simulated ticks, up to the bus's last reservation end, each bus spent transferring.",
		}, []string{"bus"}),
		busReversals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fabricsim_bus_direction_reversals_total",
			Help: "Half-duplex direction reversals observed per bus.",
		}, []string{"bus"}),
		switchPortDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fabricsim_switch_port_queue_depth",
			Help: "Average sub-queue depth sampled per switch output port.",
		}, []string{"switch", "port"}),
		snoopEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fabricsim_snoop_evictions_total",
			Help: "Snoop-filter evictions triggered per requesting host.",
		}, []string{"snoop", "host"}),
		packetsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fabricsim_packets_completed_total",
			Help: "Top-level requests that completed with a response logged.",
		}),
	}
	reg.MustRegister(m.busUtilization, m.busReversals, m.switchPortDepth, m.snoopEvictions, m.packetsCompleted)
	return m
}

// SetBusUtilization records a bus's average-utilization gauge.
func (m *Metrics) SetBusUtilization(bus string, ratio float64) {
	if m == nil {
		return
	}
	m.busUtilization.WithLabelValues(bus).Set(ratio)
}

// IncBusReversal increments a bus's direction-reversal counter.
func (m *Metrics) IncBusReversal(bus string) {
	if m == nil {
		return
	}
	m.busReversals.WithLabelValues(bus).Inc()
}

// SetSwitchPortDepth records one output port's average queue depth.
func (m *Metrics) SetSwitchPortDepth(sw, port string, depth float64) {
	if m == nil {
		return
	}
	m.switchPortDepth.WithLabelValues(sw, port).Set(depth)
}

// IncSnoopEviction increments the eviction count attributed to host, the
// requester whose full-set miss triggered the eviction.
func (m *Metrics) IncSnoopEviction(snoop, host string) {
	if m == nil {
		return
	}
	m.snoopEvictions.WithLabelValues(snoop, host).Inc()
}

// IncPacketsCompleted increments the run-wide completed-request counter.
func (m *Metrics) IncPacketsCompleted() {
	if m == nil {
		return
	}
	m.packetsCompleted.Inc()
}

// Serve starts a background /metrics HTTP listener on addr, matching the
// teacher's startMetricsEndpoint. A no-op if m is nil or addr is empty.
func (m *Metrics) Serve(addr string) {
	if m == nil || addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return
		}
	}()
}

// Shutdown stops the background listener, if one was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
