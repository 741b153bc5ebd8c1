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

// Package ssd provides the pluggable MemoryBackend implementations behind
// internal/fabric/dram's adapter when it is wired to a device of config type
// "ssd". The NAND/SSD internals (FTL, page-mapping GC, PAL, error/retry) are
// explicitly out of scope per spec.md §1; what this package models is the
// single NAND-specific behavior spec.md's SPEC_FULL expansion calls for: a
// per-tick write budget standing in for write-amplification throttling, plus
// the same durability side-channel pattern as the DRAM backend, here
// publishing completions as an idempotent event stream (adapted from the
// teacher's KafkaPersister/KafkaProducer).
package ssd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fabricsim/internal/backend"
)

// Options configures an SSD MemoryBackend.
type Options struct {
	// Kind selects the implementation: "mock" (default) or "kafka" (mock
	// timing plus a published completion event stream).
	Kind string

	LatencyCycles     int64
	Capacity          int
	WriteBudgetPerTick int // 0 disables the write throttle

	KafkaTopic string
}

// New builds a MemoryBackend per opts.Kind.
func New(opts Options, onComplete backend.CompletionFunc) (backend.MemoryBackend, error) {
	if opts.LatencyCycles <= 0 {
		opts.LatencyCycles = 1
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 1 << 20
	}
	m := newMock(opts.LatencyCycles, opts.Capacity, opts.WriteBudgetPerTick, onComplete)
	switch opts.Kind {
	case "", "mock":
		return m, nil
	case "kafka":
		topic := opts.KafkaTopic
		if topic == "" {
			topic = "fabricsim-ssd-completions"
		}
		p := &publishingBackend{inner: m, producer: loggingProducer{}, topic: topic}
		wrapped := onComplete
		m.onComplete = func(a uint64) {
			p.publish(a)
			wrapped(a)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("ssd: unknown backend kind %q", opts.Kind)
	}
}

// mockBackend is the deterministic cycle-driven model: a fixed-latency,
// capacity-bounded, per-address FIFO queue, the same shape as the DRAM mock,
// plus a per-tick write-admission budget (the one NAND-specific knob this
// adapter models — see package doc).
type mockBackend struct {
	latency      int64
	capacity     int
	writeBudget  int
	writesThisTick int
	onComplete   backend.CompletionFunc
	inflight     map[uint64][]int64
	outstanding  int
}

func newMock(latency int64, capacity, writeBudget int, onComplete backend.CompletionFunc) *mockBackend {
	return &mockBackend{
		latency:     latency,
		capacity:    capacity,
		writeBudget: writeBudget,
		onComplete:  onComplete,
		inflight:    make(map[uint64][]int64),
	}
}

func (m *mockBackend) WillAccept(addr uint64, isWrite bool) bool {
	if m.outstanding >= m.capacity {
		return false
	}
	if isWrite && m.writeBudget > 0 && m.writesThisTick >= m.writeBudget {
		return false
	}
	return true
}

func (m *mockBackend) AddTransaction(addr uint64, isWrite bool) {
	m.inflight[addr] = append(m.inflight[addr], m.latency)
	m.outstanding++
	if isWrite {
		m.writesThisTick++
	}
}

func (m *mockBackend) ClockTick() {
	m.writesThisTick = 0
	if len(m.inflight) == 0 {
		return
	}
	for addr, remaining := range m.inflight {
		if len(remaining) == 0 {
			continue
		}
		remaining[0]--
		if remaining[0] <= 0 {
			m.inflight[addr] = remaining[1:]
			m.outstanding--
			if len(m.inflight[addr]) == 0 {
				delete(m.inflight, addr)
			}
			m.onComplete(addr)
			continue
		}
		m.inflight[addr] = remaining
	}
}

// publishingBackend wraps mockBackend's deterministic timing, publishing one
// event per completed transaction. It never gates timing on the publish
// outcome — matching KafkaPersister's "producer retries/broker-dedups,
// consumer tracks last-applied" idempotency story, simplified to a
// fire-and-forget log here since there is no broker in-process.
type publishingBackend struct {
	inner    *mockBackend
	producer producer
	topic    string
}

func (p *publishingBackend) WillAccept(addr uint64, isWrite bool) bool {
	return p.inner.WillAccept(addr, isWrite)
}

func (p *publishingBackend) AddTransaction(addr uint64, isWrite bool) {
	p.inner.AddTransaction(addr, isWrite)
}

func (p *publishingBackend) ClockTick() { p.inner.ClockTick() }

func (p *publishingBackend) publish(addr uint64) {
	msg := completionEvent{Addr: addr, TsUnixMs: time.Now().UnixMilli()}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = p.producer.Produce(context.Background(), p.topic, addrKey(addr), b)
}

func addrKey(addr uint64) []byte {
	return []byte(fmt.Sprintf("%d", addr))
}

type completionEvent struct {
	Addr     uint64 `json:"addr"`
	TsUnixMs int64  `json:"ts_unix_ms"`
}

// producer is a minimal abstraction over an event-stream client, matching
// the teacher's KafkaProducer seam.
type producer interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
}

type loggingProducer struct{}

func (loggingProducer) Produce(ctx context.Context, topic string, key, value []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return nil
}
