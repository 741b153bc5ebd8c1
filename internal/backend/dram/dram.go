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

// Package dram provides the pluggable MemoryBackend implementations behind
// internal/fabric/dram's adapter. The cycle-driven timing model proper is
// out of scope (spec.md §1); what lives here is deterministic mock timing
// (a fixed-latency queue, standing in for the external DRAM model) plus an
// optional durability side-channel that mirrors, for an in-flight DRAM
// transaction, how the teacher persisted a rate-limiter commit: an
// idempotent SETNX-then-apply Lua script against Redis
// (internal/ratelimiter/persistence/redis.go in the source tree this was
// adapted from). The side-channel never influences simulated timing — it is
// a durability/observability hook, not part of the adapter contract.
package dram

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"fabricsim/internal/backend"
)

// Options configures a DRAM MemoryBackend.
type Options struct {
	// Kind selects the implementation: "mock" (default, no external deps)
	// or "redis" (mock timing plus Redis-recorded transaction markers).
	Kind string

	// LatencyCycles is the fixed number of backend clock cycles a
	// transaction occupies before completing.
	LatencyCycles int64
	// Capacity bounds the number of transactions in flight at once.
	Capacity int

	// RedisAddr, when Kind=="redis", selects a real go-redis client; empty
	// falls back to a dependency-free logging client, matching the
	// teacher's LoggingRedisEvaler/GoRedisEvaler split.
	RedisAddr string
	// RedisMarkerTTL bounds how long idempotency markers live in Redis.
	RedisMarkerTTL time.Duration
}

// New builds a MemoryBackend per opts.Kind, wired to invoke onComplete for
// every finished transaction.
func New(opts Options, onComplete backend.CompletionFunc) (backend.MemoryBackend, error) {
	if opts.LatencyCycles <= 0 {
		opts.LatencyCycles = 1
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 1 << 20
	}
	m := newMock(opts.LatencyCycles, opts.Capacity, onComplete)
	switch opts.Kind {
	case "", "mock":
		return m, nil
	case "redis":
		ttl := opts.RedisMarkerTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		var evaler redisEvaler
		if opts.RedisAddr != "" {
			evaler = &goRedisEvaler{c: redis.NewClient(&redis.Options{Addr: opts.RedisAddr})}
		} else {
			evaler = loggingRedisEvaler{}
		}
		return &recordingBackend{inner: m, evaler: evaler, markerTTL: ttl}, nil
	default:
		return nil, fmt.Errorf("dram: unknown backend kind %q", opts.Kind)
	}
}

// mockBackend is the deterministic, dependency-free cycle-driven model: a
// fixed-latency, capacity-bounded queue of in-flight transactions, keyed by
// address so multiple outstanding transactions to distinct addresses
// complete independently and in FIFO order per address.
type mockBackend struct {
	latency     int64
	capacity    int
	onComplete  backend.CompletionFunc
	inflight    map[uint64][]int64 // addr -> remaining cycles, oldest first
	outstanding int
}

func newMock(latency int64, capacity int, onComplete backend.CompletionFunc) *mockBackend {
	return &mockBackend{
		latency:    latency,
		capacity:   capacity,
		onComplete: onComplete,
		inflight:   make(map[uint64][]int64),
	}
}

func (m *mockBackend) WillAccept(addr uint64, isWrite bool) bool {
	return m.outstanding < m.capacity
}

func (m *mockBackend) AddTransaction(addr uint64, isWrite bool) {
	m.inflight[addr] = append(m.inflight[addr], m.latency)
	m.outstanding++
}

func (m *mockBackend) ClockTick() {
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

// recordingBackend wraps mockBackend's deterministic timing with an
// idempotent Redis durability record of each admitted transaction, mirroring
// RedisPersister.CommitBatch's SETNX-then-apply pattern. The Redis round
// trip is fire-and-forget relative to simulated time: it never gates
// WillAccept/ClockTick, only observes them.
type recordingBackend struct {
	inner     *mockBackend
	evaler    redisEvaler
	markerTTL time.Duration
	seq       uint64
}

func (r *recordingBackend) WillAccept(addr uint64, isWrite bool) bool {
	return r.inner.WillAccept(addr, isWrite)
}

func (r *recordingBackend) AddTransaction(addr uint64, isWrite bool) {
	r.inner.AddTransaction(addr, isWrite)
	r.seq++
	markerKey := fmt.Sprintf("dram:txn:%d:%d", addr, r.seq)
	counterKey := fmt.Sprintf("dram:addr:%d", addr)
	_, _ = r.evaler.Eval(context.Background(), recordScript, []string{counterKey, markerKey}, boolToInt(isWrite), int(r.markerTTL.Seconds()))
}

func (r *recordingBackend) ClockTick() { r.inner.ClockTick() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// redisEvaler abstracts the minimal surface needed from a Redis client,
// matching the teacher's RedisEvaler seam so a real client and a
// dependency-free logging client are interchangeable.
type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// recordScript marks a DRAM transaction durable exactly once per marker key
// and tallies per-address write/read counts, independent of simulated
// timing.
const recordScript = `
local counterKey = KEYS[1]
local markerKey = KEYS[2]
local isWrite = tonumber(ARGV[1])
local ttlSeconds = tonumber(ARGV[2])
local set = redis.call('SETNX', markerKey, 1)
if set == 1 then
  if isWrite == 1 then
    redis.call('HINCRBY', counterKey, 'writes', 1)
  else
    redis.call('HINCRBY', counterKey, 'reads', 1)
  end
  if ttlSeconds and ttlSeconds > 0 then
    redis.call('EXPIRE', markerKey, ttlSeconds)
  end
  return 1
end
return 0
`

type loggingRedisEvaler struct{}

func (loggingRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return int64(1), nil
}

type goRedisEvaler struct{ c *redis.Client }

func (g *goRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return g.c.Eval(ctx, script, keys, args...).Result()
}
