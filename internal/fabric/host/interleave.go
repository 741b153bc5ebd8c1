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

package host

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"

	"fabricsim/internal/fabric/packet"
)

// Endpoint is one of a Requester's configured memory destinations.
type Endpoint struct {
	ID         packet.TopoId
	Start      uint64
	Capacity   uint64
	WriteRatio float64
}

// Request is one value an Interleaver yields: a destination, an address, an
// optional fixed tick (0 means "use the scheduler's running clock"), and
// whether it is a write.
type Request struct {
	Endpoint packet.TopoId
	Addr     uint64
	Tick     int64
	IsWrite  bool
}

// Interleaver is the pluggable address-generation policy driving a
// Requester, per spec.md §4.10/§9. It is finite: Next returns ok=false once
// exhausted.
type Interleaver interface {
	Next() (Request, bool)
}

// Stream round-robins across endpoints, emitting the next aligned block and
// wrapping at start+capacity.
type Stream struct {
	eps       []Endpoint
	next      []uint64
	cursor    int
	remaining int64
	blockSize uint64
	rng       *rand.Rand
}

// NewStream constructs a Stream interleaver that yields exactly count
// requests (count <= 0 means "unbounded" is not supported — spec.md §4.10
// requires every interleaver to be finite).
func NewStream(eps []Endpoint, count int64, blockSize uint64, seed int64) *Stream {
	return &Stream{
		eps:       eps,
		next:      make([]uint64, len(eps)),
		remaining: count,
		blockSize: blockSize,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

func (s *Stream) Next() (Request, bool) {
	if s.remaining <= 0 || len(s.eps) == 0 {
		return Request{}, false
	}
	ep := s.eps[s.cursor]
	addr := ep.Start + s.next[s.cursor]
	if ep.Capacity > 0 {
		s.next[s.cursor] = (s.next[s.cursor] + s.blockSize) % ep.Capacity
	}
	isWrite := s.rng.Float64() < ep.WriteRatio
	s.cursor = (s.cursor + 1) % len(s.eps)
	s.remaining--
	return Request{Endpoint: ep.ID, Addr: addr, IsWrite: isWrite}, true
}

// Random draws a clamped Normal(0.5, 0.5) sample per request and maps it
// onto an aligned block within the current endpoint's window.
type Random struct {
	eps       []Endpoint
	cursor    int
	remaining int64
	blockSize uint64
	rng       *rand.Rand
}

// NewRandom constructs a Random interleaver yielding exactly count requests.
func NewRandom(eps []Endpoint, count int64, blockSize uint64, seed int64) *Random {
	return &Random{eps: eps, remaining: count, blockSize: blockSize, rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) Next() (Request, bool) {
	if r.remaining <= 0 || len(r.eps) == 0 {
		return Request{}, false
	}
	ep := r.eps[r.cursor]
	x := r.rng.NormFloat64()*0.5 + 0.5
	if x < 0 {
		x = 0
	}
	if x > 1 {
		x = 1
	}
	blocks := float64(ep.Capacity / r.blockSize)
	addr := uint64(blocks*x)*r.blockSize + ep.Start
	isWrite := r.rng.Float64() < ep.WriteRatio
	r.cursor = (r.cursor + 1) % len(r.eps)
	r.remaining--
	return Request{Endpoint: ep.ID, Addr: addr, IsWrite: isWrite}, true
}

// TraceEntry is one parsed (addr, op, tick) line from a trace file.
type TraceEntry struct {
	Addr    uint64
	IsWrite bool
	Tick    int64
}

var writeKeywords = map[string]bool{
	"write": true, "wr": true, "st": true, "store": true, "w": true,
}

// ParseTrace reads whitespace-separated "hex_addr op_kind tick" lines.
func ParseTrace(r io.Reader) ([]TraceEntry, error) {
	var entries []TraceEntry
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 3 {
			return nil, fmt.Errorf("interleave: trace line %d: expected 3 fields, got %d", line, len(fields))
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(fields[0], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("interleave: trace line %d: bad hex address: %w", line, err)
		}
		tick, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("interleave: trace line %d: bad tick: %w", line, err)
		}
		entries = append(entries, TraceEntry{
			Addr:    addr,
			IsWrite: writeKeywords[strings.ToLower(fields[1])],
			Tick:    tick,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Trace replays a parsed sequence of TraceEntry against a single endpoint,
// wrapping addresses into [start, start+capacity).
type Trace struct {
	ep      Endpoint
	entries []TraceEntry
	idx     int
}

// NewTrace constructs a Trace interleaver over a single endpoint.
func NewTrace(ep Endpoint, entries []TraceEntry) *Trace {
	return &Trace{ep: ep, entries: entries}
}

func (t *Trace) Next() (Request, bool) {
	if t.idx >= len(t.entries) {
		return Request{}, false
	}
	e := t.entries[t.idx]
	t.idx++
	addr := e.Addr
	if t.ep.Capacity > 0 {
		addr = t.ep.Start + (e.Addr % t.ep.Capacity)
	}
	return Request{Endpoint: t.ep.ID, Addr: addr, Tick: e.Tick, IsWrite: e.IsWrite}, true
}
