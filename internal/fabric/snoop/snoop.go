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

// Package snoop implements the set-associative, directory-less inclusive
// snoop filter, per spec.md §4.8. It is not a MESI/MOESI protocol — lines
// carry only {EXCLUSIVE, WAIT_DRAM, EVICTING, INVALID} and a single owner.
package snoop

import (
	"container/list"
	"fmt"
	"io"
	"sort"

	"fabricsim/internal/fabric/device"
	"fabricsim/internal/fabric/packet"
	"fabricsim/internal/telemetry"
)

const lineSize = 64

type lineState int

const (
	stateInvalid lineState = iota
	stateExclusive
	stateWaitDRAM
	stateEvicting
)

// line is one way's content within a set.
type line struct {
	addr  uint64
	owner packet.TopoId
	state lineState
	valid bool
}

// setData is one set's ways plus the requests parked on an in-flight
// eviction for that set.
type setData struct {
	ways    []line
	waiting *list.List // of *packet.Packet, oldest first
}

// Config holds the per-device fields spec.md §6 names for a snoop block.
type Config struct {
	LineNum     int
	Assoc       int
	MaxBurstInv int
	Eviction    string // FIFO, LIFO, LRU, MRU, LFI

	Metrics *telemetry.Metrics // optional; nil disables live counter updates
}

// Snoop is the snoop-filter device.
type Snoop struct {
	device.Base
	cfg    Config
	setNum int
	sets   []setData
	policy Policy

	hostConflicts map[packet.TopoId]int64
}

// New constructs a Snoop device bound to id/name with the given config.
func New(id packet.TopoId, name string, cfg Config) (*Snoop, error) {
	policy, err := NewPolicy(cfg.Eviction)
	if err != nil {
		return nil, err
	}
	setNum := cfg.LineNum / cfg.Assoc
	if setNum <= 0 {
		return nil, fmt.Errorf("snoop %s: line_num/assoc must be >= 1 (got %d/%d)", name, cfg.LineNum, cfg.Assoc)
	}
	sets := make([]setData, setNum)
	for i := range sets {
		sets[i] = setData{ways: make([]line, cfg.Assoc), waiting: list.New()}
	}
	return &Snoop{
		Base:          device.Base{TopoID: id, Name_: name},
		cfg:           cfg,
		setNum:        setNum,
		sets:          sets,
		policy:        policy,
		hostConflicts: make(map[packet.TopoId]int64),
	}, nil
}

func (s *Snoop) setIndex(addr uint64) int {
	return int((addr / lineSize) % uint64(s.setNum))
}

// Transit implements device.Device.
func (s *Snoop) Transit(ctx *device.Context) {
	node := ctx.Graph.Node(s.TopoID)
	pkt := node.PopInbox()
	if pkt == nil {
		return
	}

	switch {
	case pkt.IsRsp && pkt.Type == packet.INV:
		s.handleInvResponse(ctx, pkt)
	case pkt.IsRsp && pkt.IsCoherent():
		s.handleDRAMResponse(ctx, pkt)
	case !pkt.IsRsp && pkt.IsCoherent():
		s.handleRequest(ctx, pkt)
	default:
		// Non-temporal reads/writes, and anything already a bypassed
		// corrupt/INV request, pass through unchanged.
		ctx.SendTo(s.TopoID, pkt, pkt.Dst)
	}
}

func (s *Snoop) handleRequest(ctx *device.Context, pkt *packet.Packet) {
	set := s.setIndex(pkt.Addr)
	sd := &s.sets[set]

	for way := range sd.ways {
		ln := &sd.ways[way]
		if !ln.valid || ln.addr != pkt.Addr || ln.state == stateEvicting {
			continue
		}
		if ln.owner == pkt.Src {
			s.policy.OnHit(set, way)
			pkt.Src, pkt.Dst = pkt.Dst, pkt.Src
			pkt.IsRsp = true
			ctx.SendTo(s.TopoID, pkt, pkt.Dst)
			return
		}
		s.evictWayAndPark(ctx, set, way, pkt)
		return
	}

	for way := range sd.ways {
		if !sd.ways[way].valid {
			s.installWay(ctx, set, way, pkt)
			return
		}
	}

	s.hostConflicts[pkt.Src]++
	s.cfg.Metrics.IncSnoopEviction(s.Name_, fmt.Sprintf("%d", pkt.Src))
	victim := s.policy.FindVictim(set, s.candidatesFor(set))
	s.evictWayAndPark(ctx, set, victim, pkt)
}

func (s *Snoop) candidatesFor(set int) []wayCandidate {
	sd := &s.sets[set]
	out := make([]wayCandidate, 0, len(sd.ways))
	for way, ln := range sd.ways {
		if ln.valid && ln.state != stateEvicting {
			out = append(out, wayCandidate{Way: way, Addr: ln.addr})
		}
	}
	return out
}

func (s *Snoop) installWay(ctx *device.Context, set, way int, pkt *packet.Packet) {
	sd := &s.sets[set]
	sd.ways[way] = line{addr: pkt.Addr, owner: pkt.Src, state: stateWaitDRAM, valid: true}
	s.policy.OnInsert(set, way, pkt.Addr)
	ctx.SendTo(s.TopoID, pkt, pkt.Dst)
}

// wayRef names one way that participates in a coalesced invalidation burst.
type wayRef struct {
	set, way int
}

// coalesce extends the victim line at addr/owner left and right by whole
// cache lines, so long as the neighbor address is also a valid hit for the
// same owner and the span stays within max_burst_inv, per spec.md §4.8.
func (s *Snoop) coalesce(addr uint64, owner packet.TopoId) (start uint64, refs []wayRef) {
	set0, way0, ok := s.findLine(addr, owner)
	if !ok {
		panic(fmt.Sprintf("snoop %s: coalesce: victim line %d/%d vanished", s.Name_, addr, owner))
	}
	refs = []wayRef{{set0, way0}}
	start = addr

	cur := addr
	for len(refs) < s.cfg.MaxBurstInv {
		cur -= lineSize
		set, way, ok := s.findLine(cur, owner)
		if !ok {
			break
		}
		refs = append([]wayRef{{set, way}}, refs...)
		start = cur
	}
	cur = addr
	for len(refs) < s.cfg.MaxBurstInv {
		cur += lineSize
		set, way, ok := s.findLine(cur, owner)
		if !ok {
			break
		}
		refs = append(refs, wayRef{set, way})
	}
	return start, refs
}

func (s *Snoop) findLine(addr uint64, owner packet.TopoId) (set, way int, ok bool) {
	set = s.setIndex(addr)
	sd := &s.sets[set]
	for w := range sd.ways {
		ln := &sd.ways[w]
		if ln.valid && ln.addr == addr && ln.owner == owner && ln.state != stateEvicting {
			return set, w, true
		}
	}
	return 0, 0, false
}

func (s *Snoop) findEvictingLine(addr uint64, owner packet.TopoId) (set, way int, ok bool) {
	set = s.setIndex(addr)
	sd := &s.sets[set]
	for w := range sd.ways {
		ln := &sd.ways[w]
		if ln.valid && ln.addr == addr && ln.owner == owner && ln.state == stateEvicting {
			return set, w, true
		}
	}
	return 0, 0, false
}

// evictWayAndPark marks the victim line (and any lines coalesced alongside
// it) EVICTING, parks pkt in its set's waiting map, and emits the burst INV
// toward the victim's owner. The invalidation span is carried on the wire
// in pkt.Burst (the number of lines), mirroring the overload spec.md §9
// flags for BurstHandler's child-burst field.
func (s *Snoop) evictWayAndPark(ctx *device.Context, set, way int, pkt *packet.Packet) {
	sd := &s.sets[set]
	victim := sd.ways[way]

	start, refs := s.coalesce(victim.addr, victim.owner)
	for _, r := range refs {
		s.sets[r.set].ways[r.way].state = stateEvicting
	}

	sd.waiting.PushBack(pkt)

	inv := ctx.NewPacket(packet.INV, start, 0, len(refs), pkt.Arrive, s.TopoID, victim.owner)
	ctx.SendTo(s.TopoID, inv, inv.Dst)
}

func (s *Snoop) popWaiting(set int) *packet.Packet {
	sd := &s.sets[set]
	e := sd.waiting.Front()
	if e == nil {
		return nil
	}
	sd.waiting.Remove(e)
	return e.Value.(*packet.Packet)
}

func (s *Snoop) handleInvResponse(ctx *device.Context, invRsp *packet.Packet) {
	owner := invRsp.Src
	start := invRsp.Addr
	span := invRsp.Burst
	tick := invRsp.Arrive

	for i := 0; i < span; i++ {
		addr := start + uint64(i*lineSize)
		set, way, ok := s.findEvictingLine(addr, owner)
		if !ok {
			continue
		}
		sd := &s.sets[set]
		sd.ways[way] = line{}
		s.policy.OnEvict(set, way)

		if pend := s.popWaiting(set); pend != nil {
			sd.ways[way] = line{addr: pend.Addr, owner: pend.Src, state: stateWaitDRAM, valid: true}
			s.policy.OnInsert(set, way, pend.Addr)
			ctx.Stats.Add(pend.ID, packet.SnoopEvictDelay, float64(tick-pend.Arrive))
			pend.Arrive = tick
			ctx.SendTo(s.TopoID, pend, pend.Dst)
		}
	}
}

func (s *Snoop) handleDRAMResponse(ctx *device.Context, pkt *packet.Packet) {
	set, way, ok := s.findLine(pkt.Addr, pkt.Dst)
	if ok && s.sets[set].ways[way].state == stateWaitDRAM {
		s.sets[set].ways[way].state = stateExclusive
		s.retryEvictionIfWaiting(ctx, set)
	}
	ctx.SendTo(s.TopoID, pkt, pkt.Dst)
}

// retryEvictionIfWaiting re-attempts installing the oldest parked request
// in set, per spec.md §4.8's "if the set has waiters, trigger another
// eviction attempt."
func (s *Snoop) retryEvictionIfWaiting(ctx *device.Context, set int) {
	sd := &s.sets[set]
	if sd.waiting.Len() == 0 {
		return
	}
	pend := s.popWaiting(set)

	for way := range sd.ways {
		if !sd.ways[way].valid {
			s.installWay(ctx, set, way, pend)
			return
		}
	}
	candidates := s.candidatesFor(set)
	if len(candidates) == 0 {
		// Nothing evictable right now; re-park and wait for the next
		// DRAM response or INV completion to free a way.
		sd.waiting.PushFront(pend)
		return
	}
	victim := s.policy.FindVictim(set, candidates)
	s.evictWayAndPark(ctx, set, victim, pend)
}

// LogStats implements device.Device.
func (s *Snoop) LogStats(ctx *device.Context, w io.Writer) {
	hosts := make([]packet.TopoId, 0, len(s.hostConflicts))
	for h := range s.hostConflicts {
		hosts = append(hosts, h)
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i] < hosts[j] })
	fmt.Fprintf(w, "snoop %s: eviction_count_histogram:\n", s.Name_)
	for _, h := range hosts {
		fmt.Fprintf(w, "  host %d: %d\n", h, s.hostConflicts[h])
	}
}
