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

// Package host implements Requester, the packet source with an issue
// queue, an LRU filter cache, and a pluggable interleaving policy, per
// spec.md §4.10. The issue queue's admission gate is the teacher's
// Vector-Scalar Accumulator (pkg/vsa): q_capacity is the VSA's scalar,
// TryConsume/Update gate and release outstanding request slots the same
// way they gated rate-limiter tokens in the teacher.
package host

import (
	"container/list"
	"fmt"
	"io"

	"fabricsim/internal/fabric/device"
	"fabricsim/internal/fabric/packet"
	"fabricsim/internal/statlog"
	"fabricsim/internal/telemetry"
	"fabricsim/pkg/vsa"
)

const cacheLineBytes = 64

// Config holds the per-device fields spec.md §6 names for a host block.
type Config struct {
	QCapacity    int64
	CacheCapacity int
	CacheDelay    int64
	IssueDelay    int64
	Coherent      bool
	BurstSize     int
	BlockSize     int

	Sink    *statlog.CSVWriter // nil disables per-packet CSV logging
	Metrics *telemetry.Metrics // optional; nil disables live counter updates
}

type endpointStats struct {
	count        int64
	cacheHits    int64
	bandwidth    int64
	latencySum   int64
	waitEvictSum float64
}

// Host is the Requester device.
type Host struct {
	device.Base
	cfg Config

	interleaver Interleaver
	endpoints   []Endpoint
	cache       *lru

	vsa         *vsa.VSA
	outstanding map[packet.ID]struct{}
	queueFull   bool

	cur         int64
	lastArrive  int64
	allIssued   bool
	evictCount  int64

	stats map[packet.TopoId]*endpointStats
}

// New constructs a Host device bound to id/name with the given config,
// endpoint list, and interleaver.
func New(id packet.TopoId, name string, cfg Config, endpoints []Endpoint, interleaver Interleaver) *Host {
	return &Host{
		Base:        device.Base{TopoID: id, Name_: name},
		cfg:         cfg,
		interleaver: interleaver,
		endpoints:   endpoints,
		cache:       newLRU(cfg.CacheCapacity),
		vsa:         vsa.New(cfg.QCapacity),
		outstanding: make(map[packet.ID]struct{}),
		stats:       make(map[packet.TopoId]*endpointStats),
	}
}

// Start schedules this Requester's first issue attempt; the setup code
// calls this once per host after every device is registered.
func (h *Host) Start(ctx *device.Context) {
	ctx.Engine.Schedule(0, func() { h.tryIssue(ctx) })
}

// Transit implements device.Device: it handles only packets that arrive in
// this host's inbox (responses and INV requests). New outgoing requests are
// driven by tryIssue's self-scheduled events, per spec.md §4.10's "Issue
// step" being distinct from transit dispatch.
func (h *Host) Transit(ctx *device.Context) {
	node := ctx.Graph.Node(h.TopoID)
	pkt := node.PopInbox()
	if pkt == nil {
		return
	}
	switch {
	case pkt.IsRsp:
		h.onResponse(ctx, pkt)
	case pkt.Type == packet.INV:
		h.onInvRequest(ctx, pkt)
	default:
		ctx.Log.Errorf("host %s: dropped unexpected request packet %d", h.Name_, pkt.ID)
	}
}

func (h *Host) tryIssue(ctx *device.Context) {
	if h.vsa.Available() <= 0 {
		if h.lastArrive > h.cur {
			h.cur = h.lastArrive
		}
		h.queueFull = true
		return
	}

	req, ok := h.interleaver.Next()
	if !ok {
		if !h.allIssued {
			h.allIssued = true
			h.emitTerminationMarkers(ctx)
		}
		return
	}

	if req.Tick != 0 {
		h.cur = req.Tick
	} else {
		h.cur += h.cfg.IssueDelay
	}

	st := h.statsFor(req.Endpoint)
	if h.cache.Has(req.Addr) {
		st.cacheHits++
		st.bandwidth += int64(h.cfg.BurstSize) * cacheLineBytes
		st.latencySum += h.cfg.CacheDelay
		h.cur += h.cfg.CacheDelay
		ctx.Engine.Schedule(h.cur, func() { h.tryIssue(ctx) })
		return
	}

	typ := requestType(req.IsWrite, h.cfg.Coherent)
	payload := 0
	if req.IsWrite {
		payload = h.cfg.BlockSize
	}
	pkt := ctx.NewPacket(typ, req.Addr, payload, h.cfg.BurstSize, h.cur, h.TopoID, req.Endpoint)
	if !h.vsa.TryConsume(1) {
		panic(fmt.Sprintf("host %s: issue queue admission check failed after availability passed", h.Name_))
	}
	h.outstanding[pkt.ID] = struct{}{}
	ctx.SendTo(h.TopoID, pkt, pkt.Dst)

	ctx.Engine.Schedule(h.cur, func() { h.tryIssue(ctx) })
}

func requestType(isWrite, coherent bool) packet.Type {
	switch {
	case !isWrite && !coherent:
		return packet.NtRD
	case !isWrite && coherent:
		return packet.RD
	case isWrite && !coherent:
		return packet.NtWT
	default:
		return packet.WT
	}
}

func (h *Host) onResponse(ctx *device.Context, pkt *packet.Packet) {
	h.lastArrive = pkt.Arrive
	h.cache.Touch(pkt.Addr)

	if _, tracked := h.outstanding[pkt.ID]; !tracked {
		// A termination-marker round trip, or another untracked
		// completion; nothing further to reconcile.
		ctx.Stats.Free(pkt.ID)
		return
	}

	st := h.statsFor(pkt.Src)
	st.count++
	st.bandwidth += int64(pkt.Payload)
	st.latencySum += pkt.Arrive - pkt.Sent
	st.waitEvictSum += ctx.Stats.Get(pkt.ID, packet.SnoopEvictDelay)

	wasFull := h.queueFull
	delete(h.outstanding, pkt.ID)
	h.vsa.Update(-1)

	if h.cfg.Sink != nil {
		row := h.buildRow(ctx, pkt)
		if err := h.cfg.Sink.LogPacket(row); err != nil {
			ctx.Log.Errorf("host %s: packet log write failed: %v", h.Name_, err)
		}
	}
	ctx.Stats.Free(pkt.ID)
	h.cfg.Metrics.IncPacketsCompleted()

	if wasFull {
		h.queueFull = false
		ctx.Engine.Schedule(pkt.Arrive, func() { h.tryIssue(ctx) })
	}
}

func (h *Host) onInvRequest(ctx *device.Context, pkt *packet.Packet) {
	h.cache.Invalidate(pkt.Addr)
	h.evictCount++

	pkt.Src, pkt.Dst = pkt.Dst, pkt.Src
	pkt.IsRsp = true
	span := pkt.Burst
	if span <= 0 {
		span = 1
	}
	pkt.Payload = h.cfg.BlockSize * span
	ctx.Stats.Add(pkt.ID, packet.HostInvDelay, float64(h.cfg.CacheDelay))
	pkt.Arrive += h.cfg.CacheDelay
	ctx.SendTo(h.TopoID, pkt, pkt.Dst)
}

func (h *Host) emitTerminationMarkers(ctx *device.Context) {
	for _, ep := range h.endpoints {
		pkt := ctx.NewPacket(packet.RD, ep.Start, 0, 0, h.cur, h.TopoID, ep.ID)
		ctx.SendTo(h.TopoID, pkt, pkt.Dst)
	}
}

func (h *Host) statsFor(ep packet.TopoId) *endpointStats {
	st, ok := h.stats[ep]
	if !ok {
		st = &endpointStats{}
		h.stats[ep] = st
	}
	return st
}

func (h *Host) buildRow(ctx *device.Context, pkt *packet.Packet) statlog.Row {
	get := func(k packet.StatKind) float64 { return ctx.Stats.Get(pkt.ID, k) }
	return statlog.Row{
		ID:                pkt.ID,
		Host:              h.Name_,
		TypeName:          pkt.Type.String(),
		MemID:             pkt.Src,
		Addr:              pkt.Addr,
		Sent:              pkt.Sent,
		Arrive:            pkt.Arrive,
		DeviceProcessTime: get(packet.DeviceProcessTime),
		DRAMQTime:         get(packet.DRAMInterfaceQueuingDelay),
		DRAMTime:          get(packet.DRAMTime),
		FramingTime:       get(packet.FramingTime),
		PackagingDelay:    get(packet.PackagingDelay),
		WaitBurst:         get(packet.WaitAllBurst),
		BusQTime:          get(packet.BusQueueDelay),
		BusTime:           get(packet.BusTime),
		SwitchQTime:       get(packet.SwitchQueueDelay),
		SwitchTime:        get(packet.SwitchTime),
		SnoopEvictTime:    get(packet.SnoopEvictDelay),
		HostInvTime:       get(packet.HostInvDelay),
	}
}

// AllIssued reports whether the interleaver's finite sequence is exhausted.
func (h *Host) AllIssued() bool { return h.allIssued }

// QEmpty reports whether the issue queue is empty.
func (h *Host) QEmpty() bool { return len(h.outstanding) == 0 }

// LogStats implements device.Device.
func (h *Host) LogStats(ctx *device.Context, w io.Writer) {
	for ep, st := range h.stats {
		avgLatency := 0.0
		if st.count > 0 {
			avgLatency = float64(st.latencySum) / float64(st.count)
		}
		avgWaitEvict := 0.0
		if st.count > 0 {
			avgWaitEvict = st.waitEvictSum / float64(st.count)
		}
		fmt.Fprintf(w, "host %s -> %d: count=%d cache_hits=%d bandwidth=%d average_latency=%.4f average_wait_evict=%.4f\n",
			h.Name_, ep, st.count, st.cacheHits, st.bandwidth, avgLatency, avgWaitEvict)
	}
	fmt.Fprintf(w, "host %s: invalidations=%d\n", h.Name_, h.evictCount)
}

// lru is a small fixed-capacity LRU of recently completed addresses.
type lru struct {
	capacity int
	order    *list.List
	index    map[uint64]*list.Element
}

func newLRU(capacity int) *lru {
	if capacity <= 0 {
		capacity = 1
	}
	return &lru{capacity: capacity, order: list.New(), index: make(map[uint64]*list.Element)}
}

func (l *lru) Has(addr uint64) bool {
	_, ok := l.index[addr]
	return ok
}

func (l *lru) Touch(addr uint64) {
	if e, ok := l.index[addr]; ok {
		l.order.MoveToFront(e)
		return
	}
	e := l.order.PushFront(addr)
	l.index[addr] = e
	if l.order.Len() > l.capacity {
		back := l.order.Back()
		l.order.Remove(back)
		delete(l.index, back.Value.(uint64))
	}
}

func (l *lru) Invalidate(addr uint64) {
	if e, ok := l.index[addr]; ok {
		l.order.Remove(e)
		delete(l.index, addr)
	}
}
