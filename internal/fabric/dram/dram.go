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

// Package dram implements the DRAM adapter, the bridge between the
// event-driven simulator and an external, cycle-driven memory model, per
// spec.md §4.9. The model itself lives behind the pluggable
// internal/backend.MemoryBackend contract; this package only owns the
// pending/issued queues and the tick-domain translation.
package dram

import (
	"container/list"
	"fmt"
	"io"

	"fabricsim/internal/backend"
	"fabricsim/internal/fabric/device"
	"fabricsim/internal/fabric/packet"
)

const cacheLineBytes = 64

// Config holds the per-device fields spec.md §6 names for a dram block.
type Config struct {
	TickPerClock int64  // engine ticks per one backend clock cycle
	ProcessTime  int64
	Base         uint64 // address-space offset subtracted before reaching the backend
}

// BackendFactory builds the external MemoryBackend given a completion
// callback; internal/backend/dram and internal/backend/ssd both satisfy
// this shape via their own New functions.
type BackendFactory func(onComplete backend.CompletionFunc) (backend.MemoryBackend, error)

// Dram is the DRAM (or, via the symmetric internal/backend/ssd backend,
// NAND/SSD) adapter device.
type Dram struct {
	device.Base
	cfg     Config
	backend backend.MemoryBackend

	pending []*packet.Packet
	issued  map[uint64]*list.List // backend-relative addr -> FIFO

	interfaceTick int64
	ctx           *device.Context
}

// New constructs a Dram device bound to id/name, building its backend via
// mk with this device's completion callback already wired.
func New(id packet.TopoId, name string, cfg Config, mk BackendFactory) (*Dram, error) {
	if cfg.TickPerClock <= 0 {
		cfg.TickPerClock = 1
	}
	d := &Dram{
		Base:   device.Base{TopoID: id, Name_: name},
		cfg:    cfg,
		issued: make(map[uint64]*list.List),
	}
	b, err := mk(d.onComplete)
	if err != nil {
		return nil, fmt.Errorf("dram %s: %w", name, err)
	}
	d.backend = b
	return d, nil
}

// Transit implements device.Device.
func (d *Dram) Transit(ctx *device.Context) {
	d.ctx = ctx
	node := ctx.Graph.Node(d.TopoID)
	pkt := node.PopInbox()
	if pkt == nil {
		return
	}

	ctx.Stats.Add(pkt.ID, packet.DeviceProcessTime, float64(d.cfg.ProcessTime))
	pkt.Arrive += d.cfg.ProcessTime
	d.pending = append(d.pending, pkt)

	d.issue()
}

// issue implements spec.md §4.9's issue(): for each pending packet in
// order, advance the backend clock until it has caught up to the packet's
// arrive bound, then attempt admission.
func (d *Dram) issue() {
	remaining := d.pending[:0]
	for _, pkt := range d.pending {
		for d.interfaceTick*d.cfg.TickPerClock < pkt.Arrive {
			d.backend.ClockTick()
			d.interfaceTick++
		}
		now := d.interfaceTick * d.cfg.TickPerClock
		isWrite := pkt.IsWrite()
		relAddr := pkt.Addr - d.cfg.Base

		if d.backend.WillAccept(relAddr, isWrite) {
			if now > pkt.Arrive {
				d.ctx.Stats.Add(pkt.ID, packet.DRAMInterfaceQueuingDelay, float64(now-pkt.Arrive))
			}
			pkt.Arrive = now
			q, ok := d.issued[relAddr]
			if !ok {
				q = list.New()
				d.issued[relAddr] = q
			}
			q.PushBack(pkt)
			d.backend.AddTransaction(relAddr, isWrite)
			continue
		}
		remaining = append(remaining, pkt)
	}
	d.pending = remaining
}

func (d *Dram) onComplete(relAddr uint64) {
	q, ok := d.issued[relAddr]
	if !ok || q.Len() == 0 {
		panic(fmt.Sprintf("dram %s: on_complete for address %d with no issued request", d.Name_, relAddr))
	}
	e := q.Front()
	q.Remove(e)
	if q.Len() == 0 {
		delete(d.issued, relAddr)
	}
	pkt := e.Value.(*packet.Packet)

	now := d.interfaceTick * d.cfg.TickPerClock
	d.ctx.Stats.Add(pkt.ID, packet.DRAMTime, float64(now-pkt.Arrive))

	pkt.Src, pkt.Dst = pkt.Dst, pkt.Src
	pkt.Arrive = now
	pkt.IsRsp = true
	if pkt.IsWrite() {
		pkt.Payload = 0
	} else {
		pkt.Payload = cacheLineBytes
	}
	d.ctx.SendTo(d.TopoID, pkt, pkt.Dst)
}

// Clock ticks the backend one cycle and retries issue, for the outer
// driver to call when pending has drained but issued requests are still
// outstanding and no new packet will arrive to trigger Transit.
func (d *Dram) Clock(ctx *device.Context) {
	d.ctx = ctx
	d.backend.ClockTick()
	d.interfaceTick++
	d.issue()
}

// ClockUntil advances the backend by one cycle via Clock and reports true,
// or returns false without ticking when pending and issued are both empty.
// Each call ticks exactly once; it does not keep ticking until a request
// completes or pending drains.
func (d *Dram) ClockUntil(ctx *device.Context) bool {
	if len(d.pending) == 0 && len(d.issued) == 0 {
		return false
	}
	d.Clock(ctx)
	return true
}

// LogStats implements device.Device.
func (d *Dram) LogStats(ctx *device.Context, w io.Writer) {
	fmt.Fprintf(w, "dram %s: pending=%d issued_addrs=%d interface_ticks=%d\n", d.Name_, len(d.pending), len(d.issued), d.interfaceTick)
}
