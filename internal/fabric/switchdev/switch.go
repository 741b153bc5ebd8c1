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

// Package switchdev implements Switch, the multi-input, per-output-port
// round-robin arbiter, per spec.md §4.5.
package switchdev

import (
	"container/list"
	"fmt"
	"io"
	"sort"

	"fabricsim/internal/fabric/device"
	"fabricsim/internal/fabric/packet"
	"fabricsim/internal/fabric/timeline"
	"fabricsim/internal/telemetry"
)

// Config holds the per-device fields spec.md §6 names for a switch block,
// plus the upstream-batching knobs spec.md §4.5 describes.
type Config struct {
	PerHopDelay int64
	// Upstream marks which incoming neighbors batch wait_for_q packets
	// before the switch attempts to drain their port.
	Upstream map[packet.TopoId]bool
	// WaitForQ is the batch size for upstream-tagged sources; 0 means the
	// spec's default of 4.
	WaitForQ int

	Metrics *telemetry.Metrics // optional; nil disables live gauge updates
}

// port is the per-output-port state: a Timeline, a FIFO per incoming
// neighbor, and a round-robin cursor over those sub-queues.
type port struct {
	tl       *timeline.Timeline
	subq     map[packet.TopoId]*list.List
	order    []packet.TopoId // insertion order of neighbors seen on this port
	cursor   int
	pending  int // batched arrivals awaiting a drain, for upstream sources

	depthSum   int64
	depthCount int64
}

func newPort() *port {
	return &port{tl: timeline.New(), subq: make(map[packet.TopoId]*list.List)}
}

func (p *port) queueFor(from packet.TopoId) *list.List {
	q, ok := p.subq[from]
	if !ok {
		q = list.New()
		p.subq[from] = q
		p.order = append(p.order, from)
	}
	return q
}

// Switch is the Switch device.
type Switch struct {
	device.Base
	cfg   Config
	ports map[packet.TopoId]*port
}

// New constructs a Switch device bound to id/name with the given config.
func New(id packet.TopoId, name string, cfg Config) *Switch {
	if cfg.WaitForQ <= 0 {
		cfg.WaitForQ = 4
	}
	return &Switch{
		Base:  device.Base{TopoID: id, Name_: name},
		cfg:   cfg,
		ports: make(map[packet.TopoId]*port),
	}
}

func (s *Switch) portFor(h packet.TopoId) *port {
	p, ok := s.ports[h]
	if !ok {
		p = newPort()
		s.ports[h] = p
	}
	return p
}

// Transit implements device.Device.
func (s *Switch) Transit(ctx *device.Context) {
	node := ctx.Graph.Node(s.TopoID)
	pkt := node.PopInbox()
	if pkt == nil {
		return
	}

	h, ok := ctx.Graph.NextHop(s.TopoID, pkt.Dst)
	if !ok {
		ctx.Log.Errorf("switch %s: dropped packet %d: no route toward %d", s.Name_, pkt.ID, pkt.Dst)
		return
	}
	p := s.portFor(h)
	p.queueFor(pkt.From).PushBack(pkt)

	p.depthSum += int64(p.queueFor(pkt.From).Len())
	p.depthCount++

	if s.cfg.Upstream[pkt.From] {
		p.pending++
		if p.pending < s.cfg.WaitForQ {
			return
		}
		for i := 0; i < s.cfg.WaitForQ; i++ {
			if !s.drainOne(ctx, h, p) {
				break
			}
		}
		p.pending = 0
		return
	}

	s.drainOne(ctx, h, p)
}

// drainOne services exactly one packet from p's round-robin rotation,
// advancing the cursor whether the picked sub-queue was empty-skipped or
// served, per spec.md §4.5. Returns false if the port has no queued traffic
// at all.
func (s *Switch) drainOne(ctx *device.Context, h packet.TopoId, p *port) bool {
	if len(p.order) == 0 {
		return false
	}
	n := len(p.order)
	for i := 0; i < n; i++ {
		from := p.order[p.cursor]
		p.cursor = (p.cursor + 1) % n
		q := p.subq[from]
		if q.Len() == 0 {
			continue
		}
		e := q.Front()
		q.Remove(e)
		pkt := e.Value.(*packet.Packet)

		t := pkt.Arrive
		start := p.tl.TransferTime(t, s.cfg.PerHopDelay)
		pkt.Arrive = start + s.cfg.PerHopDelay

		ctx.Stats.Add(pkt.ID, packet.SwitchQueueDelay, float64(start-t))
		ctx.Stats.Add(pkt.ID, packet.SwitchTime, float64(s.cfg.PerHopDelay))

		ctx.Deliver(s.TopoID, pkt, h)
		return true
	}
	return false
}

// LogStats implements device.Device.
func (s *Switch) LogStats(ctx *device.Context, w io.Writer) {
	hops := make([]packet.TopoId, 0, len(s.ports))
	for h := range s.ports {
		hops = append(hops, h)
	}
	sort.Slice(hops, func(i, j int) bool { return hops[i] < hops[j] })
	for _, h := range hops {
		p := s.ports[h]
		avg := 0.0
		if p.depthCount > 0 {
			avg = float64(p.depthSum) / float64(p.depthCount)
		}
		s.cfg.Metrics.SetSwitchPortDepth(s.Name_, fmt.Sprintf("%d", h), avg)
		fmt.Fprintf(w, "switch %s: port->%d average_queue_depth=%.4f\n", s.Name_, h, avg)
	}
}
