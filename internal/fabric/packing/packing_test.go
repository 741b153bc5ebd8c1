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

package packing

import (
	"io"
	"testing"

	"fabricsim/internal/fabric/device"
	"fabricsim/internal/fabric/packet"
	"fabricsim/internal/fabric/topology"
	"fabricsim/internal/simlog"
)

type sinkDevice struct {
	device.Base
	received []*packet.Packet
}

func (s *sinkDevice) Transit(ctx *device.Context) {
	node := ctx.Graph.Node(s.TopoID)
	for {
		pkt := node.PopInbox()
		if pkt == nil {
			return
		}
		s.received = append(s.received, pkt)
	}
}
func (s *sinkDevice) LogStats(ctx *device.Context, w io.Writer) {}

// S4 (spec.md §8): packaging_num=4, four upstream reads staggered at
// {0,5,10,15}, payload 64 each. The first forwarded packet must carry the
// full coalesced payload; the remaining three are zero-payload sub-packets;
// every member's PACKAGING_DELAY equals the package tick minus its own
// arrive.
func TestPackingCoalesce(t *testing.T) {
	g := topology.New()
	g.AddNode(0, "h0")
	g.AddNode(10, "pack0")
	g.AddNode(20, "mem")
	g.AddEdge(0, 10)
	g.AddEdge(10, 20)
	g.CompileRoutes()

	ctx := device.NewContext(g, simlog.New(simlog.ParseLevel("NONE")))
	p := New(10, "pack0", Config{PackagingNum: 4, Upstream: map[packet.TopoId]bool{0: true}})
	mem := &sinkDevice{Base: device.Base{TopoID: 20, Name_: "mem"}}
	ctx.Register(p)
	ctx.Register(mem)
	ctx.Register(&sinkDevice{Base: device.Base{TopoID: 0}})

	ticks := []int64{0, 5, 10, 15}
	members := make([]*packet.Packet, len(ticks))
	for i, arrive := range ticks {
		pkt := ctx.NewPacket(packet.RD, 0, 64, 0, arrive, 0, 20)
		pkt.Arrive = arrive
		members[i] = pkt
		g.Node(10).PushInbox(pkt)
		p.Transit(ctx)
	}
	mem.Transit(ctx) // collect everything the shim forwarded

	if len(mem.received) != 4 {
		t.Fatalf("mem received %d packets, want 4", len(mem.received))
	}
	if mem.received[0].ID != members[0].ID {
		t.Fatalf("first forwarded packet is not the package leader")
	}
	if got := mem.received[0].Payload; got != 64*4 {
		t.Fatalf("leader payload = %d, want %d", got, 64*4)
	}
	for i := 1; i < 4; i++ {
		if !mem.received[i].IsSubPkt {
			t.Fatalf("member %d is not marked as a sub-packet", i)
		}
		if got := mem.received[i].Payload; got != 0 {
			t.Fatalf("member %d payload = %d, want 0", i, got)
		}
	}
	for i, m := range members {
		want := float64(15 - ticks[i])
		if got := ctx.Stats.Get(m.ID, packet.PackagingDelay); got != want {
			t.Fatalf("member %d PackagingDelay = %v, want %v", i, got, want)
		}
	}
	if p.packageCount != 1 {
		t.Fatalf("packages_formed = %d, want 1", p.packageCount)
	}
}

func TestPackingPassesThroughNonUpstreamUnbuffered(t *testing.T) {
	g := topology.New()
	g.AddNode(0, "h0")
	g.AddNode(10, "pack0")
	g.AddNode(20, "mem")
	g.AddEdge(0, 10)
	g.AddEdge(10, 20)
	g.CompileRoutes()

	ctx := device.NewContext(g, simlog.New(simlog.ParseLevel("NONE")))
	p := New(10, "pack0", Config{PackagingNum: 4, Upstream: map[packet.TopoId]bool{}})
	mem := &sinkDevice{Base: device.Base{TopoID: 20, Name_: "mem"}}
	ctx.Register(p)
	ctx.Register(mem)
	ctx.Register(&sinkDevice{Base: device.Base{TopoID: 0}})

	pkt := ctx.NewPacket(packet.RD, 0, 64, 0, 0, 0, 20)
	g.Node(10).PushInbox(pkt)
	p.Transit(ctx)
	mem.Transit(ctx)

	if len(mem.received) != 1 {
		t.Fatalf("mem received %d packets, want 1 (non-upstream traffic passes straight through)", len(mem.received))
	}
}
