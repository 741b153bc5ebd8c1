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

package burst

import (
	"io"
	"testing"

	"fabricsim/internal/fabric/device"
	"fabricsim/internal/fabric/packet"
	"fabricsim/internal/fabric/topology"
	"fabricsim/internal/simlog"
)

// memDevice stands in for the DRAM adapter beyond the BurstHandler: it
// records each request's address and answers it immediately by flipping it
// into a response.
type memDevice struct {
	device.Base
	addrs []uint64
}

func (m *memDevice) Transit(ctx *device.Context) {
	node := ctx.Graph.Node(m.TopoID)
	pkt := node.PopInbox()
	if pkt == nil {
		return
	}
	m.addrs = append(m.addrs, pkt.Addr)
	pkt.Src, pkt.Dst = pkt.Dst, pkt.Src
	pkt.IsRsp = true
	pkt.Payload = 64
	ctx.SendTo(m.TopoID, pkt, pkt.Dst)
}
func (m *memDevice) LogStats(ctx *device.Context, w io.Writer) {}

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

// S3 (spec.md §8): a host issues one RD with burst=4. Four child
// subrequests at {a, a+64, a+128, a+192} must reach memory; exactly one
// response returns to the host with payload 256 and WAIT_ALL_BURST equal to
// the last child's arrive minus the origin's arrive.
func TestBurstSplitAndJoin(t *testing.T) {
	g := topology.New()
	g.AddNode(0, "h0")
	g.AddNode(10, "burst0")
	g.AddNode(20, "mem")
	g.AddEdge(0, 10)
	g.AddEdge(10, 20)
	g.CompileRoutes()

	ctx := device.NewContext(g, simlog.New(simlog.ParseLevel("NONE")))
	bh := New(10, "burst0")
	mem := &memDevice{Base: device.Base{TopoID: 20, Name_: "mem"}}
	h0 := &sinkDevice{Base: device.Base{TopoID: 0, Name_: "h0"}}
	ctx.Register(bh)
	ctx.Register(mem)
	ctx.Register(h0)

	const baseAddr = 0x4000
	origin := ctx.NewPacket(packet.RD, baseAddr, 0, 4, 0, 0, 20)
	g.Node(10).PushInbox(origin)
	bh.Transit(ctx) // splits into 4 children, each routed straight to mem

	for i := 0; i < 4; i++ {
		mem.Transit(ctx) // takes the next child, answers it and routes the response back to burst0
		if len(mem.addrs) != i+1 {
			t.Fatalf("mem only received %d child packets, want 4", len(mem.addrs))
		}
	}
	gotAddrs := mem.addrs
	wantAddrs := []uint64{baseAddr, baseAddr + 64, baseAddr + 128, baseAddr + 192}
	for i, want := range wantAddrs {
		if gotAddrs[i] != want {
			t.Fatalf("child %d address = %#x, want %#x", i, gotAddrs[i], want)
		}
	}

	// Drain the burst handler's inbox: each mem response lands there and
	// must be processed before the rejoined parent response is released.
	for i := 0; i < 4; i++ {
		bh.Transit(ctx)
	}
	h0.Transit(ctx) // collect the rejoined response from the host's inbox

	if len(h0.received) != 1 {
		t.Fatalf("host received %d responses, want exactly 1", len(h0.received))
	}
	resp := h0.received[0]
	if resp.ID != origin.ID {
		t.Fatalf("response id = %d, want origin id %d", resp.ID, origin.ID)
	}
	if !resp.IsRsp {
		t.Fatal("rejoined packet is not marked as a response")
	}
	if got := resp.Payload; got != 64*4 {
		t.Fatalf("rejoined payload = %d, want %d", got, 64*4)
	}
	if got := ctx.Stats.Get(origin.ID, packet.WaitAllBurst); got != 0 {
		t.Fatalf("WaitAllBurst = %v, want 0 (every child answered at the same tick as the origin in this test)", got)
	}
	if len(bh.origins) != 0 {
		t.Fatalf("burst handler still tracks %d origins after rejoin, want 0", len(bh.origins))
	}
	if len(bh.childOrigin) != 0 {
		t.Fatalf("burst handler still tracks %d child mappings after rejoin, want 0", len(bh.childOrigin))
	}
}

func TestBurstBelowThresholdBypassesSplit(t *testing.T) {
	g := topology.New()
	g.AddNode(0, "h0")
	g.AddNode(10, "burst0")
	g.AddNode(20, "mem")
	g.AddEdge(0, 10)
	g.AddEdge(10, 20)
	g.CompileRoutes()

	ctx := device.NewContext(g, simlog.New(simlog.ParseLevel("NONE")))
	bh := New(10, "burst0")
	mem := &sinkDevice{Base: device.Base{TopoID: 20, Name_: "mem"}}
	ctx.Register(bh)
	ctx.Register(mem)
	ctx.Register(&sinkDevice{Base: device.Base{TopoID: 0}})

	pkt := ctx.NewPacket(packet.RD, 0x100, 64, 1, 0, 0, 20)
	g.Node(10).PushInbox(pkt)
	bh.Transit(ctx)
	mem.Transit(ctx)

	if len(mem.received) != 1 || mem.received[0].ID != pkt.ID {
		t.Fatal("burst<=1 packet was not passed through unchanged")
	}
}
