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

// Package device defines the Device interface and the Context that owns
// every piece of shared mutable state (the topology, the event engine, the
// packet stat table, the id counter, and the device registry).
//
// spec.md §9 calls out that the source's device/topology/system relationship
// is cyclic. We break the cycle the way the spec recommends: devices hold
// only their own TopoId, and consult a single owning Context during Transit
// rather than the device and the topology referencing each other directly.
package device

import (
	"fmt"
	"io"

	"fabricsim/internal/fabric/engine"
	"fabricsim/internal/fabric/packet"
	"fabricsim/internal/fabric/topology"
	"fabricsim/internal/simlog"
)

// Device is the shared contract every interconnect/endpoint/host node
// implements. transit is invoked by the engine when a scheduled event for
// this device's TopoId fires; it is expected to drain exactly one packet
// from the device's inbox (via Context.Graph.Node(id).PopInbox) and forward
// or terminate it.
type Device interface {
	ID() packet.TopoId
	Name() string
	Transit(ctx *Context)
	LogStats(ctx *Context, w io.Writer)
}

// Context centralizes every process-wide singleton the source modeled as
// globals: the event engine, the packet stat table, the PktId counter, and
// the device registry keyed by TopoId. One Context is threaded through every
// Transit call rather than any of this living in package-level state.
type Context struct {
	Graph   *topology.Graph
	Engine  *engine.Engine
	Stats   *packet.Table
	Counter *packet.Counter
	Log     *simlog.Logger

	devices map[packet.TopoId]Device
}

// NewContext constructs an empty Context around an already-built Graph.
func NewContext(g *topology.Graph, log *simlog.Logger) *Context {
	return &Context{
		Graph:   g,
		Engine:  engine.New(),
		Stats:   packet.NewTable(),
		Counter: &packet.Counter{},
		Log:     log,
		devices: make(map[packet.TopoId]Device),
	}
}

// Register adds a device to the registry, keyed by its TopoId.
func (c *Context) Register(d Device) {
	c.devices[d.ID()] = d
}

// DeviceAt returns the registered device for a TopoId, or nil.
func (c *Context) DeviceAt(id packet.TopoId) Device {
	return c.devices[id]
}

// Devices returns every registered device in registration order is not
// guaranteed; callers that need a stable order should range over
// c.Graph.Nodes() and look up each id.
func (c *Context) Devices() map[packet.TopoId]Device {
	return c.devices
}

// NewPacket allocates a fresh packet id, creates its stat row, and returns a
// packet value stamped with id/sent/src/dst — the single construction point
// so no caller forgets to register the stat row.
func (c *Context) NewPacket(typ packet.Type, addr uint64, payload, burst int, sent int64, src, dst packet.TopoId) *packet.Packet {
	id := c.Counter.Next()
	c.Stats.Create(id)
	return &packet.Packet{
		ID: id, Type: typ, Addr: addr, Payload: payload, Burst: burst,
		Sent: sent, Arrive: sent, From: src, Src: src, Dst: dst,
	}
}

// SendTo is the single operation that replaces the source's separate
// "notifier": it stamps pkt.From, looks up the next hop from `from` towards
// pkt.Dst (or an explicit override when the caller already knows the next
// hop, e.g. a switch's routing decision), appends the packet to that hop's
// inbox, and schedules the hop's Transit at pkt.Arrive — all in one call, as
// spec.md §9 prescribes.
//
// If there is no next hop, the packet is dropped and the drop is logged —
// this is a topology misconfiguration (spec.md §7), not a panic, because it
// is only ever detected lazily when an actual packet needs the missing path.
func (c *Context) SendTo(from packet.TopoId, pkt *packet.Packet, dst packet.TopoId) {
	pkt.From = from
	hop, ok := c.Graph.NextHop(from, dst)
	if !ok {
		c.Log.Errorf("device: dropped packet %d: no route from %d to %d", pkt.ID, from, dst)
		return
	}
	node := c.Graph.Node(hop)
	if node == nil {
		panic(fmt.Sprintf("device.SendTo: routing table names unknown node %d", hop))
	}
	node.PushInbox(pkt)
	hopDev := c.devices[hop]
	c.Engine.Schedule(pkt.Arrive, func() {
		hopDev.Transit(c)
	})
}

// Deliver is SendTo's direct-neighbor form: it is used when the caller has
// already decided the exact next hop (a switch output port, a bus's single
// peer) rather than asking the routing table to re-derive it from dst.
func (c *Context) Deliver(from packet.TopoId, pkt *packet.Packet, hop packet.TopoId) {
	pkt.From = from
	node := c.Graph.Node(hop)
	if node == nil {
		panic(fmt.Sprintf("device.Deliver: unknown node %d", hop))
	}
	node.PushInbox(pkt)
	hopDev := c.devices[hop]
	c.Engine.Schedule(pkt.Arrive, func() {
		hopDev.Transit(c)
	})
}

// Base is an embeddable struct providing the common ID()/Name() plumbing so
// concrete devices don't each repeat the same two accessors.
type Base struct {
	TopoID packet.TopoId
	Name_  string
}

func (b Base) ID() packet.TopoId { return b.TopoID }
func (b Base) Name() string      { return b.Name_ }
