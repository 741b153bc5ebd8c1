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

// Package packing implements the packing shim that coalesces N packets from
// a configured set of upstream sources into one framed "super-packet", per
// spec.md §4.6.
package packing

import (
	"fmt"
	"io"

	"fabricsim/internal/fabric/device"
	"fabricsim/internal/fabric/packet"
)

// Config holds the per-device fields spec.md §6 names for a packing block.
type Config struct {
	PackagingNum int
	Upstream     map[packet.TopoId]bool
}

// Packing is the packing shim device.
type Packing struct {
	device.Base
	cfg Config

	members      []*packet.Packet
	packageCount int64
}

// New constructs a Packing device bound to id/name with the given config.
func New(id packet.TopoId, name string, cfg Config) *Packing {
	return &Packing{Base: device.Base{TopoID: id, Name_: name}, cfg: cfg}
}

// Transit implements device.Device.
func (p *Packing) Transit(ctx *device.Context) {
	node := ctx.Graph.Node(p.TopoID)
	pkt := node.PopInbox()
	if pkt == nil {
		return
	}

	if !p.cfg.Upstream[pkt.From] {
		ctx.SendTo(p.TopoID, pkt, pkt.Dst)
		return
	}

	if len(p.members) == 0 {
		pkt.Payload *= p.cfg.PackagingNum
	} else {
		pkt.IsSubPkt = true
		pkt.Payload = 0
	}
	p.members = append(p.members, pkt)

	if len(p.members) < p.cfg.PackagingNum {
		return
	}

	tick := pkt.Arrive
	members := p.members
	p.members = nil
	p.packageCount++

	for _, m := range members {
		delay := tick - m.Arrive
		if delay < 0 {
			delay = 0
		}
		ctx.Stats.Add(m.ID, packet.PackagingDelay, float64(delay))
		m.Arrive = tick
		ctx.SendTo(p.TopoID, m, m.Dst)
	}
}

// LogStats implements device.Device.
func (p *Packing) LogStats(ctx *device.Context, w io.Writer) {
	fmt.Fprintf(w, "packing %s: packages_formed=%d\n", p.Name_, p.packageCount)
}
