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

// Package burst implements BurstHandler, which splits a wide burst request
// into cache-line child subrequests and rejoins their responses, per
// spec.md §4.7.
package burst

import (
	"fmt"
	"io"

	"fabricsim/internal/fabric/device"
	"fabricsim/internal/fabric/packet"
)

const lineSize = 64

// origin tracks one in-flight burst request while its children are
// outstanding.
type origin struct {
	pkt        *packet.Packet
	remaining  int
	lastArrive int64
}

// BurstHandler is the burst-split/rejoin device.
type BurstHandler struct {
	device.Base

	origins     map[packet.ID]*origin
	childOrigin map[packet.ID]packet.ID
}

// New constructs a BurstHandler device bound to id/name.
func New(id packet.TopoId, name string) *BurstHandler {
	return &BurstHandler{
		Base:        device.Base{TopoID: id, Name_: name},
		origins:     make(map[packet.ID]*origin),
		childOrigin: make(map[packet.ID]packet.ID),
	}
}

// Transit implements device.Device.
func (b *BurstHandler) Transit(ctx *device.Context) {
	node := ctx.Graph.Node(b.TopoID)
	pkt := node.PopInbox()
	if pkt == nil {
		return
	}

	if pkt.IsRsp {
		b.handleResponse(ctx, pkt)
		return
	}

	if pkt.Burst <= 1 {
		ctx.SendTo(b.TopoID, pkt, pkt.Dst)
		return
	}

	if _, exists := b.origins[pkt.ID]; exists {
		panic(fmt.Sprintf("burst %s: duplicate origin registration for packet %d", b.Name_, pkt.ID))
	}
	b.origins[pkt.ID] = &origin{pkt: pkt, remaining: pkt.Burst}

	childPayload := 0
	if pkt.Payload != 0 {
		childPayload = lineSize
	}
	for i := 0; i < pkt.Burst; i++ {
		child := ctx.NewPacket(pkt.Type, pkt.Addr+uint64(i*lineSize), childPayload, pkt.Burst, pkt.Arrive, pkt.Src, pkt.Dst)
		b.childOrigin[child.ID] = pkt.ID
		ctx.SendTo(b.TopoID, child, child.Dst)
	}
}

func (b *BurstHandler) handleResponse(ctx *device.Context, child *packet.Packet) {
	originID, ok := b.childOrigin[child.ID]
	if !ok {
		panic(fmt.Sprintf("burst %s: child response %d has no matching origin", b.Name_, child.ID))
	}
	delete(b.childOrigin, child.ID)

	st, ok := b.origins[originID]
	if !ok {
		panic(fmt.Sprintf("burst %s: origin %d missing for returning child %d", b.Name_, originID, child.ID))
	}

	ctx.Stats.Merge(originID, child.ID, packet.DeviceProcessTime, packet.DRAMInterfaceQueuingDelay, packet.DRAMTime)
	ctx.Stats.Free(child.ID)
	st.remaining--
	st.lastArrive = child.Arrive

	if st.remaining > 0 {
		return
	}
	delete(b.origins, originID)

	o := st.pkt
	ctx.Stats.Add(o.ID, packet.WaitAllBurst, float64(st.lastArrive-o.Arrive))
	o.Src, o.Dst = o.Dst, o.Src
	o.IsRsp = true
	if o.IsWrite() {
		o.Payload = 0
	} else {
		o.Payload = lineSize * o.Burst
	}
	o.Arrive = st.lastArrive
	ctx.SendTo(b.TopoID, o, o.Dst)
}

// LogStats implements device.Device.
func (b *BurstHandler) LogStats(ctx *device.Context, w io.Writer) {
	fmt.Fprintf(w, "burst %s: outstanding_origins=%d\n", b.Name_, len(b.origins))
}
