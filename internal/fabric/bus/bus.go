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

// Package bus implements DuplexBus, the two-endpoint link device with
// framing overhead, a bandwidth limit, and a half-duplex reversal penalty,
// per spec.md §4.4.
package bus

import (
	"fmt"
	"io"
	"sort"

	"fabricsim/internal/fabric/device"
	"fabricsim/internal/fabric/packet"
	"fabricsim/internal/fabric/timeline"
	"fabricsim/internal/telemetry"
)

// direction names which of the bus's two neighbors traffic is currently
// flowing toward.
type direction int

const (
	dirToLarge direction = iota
	dirToSmall
)

type dirEntry struct {
	tick int64
	dir  direction
}

// Config holds the per-device fields spec.md §6 names for a bus block.
type Config struct {
	FullDuplex     bool
	HalfReverseTime int64
	DelayPerUnit    int64
	LaneWidthBits   int
	FramingTime     int64
	FrameSizeBytes  int

	Metrics *telemetry.Metrics // optional; nil disables live gauge updates
}

// Bus is a DuplexBus: a link between exactly two topology neighbors.
type Bus struct {
	device.Base
	cfg Config

	tl         *timeline.Timeline
	dirHistory []dirEntry

	reversalCount      int64
	subPacketCount     int64
	transferredPayload int64
	transferredBytes   int64 // including frame overhead
	totalBusy          int64
}

// New constructs a Bus device bound to id/name with the given config.
func New(id packet.TopoId, name string, cfg Config) *Bus {
	return &Bus{
		Base: device.Base{TopoID: id, Name_: name},
		cfg:  cfg,
		tl:   timeline.New(),
	}
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Transit implements device.Device. Per spec.md §4.2 it drains exactly one
// packet from this bus's inbox.
func (b *Bus) Transit(ctx *device.Context) {
	node := ctx.Graph.Node(b.TopoID)
	pkt := node.PopInbox()
	if pkt == nil {
		return
	}
	if len(node.Neighbors) != 2 {
		panic(fmt.Sprintf("bus %s: DuplexBus must have exactly two topology neighbors, has %d", b.Name_, len(node.Neighbors)))
	}
	small, large := node.Neighbors[0], node.Neighbors[1]
	if small > large {
		small, large = large, small
	}

	var other packet.TopoId
	var dir direction
	switch pkt.From {
	case small:
		other, dir = large, dirToLarge
	case large:
		other, dir = small, dirToSmall
	default:
		panic(fmt.Sprintf("bus %s: packet %d arrived from non-neighbor %d", b.Name_, pkt.ID, pkt.From))
	}

	t := pkt.Arrive

	if pkt.IsSubPkt {
		// Sub-packets were already accounted for in their package leader's
		// frame; they bypass Timeline allocation and framing entirely.
		b.transferredPayload += int64(pkt.Payload)
		b.subPacketCount++
		ctx.Deliver(b.TopoID, pkt, other)
		return
	}

	var reversal int64
	if !b.cfg.FullDuplex {
		last, ok := b.lastDirectionAt(t)
		if !ok {
			b.recordDirection(t, dir)
		} else if last != dir {
			reversal = b.cfg.HalfReverseTime
			if pkt.IsWrite() {
				reversal *= 2
			}
			b.reversalCount++
			b.cfg.Metrics.IncBusReversal(b.Name_)
			b.recordDirection(t, dir)
		}
	}

	frameSize := int64(b.cfg.FrameSizeBytes)
	frames := ceilDiv(int64(pkt.Payload)+frameSize, frameSize)
	bytesPerUnit := int64(b.cfg.LaneWidthBits) / 8
	delay := ceilDiv(frames*frameSize, bytesPerUnit) * b.cfg.DelayPerUnit

	start := b.tl.TransferTime(t+reversal, delay)

	ctx.Stats.Add(pkt.ID, packet.BusQueueDelay, float64(start-t))
	ctx.Stats.Add(pkt.ID, packet.BusTime, float64(delay))
	ctx.Stats.Add(pkt.ID, packet.FramingTime, float64(b.cfg.FramingTime))

	pkt.Arrive = start + delay + b.cfg.FramingTime

	b.totalBusy += delay
	b.transferredBytes += frames * frameSize
	b.transferredPayload += int64(pkt.Payload)

	ctx.Deliver(b.TopoID, pkt, other)
}

func (b *Bus) lastDirectionAt(t int64) (direction, bool) {
	if len(b.dirHistory) == 0 {
		return 0, false
	}
	idx := sort.Search(len(b.dirHistory), func(i int) bool { return b.dirHistory[i].tick > t })
	if idx == 0 {
		return 0, false
	}
	return b.dirHistory[idx-1].dir, true
}

func (b *Bus) recordDirection(t int64, dir direction) {
	b.dirHistory = append(b.dirHistory, dirEntry{tick: t, dir: dir})
}

// LogStats implements device.Device per spec.md §6's per-device stat lines.
func (b *Bus) LogStats(ctx *device.Context, w io.Writer) {
	efficiency := 0.0
	if b.transferredBytes > 0 {
		efficiency = float64(b.transferredPayload) / float64(b.transferredBytes)
	}
	util := 0.0
	if last := b.tl.LastEnd(); last > 0 {
		util = float64(b.totalBusy) / float64(last)
	}
	b.cfg.Metrics.SetBusUtilization(b.Name_, util)
	fmt.Fprintf(w, "bus %s: transferred_bytes=%d transferred_payload=%d direction_reverse_count=%d sent_sub_packet_count=%d efficiency=%.4f average_utilization=%.4f\n",
		b.Name_, b.transferredBytes, b.transferredPayload, b.reversalCount, b.subPacketCount, efficiency, util)
}
