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

// Package engine implements the ordered (tick -> thunk) multimap that drives
// the simulation. It collapses the source's separate event engine and
// "notifier" into a single operation, per spec.md §9: enqueueing into an
// inbox and scheduling the destination's transit at the packet's arrive tick
// is one call, not two collaborating singletons.
package engine

import "container/heap"

// Thunk is a unit of work scheduled to run at a specific tick. Thunks may
// call Engine.Schedule freely, including for the tick currently executing;
// such calls run after every thunk already queued for that tick.
type Thunk func()

type event struct {
	tick  int64
	seq   uint64 // insertion order, for FIFO tie-breaking among equal ticks
	thunk Thunk
}

// eventHeap implements container/heap.Interface, the same minimal shape the
// timer heap in the pack's eventloop package uses for its own tick-ordered
// queue (github.com/joeycumines/go-utilpkg's eventloop.timerHeap).
type eventHeap []event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].tick != h[j].tick {
		return h[i].tick < h[j].tick
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Engine is a single-threaded, cooperative event loop. There is no failure
// model beyond a panicking thunk, which is a programming error and is left
// to propagate — see spec.md §4.1 and §7.
type Engine struct {
	events eventHeap
	seq    uint64
}

// New constructs an empty Engine.
func New() *Engine {
	return &Engine{}
}

// Schedule inserts a thunk to run at tick. Ordering among equal ticks is
// insertion order (FIFO), per spec.md §4.1.
func (e *Engine) Schedule(tick int64, thunk Thunk) {
	heap.Push(&e.events, event{tick: tick, seq: e.seq, thunk: thunk})
	e.seq++
}

// Step pops and invokes the earliest-scheduled thunk, returning its tick.
// Returns 0 if the engine was empty.
func (e *Engine) Step() int64 {
	if len(e.events) == 0 {
		return 0
	}
	ev := heap.Pop(&e.events).(event)
	ev.thunk()
	return ev.tick
}

// PeekTick returns the tick of the earliest scheduled-but-not-yet-run event,
// without consuming it, and false if the engine is empty. Used by the driver
// to enforce general.max_clock without popping an event that would then need
// to be pushed back.
func (e *Engine) PeekTick() (int64, bool) {
	if len(e.events) == 0 {
		return 0, false
	}
	return e.events[0].tick, true
}

// Empty reports whether there are no pending events.
func (e *Engine) Empty() bool {
	return len(e.events) == 0
}

// Pending returns the number of scheduled-but-not-yet-run events. Exposed
// for tests; the driver checks max_clock through PeekTick.
func (e *Engine) Pending() int {
	return len(e.events)
}
