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

// Package timeline tracks free/busy intervals on a serialized resource (a
// bus link, a switch output port) and allocates the earliest interval
// of a requested length at or after a bound, per spec.md §4.3.
package timeline

import "sort"

// interval is a half-open free span [Start, End).
type interval struct {
	start, end int64
}

// Timeline is an ordered set of free intervals covering [0, +inf). Intervals
// are kept sorted by End so the earliest-fit search in TransferTime can scan
// forward. Adjacent free intervals are never merged — per spec.md §4.3 this
// is an explicit invariant: unmerged adjacent intervals behave identically
// to merged ones for every operation this type supports.
type Timeline struct {
	free []interval
}

const infinity = int64(1) << 62

// New constructs a Timeline whose sole free interval is [0, +inf).
func New() *Timeline {
	return &Timeline{free: []interval{{start: 0, end: infinity}}}
}

// TransferTime allocates a reservation of the given length at or after
// arrive, and returns the tick the reservation actually starts at.
//
// Algorithm (spec.md §4.3):
//  1. Find the earliest free interval that could possibly contain arrive
//     (the first whose end is > arrive), then iterate forward while the
//     candidate is too short — start = max(arrive, interval.start) must
//     leave at least length room before interval.end.
//  2. start = max(arrive, interval.start).
//  3. Split into a left remainder [interval.start, start), the reservation
//     [start, start+length), and a right remainder [start+length, interval.end).
//  4. Re-insert the non-empty remainders; return start.
func (t *Timeline) TransferTime(arrive, length int64) int64 {
	if length < 0 {
		length = 0
	}
	idx := sort.Search(len(t.free), func(i int) bool {
		return t.free[i].end > arrive
	})
	for idx < len(t.free) {
		iv := t.free[idx]
		start := arrive
		if iv.start > start {
			start = iv.start
		}
		if iv.end-start >= length {
			break
		}
		idx++
	}
	if idx == len(t.free) {
		panic("timeline.TransferTime: no free interval can contain the requested reservation")
	}
	iv := t.free[idx]
	start := arrive
	if iv.start > start {
		start = iv.start
	}
	// Remove the interval we're splitting.
	t.free = append(t.free[:idx], t.free[idx+1:]...)

	left := interval{start: iv.start, end: start}
	right := interval{start: start + length, end: iv.end}

	insert := idx
	if left.start < left.end {
		t.free = append(t.free, interval{})
		copy(t.free[insert+1:], t.free[insert:])
		t.free[insert] = left
		insert++
	}
	if right.start < right.end {
		t.free = append(t.free, interval{})
		copy(t.free[insert+1:], t.free[insert:])
		t.free[insert] = right
	}
	return start
}

// Free returns a snapshot of the current free intervals, for tests that want
// to assert the disjointness/containment invariants from spec.md §8.
func (t *Timeline) Free() []struct{ Start, End int64 } {
	out := make([]struct{ Start, End int64 }, len(t.free))
	for i, iv := range t.free {
		out[i] = struct{ Start, End int64 }{iv.start, iv.end}
	}
	return out
}

// LastEnd returns the highest end tick of any reservation, computed as the
// start of the trailing free interval; used by DuplexBus to report
// utilization. Since we don't track busy spans directly (only free
// ones), callers accumulate busy time themselves as they allocate; LastEnd
// here returns the highest tick any reservation has reached so far, derived
// from the gap before the trailing [x, +inf) interval.
func (t *Timeline) LastEnd() int64 {
	if len(t.free) == 0 {
		return 0
	}
	last := t.free[len(t.free)-1]
	if last.end == infinity {
		return last.start
	}
	return last.end
}
