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

package timeline

import "testing"

func TestTransferTimeSequentialNonOverlapping(t *testing.T) {
	tl := New()
	if start := tl.TransferTime(0, 10); start != 0 {
		t.Fatalf("first allocation start = %d, want 0", start)
	}
	if start := tl.TransferTime(0, 10); start != 10 {
		t.Fatalf("second allocation start = %d, want 10 (must not overlap the first)", start)
	}
	if start := tl.TransferTime(5, 5); start != 20 {
		t.Fatalf("third allocation start = %d, want 20", start)
	}
}

func TestTransferTimeEarliestFitBacksIntoGap(t *testing.T) {
	tl := New()
	tl.TransferTime(0, 10)  // busy [0,10)
	tl.TransferTime(20, 10) // busy [20,30), leaves a gap [10,20)
	// A request that fits in the gap, arriving before it, should land at the
	// start of the gap rather than after the second reservation.
	start := tl.TransferTime(0, 5)
	if start != 10 {
		t.Fatalf("gap-fitting allocation start = %d, want 10", start)
	}
}

// Property 3 from spec.md §8: after any sequence of TransferTime calls, the
// free-interval set stays sorted and disjoint, and no interval has end <=
// start.
func TestFreeIntervalsStayDisjointAndSorted(t *testing.T) {
	tl := New()
	ticks := []struct{ arrive, length int64 }{
		{0, 7}, {3, 4}, {50, 1}, {0, 1}, {12, 20}, {5, 2},
	}
	for _, tk := range ticks {
		tl.TransferTime(tk.arrive, tk.length)
	}
	free := tl.Free()
	for i, iv := range free {
		if iv.Start >= iv.End {
			t.Fatalf("free[%d] = [%d,%d) is empty or inverted", i, iv.Start, iv.End)
		}
		if i > 0 && free[i-1].End > iv.Start {
			t.Fatalf("free[%d]=[%d,%d) overlaps free[%d]=[%d,%d)",
				i-1, free[i-1].Start, free[i-1].End, i, iv.Start, iv.End)
		}
	}
}

// A bounded free interval that is too short to hold the request must be
// skipped rather than accepted on a raw end-tick comparison: arriving before
// a short gap must not let the reservation spill past that gap's end into
// whatever comes after it.
func TestTransferTimeSkipsAGapTooShortToHoldTheRequest(t *testing.T) {
	tl := New()
	if start := tl.TransferTime(5, 5); start != 5 {
		t.Fatalf("first allocation start = %d, want 5", start)
	}
	// free: [0,5), [10,+inf)
	if start := tl.TransferTime(30, 5); start != 30 {
		t.Fatalf("second allocation start = %d, want 30", start)
	}
	// free: [0,5), [10,30), [35,+inf). A request arriving at 0 needing 25
	// ticks cannot fit in the bounded [10,30) gap (only 20 ticks available
	// there); it must land at 35, not overlap the [30,35) reservation.
	start := tl.TransferTime(0, 25)
	if start != 35 {
		t.Fatalf("third allocation start = %d, want 35 (must skip the too-short [10,30) gap)", start)
	}

	free := tl.Free()
	for i, iv := range free {
		if iv.Start >= iv.End {
			t.Fatalf("free[%d] = [%d,%d) is empty or inverted", i, iv.Start, iv.End)
		}
		if i > 0 && free[i-1].End > iv.Start {
			t.Fatalf("free[%d]=[%d,%d) overlaps free[%d]=[%d,%d)",
				i-1, free[i-1].Start, free[i-1].End, i, iv.Start, iv.End)
		}
	}
	for _, iv := range free {
		if iv.Start < 35 && iv.End > 30 {
			t.Fatalf("free interval [%d,%d) overlaps the [30,35) reservation", iv.Start, iv.End)
		}
	}
}

func TestLastEndTracksHighestAllocatedTick(t *testing.T) {
	tl := New()
	if got := tl.LastEnd(); got != 0 {
		t.Fatalf("LastEnd on a fresh timeline = %d, want 0", got)
	}
	tl.TransferTime(0, 10)
	if got := tl.LastEnd(); got != 10 {
		t.Fatalf("LastEnd after [0,10) = %d, want 10", got)
	}
	tl.TransferTime(100, 5)
	if got := tl.LastEnd(); got != 105 {
		t.Fatalf("LastEnd after [100,105) = %d, want 105", got)
	}
}
