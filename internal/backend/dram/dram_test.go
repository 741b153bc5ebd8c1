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

package dram

import "testing"

func TestMockBackendCompletesSameAddressInFIFOOrder(t *testing.T) {
	var completions []uint64
	b, err := New(Options{Kind: "mock", LatencyCycles: 2, Capacity: 8}, func(addr uint64) {
		completions = append(completions, addr)
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !b.WillAccept(0x100, false) {
		t.Fatal("WillAccept = false, want true under capacity")
	}
	b.AddTransaction(0x100, false)
	b.ClockTick() // first transaction's countdown: 2 -> 1

	if !b.WillAccept(0x100, false) {
		t.Fatal("WillAccept = false for a second transaction to the same address, want true (capacity is global, not per-address)")
	}
	b.AddTransaction(0x100, false)

	b.ClockTick() // first completes (1 -> 0); only an address's head counts down, so second stays at 2
	if len(completions) != 1 || completions[0] != 0x100 {
		t.Fatalf("completions after one more tick = %v, want exactly one", completions)
	}

	b.ClockTick() // second: 2 -> 1
	b.ClockTick() // second completes (1 -> 0)
	if len(completions) != 2 {
		t.Fatalf("completions = %v, want 2 total", completions)
	}
}

func TestMockBackendRespectsCapacity(t *testing.T) {
	b, err := New(Options{Kind: "mock", LatencyCycles: 5, Capacity: 1}, func(uint64) {})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b.AddTransaction(0x100, false)
	if b.WillAccept(0x200, false) {
		t.Fatal("WillAccept = true beyond capacity, want false")
	}
}

func TestUnknownKindIsRejected(t *testing.T) {
	if _, err := New(Options{Kind: "bogus"}, func(uint64) {}); err == nil {
		t.Fatal("New with an unknown Kind returned no error")
	}
}
