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

package ssd

import "testing"

func TestMockBackendThrottlesWritesPerTick(t *testing.T) {
	b, err := New(Options{Kind: "mock", LatencyCycles: 10, Capacity: 8, WriteBudgetPerTick: 1}, func(uint64) {})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !b.WillAccept(0x100, true) {
		t.Fatal("WillAccept = false for the first write this tick, want true")
	}
	b.AddTransaction(0x100, true)
	if b.WillAccept(0x200, true) {
		t.Fatal("WillAccept = true for a second write in the same tick, want false (budget exhausted)")
	}
	if !b.WillAccept(0x200, false) {
		t.Fatal("WillAccept = false for a read when the write budget is exhausted, want true (budget only throttles writes)")
	}

	b.ClockTick() // budget resets each tick
	if !b.WillAccept(0x200, true) {
		t.Fatal("WillAccept = false for a write after the tick rolled over, want true")
	}
}

// Regression test for the completion-mirror fix: a kafka-kind backend must
// invoke the caller's onComplete exactly once per finished transaction, not
// once for the publish wrapper and once again for the original callback.
func TestKafkaBackendCompletesExactlyOncePerTransaction(t *testing.T) {
	var completions []uint64
	b, err := New(Options{Kind: "kafka", LatencyCycles: 1, Capacity: 8}, func(addr uint64) {
		completions = append(completions, addr)
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b.AddTransaction(0x300, false)
	b.ClockTick()

	if len(completions) != 1 {
		t.Fatalf("completions = %v, want exactly 1 (got a double-fire regression)", completions)
	}
	if completions[0] != 0x300 {
		t.Fatalf("completions[0] = %#x, want 0x300", completions[0])
	}
}
