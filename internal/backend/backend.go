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

// Package backend defines the adapter contract spec.md §4.9/§9 specifies for
// the external, cycle-driven memory models (DRAM, SSD/NAND) that sit behind
// internal/fabric/dram. Those models themselves are out of scope (spec.md
// §1); only the boundary is specified here, and its concrete
// implementations are pluggable the same way the teacher's persistence
// adapters (internal/ratelimiter/persistence, in the now-removed teacher
// tree) were selected behind one interface.
package backend

// MemoryBackend is the four-operation contract a cycle-driven memory model
// exposes to the event-driven simulator.
type MemoryBackend interface {
	// WillAccept reports whether the backend has room to begin a new
	// transaction for addr right now.
	WillAccept(addr uint64, isWrite bool) bool
	// AddTransaction admits a transaction; WillAccept must have just
	// returned true for the same (addr, isWrite).
	AddTransaction(addr uint64, isWrite bool)
	// ClockTick advances the backend's internal clock by one cycle. It may
	// synchronously invoke the CompletionFunc the backend was constructed
	// with, once per completed transaction.
	ClockTick()
}

// CompletionFunc is supplied to a MemoryBackend at construction time; the
// backend invokes it once per address when that address's head-of-line
// transaction completes. This is spec.md §4.9's on_complete(addr) callback.
type CompletionFunc func(addr uint64)
