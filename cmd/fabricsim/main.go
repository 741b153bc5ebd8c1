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

// Command fabricsim is the standalone driver: fabricsim <config.toml>, per
// spec.md §6. It loads and compiles the configuration, runs the engine until
// either max_clock is reached or every host has issued its last request and
// drained its outstanding queue, then writes every device's end-of-run stat
// lines to stderr.
package main

import (
	"fmt"
	"os"

	"fabricsim/internal/config"
)

const (
	exitOK          = 0
	exitConfigError = 1
	exitIOError     = 2
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	if len(args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config.toml>\n", progName(args))
		return exitConfigError
	}

	doc, err := config.Load(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "fabricsim: %v\n", err)
		return exitIOError
	}

	built, err := config.Build(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fabricsim: %v\n", err)
		return exitConfigError
	}
	defer func() {
		if cerr := built.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "fabricsim: closing outputs: %v\n", cerr)
		}
	}()

	simulate(built)

	emitStats(built)
	return exitOK
}

// simulate drains the engine, pumping every DRAM/SSD adapter's backend clock
// granularity ticks between events so completions surface even when no new
// packet arrives to trigger a Transit, and stopping once max_clock is hit or
// every host has issued its last request with an empty outstanding queue.
func simulate(b *config.Built) {
	maxClock := b.General.MaxClock
	granu := b.General.ClockGranu
	if granu <= 0 {
		granu = 1
	}

	for {
		if tick, ok := b.Ctx.Engine.PeekTick(); ok {
			if maxClock > 0 && tick > maxClock {
				break
			}
			b.Ctx.Engine.Step()
			for i := int64(0); i < granu; i++ {
				pumpDrams(b)
			}
			continue
		}
		if allDone(b) {
			break
		}
		if !pumpDrams(b) {
			break
		}
	}
}

func allDone(b *config.Built) bool {
	for _, h := range b.Hosts {
		if !h.AllIssued() || !h.QEmpty() {
			return false
		}
	}
	return true
}

// pumpDrams advances every DRAM/SSD adapter's backend by one cycle; returns
// false once none of them have any pending or issued work left, so the
// driver's idle loop can terminate instead of spinning forever.
func pumpDrams(b *config.Built) bool {
	any := false
	for _, d := range b.Drams {
		if d.ClockUntil(b.Ctx) {
			any = true
		}
	}
	return any
}

func emitStats(b *config.Built) {
	for _, id := range b.Graph.Nodes() {
		dev := b.Ctx.DeviceAt(id)
		if dev == nil {
			continue
		}
		dev.LogStats(b.Ctx, os.Stderr)
	}
}

func progName(args []string) string {
	if len(args) == 0 {
		return "fabricsim"
	}
	return args[0]
}
