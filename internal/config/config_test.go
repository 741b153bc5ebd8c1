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

package config

import "testing"

func minimalDoc() *Doc {
	return &Doc{
		General: GeneralDoc{MaxClock: 1000},
		Devices: map[string]string{
			"h0":   "host",
			"mem0": "dram",
		},
		Edges: []EdgeDoc{{From: "h0", To: "mem0"}},
		Host: map[string]HostDoc{
			"h0": {
				QCapacity: 4, CacheCapacity: 8, IssueDelay: 1, BlockSize: 64,
				Endpoints: []EndpointDoc{{TargetName: "mem0", StartAddr: 0, Capacity: 1 << 16}},
			},
		},
		Dram: map[string]MemDoc{
			"mem0": {TickPerClock: 1, LatencyCycles: 2, BackendCapacity: 8},
		},
	}
}

func TestBuildWiresMinimalTopology(t *testing.T) {
	built, err := Build(minimalDoc())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer built.Close()

	if len(built.Hosts) != 1 {
		t.Fatalf("Hosts = %d, want 1", len(built.Hosts))
	}
	if len(built.Drams) != 1 {
		t.Fatalf("Drams = %d, want 1", len(built.Drams))
	}
	if _, ok := built.Graph.NextHop(0, 1); !ok {
		t.Fatal("no route from host to dram after Build, want a direct edge")
	}
}

func TestBuildRejectsUnknownDeviceType(t *testing.T) {
	doc := minimalDoc()
	doc.Devices["bogus"] = "not-a-real-type"
	if _, err := Build(doc); err == nil {
		t.Fatal("Build with an unknown device type returned no error")
	}
}

func TestBuildRejectsEdgeToUnknownDevice(t *testing.T) {
	doc := minimalDoc()
	doc.Edges = append(doc.Edges, EdgeDoc{From: "h0", To: "ghost"})
	if _, err := Build(doc); err == nil {
		t.Fatal("Build with an edge to an unknown device returned no error")
	}
}

func TestBuildRejectsHostWithNoEndpoints(t *testing.T) {
	doc := minimalDoc()
	doc.Host["h0"] = HostDoc{QCapacity: 1}
	if _, err := Build(doc); err == nil {
		t.Fatal("Build with a host declaring zero endpoints returned no error")
	}
}
