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

// Package config parses the TOML configuration document spec.md §6 names
// and compiles it into a runnable topology.Graph plus fully-wired devices.
// No hand-rolled TOML tokenizer is written here — github.com/BurntSushi/toml
// does the parsing; this package only shapes the resulting tree into structs
// and validates/wires it, matching the config-error half of spec.md §7's
// failure taxonomy.
package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"fabricsim/internal/backend"
	backenddram "fabricsim/internal/backend/dram"
	backendssd "fabricsim/internal/backend/ssd"
	"fabricsim/internal/fabric/bus"
	"fabricsim/internal/fabric/burst"
	"fabricsim/internal/fabric/device"
	fabricdram "fabricsim/internal/fabric/dram"
	"fabricsim/internal/fabric/host"
	"fabricsim/internal/fabric/packet"
	"fabricsim/internal/fabric/packing"
	"fabricsim/internal/fabric/snoop"
	"fabricsim/internal/fabric/switchdev"
	"fabricsim/internal/fabric/topology"
	"fabricsim/internal/simlog"
	"fabricsim/internal/statlog"
	"fabricsim/internal/telemetry"
)

// Doc is the raw decoded document, shaped directly after spec.md §6's keyed
// sections.
type Doc struct {
	General GeneralDoc        `toml:"general"`
	Devices map[string]string `toml:"devices"`
	Edges   []EdgeDoc         `toml:"edges"`

	Bus     map[string]BusDoc     `toml:"bus"`
	Switch  map[string]SwitchDoc  `toml:"switch"`
	Snoop   map[string]SnoopDoc   `toml:"snoop"`
	Packing map[string]PackingDoc `toml:"packing"`
	Host    map[string]HostDoc    `toml:"host"`
	Dram    map[string]MemDoc     `toml:"dram"`
	Ssd     map[string]MemDoc     `toml:"ssd"`
}

// GeneralDoc is the `[general]` table.
type GeneralDoc struct {
	MaxClock    int64  `toml:"max_clock"`
	ClockGranu  int64  `toml:"clock_granu"`
	LogName     string `toml:"log_name"`
	LogLevel    string `toml:"log_level"`
	MetricsAddr string `toml:"metrics_addr"`
}

// EdgeDoc is one `[[edges]]` entry.
type EdgeDoc struct {
	From string `toml:"from"`
	To   string `toml:"to"`
}

// BusDoc is one `[bus.<name>]` table.
type BusDoc struct {
	IsFull      bool  `toml:"is_full"`
	HalfRevTime int64 `toml:"half_rev_time"`
	DelayPerT   int64 `toml:"delay_per_T"`
	Width       int   `toml:"width"`
	FramingTime int64 `toml:"framing_time"`
	FrameSize   int   `toml:"frame_size"`
}

// SwitchDoc is one `[switch.<name>]` table.
type SwitchDoc struct {
	Delay    int64    `toml:"delay"`
	Upstream []string `toml:"upstream"`
	WaitForQ int      `toml:"wait_for_q"`
}

// SnoopDoc is one `[snoop.<name>]` table.
type SnoopDoc struct {
	LineNum     int    `toml:"line_num"`
	Assoc       int    `toml:"assoc"`
	MaxBurstInv int    `toml:"max_burst_inv"`
	Eviction    string `toml:"eviction"`
}

// PackingDoc is one `[packing.<name>]` table.
type PackingDoc struct {
	PackagingNum int      `toml:"packaging_num"`
	Upstream     []string `toml:"upstream"`
}

// EndpointDoc is one `[[host.<name>.endpoints]]` entry.
type EndpointDoc struct {
	TargetName string  `toml:"target_name"`
	StartAddr  uint64  `toml:"start_addr"`
	Capacity   uint64  `toml:"capacity"`
	WriteRatio float64 `toml:"write_ratio"`
}

// HostDoc is one `[host.<name>]` table.
type HostDoc struct {
	QCapacity       int64         `toml:"q_capacity"`
	CacheCapacity   int           `toml:"cache_capacity"`
	CacheDelay      int64         `toml:"cache_delay"`
	IssueDelay      int64         `toml:"issue_delay"`
	Coherent        bool          `toml:"coherent"`
	BurstSize       int           `toml:"burst_size"`
	BlockSize       int           `toml:"block_size"`
	InterleaveType  string        `toml:"interleave_type"`
	InterleaveParam int64         `toml:"interleave_param"`
	TraceFile       string        `toml:"trace_file"`
	Seed            int64         `toml:"seed"`
	Endpoints       []EndpointDoc `toml:"endpoints"`
}

// MemDoc is one `[dram.<name>]` or `[ssd.<name>]` table; both adapters share
// the same four-operation backend contract (spec.md §4.9, the SPEC_FULL
// supplemented SSD adapter), so one doc shape serves both device types.
type MemDoc struct {
	TickPerClock int64   `toml:"tick_per_clock"`
	ProcessTime  int64   `toml:"process_time"`
	Start        uint64  `toml:"start"`
	Capacity     uint64  `toml:"capacity"`
	WrRatio      float64 `toml:"wr_ratio"`
	ConfigFile   string  `toml:"config_file"`
	OutputDir    string  `toml:"output_dir"`

	Backend            string `toml:"backend"`
	LatencyCycles      int64  `toml:"latency_cycles"`
	BackendCapacity    int    `toml:"backend_capacity"`
	RedisAddr          string `toml:"redis_addr"`
	KafkaTopic         string `toml:"kafka_topic"`
	WriteBudgetPerTick int    `toml:"write_budget_per_tick"`
}

// Load decodes a TOML document from path.
func Load(path string) (*Doc, error) {
	var d Doc
	if _, err := toml.DecodeFile(path, &d); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &d, nil
}

// Built is a fully compiled, ready-to-run simulation: the graph, the owning
// Context, the per-type device handles the driver needs direct access to
// (hosts to check all_issued/q_empty, dram adapters to pump clock_granu
// ticks), and the ambient-stack handles (log file, CSV sink, metrics).
type Built struct {
	Ctx   *device.Context
	Graph *topology.Graph

	Hosts []*host.Host
	Drams []*fabricdram.Dram

	General GeneralDoc
	Metrics *telemetry.Metrics

	LogFile *os.File
	Sink    *statlog.CSVWriter
}

// Close releases the file handles Build opened.
func (b *Built) Close() error {
	var err error
	if b.Sink != nil {
		err = b.Sink.Flush()
	}
	if b.LogFile != nil {
		if cerr := b.LogFile.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Build validates doc and compiles it into a Built simulation.
func Build(doc *Doc) (*Built, error) {
	if len(doc.Devices) == 0 {
		return nil, fmt.Errorf("config: devices table is empty")
	}

	names := make([]string, 0, len(doc.Devices))
	for name := range doc.Devices {
		names = append(names, name)
	}
	sort.Strings(names)

	ids := make(map[string]packet.TopoId, len(names))
	for i, name := range names {
		ids[name] = packet.TopoId(i)
	}

	graph := topology.New()
	for _, name := range names {
		graph.AddNode(ids[name], name)
	}

	for _, e := range doc.Edges {
		from, ok := ids[e.From]
		if !ok {
			return nil, fmt.Errorf("config: edge references unknown device %q", e.From)
		}
		to, ok := ids[e.To]
		if !ok {
			return nil, fmt.Errorf("config: edge references unknown device %q", e.To)
		}
		graph.AddEdge(from, to)
	}
	graph.CompileRoutes()

	logger := simlog.New(simlog.ParseLevel(doc.General.LogLevel))
	metrics := telemetry.New()
	metrics.Serve(doc.General.MetricsAddr)

	ctx := device.NewContext(graph, logger)

	var logFile *os.File
	var sink *statlog.CSVWriter
	if doc.General.LogName != "" {
		f, err := os.Create(doc.General.LogName)
		if err != nil {
			return nil, fmt.Errorf("config: opening packet log %q: %w", doc.General.LogName, err)
		}
		logFile = f
		sink, err = statlog.NewCSVWriter(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("config: writing packet log header: %w", err)
		}
	}

	built := &Built{
		Ctx: ctx, Graph: graph, General: doc.General, Metrics: metrics,
		LogFile: logFile, Sink: sink,
	}

	for _, name := range names {
		id := ids[name]
		typ := doc.Devices[name]
		dev, err := buildDevice(ctx, ids, id, name, typ, doc, metrics, sink, built)
		if err != nil {
			return nil, err
		}
		ctx.Register(dev)
	}

	for _, h := range built.Hosts {
		h.Start(ctx)
	}

	return built, nil
}

func buildDevice(ctx *device.Context, ids map[string]packet.TopoId, id packet.TopoId, name, typ string, doc *Doc, metrics *telemetry.Metrics, sink *statlog.CSVWriter, built *Built) (device.Device, error) {
	switch typ {
	case "bus":
		d, ok := doc.Bus[name]
		if !ok {
			return nil, fmt.Errorf("config: device %q declared as bus but has no [bus.%s] table", name, name)
		}
		return bus.New(id, name, bus.Config{
			FullDuplex: d.IsFull, HalfReverseTime: d.HalfRevTime, DelayPerUnit: d.DelayPerT,
			LaneWidthBits: d.Width, FramingTime: d.FramingTime, FrameSizeBytes: d.FrameSize,
			Metrics: metrics,
		}), nil

	case "switch":
		d, ok := doc.Switch[name]
		if !ok {
			return nil, fmt.Errorf("config: device %q declared as switch but has no [switch.%s] table", name, name)
		}
		up, err := resolveNames(ids, d.Upstream)
		if err != nil {
			return nil, err
		}
		return switchdev.New(id, name, switchdev.Config{
			PerHopDelay: d.Delay, Upstream: up, WaitForQ: d.WaitForQ, Metrics: metrics,
		}), nil

	case "snoop":
		d, ok := doc.Snoop[name]
		if !ok {
			return nil, fmt.Errorf("config: device %q declared as snoop but has no [snoop.%s] table", name, name)
		}
		sn, err := snoop.New(id, name, snoop.Config{
			LineNum: d.LineNum, Assoc: d.Assoc, MaxBurstInv: d.MaxBurstInv, Eviction: d.Eviction,
			Metrics: metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		return sn, nil

	case "packing":
		d, ok := doc.Packing[name]
		if !ok {
			return nil, fmt.Errorf("config: device %q declared as packing but has no [packing.%s] table", name, name)
		}
		up, err := resolveNames(ids, d.Upstream)
		if err != nil {
			return nil, err
		}
		return packing.New(id, name, packing.Config{PackagingNum: d.PackagingNum, Upstream: up}), nil

	case "burst":
		return burst.New(id, name), nil

	case "dram":
		d, ok := doc.Dram[name]
		if !ok {
			return nil, fmt.Errorf("config: device %q declared as dram but has no [dram.%s] table", name, name)
		}
		dr, err := fabricdram.New(id, name, fabricdram.Config{
			TickPerClock: d.TickPerClock, ProcessTime: d.ProcessTime, Base: d.Start,
		}, func(onComplete backend.CompletionFunc) (backend.MemoryBackend, error) {
			return backenddram.New(backenddram.Options{
				Kind: d.Backend, LatencyCycles: d.LatencyCycles, Capacity: d.BackendCapacity,
				RedisAddr: d.RedisAddr,
			}, onComplete)
		})
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		built.Drams = append(built.Drams, dr)
		return dr, nil

	case "ssd":
		d, ok := doc.Ssd[name]
		if !ok {
			return nil, fmt.Errorf("config: device %q declared as ssd but has no [ssd.%s] table", name, name)
		}
		dr, err := fabricdram.New(id, name, fabricdram.Config{
			TickPerClock: d.TickPerClock, ProcessTime: d.ProcessTime, Base: d.Start,
		}, func(onComplete backend.CompletionFunc) (backend.MemoryBackend, error) {
			return backendssd.New(backendssd.Options{
				Kind: d.Backend, LatencyCycles: d.LatencyCycles, Capacity: d.BackendCapacity,
				WriteBudgetPerTick: d.WriteBudgetPerTick, KafkaTopic: d.KafkaTopic,
			}, onComplete)
		})
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		built.Drams = append(built.Drams, dr)
		return dr, nil

	case "host":
		d, ok := doc.Host[name]
		if !ok {
			return nil, fmt.Errorf("config: device %q declared as host but has no [host.%s] table", name, name)
		}
		endpoints := make([]host.Endpoint, 0, len(d.Endpoints))
		for _, e := range d.Endpoints {
			epID, ok := ids[e.TargetName]
			if !ok {
				return nil, fmt.Errorf("config: host %q endpoint targets unknown device %q", name, e.TargetName)
			}
			endpoints = append(endpoints, host.Endpoint{ID: epID, Start: e.StartAddr, Capacity: e.Capacity, WriteRatio: e.WriteRatio})
		}
		if len(endpoints) == 0 {
			return nil, fmt.Errorf("config: host %q declares no endpoints", name)
		}

		interleaver, err := buildInterleaver(d, endpoints)
		if err != nil {
			return nil, fmt.Errorf("config: host %q: %w", name, err)
		}

		h := host.New(id, name, host.Config{
			QCapacity: d.QCapacity, CacheCapacity: d.CacheCapacity, CacheDelay: d.CacheDelay,
			IssueDelay: d.IssueDelay, Coherent: d.Coherent, BurstSize: d.BurstSize, BlockSize: d.BlockSize,
			Sink: sink, Metrics: metrics,
		}, endpoints, interleaver)
		built.Hosts = append(built.Hosts, h)
		return h, nil

	default:
		return nil, fmt.Errorf("config: device %q has unknown type %q", name, typ)
	}
}

func resolveNames(ids map[string]packet.TopoId, names []string) (map[packet.TopoId]bool, error) {
	out := make(map[packet.TopoId]bool, len(names))
	for _, n := range names {
		id, ok := ids[n]
		if !ok {
			return nil, fmt.Errorf("config: upstream entry references unknown device %q", n)
		}
		out[id] = true
	}
	return out, nil
}

func buildInterleaver(d HostDoc, endpoints []host.Endpoint) (host.Interleaver, error) {
	blockSize := uint64(d.BlockSize)
	if blockSize == 0 {
		blockSize = 64
	}
	switch d.InterleaveType {
	case "", "stream":
		return host.NewStream(endpoints, d.InterleaveParam, blockSize, d.Seed), nil
	case "random":
		return host.NewRandom(endpoints, d.InterleaveParam, blockSize, d.Seed), nil
	case "trace":
		if len(endpoints) != 1 {
			return nil, fmt.Errorf("trace interleave_type requires exactly one endpoint, got %d", len(endpoints))
		}
		if d.TraceFile == "" {
			return nil, fmt.Errorf("trace interleave_type requires trace_file")
		}
		f, err := os.Open(d.TraceFile)
		if err != nil {
			return nil, fmt.Errorf("opening trace_file: %w", err)
		}
		defer f.Close()
		entries, err := host.ParseTrace(f)
		if err != nil {
			return nil, fmt.Errorf("parsing trace_file: %w", err)
		}
		return host.NewTrace(endpoints[0], entries), nil
	default:
		return nil, fmt.Errorf("unknown interleave_type %q", d.InterleaveType)
	}
}
