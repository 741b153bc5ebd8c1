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

// Package topology is the undirected device graph: node adjacency, per-node
// FIFO inboxes, and per-source next-hop routing tables built once via BFS.
package topology

import (
	"container/list"

	"fabricsim/internal/fabric/packet"
)

// Node is one device's position in the graph: its neighbor set and its
// inbound packet FIFO. The FIFO is a container/list, the same structure the
// teacher's plugin/tfd/vactors.go used for its per-key ordered envelope
// queues — here it orders packets delivered to a device between transits.
type Node struct {
	ID        packet.TopoId
	Name      string
	Neighbors []packet.TopoId
	inbox     *list.List
}

// PushInbox appends a packet to this node's FIFO.
func (n *Node) PushInbox(p *packet.Packet) {
	n.inbox.PushBack(p)
}

// PopInbox removes and returns the oldest queued packet, or nil if empty.
func (n *Node) PopInbox() *packet.Packet {
	e := n.inbox.Front()
	if e == nil {
		return nil
	}
	n.inbox.Remove(e)
	return e.Value.(*packet.Packet)
}

// InboxLen reports the number of packets currently queued.
func (n *Node) InboxLen() int {
	return n.inbox.Len()
}

// Graph is the undirected device graph plus its compiled routing tables.
type Graph struct {
	nodes  map[packet.TopoId]*Node
	order  []packet.TopoId
	routes map[packet.TopoId]map[packet.TopoId]packet.TopoId // route[s][d] = first hop
}

// New constructs an empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[packet.TopoId]*Node),
	}
}

// AddNode registers a device node. Names must be unique; ids are assigned by
// the caller (the config compiler) and must also be unique.
func (g *Graph) AddNode(id packet.TopoId, name string) *Node {
	n := &Node{ID: id, Name: name, inbox: list.New()}
	g.nodes[id] = n
	g.order = append(g.order, id)
	return n
}

// AddEdge connects two nodes undirected; both endpoints must already exist.
func (g *Graph) AddEdge(a, b packet.TopoId) {
	na, ok := g.nodes[a]
	if !ok {
		panic("topology.AddEdge: unknown node id (from)")
	}
	nb, ok := g.nodes[b]
	if !ok {
		panic("topology.AddEdge: unknown node id (to)")
	}
	na.Neighbors = append(na.Neighbors, b)
	nb.Neighbors = append(nb.Neighbors, a)
}

// Node returns the node for an id, or nil if absent.
func (g *Graph) Node(id packet.TopoId) *Node {
	return g.nodes[id]
}

// Nodes returns every node id in insertion order.
func (g *Graph) Nodes() []packet.TopoId {
	return g.order
}

// CompileRoutes builds route[s][d] = first-hop neighbor on a shortest s->d
// path, for every source s, via one BFS per source. Must be called once
// after the graph is fully built and before any packet is routed.
func (g *Graph) CompileRoutes() {
	g.routes = make(map[packet.TopoId]map[packet.TopoId]packet.TopoId, len(g.order))
	for _, s := range g.order {
		g.routes[s] = bfsFirstHops(g, s)
	}
}

func bfsFirstHops(g *Graph, s packet.TopoId) map[packet.TopoId]packet.TopoId {
	firstHop := make(map[packet.TopoId]packet.TopoId)
	visited := map[packet.TopoId]bool{s: true}
	queue := []packet.TopoId{s}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range g.nodes[cur].Neighbors {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			if cur == s {
				firstHop[nb] = nb
			} else {
				firstHop[nb] = firstHop[cur]
			}
			queue = append(queue, nb)
		}
	}
	return firstHop
}

// NextHop returns the first-hop neighbor on a shortest path from s to d, and
// true if one exists. NextHop(s, s) returns (0, false) — "none", per
// spec.md §3.
func (g *Graph) NextHop(s, d packet.TopoId) (packet.TopoId, bool) {
	if s == d {
		return 0, false
	}
	hops, ok := g.routes[s]
	if !ok {
		return 0, false
	}
	h, ok := hops[d]
	return h, ok
}

// ReachableWithinHops reports whether iteratively following route[·][d] from
// s terminates at d within at most len(nodes) steps — the routing
// correctness invariant from spec.md §8 property 4.
func (g *Graph) ReachableWithinHops(s, d packet.TopoId) bool {
	cur := s
	for i := 0; i <= len(g.order); i++ {
		if cur == d {
			return true
		}
		next, ok := g.NextHop(cur, d)
		if !ok {
			return false
		}
		cur = next
	}
	return false
}
