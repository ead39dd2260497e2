package engine

import (
	"github.com/weftworks/weft/engine/store"
)

// Scheduling turns a workflow graph into parallel-executable waves.
//
// The engine runs a graph level by level: every node in a level has all of
// its dependencies satisfied by earlier levels, so the nodes within one
// level can execute concurrently. Ordering within a level follows the
// graph's node order, which keeps runs deterministic for a given saved
// graph regardless of goroutine completion order.

// TopologicalLevels groups the graph's nodes into execution waves using
// Kahn's algorithm:
//
//  1. Level 0 contains every node with no incoming edges.
//  2. Each subsequent level contains the nodes whose incoming edges all
//     originate in earlier levels.
//  3. Within a level, nodes appear in the order they appear in the graph
//     definition.
//
// Edges that reference a node missing from the definition are ignored;
// validation at the service boundary rejects them before a graph is saved,
// but a caller driving the engine directly should not crash on one.
//
// Nodes caught in a cycle never reach in-degree zero and are omitted, so
// a cyclic graph yields only its acyclic prefix. Detecting the cycle is
// the caller's job: HasCycle answers it, and the save path rejects cyclic
// graphs before they reach the store.
func TopologicalLevels(def *store.GraphDefinition) [][]string {
	known := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		known[n.ID] = true
	}

	indegree := make(map[string]int, len(def.Nodes))
	successors := make(map[string][]string, len(def.Nodes))
	for _, e := range def.Edges {
		if !known[e.SourceNode] || !known[e.TargetNode] {
			continue
		}
		indegree[e.TargetNode]++
		successors[e.SourceNode] = append(successors[e.SourceNode], e.TargetNode)
	}

	// Node order in the definition decides order within a level.
	position := make(map[string]int, len(def.Nodes))
	for i, n := range def.Nodes {
		position[n.ID] = i
	}

	var current []string
	for _, n := range def.Nodes {
		if indegree[n.ID] == 0 {
			current = append(current, n.ID)
		}
	}

	var levels [][]string
	for len(current) > 0 {
		levels = append(levels, current)

		readySet := make(map[string]bool)
		for _, id := range current {
			for _, succ := range successors[id] {
				indegree[succ]--
				if indegree[succ] == 0 {
					readySet[succ] = true
				}
			}
		}

		var next []string
		for _, n := range def.Nodes {
			if readySet[n.ID] {
				next = append(next, n.ID)
			}
		}
		current = next
	}

	return levels
}

// HasCycle reports whether the graph cannot be topologically ordered.
// Any node missing from the level partition is part of a cycle.
func HasCycle(def *store.GraphDefinition) bool {
	leveled := 0
	for _, level := range TopologicalLevels(def) {
		leveled += len(level)
	}
	return leveled != len(def.Nodes)
}

// DownstreamNodes returns every node reachable from nodeID by following
// edges forward, nodeID itself first. The result is in breadth-first
// discovery order and contains no duplicates; an id missing from the
// definition yields nil.
//
// Used to mark dependents stale after an upstream change and to build the
// subgraph for continue-from-here runs.
func DownstreamNodes(def *store.GraphDefinition, nodeID string) []string {
	known := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		known[n.ID] = true
	}
	if !known[nodeID] {
		return nil
	}

	successors := make(map[string][]string, len(def.Nodes))
	for _, e := range def.Edges {
		if !known[e.SourceNode] || !known[e.TargetNode] {
			continue
		}
		successors[e.SourceNode] = append(successors[e.SourceNode], e.TargetNode)
	}

	seen := map[string]bool{nodeID: true}
	out := []string{nodeID}
	frontier := []string{nodeID}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			for _, succ := range successors[id] {
				if seen[succ] {
					continue
				}
				seen[succ] = true
				out = append(out, succ)
				next = append(next, succ)
			}
		}
		frontier = next
	}
	return out
}
