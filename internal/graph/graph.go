// Package graph adapts the external workspace dependency-graph tool.
// It answers two questions: which projects are affected between two
// revisions, and what is the transitive closure of a project's
// dependencies or dependents.
package graph

import (
	"sort"
)

// Graph is the materialized project dependency graph. Edges point from
// a project to the projects it depends on.
type Graph struct {
	Nodes map[string]struct{}
	Edges map[string][]string
}

// NewGraph builds a Graph from node names and dependency edges.
// Targets referenced only as edge endpoints are added as nodes too.
func NewGraph(nodes []string, edges map[string][]string) *Graph {
	g := &Graph{
		Nodes: make(map[string]struct{}, len(nodes)),
		Edges: make(map[string][]string, len(edges)),
	}
	for _, n := range nodes {
		g.Nodes[n] = struct{}{}
	}
	for from, targets := range edges {
		g.Nodes[from] = struct{}{}
		for _, to := range targets {
			g.Nodes[to] = struct{}{}
		}
		g.Edges[from] = append([]string(nil), targets...)
	}
	return g
}

// Direction selects which way edges are followed during traversal.
type Direction int

const (
	// Down follows "depends on" edges: the forward dependency closure.
	Down Direction = iota

	// Up follows edges in reverse: the dependent (reverse) closure.
	Up
)

func (d Direction) String() string {
	if d == Up {
		return "up"
	}
	return "down"
}

// Closure returns the complete transitive closure reachable from start,
// excluding start itself. The traversal is an iterative depth-first
// walk with a visited set, so cyclic graphs terminate.
func (g *Graph) Closure(start string, dir Direction) map[string]struct{} {
	edges := g.Edges
	if dir == Up {
		edges = g.reverseEdges()
	}

	visited := map[string]struct{}{start: {}}
	result := make(map[string]struct{})
	stack := append([]string(nil), edges[start]...)

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[node]; seen {
			continue
		}
		visited[node] = struct{}{}
		result[node] = struct{}{}
		stack = append(stack, edges[node]...)
	}

	return result
}

// SortedNodes returns the node names in lexical order.
func (g *Graph) SortedNodes() []string {
	nodes := make([]string, 0, len(g.Nodes))
	for n := range g.Nodes {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}

func (g *Graph) reverseEdges() map[string][]string {
	reversed := make(map[string][]string, len(g.Edges))
	for from, targets := range g.Edges {
		for _, to := range targets {
			reversed[to] = append(reversed[to], from)
		}
	}
	return reversed
}
