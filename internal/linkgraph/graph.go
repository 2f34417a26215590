// Package linkgraph maintains the in-memory directed graph of markdown
// links between a tenant's documents. It answers bounded traversals for
// RAG link expansion and reports link cycles.
package linkgraph

import (
	"log/slog"
	"sort"
	"sync"
)

// Graph is a directed graph over relative paths. Edges may point at
// paths that are not (yet) documents; such dangling edges are retained
// but skipped in traversal.
type Graph struct {
	mu sync.RWMutex

	// nodes are paths that have been registered via ReplaceOutEdges.
	// Edge targets outside this set are dangling.
	nodes map[string]struct{}
	out   map[string]map[string]struct{}

	cycles      [][]string
	cyclesValid bool
	warned      map[string]struct{}

	logger *slog.Logger
}

// New creates an empty graph.
func New(logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{
		nodes:  make(map[string]struct{}),
		out:    make(map[string]map[string]struct{}),
		warned: make(map[string]struct{}),
		logger: logger,
	}
}

// ReplaceOutEdges atomically replaces the out-edges of a node. Called
// whenever a document is (re)indexed.
func (g *Graph) ReplaceOutEdges(from string, targets []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes[from] = struct{}{}
	edges := make(map[string]struct{}, len(targets))
	for _, to := range targets {
		edges[to] = struct{}{}
	}
	g.out[from] = edges
	g.cyclesValid = false
}

// RemoveNode drops a node and its out-edges. Inbound edges from other
// documents become dangling.
func (g *Graph) RemoveNode(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.nodes, path)
	delete(g.out, path)
	g.cyclesValid = false
}

// Contains reports whether a path is a registered node.
func (g *Graph) Contains(path string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.nodes[path]
	return ok
}

// OutEdges returns the current link targets of a node, sorted.
func (g *Graph) OutEdges(path string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	edges := g.out[path]
	out := make([]string, 0, len(edges))
	for to := range edges {
		out = append(out, to)
	}
	sort.Strings(out)
	return out
}

// Traverse runs a breadth-first walk from start, returning visited
// registered paths in discovery order, excluding start. It stops after
// maxDepth levels have been expanded or maxNodes paths collected.
// Dangling targets are skipped. Nodes are never revisited.
func (g *Graph) Traverse(start string, maxDepth, maxNodes int) []string {
	if maxDepth <= 0 || maxNodes <= 0 {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]struct{}{start: {}}
	var collected []string
	frontier := []string{start}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, node := range frontier {
			for to := range g.out[node] {
				if _, seen := visited[to]; seen {
					continue
				}
				visited[to] = struct{}{}
				if _, exists := g.nodes[to]; !exists {
					// Dangling edge.
					continue
				}
				collected = append(collected, to)
				if len(collected) >= maxNodes {
					return collected
				}
				next = append(next, to)
			}
		}
		frontier = next
	}
	return collected
}

// WouldCreateCycle reports whether adding an edge from -> to would
// close a cycle, i.e. whether from is reachable from to.
func (g *Graph) WouldCreateCycle(from, to string) bool {
	if from == to {
		return true
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]struct{}{to: {}}
	stack := []string{to}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range g.out[node] {
			if next == from {
				return true
			}
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			stack = append(stack, next)
		}
	}
	return false
}
