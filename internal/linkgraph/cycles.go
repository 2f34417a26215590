package linkgraph

import (
	"log/slog"
	"sort"
	"strings"
)

// DetectCycles returns the strongly-connected components of size >= 2
// plus self-loops. Members of each cycle are sorted; the result is
// cached until the graph mutates. New cycles are logged at warning
// level once per signature.
func (g *Graph) DetectCycles() [][]string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.cyclesValid {
		g.cycles = g.computeCycles()
		g.cyclesValid = true
		for _, cycle := range g.cycles {
			sig := strings.Join(cycle, ",")
			if _, seen := g.warned[sig]; !seen {
				g.warned[sig] = struct{}{}
				g.logger.Warn("link cycle detected",
					slog.Any("paths", cycle))
			}
		}
	}

	out := make([][]string, len(g.cycles))
	copy(out, g.cycles)
	return out
}

// CyclesContaining filters the cycle report to cycles including path.
func (g *Graph) CyclesContaining(path string) [][]string {
	var out [][]string
	for _, cycle := range g.DetectCycles() {
		for _, member := range cycle {
			if member == path {
				out = append(out, cycle)
				break
			}
		}
	}
	return out
}

// computeCycles runs Tarjan's SCC algorithm (iteratively, to survive
// deep link chains) and keeps components of size >= 2 and self-loops.
// Caller holds the write lock.
func (g *Graph) computeCycles() [][]string {
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var cycles [][]string

	// Deterministic iteration for stable signatures.
	roots := make([]string, 0, len(g.nodes))
	for node := range g.nodes {
		roots = append(roots, node)
	}
	sort.Strings(roots)

	type frame struct {
		node  string
		edges []string
		next  int
	}

	edgesOf := func(node string) []string {
		var out []string
		for to := range g.out[node] {
			if _, exists := g.nodes[to]; exists {
				out = append(out, to)
			}
		}
		sort.Strings(out)
		return out
	}

	for _, root := range roots {
		if _, visited := indices[root]; visited {
			continue
		}

		frames := []frame{{node: root, edges: edgesOf(root)}}
		indices[root] = index
		lowlink[root] = index
		index++
		stack = append(stack, root)
		onStack[root] = true

		for len(frames) > 0 {
			f := &frames[len(frames)-1]

			if f.next < len(f.edges) {
				to := f.edges[f.next]
				f.next++
				if _, visited := indices[to]; !visited {
					indices[to] = index
					lowlink[to] = index
					index++
					stack = append(stack, to)
					onStack[to] = true
					frames = append(frames, frame{node: to, edges: edgesOf(to)})
				} else if onStack[to] {
					if indices[to] < lowlink[f.node] {
						lowlink[f.node] = indices[to]
					}
				}
				continue
			}

			// Frame exhausted: maybe pop an SCC, then propagate the
			// lowlink to the parent.
			if lowlink[f.node] == indices[f.node] {
				var component []string
				for {
					top := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[top] = false
					component = append(component, top)
					if top == f.node {
						break
					}
				}
				if cycle := g.keepCycle(component); cycle != nil {
					cycles = append(cycles, cycle)
				}
			}

			node := f.node
			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				parent := frames[len(frames)-1].node
				if lowlink[node] < lowlink[parent] {
					lowlink[parent] = lowlink[node]
				}
			}
		}
	}

	sort.Slice(cycles, func(i, j int) bool {
		return cycles[i][0] < cycles[j][0]
	})
	return cycles
}

// keepCycle returns a sorted cycle for components of size >= 2 or
// self-loops, nil otherwise.
func (g *Graph) keepCycle(component []string) []string {
	if len(component) == 1 {
		node := component[0]
		if _, selfLoop := g.out[node][node]; !selfLoop {
			return nil
		}
	}
	sort.Strings(component)
	return component
}
