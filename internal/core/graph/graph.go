// Package graph provides the pure dependency graph used to order resource
// startup and pipeline steps.
//
// Two edge types are recorded. WaitFor edges are execution dependencies and
// take part in ordering and cycle detection. ParentGroup edges are metadata:
// they may point at a node that is never registered in the graph and are
// ignored by StartOrder.
//
// A Graph is not safe for concurrent use; callers serialize access.
package graph

import (
	"container/heap"
	"fmt"

	"github.com/artpar/apphost/internal/core/domain"
)

// =============================================================================
// Edge Types
// =============================================================================

// EdgeType distinguishes ordering edges from grouping edges.
type EdgeType string

const (
	EdgeWaitFor     EdgeType = "wait-for"
	EdgeParentGroup EdgeType = "parent-group"
)

// Edge is a directed relation. From is the dependent (or child), To is the
// dependency (or group).
type Edge struct {
	From string
	To   string
	Type EdgeType
}

// =============================================================================
// Graph
// =============================================================================

// Graph records nodes in registration order and typed edges between them.
type Graph struct {
	nodes []string
	index map[string]int
	edges []Edge
	seen  map[Edge]bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		index: make(map[string]int),
		seen:  make(map[Edge]bool),
	}
}

// AddNode registers a node. Re-adding an existing node keeps its original
// position.
func (g *Graph) AddNode(name string) {
	if _, ok := g.index[name]; ok {
		return
	}
	g.index[name] = len(g.nodes)
	g.nodes = append(g.nodes, name)
}

// HasNode reports whether name was registered.
func (g *Graph) HasNode(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Nodes returns all nodes in registration order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// AddWaitFor records that dependent must not start before dependency is ready.
// A self edge is reported immediately as a one-node cycle.
func (g *Graph) AddWaitFor(dependent, dependency string) error {
	if dependent == dependency {
		return &domain.CycleError{Path: []string{dependent}}
	}
	g.addEdge(Edge{From: dependent, To: dependency, Type: EdgeWaitFor})
	return nil
}

// AddParentGroup records that child belongs to group. The group does not
// need to exist yet.
func (g *Graph) AddParentGroup(child, group string) {
	g.addEdge(Edge{From: child, To: group, Type: EdgeParentGroup})
}

func (g *Graph) addEdge(e Edge) {
	if g.seen[e] {
		return
	}
	g.seen[e] = true
	g.edges = append(g.edges, e)
}

// WaitFor returns the direct dependencies of name, in declaration order.
func (g *Graph) WaitFor(name string) []string {
	return g.targets(name, EdgeWaitFor)
}

// ParentsOf returns the groups name declared as parent, in declaration order.
func (g *Graph) ParentsOf(name string) []string {
	return g.targets(name, EdgeParentGroup)
}

// ChildrenOf returns every node that declared group as parent.
func (g *Graph) ChildrenOf(group string) []string {
	var out []string
	for _, e := range g.edges {
		if e.Type == EdgeParentGroup && e.To == group {
			out = append(out, e.From)
		}
	}
	return out
}

// HasParent reports whether child declared group as parent.
func (g *Graph) HasParent(child, group string) bool {
	return g.seen[Edge{From: child, To: group, Type: EdgeParentGroup}]
}

// Edges returns all edges of the given type in declaration order.
func (g *Graph) Edges(t EdgeType) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (g *Graph) targets(name string, t EdgeType) []string {
	var out []string
	for _, e := range g.edges {
		if e.Type == t && e.From == name {
			out = append(out, e.To)
		}
	}
	return out
}

// =============================================================================
// Ordering
// =============================================================================

// StartOrder sorts nodes so every node comes after its WaitFor dependencies,
// using Kahn's algorithm. Among nodes that are ready at the same time the one
// registered first is emitted first, so the result is deterministic for a
// given registration order.
//
// Errors:
//   - domain.ErrNotFound if a WaitFor edge names an unregistered node
//   - *domain.CycleError naming every node on the first cycle found
//
// Example:
//
//	g := New()
//	g.AddNode("web"); g.AddNode("api"); g.AddNode("db")
//	g.AddWaitFor("web", "api")
//	g.AddWaitFor("api", "db")
//	order, _ := g.StartOrder()
//	// order: [db api web]
func (g *Graph) StartOrder() ([]string, error) {
	inDegree := make([]int, len(g.nodes))
	dependents := make([][]int, len(g.nodes))

	for _, e := range g.edges {
		if e.Type != EdgeWaitFor {
			continue
		}
		from, ok := g.index[e.From]
		if !ok {
			return nil, domain.NewTopologyError("StartOrder", e.From, "dependent is not registered", domain.ErrNotFound)
		}
		to, ok := g.index[e.To]
		if !ok {
			return nil, domain.NewTopologyError("StartOrder", e.From,
				fmt.Sprintf("waits for unregistered resource %s", e.To), domain.ErrNotFound)
		}
		inDegree[from]++
		dependents[to] = append(dependents[to], from)
	}

	ready := &indexHeap{}
	for i, d := range inDegree {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		result = append(result, g.nodes[i])
		for _, dep := range dependents[i] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				heap.Push(ready, dep)
			}
		}
	}

	if len(result) < len(g.nodes) {
		return nil, &domain.CycleError{Path: g.findCycle(inDegree)}
	}
	return result, nil
}

// findCycle walks WaitFor edges among the nodes left over by Kahn's
// algorithm. Every leftover node either lies on a cycle or waits on one, so
// following dependencies from any of them must revisit a node.
func (g *Graph) findCycle(inDegree []int) []string {
	for start, d := range inDegree {
		if d == 0 {
			continue
		}
		var path []string
		onPath := make(map[string]int)
		current := g.nodes[start]
		for {
			if pos, ok := onPath[current]; ok {
				return path[pos:]
			}
			onPath[current] = len(path)
			path = append(path, current)
			next := ""
			for _, dep := range g.WaitFor(current) {
				if inDegree[g.index[dep]] > 0 {
					next = dep
					break
				}
			}
			if next == "" {
				break
			}
			current = next
		}
	}
	return nil
}

// indexHeap is a min-heap of registration indices.
type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
