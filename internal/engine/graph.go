package engine

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
)

type vertex struct {
	node       Node
	upstream   []string
	downstream []string
	timeout    time.Duration
	classify   Classifier
}

// Graph is a directed acyclic graph of named nodes. Topology errors are
// reported eagerly by Register and Connect.
type Graph struct {
	vertices map[string]*vertex
	order    []string // registration order
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{vertices: make(map[string]*vertex)}
}

func execErr(node, format string, args ...any) error {
	return &domain.ExecutorError{Node: node, Reason: fmt.Sprintf(format, args...)}
}

// Register adds n with the given upstream dependencies. It fails with an
// ExecutorError if the id is empty or already registered, if a dependency is
// unknown, or if a dependency would introduce a cycle.
func (g *Graph) Register(n Node, upstream []string, opts ...NodeOption) error {
	if n == nil {
		return execErr("", "nil node")
	}
	id := n.ID()
	if strings.TrimSpace(id) == "" {
		return execErr("", "node id is empty")
	}
	if _, dup := g.vertices[id]; dup {
		return execErr(id, "duplicate node id")
	}
	seen := make(map[string]struct{}, len(upstream))
	for _, dep := range upstream {
		if dep == id {
			return execErr(id, "cycle detected: node depends on itself")
		}
		if _, ok := g.vertices[dep]; !ok {
			return execErr(id, "unknown dependency '%s'", dep)
		}
		if _, ok := seen[dep]; ok {
			return execErr(id, "dependency '%s' listed twice", dep)
		}
		seen[dep] = struct{}{}
	}

	v := &vertex{node: n}
	for _, opt := range opts {
		opt(v)
	}
	g.vertices[id] = v
	g.order = append(g.order, id)
	for _, dep := range upstream {
		g.link(dep, id)
	}
	return nil
}

// Connect adds a dependency edge between two registered nodes: to will wait
// for from. It fails if either node is unknown or if the edge closes a cycle.
func (g *Graph) Connect(from, to string) error {
	if from == to {
		return execErr(to, "cycle detected: node depends on itself")
	}
	if _, ok := g.vertices[from]; !ok {
		return execErr(to, "unknown dependency '%s'", from)
	}
	if _, ok := g.vertices[to]; !ok {
		return execErr(to, "unknown node")
	}
	if slices.Contains(g.vertices[to].upstream, from) {
		return nil
	}
	g.link(from, to)
	if cyc := g.findCycle(); cyc != "" {
		g.unlink(from, to)
		return execErr(to, "cycle detected involving node '%s'", cyc)
	}
	return nil
}

func (g *Graph) link(from, to string) {
	g.vertices[to].upstream = append(g.vertices[to].upstream, from)
	g.vertices[from].downstream = append(g.vertices[from].downstream, to)
}

func (g *Graph) unlink(from, to string) {
	v := g.vertices[to]
	v.upstream = slices.DeleteFunc(v.upstream, func(s string) bool { return s == from })
	u := g.vertices[from]
	u.downstream = slices.DeleteFunc(u.downstream, func(s string) bool { return s == to })
}

// findCycle runs a three-colour DFS and returns a node on a cycle, or "".
func (g *Graph) findCycle() string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.vertices))
	var visit func(id string) string
	visit = func(id string) string {
		color[id] = grey
		for _, next := range g.vertices[id].downstream {
			switch color[next] {
			case grey:
				return next
			case white:
				if c := visit(next); c != "" {
					return c
				}
			}
		}
		color[id] = black
		return ""
	}
	for _, id := range g.order {
		if color[id] == white {
			if c := visit(id); c != "" {
				return c
			}
		}
	}
	return ""
}

// Len returns the number of registered nodes.
func (g *Graph) Len() int { return len(g.order) }

// Nodes returns node ids in registration order.
func (g *Graph) Nodes() []string { return slices.Clone(g.order) }

// Upstream returns the dependencies of id.
func (g *Graph) Upstream(id string) []string {
	if v, ok := g.vertices[id]; ok {
		return slices.Clone(v.upstream)
	}
	return nil
}

// Downstream returns the nodes that depend on id.
func (g *Graph) Downstream(id string) []string {
	if v, ok := g.vertices[id]; ok {
		return slices.Clone(v.downstream)
	}
	return nil
}

// IsFanIn reports whether id waits on more than one upstream node. Like
// Upstream, Downstream and TopologicalOrder it is for inspecting a built
// graph; the executor does not use it.
func (g *Graph) IsFanIn(id string) bool {
	return len(g.Upstream(id)) > 1
}

// TopologicalOrder returns the node ids in a dependency-respecting order,
// stable with respect to registration order. The executor schedules by
// readiness, not by this order; it is for inspection and tests.
func (g *Graph) TopologicalOrder() []string {
	indeg := make(map[string]int, len(g.order))
	for _, id := range g.order {
		indeg[id] = len(g.vertices[id].upstream)
	}
	out := make([]string, 0, len(g.order))
	done := make(map[string]bool, len(g.order))
	for len(out) < len(g.order) {
		progressed := false
		for _, id := range g.order {
			if done[id] || indeg[id] > 0 {
				continue
			}
			done[id] = true
			out = append(out, id)
			for _, d := range g.vertices[id].downstream {
				indeg[d]--
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return out
}
