package engine

import (
	"fmt"

	"github.com/actiongraph/actiongraph/internal/ir"
)

// DAG indexes the dependency edges of a build graph.
type DAG struct {
	nodes map[string]*dagNode
	order []string // topological order, prerequisites first
}

type dagNode struct {
	node     *ir.Node
	edges    []string // uids this node depends on
	revEdges []string // uids that depend on this node
}

// BuildDAG indexes g and sorts it topologically. Every dep must resolve and
// the edges must not form a cycle. When uids repeat the first node wins.
func BuildDAG(g *ir.Graph) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode, len(g.Graph)),
	}

	var uids []string
	for _, n := range g.Graph {
		if _, ok := dag.nodes[n.UID]; ok {
			continue
		}
		dag.nodes[n.UID] = &dagNode{node: n}
		uids = append(uids, n.UID)
	}

	for _, u := range uids {
		dn := dag.nodes[u]
		seen := make(map[string]bool, len(dn.node.Deps))
		for _, dep := range dn.node.Deps {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			target, ok := dag.nodes[dep]
			if !ok {
				return nil, fmt.Errorf("%w: node %s depends on unknown uid %s", ErrMissingDependency, u, dep)
			}
			dn.edges = append(dn.edges, dep)
			target.revEdges = append(target.revEdges, u)
		}
	}

	order, err := dag.topoSort(uids)
	if err != nil {
		return nil, err
	}
	dag.order = order
	return dag, nil
}

// topoSort performs Kahn's algorithm. Ties are broken by node order so the
// result is deterministic.
func (d *DAG) topoSort(uids []string) ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	var queue []string
	for _, u := range uids {
		inDegree[u] = len(d.nodes[u].edges)
		if inDegree[u] == 0 {
			queue = append(queue, u)
		}
	}

	sorted := make([]string, 0, len(uids))
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		sorted = append(sorted, u)

		for _, consumer := range d.nodes[u].revEdges {
			inDegree[consumer]--
			if inDegree[consumer] == 0 {
				queue = append(queue, consumer)
			}
		}
	}

	if len(sorted) != len(uids) {
		var stuck []string
		for _, u := range uids {
			if inDegree[u] > 0 {
				stuck = append(stuck, u)
			}
		}
		return nil, fmt.Errorf("%w: %d nodes on or behind a cycle, e.g. %s", ErrCycle, len(stuck), stuck[0])
	}
	return sorted, nil
}

// Order returns the uids with prerequisites before their consumers.
func (d *DAG) Order() []string {
	return d.order
}

// Len returns the number of distinct nodes.
func (d *DAG) Len() int {
	return len(d.nodes)
}

// Node returns the node stored under uid.
func (d *DAG) Node(uid string) (*ir.Node, bool) {
	dn, ok := d.nodes[uid]
	if !ok {
		return nil, false
	}
	return dn.node, true
}

// Dependencies returns the distinct deps of uid.
func (d *DAG) Dependencies(uid string) []string {
	if dn, ok := d.nodes[uid]; ok {
		return dn.edges
	}
	return nil
}

// Consumers returns the nodes depending on uid.
func (d *DAG) Consumers(uid string) []string {
	if dn, ok := d.nodes[uid]; ok {
		return dn.revEdges
	}
	return nil
}
