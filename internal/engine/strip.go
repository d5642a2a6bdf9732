package engine

import (
	"fmt"
	"maps"

	"github.com/actiongraph/actiongraph/internal/ir"
	"github.com/actiongraph/actiongraph/internal/logging"
)

// StripOptions tunes Strip.
type StripOptions struct {
	// AllowDangling tolerates result uids that name no node. They are kept
	// in the result but contribute no nodes.
	AllowDangling bool
}

// Strip returns a graph holding only the nodes reachable through deps from
// override, or from g.Result when override is nil. Node order is preserved
// and each uid is emitted once. The conf is carried over with resources
// deduplicated by pattern, and the original result is kept as a set.
//
// Nodes are shared with g, not copied.
func Strip(g *ir.Graph, override []string, opts StripOptions) (*ir.Graph, error) {
	roots := g.Result
	if override != nil {
		roots = override
	}
	byUID := g.ByUID()

	keep := make(map[string]bool, len(byUID))
	stack := make([]string, 0, len(roots))
	for _, r := range roots {
		if _, ok := byUID[r]; !ok {
			if opts.AllowDangling {
				continue
			}
			return nil, fmt.Errorf("%w: %s", ErrDanglingResult, r)
		}
		stack = append(stack, r)
	}

	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if keep[u] {
			continue
		}
		keep[u] = true
		for _, d := range byUID[u].Deps {
			if _, ok := byUID[d]; !ok {
				return nil, fmt.Errorf("%w: node %s depends on unknown uid %s", ErrMissingDependency, u, d)
			}
			if !keep[d] {
				stack = append(stack, d)
			}
		}
	}

	out := &ir.Graph{
		Conf:   g.Conf.Clone(),
		Graph:  make([]*ir.Node, 0, len(keep)),
		Result: ir.DedupStrings(g.Result),
		Inputs: maps.Clone(g.Inputs),
	}
	out.Conf.Resources = ir.DedupResources(out.Conf.Resources)

	emitted := make(map[string]bool, len(keep))
	for _, n := range g.Graph {
		if keep[n.UID] && !emitted[n.UID] {
			emitted[n.UID] = true
			out.Graph = append(out.Graph, n)
		}
	}

	logging.Debug("graph stripped", "before", len(g.Graph), "after", len(out.Graph))
	return out, nil
}
