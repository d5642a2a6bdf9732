package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/actiongraph/actiongraph/internal/ir"
	"github.com/actiongraph/actiongraph/internal/logging"
)

// Merge unions graphs into a new graph. Nodes are concatenated and a uid
// defined by more than one graph keeps its first copy; content addressing
// makes the copies interchangeable. Results are concatenated and kept as a
// set. Resources are concatenated as-is; deduplication happens when the
// graph is stripped. Inputs are unioned with the first value winning.
//
// Conf scalars come from the first graph that sets them and execution costs
// are summed.
func Merge(graphs ...*ir.Graph) *ir.Graph {
	out := &ir.Graph{
		Graph:  []*ir.Node{},
		Result: []string{},
	}
	seen := make(map[string]bool)

	for _, g := range graphs {
		if g == nil {
			continue
		}
		mergeConf(&out.Conf, g.Conf)
		for _, n := range g.Graph {
			if seen[n.UID] {
				continue
			}
			seen[n.UID] = true
			out.Graph = append(out.Graph, n)
		}
		out.Result = append(out.Result, g.Result...)
		for k, v := range g.Inputs {
			if out.Inputs == nil {
				out.Inputs = make(map[string]any, len(g.Inputs))
			}
			if _, ok := out.Inputs[k]; !ok {
				out.Inputs[k] = v
			}
		}
	}
	out.Result = ir.DedupStrings(out.Result)
	return out
}

func mergeConf(dst *ir.Conf, src ir.Conf) {
	src = src.Clone()
	dst.Resources = append(dst.Resources, src.Resources...)
	if dst.Platform == "" {
		dst.Platform = src.Platform
	}
	if dst.GraphSize == 0 {
		dst.GraphSize = src.GraphSize
	}
	if dst.Cache == nil {
		dst.Cache = src.Cache
	}
	if dst.KeepGoing == nil {
		dst.KeepGoing = src.KeepGoing
	}
	for k, v := range src.ExecutionCost {
		if dst.ExecutionCost == nil {
			dst.ExecutionCost = make(map[string]float64, len(src.ExecutionCost))
		}
		dst.ExecutionCost[k] += v
	}
	for k, v := range src.Extra {
		if dst.Extra == nil {
			dst.Extra = make(map[string]json.RawMessage, len(src.Extra))
		}
		if _, ok := dst.Extra[k]; !ok {
			dst.Extra[k] = v
		}
	}
}

// MergeTools unions the host tools graph into a target graph. Every tools
// node is marked as a host-platform node; this mutates the shared tools
// graph, so calls sharing one tools graph must not run concurrently. The
// tools result is not added to the target result.
//
// After the union every dep of the merged graph must resolve.
func MergeTools(tools, target *ir.Graph) (*ir.Graph, error) {
	if tools == nil {
		return Merge(target), nil
	}
	for _, n := range tools.Graph {
		n.HostPlatform = true
	}
	host := *tools
	host.Result = nil

	// Tools come first: they are prerequisites, and a uid defined by both
	// graphs keeps the host-marked copy.
	out := Merge(&host, target)
	if target.Conf.Platform != "" {
		out.Conf.Platform = target.Conf.Platform
	}
	for k, v := range target.Inputs {
		out.Inputs[k] = v
	}

	idx := out.ByUID()
	var errs []error
	for _, n := range out.Graph {
		for _, d := range n.Deps {
			if _, ok := idx[d]; !ok {
				errs = append(errs, fmt.Errorf("%w: node %s depends on unknown uid %s", ErrMissingDependency, n.UID, d))
			}
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to merge tools into %s: %w", target.Conf.Platform, errors.Join(errs...))
	}

	logging.Debug("tools merged", "platform", target.Conf.Platform, "tools", len(tools.Graph), "nodes", len(out.Graph))
	return out, nil
}
