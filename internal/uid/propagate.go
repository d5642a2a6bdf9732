package uid

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/actiongraph/actiongraph/internal/ir"
	"github.com/actiongraph/actiongraph/internal/logging"
)

var (
	// ErrCycle is returned when a dependency cycle is found. It is fatal.
	ErrCycle = errors.New("cycle detected")

	// ErrMissingDependency is returned when a dep names a uid that is not in
	// the graph.
	ErrMissingDependency = errors.New("missing dependency")
)

// Holder is an auxiliary structure that carries node uids outside the
// graph (the test-suite model, for instance) and must follow uid rewrites.
type Holder interface {
	RewriteUIDs(mapping map[string]string)
}

const (
	unvisited = iota
	inProgress
	done
)

type frame struct {
	node *ir.Node
	uid  string // uid at push time
	next int    // index of the next dep to visit
}

// Substitute rewrites the uids listed in mapping (old -> new) and gives every
// node depending on a rewritten node, transitively, a fresh uid derived from
// its old uid and its new dependency uids. Unaffected nodes are untouched.
//
// The traversal starts from g.Result and then covers the remaining nodes,
// so ancestors that are not reachable from the result are rewritten too.
// It returns the complete old -> new mapping of changed uids, which is also
// applied to g.Result and to every holder.
func Substitute(g *ir.Graph, mapping map[string]string, holders ...Holder) (map[string]string, error) {
	byUID := g.ByUID()
	state := make(map[string]uint8, len(byUID))
	newUID := make(map[string]string, len(byUID))
	changed := make(map[string]string)

	finish := func(f *frame) {
		depsChanged := false
		for _, d := range f.node.Deps {
			if _, ok := changed[d]; ok {
				depsChanged = true
				break
			}
		}
		target, direct := mapping[f.uid]
		direct = direct && target != f.uid

		if depsChanged {
			deps := make([]string, len(f.node.Deps))
			for i, d := range f.node.Deps {
				deps[i] = newUID[d]
			}
			f.node.Deps = deps
			if !direct {
				target = Sum(f.uid + " " + strings.Join(deps, " "))
			}
		}
		if direct || depsChanged {
			f.node.UID = target
			changed[f.uid] = target
			newUID[f.uid] = target
		} else {
			newUID[f.uid] = f.uid
		}
		state[f.uid] = done
	}

	roots := make([]string, 0, len(g.Result)+len(g.Graph))
	roots = append(roots, g.Result...)
	for _, n := range g.Graph {
		roots = append(roots, n.UID)
	}

	var stack []frame
	for _, root := range roots {
		if state[root] != unvisited {
			continue
		}
		n, ok := byUID[root]
		if !ok {
			// Dangling result entries are left to the pruner.
			continue
		}
		state[root] = inProgress
		stack = append(stack[:0], frame{node: n, uid: root})

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next == len(top.node.Deps) {
				finish(top)
				stack = stack[:len(stack)-1]
				continue
			}
			dep := top.node.Deps[top.next]
			top.next++

			switch state[dep] {
			case done:
				continue
			case inProgress:
				return nil, cycleError(stack, dep)
			}
			dn, ok := byUID[dep]
			if !ok {
				return nil, fmt.Errorf("%w: node %s depends on unknown uid %s", ErrMissingDependency, top.uid, dep)
			}
			state[dep] = inProgress
			stack = append(stack, frame{node: dn, uid: dep})
		}
	}

	if len(changed) == 0 {
		return changed, nil
	}

	for i, r := range g.Result {
		if nu, ok := changed[r]; ok {
			g.Result[i] = nu
		}
	}
	for _, h := range holders {
		h.RewriteUIDs(changed)
	}
	logging.Debug("uids substituted", "direct", len(mapping), "changed", len(changed))
	return changed, nil
}

// cycleError names the cycle closed by the back edge to uid.
func cycleError(stack []frame, uid string) error {
	start := slices.IndexFunc(stack, func(f frame) bool { return f.uid == uid })
	path := make([]string, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		path = append(path, f.uid)
	}
	path = append(path, uid)
	return fmt.Errorf("%w: %s", ErrCycle, strings.Join(path, " -> "))
}

// RehashMarked gives every node whose argv contains marker a new uid derived
// from its old uid and salt, then propagates the change. This is how PGO
// builds make profile-dependent actions distinct from regular ones.
func RehashMarked(g *ir.Graph, marker, salt string, holders ...Holder) (map[string]string, error) {
	if marker == "" {
		return map[string]string{}, nil
	}
	mapping := make(map[string]string)
	for _, n := range g.Graph {
		if argvContains(n, marker) {
			mapping[n.UID] = Sum(n.UID, salt)
		}
	}
	if len(mapping) == 0 {
		return mapping, nil
	}
	logging.Info("rehashing marked nodes", "marker", marker, "nodes", len(mapping))
	return Substitute(g, mapping, holders...)
}

func argvContains(n *ir.Node, marker string) bool {
	for _, c := range n.Cmds {
		for _, a := range c.Args {
			if strings.Contains(a, marker) {
				return true
			}
		}
	}
	return false
}

// AssignMissing gives every node without a uid its dynamic uid. Nodes that
// already carry one are left alone.
func (h *Hasher) AssignMissing(g *ir.Graph, seed string) int {
	assigned := 0
	for _, n := range g.Graph {
		if n.UID != "" {
			continue
		}
		n.UID = h.Dynamic(n, seed)
		assigned++
	}
	return assigned
}

// Backfill sets static and stats uids on nodes missing them.
func (h *Hasher) Backfill(g *ir.Graph) {
	for _, n := range g.Graph {
		if n.StaticUID == "" {
			n.StaticUID = h.Static(n)
		}
		if n.StatsUID == "" {
			n.StatsUID = h.Stats(n)
		}
	}
}
