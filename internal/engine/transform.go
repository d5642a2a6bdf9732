package engine

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"sort"
	"strings"

	"github.com/actiongraph/actiongraph/internal/ir"
	"github.com/actiongraph/actiongraph/internal/logging"
	"github.com/actiongraph/actiongraph/internal/uid"
)

// DefaultCopyCmd prefixes the copy commands of synthetic nodes.
var DefaultCopyCmd = []string{"/bin/cp", "-f"}

// maxSuffixLen bounds collision suffixes; longer ones end in a hash.
const maxSuffixLen = 64

// TransformOptions tunes the output transforms.
type TransformOptions struct {
	// CopyCmd is the argv prefix of generated copy commands. Nil uses
	// DefaultCopyCmd.
	CopyCmd []string
}

func (o TransformOptions) copyArgs(src, dst string) []string {
	prefix := o.CopyCmd
	if prefix == nil {
		prefix = DefaultCopyCmd
	}
	args := slices.Clone(prefix)
	return append(args, src, dst)
}

type exposed struct {
	src, dst string
}

// FilterByOutput narrows the result to outputs ending with one of filter's
// suffixes. An output named in kv["ext_out_name_for_<basename>"] is matched
// under its renamed basename. A result node whose outputs all match without
// renaming stays as it is. Any other matching node is replaced in the result
// by a copy node that depends on it and exposes only the matching outputs
// under their effective names. Result nodes with no match leave the result.
func FilterByOutput(g *ir.Graph, filter []string, opts TransformOptions) error {
	if len(filter) == 0 {
		return nil
	}
	idx := g.ByUID()
	key := strings.Join(filter, ";")

	result := make([]string, 0, len(g.Result))
	for _, r := range ir.DedupStrings(g.Result) {
		n, ok := idx[r]
		if !ok {
			return fmt.Errorf("%w: %s", ErrDanglingResult, r)
		}

		var matched []exposed
		renamed := false
		for _, o := range n.Outputs {
			eff := effectiveOutput(n, o)
			if !hasAnySuffix(eff, filter) {
				continue
			}
			matched = append(matched, exposed{src: o, dst: eff})
			renamed = renamed || eff != o
		}

		switch {
		case len(matched) == 0:
			continue
		case len(matched) == len(n.Outputs) && !renamed:
			result = append(result, r)
			continue
		}

		cp := copyNode(n, uid.Sum(n.UID, key), matched, opts)
		if _, ok := idx[cp.UID]; !ok {
			g.Graph = append(g.Graph, cp)
			idx[cp.UID] = cp
		}
		result = append(result, cp.UID)
	}

	logging.Debug("result filtered by output", "filter", filter, "before", len(g.Result), "after", len(result))
	g.Result = ir.DedupStrings(result)
	return nil
}

func effectiveOutput(n *ir.Node, output string) string {
	base := path.Base(output)
	name, ok := n.KVString(ir.KeyExtOutNamePrefix + base)
	if !ok || name == "" || name == base {
		return output
	}
	return path.Join(path.Dir(output), name)
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

// copyNode builds a node that depends on orig and exposes the given outputs.
// Outputs whose name changes get a copy command.
func copyNode(orig *ir.Node, id string, outs []exposed, opts TransformOptions) *ir.Node {
	n := &ir.Node{
		UID:      id,
		Deps:     []string{orig.UID},
		Inputs:   make([]string, 0, len(outs)),
		Outputs:  make([]string, 0, len(outs)),
		Cmds:     []ir.Cmd{},
		KV:       map[string]any{ir.KeyNodeType: ir.KindCopy.Tag(), ir.KeyNodeColor: "light-cyan"},
		Env:      map[string]string{},
		Cache:    orig.Cache,
		Platform: orig.Platform,
		Tags:     slices.Clone(orig.Tags),

		HostPlatform: orig.HostPlatform,
	}
	for _, o := range outs {
		n.Inputs = append(n.Inputs, o.src)
		n.Outputs = append(n.Outputs, o.dst)
		if o.src != o.dst {
			n.Cmds = append(n.Cmds, ir.Cmd{Args: opts.copyArgs(o.src, o.dst)})
		}
	}
	return n
}

// RenameCollisions disambiguates result nodes that produce the same output
// path. Each such node is replaced in the result by a copy node depending on
// it whose outputs are "<path>.<suffix>", the suffix being derived from the
// node's tags (or platform when untagged). Nodes that cannot be given a
// distinct suffix are reported together and the graph is left unchanged.
func RenameCollisions(g *ir.Graph, opts TransformOptions) error {
	idx := g.ByUID()
	result := ir.DedupStrings(g.Result)

	producers := make(map[string][]string)
	for _, r := range result {
		n, ok := idx[r]
		if !ok {
			return fmt.Errorf("%w: %s", ErrDanglingResult, r)
		}
		for _, o := range ir.DedupStrings(n.Outputs) {
			producers[o] = append(producers[o], r)
		}
	}

	suffixes := make(map[string]string)
	var errs []error
	for _, r := range result {
		n := idx[r]
		if !hasCollision(n, producers) {
			continue
		}
		s := collisionSuffix(n)
		if s == "" {
			errs = append(errs, fmt.Errorf("%w: node %s has neither tags nor platform", ErrUnresolvableCollision, r))
			continue
		}
		suffixes[r] = s
	}
	if len(suffixes) == 0 && len(errs) == 0 {
		return nil
	}

	outputs := make([]string, 0, len(producers))
	for o := range producers {
		outputs = append(outputs, o)
	}
	sort.Strings(outputs)
	for _, o := range outputs {
		ps := producers[o]
		if len(ps) < 2 {
			continue
		}
		owner := make(map[string]string, len(ps))
		for _, p := range ps {
			s, ok := suffixes[p]
			if !ok {
				continue
			}
			if other, dup := owner[s]; dup {
				errs = append(errs, fmt.Errorf("%w: nodes %s and %s both map %s to suffix %q", ErrUnresolvableCollision, other, p, o, s))
				continue
			}
			owner[s] = p
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for i, r := range result {
		s, ok := suffixes[r]
		if !ok {
			continue
		}
		n := idx[r]
		outs := make([]exposed, 0, len(n.Outputs))
		for _, o := range n.Outputs {
			outs = append(outs, exposed{src: o, dst: o + "." + s})
		}
		cp := copyNode(n, uid.Sum(r+"-"+s), outs, opts)
		if _, ok := idx[cp.UID]; !ok {
			g.Graph = append(g.Graph, cp)
			idx[cp.UID] = cp
		}
		result[i] = cp.UID
	}
	g.Result = result

	logging.Info("output collisions renamed", "nodes", len(suffixes))
	return nil
}

func hasCollision(n *ir.Node, producers map[string][]string) bool {
	for _, o := range n.Outputs {
		if len(producers[o]) > 1 {
			return true
		}
	}
	return false
}

// collisionSuffix derives a directory-safe suffix from the sorted tags, or
// from the platform when the node has no tags.
func collisionSuffix(n *ir.Node) string {
	var raw string
	if len(n.Tags) > 0 {
		tags := slices.Clone(n.Tags)
		sort.Strings(tags)
		raw = strings.Join(ir.DedupStrings(tags), "-")
	} else {
		raw = n.Platform
	}
	if raw == "" {
		return ""
	}

	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, raw)

	if len(s) > maxSuffixLen {
		tail := uid.Sum(s)[:16]
		s = s[:maxSuffixLen-len(tail)-1] + "-" + tail
	}
	return s
}
