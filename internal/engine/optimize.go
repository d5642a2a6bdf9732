package engine

import (
	"slices"
	"strings"

	"github.com/actiongraph/actiongraph/internal/ir"
	"github.com/actiongraph/actiongraph/internal/logging"
)

// DefaultKeepResources are kept by FilterResources whether or not a command
// refers to them.
var DefaultKeepResources = []string{"VCS"}

// FilterResources drops conf resources whose $(PATTERN) placeholder occurs in
// no command argv, cwd or env value and in no node env value. Patterns listed
// in DefaultKeepResources or alwaysKeep survive regardless. It returns the
// removed patterns.
func FilterResources(g *ir.Graph, alwaysKeep []string) []string {
	alwaysKeep = append(slices.Clone(DefaultKeepResources), alwaysKeep...)
	used := referencedPlaceholders(g)

	var removed []string
	kept := make([]ir.Resource, 0, len(g.Conf.Resources))
	for _, r := range g.Conf.Resources {
		name := placeholderName(r.Pattern)
		if used[name] || slices.Contains(alwaysKeep, r.Pattern) || slices.Contains(alwaysKeep, name) {
			kept = append(kept, r)
			continue
		}
		removed = append(removed, r.Pattern)
	}
	g.Conf.Resources = kept

	if len(removed) > 0 {
		logging.Debug("unused resources removed", "removed", removed, "kept", len(kept))
	}
	return removed
}

// placeholderName accepts both "NAME" and "$(NAME)" spellings of a pattern.
func placeholderName(pattern string) string {
	if strings.HasPrefix(pattern, "$(") && strings.HasSuffix(pattern, ")") {
		return pattern[2 : len(pattern)-1]
	}
	return pattern
}

func referencedPlaceholders(g *ir.Graph) map[string]bool {
	used := make(map[string]bool)
	for _, n := range g.Graph {
		for _, c := range n.Cmds {
			for _, a := range c.Args {
				scanPlaceholders(a, used)
			}
			scanPlaceholders(c.Cwd, used)
			for _, v := range c.Env {
				scanPlaceholders(v, used)
			}
		}
		for _, v := range n.Env {
			scanPlaceholders(v, used)
		}
	}
	return used
}

// scanPlaceholders records every NAME of a $(NAME) token in s.
func scanPlaceholders(s string, into map[string]bool) {
	for {
		i := strings.Index(s, "$(")
		if i < 0 {
			return
		}
		s = s[i+2:]
		j := strings.IndexByte(s, ')')
		if j < 0 {
			return
		}
		into[s[:j]] = true
		s = s[j+1:]
	}
}

// CollapseChains merges a dependency D into its consumer N when N has
// exactly one dep, D has exactly one consumer, D is not a result node and
// both run on the same platform. The merged node keeps N's uid and metadata,
// takes D's deps, runs D's commands first and exposes the outputs of both.
// It repeats until no pair qualifies and returns the number of merges.
func CollapseChains(g *ir.Graph) int {
	idx := g.ByUID()
	inResult := make(map[string]bool, len(g.Result))
	for _, r := range g.Result {
		inResult[r] = true
	}
	consumers := make(map[string]int, len(idx))
	for _, n := range g.Graph {
		for _, d := range ir.DedupStrings(n.Deps) {
			consumers[d]++
		}
	}

	absorbed := make(map[string]bool)
	merges := 0
	for changed := true; changed; {
		changed = false
		for i, n := range g.Graph {
			if absorbed[n.UID] {
				continue
			}
			for {
				d, ok := collapsible(n, idx, consumers, inResult, absorbed)
				if !ok {
					break
				}
				n = collapse(n, d)
				g.Graph[i] = n
				idx[n.UID] = n
				absorbed[d.UID] = true
				delete(idx, d.UID)
				merges++
				changed = true
			}
		}
	}

	if merges == 0 {
		return 0
	}
	kept := g.Graph[:0]
	for _, n := range g.Graph {
		if !absorbed[n.UID] {
			kept = append(kept, n)
		}
	}
	clear(g.Graph[len(kept):])
	g.Graph = kept

	logging.Debug("chains collapsed", "merges", merges, "nodes", len(g.Graph))
	return merges
}

func collapsible(n *ir.Node, idx map[string]*ir.Node, consumers map[string]int, inResult, absorbed map[string]bool) (*ir.Node, bool) {
	if len(n.Deps) != 1 {
		return nil, false
	}
	d, ok := idx[n.Deps[0]]
	if !ok || d == n || absorbed[d.UID] {
		return nil, false
	}
	if consumers[d.UID] != 1 || inResult[d.UID] || d.Platform != n.Platform || d.HostPlatform != n.HostPlatform {
		return nil, false
	}
	return d, true
}

// collapse builds the node that replaces consumer n and its dependency d.
func collapse(n, d *ir.Node) *ir.Node {
	m := n.Clone()
	m.Deps = slices.Clone(d.Deps)

	cmds := make([]ir.Cmd, 0, len(d.Cmds)+len(n.Cmds))
	cmds = append(cmds, d.Clone().Cmds...)
	cmds = append(cmds, m.Cmds...)
	m.Cmds = cmds

	m.Outputs = ir.DedupStrings(append(slices.Clone(d.Outputs), n.Outputs...))
	m.Inputs = ir.DedupStrings(append(slices.Clone(d.Inputs), n.Inputs...))
	m.TaredOutputs = unionOrNil(d.TaredOutputs, n.TaredOutputs)
	m.DirOutputs = unionOrNil(d.DirOutputs, n.DirOutputs)

	if len(d.Env) > 0 {
		env := make(map[string]string, len(d.Env)+len(n.Env))
		for k, v := range d.Env {
			env[k] = v
		}
		for k, v := range n.Env {
			env[k] = v
		}
		m.Env = env
	}

	kind := d.Kind().Tag()
	if kind == "" {
		kind, _ = d.KVString(ir.KeyNodeType)
	}
	if kind == "" {
		kind = "unknown"
	}
	tags := append(slices.Clone(n.Tags), d.Tags...)
	m.Tags = ir.DedupStrings(append(tags, "chain:"+kind))
	return m
}

func unionOrNil(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	return ir.DedupStrings(append(slices.Clone(a), b...))
}

// StripCommonTags removes the tags carried by every node, since they do not
// tell nodes apart. Affected nodes are replaced by copies. It returns the
// removed tags in sorted order.
func StripCommonTags(g *ir.Graph) []string {
	if len(g.Graph) == 0 {
		return nil
	}
	common := make(map[string]bool, len(g.Graph[0].Tags))
	for _, t := range g.Graph[0].Tags {
		common[t] = true
	}
	for _, n := range g.Graph[1:] {
		if len(common) == 0 {
			return nil
		}
		has := make(map[string]bool, len(n.Tags))
		for _, t := range n.Tags {
			has[t] = true
		}
		for t := range common {
			if !has[t] {
				delete(common, t)
			}
		}
	}
	if len(common) == 0 {
		return nil
	}

	for i, n := range g.Graph {
		c := n.Clone()
		c.Tags = slices.DeleteFunc(c.Tags, func(t string) bool { return common[t] })
		if len(c.Tags) == 0 {
			c.Tags = nil
		}
		g.Graph[i] = c
	}

	removed := make([]string, 0, len(common))
	for t := range common {
		removed = append(removed, t)
	}
	slices.Sort(removed)
	logging.Debug("common tags stripped", "tags", removed)
	return removed
}
