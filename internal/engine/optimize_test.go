package engine

import (
	"slices"
	"testing"

	"github.com/actiongraph/actiongraph/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resourceGraph() *ir.Graph {
	a := node("a")
	a.Cmds = []ir.Cmd{{
		Args: []string{"$(CLANG)/bin/clang", "-c", "x.c"},
		Cwd:  "$(BUILD_ROOT)",
		Env:  map[string]string{"PATH": "$(PYTHON)/bin"},
	}}
	b := node("b", "a")
	b.Env = map[string]string{"GOROOT": "$(GO)"}

	g := graphOf([]string{"b"}, a, b)
	g.Conf.Resources = []ir.Resource{
		{Pattern: "CLANG", Resource: "sbr:1"},
		{Pattern: "UNUSED", Resource: "sbr:2"},
		{Pattern: "$(PYTHON)", Resource: "sbr:3"},
		{Pattern: "GO", Resource: "sbr:4"},
		{Pattern: "BUILD_ROOT", Resource: "file:///b"},
		{Pattern: "VCS", Resource: "base64:x"},
		{Pattern: "JDK", Resource: "sbr:5"},
	}
	return g
}

func patterns(rs []ir.Resource) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Pattern)
	}
	return out
}

func TestFilterResources(t *testing.T) {
	g := resourceGraph()

	removed := FilterResources(g, nil)

	assert.Equal(t, []string{"UNUSED", "JDK"}, removed)
	assert.Equal(t, []string{"CLANG", "$(PYTHON)", "GO", "BUILD_ROOT", "VCS"}, patterns(g.Conf.Resources))
}

func TestFilterResources_AlwaysKeep(t *testing.T) {
	g := resourceGraph()

	removed := FilterResources(g, []string{"JDK"})

	assert.Equal(t, []string{"UNUSED"}, removed)
	assert.Equal(t, []string{"CLANG", "$(PYTHON)", "GO", "BUILD_ROOT", "VCS", "JDK"}, patterns(g.Conf.Resources),
		"caller patterns are kept in addition to VCS")
}

func TestFilterResources_Idempotent(t *testing.T) {
	g := resourceGraph()

	FilterResources(g, nil)
	once := slices.Clone(g.Conf.Resources)
	removed := FilterResources(g, nil)

	assert.Empty(t, removed)
	assert.Equal(t, once, g.Conf.Resources)
}

func TestScanPlaceholders(t *testing.T) {
	got := map[string]bool{}
	scanPlaceholders("$(A)/x:$(B)$(C", got)
	assert.Equal(t, map[string]bool{"A": true, "B": true}, got)
}

func chainGraph() *ir.Graph {
	// a <- b <- c, with c in the result and d an independent consumer of a2.
	a := node("a")
	a.KV[ir.KeyNodeType] = "AR"
	a.Env = map[string]string{"X": "from-a", "Y": "a"}
	a.Tags = []string{"tool"}
	b := node("b", "a")
	b.KV[ir.KeyNodeType] = "LD"
	c := node("c", "b")
	c.KV[ir.KeyNodeType] = "PR"
	c.Env = map[string]string{"X": "from-c"}
	c.Cache = true

	a2 := node("a2")
	d := node("d", "a2")
	e := node("e", "a2")
	return graphOf([]string{"c", "d", "e"}, a, b, c, a2, d, e)
}

func outputSet(g *ir.Graph) []string {
	var out []string
	for _, n := range g.Graph {
		out = append(out, n.Outputs...)
	}
	slices.Sort(out)
	return out
}

func TestCollapseChains(t *testing.T) {
	g := chainGraph()
	beforeOutputs := outputSet(g)
	beforeResult := slices.Clone(g.Result)

	merges := CollapseChains(g)

	assert.Equal(t, 2, merges)
	assert.Equal(t, []string{"c", "a2", "d", "e"}, uidsOf(g))
	assert.Equal(t, beforeResult, g.Result)
	assert.Equal(t, beforeOutputs, outputSet(g))

	c := g.ByUID()["c"]
	assert.Empty(t, c.Deps)
	assert.True(t, c.Cache)
	assert.Equal(t, "PR", c.KV[ir.KeyNodeType])
	require.Len(t, c.Cmds, 3)
	assert.Equal(t, []string{"tool", "a"}, c.Cmds[0].Args, "dependency commands run first")
	assert.Equal(t, []string{"tool", "c"}, c.Cmds[2].Args)
	assert.Equal(t, map[string]string{"X": "from-c", "Y": "a"}, c.Env)
	assert.ElementsMatch(t, []string{"tool", "chain:LD", "chain:AR"}, c.Tags)

	_, err := BuildDAG(g)
	assert.NoError(t, err)
}

func TestCollapseChains_Guards(t *testing.T) {
	tests := []struct {
		name  string
		graph func() *ir.Graph
	}{
		{
			name: "dependency in result",
			graph: func() *ir.Graph {
				return graphOf([]string{"a", "b"}, node("a"), node("b", "a"))
			},
		},
		{
			name: "platform mismatch",
			graph: func() *ir.Graph {
				a := node("a")
				a.Platform = "host"
				return graphOf([]string{"b"}, a, node("b", "a"))
			},
		},
		{
			name: "two deps",
			graph: func() *ir.Graph {
				return graphOf([]string{"c"}, node("a"), node("b"), node("c", "a", "b"))
			},
		},
		{
			name: "host tool under target node",
			graph: func() *ir.Graph {
				a := node("a")
				a.HostPlatform = true
				return graphOf([]string{"b"}, a, node("b", "a"))
			},
		},
		{
			name: "shared dependency",
			graph: func() *ir.Graph {
				return graphOf([]string{"b", "c"}, node("a"), node("b", "a"), node("c", "a"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := tt.graph()
			n := len(g.Graph)
			assert.Equal(t, 0, CollapseChains(g))
			assert.Len(t, g.Graph, n)
		})
	}
}

func TestCollapseChains_NeverGrows(t *testing.T) {
	g := chainGraph()
	for i := 0; i < 3; i++ {
		n := len(g.Graph)
		CollapseChains(g)
		assert.LessOrEqual(t, len(g.Graph), n)
	}
	assert.Equal(t, 0, CollapseChains(g))
}

func TestStripCommonTags(t *testing.T) {
	a := node("a")
	a.Tags = []string{"linux", "opt", "x"}
	b := node("b", "a")
	b.Tags = []string{"opt", "linux"}
	g := graphOf([]string{"b"}, a, b)

	removed := StripCommonTags(g)

	assert.Equal(t, []string{"linux", "opt"}, removed)
	assert.Equal(t, []string{"x"}, g.Graph[0].Tags)
	assert.Nil(t, g.Graph[1].Tags)
	assert.Equal(t, []string{"linux", "opt", "x"}, a.Tags, "original nodes are not modified")
}

func TestStripCommonTags_NothingShared(t *testing.T) {
	a := node("a")
	a.Tags = []string{"x"}
	g := graphOf(nil, a, node("b"))

	assert.Empty(t, StripCommonTags(g))
	assert.Same(t, a, g.Graph[0])
}
