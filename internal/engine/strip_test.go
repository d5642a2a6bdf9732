package engine

import (
	"testing"

	"github.com/actiongraph/actiongraph/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrip_DropsUnreachable(t *testing.T) {
	a := node("a")
	a.Outputs = []string{"x"}
	b := node("b", "a")
	b.Outputs = []string{"y"}
	c := node("c")
	c.Outputs = []string{"z"}
	g := graphOf([]string{"b"}, a, b, c)

	out, err := Strip(g, nil, StripOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, uidsOf(out))
	assert.Equal(t, []string{"b"}, out.Result)
	assert.Len(t, g.Graph, 3, "input graph is not modified")
}

func TestStrip_ReachableSetIsExact(t *testing.T) {
	// d is shared by two paths and must be emitted once.
	g := graphOf([]string{"r1", "r2", "r1"},
		node("d"),
		node("x", "d"),
		node("y", "d"),
		node("r1", "x"),
		node("r2", "y", "x"),
		node("dead1"),
		node("dead2", "dead1"),
	)

	out, err := Strip(g, nil, StripOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"d", "x", "y", "r1", "r2"}, uidsOf(out))
	assert.Equal(t, []string{"r1", "r2"}, out.Result)
}

func TestStrip_Override(t *testing.T) {
	g := graphOf([]string{"b"}, node("a"), node("b", "a"), node("c"))

	out, err := Strip(g, []string{"c"}, StripOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, uidsOf(out))
	assert.Equal(t, []string{"b"}, out.Result)
}

func TestStrip_DuplicateUIDsEmittedOnce(t *testing.T) {
	first := node("a")
	g := graphOf([]string{"a"}, first, node("a"))

	out, err := Strip(g, nil, StripOptions{})
	require.NoError(t, err)
	require.Len(t, out.Graph, 1)
	assert.Same(t, first, out.Graph[0])
}

func TestStrip_DedupsResources(t *testing.T) {
	g := graphOf([]string{"a"}, node("a"))
	g.Conf.Resources = []ir.Resource{
		{Pattern: "CLANG", Resource: "sbr:1"},
		{Pattern: "VCS", Resource: "base64:x"},
		{Pattern: "CLANG", Resource: "sbr:2"},
	}

	out, err := Strip(g, nil, StripOptions{})
	require.NoError(t, err)
	assert.Equal(t, []ir.Resource{
		{Pattern: "CLANG", Resource: "sbr:1"},
		{Pattern: "VCS", Resource: "base64:x"},
	}, out.Conf.Resources)
	assert.Len(t, g.Conf.Resources, 3)
}

func TestStrip_Errors(t *testing.T) {
	tests := []struct {
		name    string
		graph   *ir.Graph
		opts    StripOptions
		wantErr error
	}{
		{
			name:    "dangling result",
			graph:   graphOf([]string{"ghost"}, node("a")),
			wantErr: ErrDanglingResult,
		},
		{
			name:    "missing dependency",
			graph:   graphOf([]string{"a"}, node("a", "ghost")),
			wantErr: ErrMissingDependency,
		},
		{
			name:    "missing dependency with dangling allowed",
			graph:   graphOf([]string{"a"}, node("a", "ghost")),
			opts:    StripOptions{AllowDangling: true},
			wantErr: ErrMissingDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Strip(tt.graph, nil, tt.opts)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStrip_AllowDangling(t *testing.T) {
	g := graphOf([]string{"ghost", "a"}, node("a"), node("b"))

	out, err := Strip(g, nil, StripOptions{AllowDangling: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, uidsOf(out))
	assert.Equal(t, []string{"ghost", "a"}, out.Result)
}
