package ir

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `{
  "conf": {
    "resources": [{"pattern": "CLANG", "resource": "sbr:1", "name": "clang"}],
    "platform": "linux",
    "graph_size": 2,
    "explicit_remote_store_upload": true
  },
  "graph": [
    {"uid": "a", "deps": [], "inputs": ["a.c"], "outputs": ["a.o"],
     "cmds": [{"cmd_args": ["$(CLANG)/bin/clang", "-c", "a.c"], "cwd": "$(BUILD_ROOT)"}],
     "kv": {"p": "CC", "pc": "green"}, "env": {}, "cache": true, "broadcast": false,
     "priority": 0, "requirements": {"cpu": 2, "gpu": 1}, "tags": ["tag1"], "timeout": 30},
    {"uid": "b", "deps": ["a"], "inputs": [], "outputs": ["a.so"],
     "cmds": [{"cmd_args": ["ld", "a.o"]}], "kv": {"p": "LD"}, "env": {"K": "V"},
     "cache": true, "broadcast": false, "priority": 1}
  ],
  "result": ["b"],
  "inputs": {"a.c": "1234"}
}`

func TestDecode_TypedFields(t *testing.T) {
	g, err := Decode(strings.NewReader(sampleDoc))
	require.NoError(t, err)

	require.Len(t, g.Graph, 2)
	assert.Equal(t, "linux", g.Conf.Platform)
	assert.Equal(t, 2, g.Conf.GraphSize)
	assert.Equal(t, []Resource{{Pattern: "CLANG", Resource: "sbr:1", Name: "clang"}}, g.Conf.Resources)
	assert.Contains(t, g.Conf.Extra, "explicit_remote_store_upload")

	a := g.Graph[0]
	assert.Equal(t, KindCompile, a.Kind())
	require.NotNil(t, a.Timeout)
	assert.Equal(t, 30, *a.Timeout)
	require.NotNil(t, a.Requirements)
	require.NotNil(t, a.Requirements.CPU)
	assert.Equal(t, 2, *a.Requirements.CPU)
	assert.Contains(t, a.Requirements.Extra, "gpu")

	b := g.Graph[1]
	assert.Equal(t, KindLink, b.Kind())
	assert.Nil(t, b.Timeout)
	assert.Nil(t, b.Requirements)
	assert.Equal(t, []string{"b"}, g.Result)
}

func TestEncode_PreservesUnknownKeys(t *testing.T) {
	g, err := Decode(strings.NewReader(sampleDoc))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, g))

	var raw struct {
		Conf map[string]any `json:"conf"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
	assert.Equal(t, true, raw.Conf["explicit_remote_store_upload"])

	again, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, g.Graph[0].Requirements.Extra, again.Graph[0].Requirements.Extra)
	assert.Equal(t, g.Conf.Resources, again.Conf.Resources)
}

func TestDecode_LargeNumbersRoundTrip(t *testing.T) {
	doc := `{"conf": {"resources": []}, "graph": [{"uid": "a",
		"kv": {"build_id": 9007199254740993, "weight": 1000000000000000000000, "ratio": 0.25}}],
		"result": ["a"], "inputs": {"seq": 18446744073709551615}}`

	g, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), g.Graph[0].KV["build_id"])

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, g))
	out := buf.String()
	assert.Contains(t, out, `"build_id":9007199254740993`)
	assert.Contains(t, out, `"weight":1000000000000000000000`)
	assert.Contains(t, out, `"ratio":0.25`)
	assert.Contains(t, out, `"seq":18446744073709551615`)
}

func TestEncode_EmptyListsAreNotNull(t *testing.T) {
	g := NewGraph("linux")
	g.Graph = append(g.Graph, &Node{UID: "x"})

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, g))
	out := buf.String()
	assert.Contains(t, out, `"deps":[]`)
	assert.Contains(t, out, `"outputs":[]`)
	assert.Contains(t, out, `"kv":{}`)
	assert.Contains(t, out, `"resources":[]`)
	assert.NotContains(t, out, "null")
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"syntax", `{"graph": [`, "malformed"},
		{"missing uid", `{"graph": [{"deps": []}], "result": []}`, "no uid"},
		{"null node", `{"graph": [null], "result": []}`, "is null"},
		{"empty dep", `{"graph": [{"uid": "a", "deps": [""]}], "result": []}`, "empty dependency"},
		{"empty cmd", `{"graph": [{"uid": "a", "cmds": [{"cmd_args": []}]}], "result": []}`, "no arguments"},
		{"dep type", `{"graph": [{"uid": "a", "deps": [1]}], "result": []}`, "malformed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadWriteFile(t *testing.T) {
	g, err := Decode(strings.NewReader(sampleDoc))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "graph.json")
	require.NoError(t, WriteFile(path, g))

	back, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, g.Result, back.Result)
	assert.Len(t, back.Graph, 2)
}

func TestClone_IsDeep(t *testing.T) {
	g, err := Decode(strings.NewReader(sampleDoc))
	require.NoError(t, err)

	c := g.Clone()
	c.Graph[0].Outputs[0] = "changed.o"
	c.Graph[0].Cmds[0].Args[0] = "gcc"
	*c.Graph[0].Timeout = 1
	c.Conf.Resources[0].Pattern = "GCC"
	c.Result[0] = "a"

	assert.Equal(t, "a.o", g.Graph[0].Outputs[0])
	assert.Equal(t, "$(CLANG)/bin/clang", g.Graph[0].Cmds[0].Args[0])
	assert.Equal(t, 30, *g.Graph[0].Timeout)
	assert.Equal(t, "CLANG", g.Conf.Resources[0].Pattern)
	assert.Equal(t, "b", g.Result[0])
}

func TestParseNodeKind(t *testing.T) {
	assert.Equal(t, KindCompile, ParseNodeKind("CC"))
	assert.Equal(t, KindCopy, ParseNodeKind(" cp "))
	assert.Equal(t, KindUnknown, ParseNodeKind("XX"))
	assert.True(t, KindTestRun.IsTest())
	assert.False(t, KindLink.IsTest())
	assert.Equal(t, "LD", KindLink.Tag())
	assert.Equal(t, "", KindUnknown.Tag())
}

func TestDedupResources(t *testing.T) {
	in := []Resource{{Pattern: "A", Resource: "1"}, {Pattern: "B", Resource: "2"}, {Pattern: "A", Resource: "3"}}
	assert.Equal(t, []Resource{{Pattern: "A", Resource: "1"}, {Pattern: "B", Resource: "2"}}, DedupResources(in))
}
