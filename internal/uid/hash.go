// Package uid computes node identities and keeps them consistent when the
// graph is mutated.
package uid

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/actiongraph/actiongraph/internal/ir"
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoSize bounds the per-string digest memo of a Hasher.
const DefaultMemoSize = 1 << 16

// laneSeed separates the second 64-bit lane from the first one.
const laneSeed = "\x00actiongraph/lane2\x00"

// Sum hashes the parts into a 128-bit digest rendered as 32 hex chars.
// Every part is length-prefixed, so ("ab", "c") and ("a", "bc") differ.
func Sum(parts ...string) string {
	a := xxhash.New()
	b := xxhash.New()
	b.WriteString(laneSeed)

	var size [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(size[:], uint64(len(p)))
		a.Write(size[:])
		a.WriteString(p)
		b.Write(size[:])
		b.WriteString(p)
	}
	return fmt.Sprintf("%016x%016x", a.Sum64(), b.Sum64())
}

// Hasher computes node identities. It memoizes the digests of individual
// strings (mostly output paths, which repeat across many nodes), so one
// Hasher should live for one build invocation.
type Hasher struct {
	memo *lru.Cache[string, string]
}

// NewHasher creates a Hasher whose memo holds up to size entries.
// A non-positive size uses DefaultMemoSize.
func NewHasher(size int) (*Hasher, error) {
	if size <= 0 {
		size = DefaultMemoSize
	}
	memo, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create hash memo: %w", err)
	}
	return &Hasher{memo: memo}, nil
}

// Path returns the memoized digest of a single string.
func (h *Hasher) Path(s string) string {
	if v, ok := h.memo.Get(s); ok {
		return v
	}
	v := Sum(s)
	h.memo.Add(s, v)
	return v
}

// Dynamic is the dependency-inclusive identity of a node: its commands,
// outputs, environment and dependency uids. A non-empty seed (the hash of
// the configuration in the planning path) is mixed in first.
func (h *Hasher) Dynamic(n *ir.Node, seed string) string {
	parts := []string{"dynamic", seed}
	parts = appendCmds(parts, n.Cmds)
	parts = append(parts, "outputs")
	parts = append(parts, h.sortedPaths(n.Outputs)...)
	parts = append(parts, "env")
	parts = appendEnv(parts, n.Env)
	parts = append(parts, "deps")
	parts = append(parts, n.Deps...)
	return Sum(parts...)
}

// Static is the dependency-exclusive identity of a node: command argv and
// outputs only. It correlates the same action across builds whose
// dependency sets differ.
func (h *Hasher) Static(n *ir.Node) string {
	parts := []string{"static"}
	for _, c := range n.Cmds {
		parts = append(parts, strconv.Itoa(len(c.Args)))
		parts = append(parts, c.Args...)
	}
	parts = append(parts, "outputs")
	parts = append(parts, h.sortedPaths(n.Outputs)...)
	return Sum(parts...)
}

// Stats joins runtime statistics of older builds onto nodes of a new one.
func (h *Hasher) Stats(n *ir.Node) string {
	tags := slices.Clone(n.Tags)
	sort.Strings(tags)
	nodeType, _ := n.KVString(ir.KeyNodeType)

	parts := []string{"stats", n.Platform, strconv.Itoa(len(tags))}
	parts = append(parts, tags...)
	parts = append(parts, nodeType, "outputs")
	parts = append(parts, h.sortedPaths(n.Outputs)...)
	return Sum(parts...)
}

func (h *Hasher) sortedPaths(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = h.Path(p)
	}
	sort.Strings(out)
	return out
}

func appendCmds(parts []string, cmds []ir.Cmd) []string {
	parts = append(parts, "cmds", strconv.Itoa(len(cmds)))
	for _, c := range cmds {
		parts = append(parts, c.Cwd, c.Stdout, strconv.Itoa(len(c.Args)))
		parts = append(parts, c.Args...)
		parts = appendEnv(parts, c.Env)
	}
	return parts
}

func appendEnv(parts []string, env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts = append(parts, strconv.Itoa(len(keys)))
	for _, k := range keys {
		parts = append(parts, k, env[k])
	}
	return parts
}
