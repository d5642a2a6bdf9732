package ir

import (
	"encoding/json"
	"maps"
	"slices"
)

// Resource maps a $(PATTERN) placeholder to an opaque resource locator.
type Resource struct {
	Pattern  string `json:"pattern"`
	Resource string `json:"resource"`
	Name     string `json:"name,omitempty"`
}

// Conf is the run-level configuration carried alongside the nodes.
type Conf struct {
	Resources     []Resource         `json:"resources"`
	Platform      string             `json:"platform,omitempty"`
	GraphSize     int                `json:"graph_size,omitempty"`
	ExecutionCost map[string]float64 `json:"execution_cost,omitempty"`
	Cache         *bool              `json:"cache,omitempty"`
	KeepGoing     *bool              `json:"keep_going,omitempty"`

	// Extra preserves configurator keys this package does not model.
	Extra map[string]json.RawMessage `json:"-"`
}

var confKeys = []string{"resources", "platform", "graph_size", "execution_cost", "cache", "keep_going"}

func (c *Conf) UnmarshalJSON(data []byte) error {
	type plain Conf
	var p plain
	extra, err := unmarshalWithExtra(data, &p, confKeys)
	if err != nil {
		return err
	}
	p.Extra = extra
	*c = Conf(p)
	return nil
}

func (c Conf) MarshalJSON() ([]byte, error) {
	type plain Conf
	p := plain(c)
	if p.Resources == nil {
		p.Resources = []Resource{}
	}
	return marshalWithExtra(p, c.Extra)
}

// Clone returns a deep copy of the conf.
func (c Conf) Clone() Conf {
	out := c
	out.Resources = slices.Clone(c.Resources)
	out.ExecutionCost = maps.Clone(c.ExecutionCost)
	out.Extra = maps.Clone(c.Extra)
	if c.Cache != nil {
		v := *c.Cache
		out.Cache = &v
	}
	if c.KeepGoing != nil {
		v := *c.KeepGoing
		out.KeepGoing = &v
	}
	return out
}

// Graph is the document exchanged with the configurator and the runner.
// Nodes are stored as a list; uid is the unique key.
type Graph struct {
	Conf   Conf           `json:"conf"`
	Graph  []*Node        `json:"graph"`
	Result []string       `json:"result"`
	Inputs map[string]any `json:"inputs,omitempty"`
}

// NewGraph returns an empty graph for the given platform.
func NewGraph(platform string) *Graph {
	return &Graph{
		Conf:   Conf{Platform: platform},
		Graph:  []*Node{},
		Result: []string{},
	}
}

// ByUID indexes the nodes by uid. When uids repeat the first node wins.
func (g *Graph) ByUID() map[string]*Node {
	idx := make(map[string]*Node, len(g.Graph))
	for _, n := range g.Graph {
		if _, ok := idx[n.UID]; !ok {
			idx[n.UID] = n
		}
	}
	return idx
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	out := &Graph{
		Conf:   g.Conf.Clone(),
		Graph:  make([]*Node, len(g.Graph)),
		Result: slices.Clone(g.Result),
		Inputs: maps.Clone(g.Inputs),
	}
	for i, n := range g.Graph {
		out.Graph[i] = n.Clone()
	}
	return out
}

// DedupResources drops resources whose pattern was already seen. The first
// occurrence wins.
func DedupResources(resources []Resource) []Resource {
	seen := make(map[string]bool, len(resources))
	out := make([]Resource, 0, len(resources))
	for _, r := range resources {
		if seen[r.Pattern] {
			continue
		}
		seen[r.Pattern] = true
		out = append(out, r)
	}
	return out
}

// DedupStrings removes repeated values, keeping first-occurrence order.
func DedupStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
