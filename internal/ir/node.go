package ir

import (
	"encoding/json"
	"maps"
	"slices"
)

// Cmd is one command of a node, run in order by the runner.
type Cmd struct {
	Args   []string          `json:"cmd_args"`
	Cwd    string            `json:"cwd,omitempty"`
	Env    map[string]string `json:"env,omitempty"`
	Stdout string            `json:"stdout,omitempty"`
}

// Node is a single action of the build graph.
//
// Nodes are treated as immutable once appended to a Graph. The only
// sanctioned mutation is uid rewriting performed by the uid package.
type Node struct {
	UID     string   `json:"uid"`
	Deps    []string `json:"deps"`
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
	Cmds    []Cmd    `json:"cmds"`

	KV  map[string]any    `json:"kv"`
	Env map[string]string `json:"env"`

	Cache     bool `json:"cache"`
	Broadcast bool `json:"broadcast"`
	Priority  int  `json:"priority"`

	Requirements *Requirements `json:"requirements,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
	Platform     string        `json:"platform,omitempty"`
	Timeout      *int          `json:"timeout,omitempty"`

	StaticUID string `json:"static_uid,omitempty"`
	StatsUID  string `json:"stats_uid,omitempty"`

	TaredOutputs []string `json:"tared_outputs,omitempty"`
	DirOutputs   []string `json:"dir_outputs,omitempty"`

	// HostPlatform is set on nodes that came from the host tools graph.
	HostPlatform bool `json:"host_platform,omitempty"`
}

// Kind decodes the node type tag stored in kv["p"].
func (n *Node) Kind() NodeKind {
	if n.KV == nil {
		return KindUnknown
	}
	p, _ := n.KV[KeyNodeType].(string)
	return ParseNodeKind(p)
}

// KVString returns kv[key] when it holds a string.
func (n *Node) KVString(key string) (string, bool) {
	if n.KV == nil {
		return "", false
	}
	s, ok := n.KV[key].(string)
	return s, ok
}

// Clone returns a deep copy of the node. KV values are copied by reference.
func (n *Node) Clone() *Node {
	c := *n
	c.Deps = slices.Clone(n.Deps)
	c.Inputs = slices.Clone(n.Inputs)
	c.Outputs = slices.Clone(n.Outputs)
	c.Tags = slices.Clone(n.Tags)
	c.TaredOutputs = slices.Clone(n.TaredOutputs)
	c.DirOutputs = slices.Clone(n.DirOutputs)
	c.KV = maps.Clone(n.KV)
	c.Env = maps.Clone(n.Env)
	if n.Cmds != nil {
		c.Cmds = make([]Cmd, len(n.Cmds))
		for i, cmd := range n.Cmds {
			c.Cmds[i] = Cmd{
				Args:   slices.Clone(cmd.Args),
				Cwd:    cmd.Cwd,
				Env:    maps.Clone(cmd.Env),
				Stdout: cmd.Stdout,
			}
		}
	}
	if n.Requirements != nil {
		r := n.Requirements.clone()
		c.Requirements = &r
	}
	if n.Timeout != nil {
		t := *n.Timeout
		c.Timeout = &t
	}
	return &c
}

// MarshalJSON keeps the always-present list and map fields as [] / {} instead
// of null, which the runner does not accept.
func (n *Node) MarshalJSON() ([]byte, error) {
	type plain Node
	p := plain(*n)
	if p.Deps == nil {
		p.Deps = []string{}
	}
	if p.Inputs == nil {
		p.Inputs = []string{}
	}
	if p.Outputs == nil {
		p.Outputs = []string{}
	}
	if p.Cmds == nil {
		p.Cmds = []Cmd{}
	}
	if slices.ContainsFunc(p.Cmds, func(c Cmd) bool { return c.Args == nil }) {
		p.Cmds = slices.Clone(p.Cmds)
		for i := range p.Cmds {
			if p.Cmds[i].Args == nil {
				p.Cmds[i].Args = []string{}
			}
		}
	}
	if p.KV == nil {
		p.KV = map[string]any{}
	}
	if p.Env == nil {
		p.Env = map[string]string{}
	}
	return json.Marshal(p)
}

// Requirements are scheduling hints consumed by the external scheduler only.
type Requirements struct {
	CPU       *int    `json:"cpu,omitempty"`
	RAM       *int    `json:"ram,omitempty"`
	RAMDisk   *int    `json:"ram_disk,omitempty"`
	Network   string  `json:"network,omitempty"`
	Container *string `json:"container,omitempty"`

	// Extra holds requirement keys this package does not model.
	Extra map[string]json.RawMessage `json:"-"`
}

var requirementKeys = []string{"cpu", "ram", "ram_disk", "network", "container"}

func (r Requirements) clone() Requirements {
	c := r
	c.Extra = maps.Clone(r.Extra)
	return c
}

func (r *Requirements) UnmarshalJSON(data []byte) error {
	type plain Requirements
	var p plain
	extra, err := unmarshalWithExtra(data, &p, requirementKeys)
	if err != nil {
		return err
	}
	p.Extra = extra
	*r = Requirements(p)
	return nil
}

func (r Requirements) MarshalJSON() ([]byte, error) {
	type plain Requirements
	return marshalWithExtra(plain(r), r.Extra)
}
