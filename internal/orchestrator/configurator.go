package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"sort"
	"strings"

	"github.com/actiongraph/actiongraph/internal/ir"
	"github.com/actiongraph/actiongraph/internal/store"
)

// Unit is one independent subgraph build.
type Unit struct {
	Platform string
	Variant  ir.Variant
	Flags    map[string]string
}

func (u Unit) String() string {
	return u.Platform + "/" + string(u.Variant)
}

// Key is the store key the unit's subgraph is captured under.
func (u Unit) Key() string {
	return u.Platform + "/" + string(u.Variant) + ".json"
}

// Configurator produces the raw subgraph of one unit.
type Configurator interface {
	Configure(ctx context.Context, u Unit) (*ir.Graph, error)
}

// ExecConfigurator runs an external configurator process per unit and
// decodes the graph it prints on stdout. The unit is passed as
// "--platform P --variant V" followed by one "--flag k=v" per flag.
type ExecConfigurator struct {
	Command []string
	// Env is appended to the current environment.
	Env []string
}

// maxStderr bounds the configurator stderr attached to errors.
const maxStderr = 4096

func (c *ExecConfigurator) Configure(ctx context.Context, u Unit) (*ir.Graph, error) {
	if len(c.Command) == 0 {
		return nil, fmt.Errorf("configurator command is empty")
	}

	args := slices.Clone(c.Command[1:])
	args = append(args, "--platform", u.Platform, "--variant", string(u.Variant))
	keys := make([]string, 0, len(u.Flags))
	for k := range u.Flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--flag", k+"="+u.Flags[k])
	}

	cmd := exec.CommandContext(ctx, c.Command[0], args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("configurator for %s interrupted: %w", u, ctxErr)
		}
		return nil, fmt.Errorf("configurator for %s failed: %w: %s", u, err, tail(stderr.String(), maxStderr))
	}

	g, err := ir.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("configurator for %s: %w", u, err)
	}
	if g.Conf.Platform == "" {
		g.Conf.Platform = u.Platform
	}
	return g, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// StoreConfigurator replays subgraphs captured in a store.
type StoreConfigurator struct {
	Backend store.Backend
}

func (c *StoreConfigurator) Configure(ctx context.Context, u Unit) (*ir.Graph, error) {
	g, err := store.ReadGraph(ctx, c.Backend, u.Key())
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no captured subgraph for %s: %w", u, err)
	}
	if err != nil {
		return nil, err
	}
	if g.Conf.Platform == "" {
		g.Conf.Platform = u.Platform
	}
	return g, nil
}
