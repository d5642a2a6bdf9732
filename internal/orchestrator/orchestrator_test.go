package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/actiongraph/actiongraph/internal/engine"
	"github.com/actiongraph/actiongraph/internal/ir"
	"github.com/actiongraph/actiongraph/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConfigurator builds a fresh subgraph per unit and records the order in
// which units start and finish.
type fakeConfigurator struct {
	build func(ctx context.Context, u Unit) (*ir.Graph, error)
	delay map[string]time.Duration

	mu     sync.Mutex
	events []string
}

func (f *fakeConfigurator) Configure(ctx context.Context, u Unit) (*ir.Graph, error) {
	f.record("start " + u.String())
	defer f.record("done " + u.String())
	if d := f.delay[u.String()]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.build != nil {
		return f.build(ctx, u)
	}
	return unitGraph(u), nil
}

func (f *fakeConfigurator) record(e string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeConfigurator) index(e string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, got := range f.events {
		if got == e {
			return i
		}
	}
	return -1
}

func cmdNode(uid string, deps ...string) *ir.Node {
	return &ir.Node{
		UID:     uid,
		Deps:    deps,
		Outputs: []string{"$(BUILD_ROOT)/" + uid},
		Cmds:    []ir.Cmd{{Args: []string{"tool", uid}}},
		KV:      map[string]any{ir.KeyNodeType: "CC"},
	}
}

// unitGraph is the subgraph a unit produces: the tools unit builds the
// compiler "cc", every target variant builds one binary that uses it.
func unitGraph(u Unit) *ir.Graph {
	g := ir.NewGraph(u.Platform)
	if u.Variant == ir.VariantTools {
		g.Graph = []*ir.Node{cmdNode("cc")}
		g.Result = []string{"cc"}
		return g
	}
	id := u.Platform + "-" + string(u.Variant)
	bin := cmdNode(id, "cc")
	bin.Platform = u.Platform
	bin.Tags = []string{u.Platform, string(u.Variant)}
	dead := cmdNode("dead-" + id)
	g.Graph = []*ir.Node{bin, dead}
	g.Result = []string{id}
	return g
}

func baseConfig() *ir.BuildConfig {
	return &ir.BuildConfig{
		HostPlatform: "host",
		Targets:      []string{"linux", "darwin"},
		PIC:          true,
		NoPIC:        true,
		Workers:      4,
	}
}

func encode(t *testing.T, g *ir.Graph) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, ir.Encode(&buf, g))
	return buf.String()
}

func uids(g *ir.Graph) []string {
	out := make([]string, 0, len(g.Graph))
	for _, n := range g.Graph {
		out = append(out, n.UID)
	}
	return out
}

func TestNew_RequiresConfigurator(t *testing.T) {
	_, err := New(baseConfig(), Options{})
	assert.Error(t, err)

	_, err = New(nil, Options{Configurator: &fakeConfigurator{}})
	assert.Error(t, err)
}

func TestUnits_Order(t *testing.T) {
	o, err := New(baseConfig(), Options{Configurator: &fakeConfigurator{}})
	require.NoError(t, err)

	var got []string
	for _, u := range o.Units() {
		got = append(got, u.String())
	}
	assert.Equal(t, []string{"host/tools", "linux/nopic", "linux/pic", "darwin/nopic", "darwin/pic"}, got)
}

func TestUnits_NoHost(t *testing.T) {
	cfg := baseConfig()
	cfg.HostPlatform = ""
	cfg.PIC = false
	o, err := New(cfg, Options{Configurator: &fakeConfigurator{}})
	require.NoError(t, err)

	units := o.Units()
	require.Len(t, units, 2)
	assert.Equal(t, ir.VariantNoPIC, units[0].Variant)
}

func TestBuild(t *testing.T) {
	o, err := New(baseConfig(), Options{Configurator: &fakeConfigurator{}})
	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)

	g, err := o.Build(context.Background())
	require.NoError(t, err)

	// Tools first, then targets in sorted platform order, nopic before pic.
	assert.Equal(t, []string{"cc", "darwin-nopic", "darwin-pic", "linux-nopic", "linux-pic"}, uids(g))
	assert.Equal(t, []string{"darwin-nopic", "darwin-pic", "linux-nopic", "linux-pic"}, g.Result)
	assert.Equal(t, 5, g.Conf.GraphSize)
	assert.Equal(t, "host", g.Conf.Platform)

	for _, n := range g.Graph {
		assert.NotEmpty(t, n.StaticUID, n.UID)
		assert.NotEmpty(t, n.StatsUID, n.UID)
		assert.Equal(t, n.UID == "cc", n.HostPlatform, n.UID)
	}
}

func TestBuild_PICWaitsForNoPIC(t *testing.T) {
	fake := &fakeConfigurator{delay: map[string]time.Duration{"linux/nopic": 50 * time.Millisecond}}
	cfg := baseConfig()
	cfg.Targets = []string{"linux"}
	cfg.PICAfterNoPIC = true
	cfg.Workers = 2

	o, err := New(cfg, Options{Configurator: fake})
	require.NoError(t, err)
	_, err = o.Build(context.Background())
	require.NoError(t, err)

	assert.Greater(t, fake.index("start linux/pic"), fake.index("done linux/nopic"))
}

func TestBuild_SingleWorkerDoesNotDeadlock(t *testing.T) {
	cfg := baseConfig()
	cfg.PICAfterNoPIC = true
	cfg.Workers = 1

	o, err := New(cfg, Options{Configurator: &fakeConfigurator{}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	g, err := o.Build(ctx)
	require.NoError(t, err)
	assert.Len(t, g.Result, 4)
}

func TestBuild_FirstErrorCancels(t *testing.T) {
	errBoom := errors.New("boom")
	fake := &fakeConfigurator{
		delay: map[string]time.Duration{"darwin/nopic": time.Minute},
	}
	fake.build = func(_ context.Context, u Unit) (*ir.Graph, error) {
		if u.String() == "linux/nopic" {
			return nil, errBoom
		}
		return unitGraph(u), nil
	}
	cfg := baseConfig()
	cfg.PICAfterNoPIC = true

	o, err := New(cfg, Options{Configurator: fake})
	require.NoError(t, err)

	start := time.Now()
	_, err = o.Build(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "linux/nopic")
	assert.Less(t, time.Since(start), 30*time.Second)
	assert.Equal(t, -1, fake.index("start linux/pic"), "pic unit must not run after its nopic unit failed")
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o, err := New(baseConfig(), Options{Configurator: &fakeConfigurator{}})
	require.NoError(t, err)
	_, err = o.Build(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuild_Deterministic(t *testing.T) {
	build := func(delays map[string]time.Duration) string {
		o, err := New(baseConfig(), Options{Configurator: &fakeConfigurator{delay: delays}})
		require.NoError(t, err)
		g, err := o.Build(context.Background())
		require.NoError(t, err)
		return encode(t, g)
	}

	first := build(map[string]time.Duration{"host/tools": 30 * time.Millisecond, "linux/pic": 10 * time.Millisecond})
	second := build(map[string]time.Duration{"darwin/nopic": 30 * time.Millisecond, "linux/nopic": 20 * time.Millisecond})
	assert.Equal(t, first, second)
}

func TestBuild_MissingToolFails(t *testing.T) {
	fake := &fakeConfigurator{}
	fake.build = func(_ context.Context, u Unit) (*ir.Graph, error) {
		g := unitGraph(u)
		if u.Variant == ir.VariantTools {
			g.Graph[0].UID = "other-cc"
			g.Result = []string{"other-cc"}
		}
		return g, nil
	}
	o, err := New(baseConfig(), Options{Configurator: fake})
	require.NoError(t, err)

	_, err = o.Build(context.Background())
	assert.ErrorIs(t, err, engine.ErrMissingDependency)
	assert.Contains(t, err.Error(), "unknown uid cc")
}

type resolverFunc func(ctx context.Context, name string) (string, error)

func (f resolverFunc) Resolve(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

func TestBuild_ExtraResources(t *testing.T) {
	resolver := resolverFunc(func(_ context.Context, name string) (string, error) {
		if name == "gdb" {
			return "", fmt.Errorf("not installed")
		}
		return "file:///usr/bin/" + name, nil
	})

	cfg := baseConfig()
	cfg.ExtraResources = []ir.ResourceSpec{
		{Pattern: "VCS", Locator: "base64:e30="},
		{Pattern: "GDB", Name: "gdb", Optional: true},
		{Pattern: "PYTHON", Name: "python3"},
	}
	o, err := New(cfg, Options{Configurator: &fakeConfigurator{}, Resolver: resolver})
	require.NoError(t, err)

	g, err := o.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ir.Resource{
		{Pattern: "VCS", Resource: "base64:e30="},
		{Pattern: "PYTHON", Resource: "file:///usr/bin/python3", Name: "python3"},
	}, g.Conf.Resources)

	cfg.ExtraResources[1].Optional = false
	o, err = New(cfg, Options{Configurator: &fakeConfigurator{}, Resolver: resolver})
	require.NoError(t, err)
	_, err = o.Build(context.Background())
	assert.ErrorIs(t, err, ErrResourceUnresolved)
	assert.Contains(t, err.Error(), "gdb")
}

func TestBuild_FiltersUnusedResources(t *testing.T) {
	fake := &fakeConfigurator{}
	fake.build = func(_ context.Context, u Unit) (*ir.Graph, error) {
		g := unitGraph(u)
		g.Graph[0].Cmds[0].Args = append(g.Graph[0].Cmds[0].Args, "$(BUILD_ROOT)/out")
		g.Conf.Resources = []ir.Resource{
			{Pattern: "BUILD_ROOT", Resource: "file:///b"},
			{Pattern: "JDK", Resource: "sbr:1"},
		}
		return g, nil
	}
	o, err := New(baseConfig(), Options{Configurator: fake})
	require.NoError(t, err)

	g, err := o.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ir.Resource{{Pattern: "BUILD_ROOT", Resource: "file:///b"}}, g.Conf.Resources)
}

type suiteInjector struct {
	rewritten map[string]string
}

func (s *suiteInjector) Inject(_ context.Context, g *ir.Graph) ([]*ir.Node, error) {
	run := &ir.Node{
		Deps:    []string{"linux-nopic"},
		Outputs: []string{"$(BUILD_ROOT)/test.log"},
		Cmds:    []ir.Cmd{{Args: []string{"run-tests", "--pgo-profile"}}},
		KV:      map[string]any{ir.KeyNodeType: "TM"},
	}
	return []*ir.Node{run}, nil
}

func (s *suiteInjector) RewriteUIDs(mapping map[string]string) {
	s.rewritten = mapping
}

func TestBuild_InjectAndRehash(t *testing.T) {
	cfg := baseConfig()
	cfg.Targets = []string{"linux"}
	cfg.PGOMarker = "--pgo-profile"
	cfg.PGOSalt = "profile-v1"
	inj := &suiteInjector{}

	o, err := New(cfg, Options{Configurator: &fakeConfigurator{}, Injectors: []Injector{inj}})
	require.NoError(t, err)
	g, err := o.Build(context.Background())
	require.NoError(t, err)

	require.Len(t, g.Graph, 4)
	test := g.Graph[3]
	assert.Equal(t, []string{"linux-nopic"}, test.Deps)
	assert.Contains(t, g.Result, test.UID)
	require.Len(t, inj.rewritten, 1, "only the marked node changes")
	for old, renamed := range inj.rewritten {
		assert.NotEqual(t, old, renamed)
		assert.Equal(t, test.UID, renamed)
	}
	assert.Equal(t, []string{"cc", "linux-nopic", "linux-pic"}, uids(g)[:3])
}

func TestBuild_RenameCollisions(t *testing.T) {
	fake := &fakeConfigurator{}
	fake.build = func(_ context.Context, u Unit) (*ir.Graph, error) {
		g := unitGraph(u)
		if u.Variant != ir.VariantTools {
			g.Graph[0].Outputs = []string{"$(BUILD_ROOT)/bin/app"}
		}
		return g, nil
	}
	cfg := baseConfig()
	cfg.Targets = []string{"linux"}
	cfg.RenameCollisions = true

	o, err := New(cfg, Options{Configurator: fake})
	require.NoError(t, err)
	g, err := o.Build(context.Background())
	require.NoError(t, err)

	var outputs []string
	for _, id := range g.Result {
		n := g.ByUID()[id]
		require.NotNil(t, n)
		outputs = append(outputs, n.Outputs...)
	}
	assert.ElementsMatch(t, []string{
		"$(BUILD_ROOT)/bin/app.linux-nopic",
		"$(BUILD_ROOT)/bin/app.linux-pic",
	}, outputs)
}

func TestBuild_CaptureAndReplay(t *testing.T) {
	ctx := context.Background()
	capture := store.NewLocal(t.TempDir())

	o, err := New(baseConfig(), Options{Configurator: &fakeConfigurator{}, Capture: capture})
	require.NoError(t, err)
	want, err := o.Build(ctx)
	require.NoError(t, err)

	replay, err := New(baseConfig(), Options{Configurator: &StoreConfigurator{Backend: capture}})
	require.NoError(t, err)
	got, err := replay.Build(ctx)
	require.NoError(t, err)

	assert.Equal(t, encode(t, want), encode(t, got))
}

func TestStoreConfigurator_Missing(t *testing.T) {
	c := &StoreConfigurator{Backend: store.NewLocal(t.TempDir())}
	_, err := c.Configure(context.Background(), Unit{Platform: "linux", Variant: ir.VariantPIC})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecConfigurator(t *testing.T) {
	requireShell(t)
	// $2 is the platform: sh -c script name --platform P ...
	script := `printf '{"graph":[{"uid":"a-%s","cmds":[{"cmd_args":["true"]}]}],"result":["a-%s"]}' "$2" "$2"`
	c := &ExecConfigurator{Command: []string{"sh", "-c", script, "configure"}}

	g, err := c.Configure(context.Background(), Unit{Platform: "linux", Variant: ir.VariantNoPIC})
	require.NoError(t, err)
	assert.Equal(t, "linux", g.Conf.Platform)
	assert.Equal(t, []string{"a-linux"}, g.Result)
}

func TestExecConfigurator_Failure(t *testing.T) {
	requireShell(t)
	c := &ExecConfigurator{Command: []string{"sh", "-c", "echo no such target >&2; exit 3", "configure"}}

	_, err := c.Configure(context.Background(), Unit{Platform: "linux", Variant: ir.VariantPIC})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "linux/pic")
	assert.Contains(t, err.Error(), "no such target")
}

func TestExecConfigurator_Malformed(t *testing.T) {
	requireShell(t)
	c := &ExecConfigurator{Command: []string{"sh", "-c", "echo '{\"graph\": [{}]}'", "configure"}}

	_, err := c.Configure(context.Background(), Unit{Platform: "linux", Variant: ir.VariantPIC})
	assert.ErrorIs(t, err, ir.ErrMalformed)
}

func TestExecConfigurator_Interrupted(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c := &ExecConfigurator{Command: []string{"sh", "-c", "exec sleep 5", "configure"}}

	_, err := c.Configure(ctx, Unit{Platform: "linux", Variant: ir.VariantPIC})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnitKey(t *testing.T) {
	u := Unit{Platform: "linux", Variant: ir.VariantPIC}
	assert.Equal(t, "linux/pic", u.String())
	assert.Equal(t, "linux/pic.json", u.Key())
}

func TestWithTimeout_Default(t *testing.T) {
	ctx, cancel := WithTimeout(context.Background(), 0)
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(DefaultUnitTimeout), deadline, time.Minute)
}
