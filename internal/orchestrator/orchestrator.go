// Package orchestrator drives the parallel construction of per-platform
// subgraphs and the serial pipeline that turns them into one graph.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/actiongraph/actiongraph/internal/engine"
	"github.com/actiongraph/actiongraph/internal/ir"
	"github.com/actiongraph/actiongraph/internal/logging"
	"github.com/actiongraph/actiongraph/internal/store"
	"github.com/actiongraph/actiongraph/internal/uid"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Options wires the collaborators of an Orchestrator.
type Options struct {
	// Configurator produces unit subgraphs. Required.
	Configurator Configurator

	// Resolver locates extra resources that have no fixed locator.
	// Nil uses PathResolver.
	Resolver ResourceResolver

	// Injectors attach extra nodes (test suites) after stripping.
	Injectors []Injector

	// Capture, when set, receives every configured subgraph.
	Capture store.Backend
}

// Orchestrator assembles one graph from a BuildConfig.
type Orchestrator struct {
	cfg  ir.BuildConfig
	opts Options

	// ID identifies this invocation in logs and spans.
	ID string

	log *slog.Logger
}

// New creates an Orchestrator for cfg.
func New(cfg *ir.BuildConfig, opts Options) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("build configuration is nil")
	}
	if opts.Configurator == nil {
		return nil, fmt.Errorf("no configurator")
	}
	if opts.Resolver == nil {
		opts.Resolver = PathResolver{}
	}
	if err := initMetrics(); err != nil {
		logging.Warn("metrics disabled", "error", err)
	}

	id := uuid.NewString()
	return &Orchestrator{
		cfg:  *cfg,
		opts: opts,
		ID:   id,
		log:  logging.Logger().With("invocation_id", id),
	}, nil
}

// Units returns the planned units in submission order: the host tools unit,
// then per target platform the non-PIC unit before the PIC unit.
func (o *Orchestrator) Units() []Unit {
	var units []Unit
	if o.cfg.HostPlatform != "" {
		units = append(units, Unit{Platform: o.cfg.HostPlatform, Variant: ir.VariantTools, Flags: o.cfg.Flags})
	}
	for _, p := range o.cfg.Targets {
		if o.cfg.NoPIC {
			units = append(units, Unit{Platform: p, Variant: ir.VariantNoPIC, Flags: o.cfg.Flags})
		}
		if o.cfg.PIC {
			units = append(units, Unit{Platform: p, Variant: ir.VariantPIC, Flags: o.cfg.Flags})
		}
	}
	return units
}

// Build runs the whole pipeline: configure units in parallel, merge them
// serially, then strip, optimize, transform and finalize the merged graph.
func (o *Orchestrator) Build(ctx context.Context) (*ir.Graph, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Build",
		trace.WithAttributes(
			attribute.String("invocation_id", o.ID),
			attribute.StringSlice("targets", o.cfg.Targets),
			attribute.Bool("pic", o.cfg.PIC),
			attribute.Bool("nopic", o.cfg.NoPIC),
		),
	)
	defer span.End()
	if buildTotal != nil {
		buildTotal.Add(ctx, 1)
	}

	g, err := o.build(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("graph_size", len(g.Graph)))
	span.SetStatus(codes.Ok, "")
	return g, nil
}

func (o *Orchestrator) build(ctx context.Context) (*ir.Graph, error) {
	start := time.Now()
	if o.opts.Capture != nil {
		if err := o.opts.Capture.Lock(ctx); err != nil {
			return nil, fmt.Errorf("failed to lock capture store: %w", err)
		}
		defer func() {
			if err := o.opts.Capture.Unlock(context.WithoutCancel(ctx)); err != nil {
				o.log.Warn("failed to unlock capture store", "error", err)
			}
		}()
	}

	units := o.Units()
	o.log.Info("configuring units", "units", len(units), "workers", o.workers())
	subgraphs, err := o.configureAll(ctx, units)
	if err != nil {
		return nil, err
	}

	merged, err := o.mergeAll(ctx, units, subgraphs)
	if err != nil {
		return nil, err
	}

	hasher, err := uid.NewHasher(0)
	if err != nil {
		return nil, err
	}

	g, err := o.transform(ctx, merged, hasher)
	if err != nil {
		return nil, err
	}

	g, err = o.finalize(ctx, g, hasher)
	if err != nil {
		return nil, err
	}

	o.log.Info("graph assembled", "nodes", len(g.Graph), "result", len(g.Result), "duration", time.Since(start))
	return g, nil
}

func (o *Orchestrator) workers() int {
	if o.cfg.Workers > 0 {
		return o.cfg.Workers
	}
	return DefaultWorkers
}

// configureAll runs every unit on a bounded pool. Units are submitted in
// order, so a PIC unit waiting for its non-PIC unit never holds the slot
// that unit needs. The first failure cancels the rest.
func (o *Orchestrator) configureAll(ctx context.Context, units []Unit) ([]*ir.Graph, error) {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.workers())

	noPICDone := make(map[string]chan struct{})
	if o.cfg.PICAfterNoPIC {
		for _, u := range units {
			if u.Variant == ir.VariantNoPIC {
				noPICDone[u.Platform] = make(chan struct{})
			}
		}
	}

	results := make([]*ir.Graph, len(units))
	for i, u := range units {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			if u.Variant == ir.VariantPIC {
				if ch, ok := noPICDone[u.Platform]; ok {
					select {
					case <-ch:
					case <-egCtx.Done():
						return egCtx.Err()
					}
				}
			}

			g, err := o.configureUnit(egCtx, u)
			if err != nil {
				return err
			}
			results[i] = g
			// A failed non-PIC unit never signals; its error cancels egCtx.
			if ch, ok := noPICDone[u.Platform]; ok && u.Variant == ir.VariantNoPIC {
				close(ch)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (o *Orchestrator) configureUnit(ctx context.Context, u Unit) (*ir.Graph, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Configure",
		trace.WithAttributes(
			attribute.String("invocation_id", o.ID),
			attribute.String("platform", u.Platform),
			attribute.String("variant", string(u.Variant)),
		),
	)
	defer span.End()

	ctx, cancel := WithTimeout(ctx, time.Duration(o.cfg.UnitTimeoutSeconds)*time.Second)
	defer cancel()

	start := time.Now()
	g, err := o.opts.Configurator.Configure(ctx, u)
	recordUnit(ctx, u, time.Since(start).Seconds(), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to configure %s: %w", u, err)
	}

	if o.opts.Capture != nil {
		if err := store.WriteGraph(ctx, o.opts.Capture, u.Key(), g); err != nil {
			return nil, fmt.Errorf("failed to capture %s: %w", u, err)
		}
	}

	span.SetAttributes(attribute.Int("nodes", len(g.Graph)))
	o.log.Debug("unit configured", "unit", u.String(), "nodes", len(g.Graph), "duration", time.Since(start))
	return g, nil
}

// mergeAll merges the tools subgraph into every target variant, then all
// targets together. It runs on one goroutine in sorted platform order, since
// every tools merge mutates the shared tools graph.
func (o *Orchestrator) mergeAll(ctx context.Context, units []Unit, subgraphs []*ir.Graph) (*ir.Graph, error) {
	_, span := tracer.Start(ctx, "orchestrator.Merge")
	defer span.End()

	var tools *ir.Graph
	byPlatform := make(map[string]map[ir.Variant]*ir.Graph)
	for i, u := range units {
		if u.Variant == ir.VariantTools {
			tools = subgraphs[i]
			continue
		}
		if byPlatform[u.Platform] == nil {
			byPlatform[u.Platform] = make(map[ir.Variant]*ir.Graph)
		}
		byPlatform[u.Platform][u.Variant] = subgraphs[i]
	}

	platforms := make([]string, 0, len(byPlatform))
	for p := range byPlatform {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)

	var targets []*ir.Graph
	for _, p := range platforms {
		for _, v := range []ir.Variant{ir.VariantNoPIC, ir.VariantPIC} {
			sub, ok := byPlatform[p][v]
			if !ok {
				continue
			}
			m, err := engine.MergeTools(tools, sub)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, fmt.Errorf("failed to merge %s/%s: %w", p, v, err)
			}
			targets = append(targets, m)
		}
	}

	merged := engine.Merge(targets...)
	recordPass(ctx, "merge", len(merged.Graph))
	o.log.Debug("subgraphs merged", "targets", len(targets), "nodes", len(merged.Graph))
	return merged, nil
}

// transform runs the fixed pass sequence over the merged graph.
func (o *Orchestrator) transform(ctx context.Context, g *ir.Graph, hasher *uid.Hasher) (*ir.Graph, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Transform")
	defer span.End()

	fail := func(err error) (*ir.Graph, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	g, err := engine.Strip(g, nil, engine.StripOptions{})
	if err != nil {
		return fail(fmt.Errorf("failed to strip merged graph: %w", err))
	}
	recordPass(ctx, "strip", len(g.Graph))

	var holders []uid.Holder
	for _, inj := range o.opts.Injectors {
		if err := o.inject(ctx, g, inj, hasher); err != nil {
			return fail(err)
		}
		if h, ok := inj.(uid.Holder); ok {
			holders = append(holders, h)
		}
	}
	if len(o.opts.Injectors) > 0 {
		if _, err := engine.BuildDAG(g); err != nil {
			return fail(fmt.Errorf("invalid graph after injection: %w", err))
		}
		recordPass(ctx, "inject", len(g.Graph))
	}

	keep := o.cfg.KeepResources
	if removed := engine.FilterResources(g, keep); len(removed) > 0 {
		o.log.Debug("resources filtered", "removed", len(removed))
	}

	if o.cfg.CollapseChains {
		merges := engine.CollapseChains(g)
		recordPass(ctx, "collapse", len(g.Graph))
		o.log.Debug("chains collapsed", "merges", merges)
	}

	if o.cfg.PGOMarker != "" {
		changed, err := uid.RehashMarked(g, o.cfg.PGOMarker, o.cfg.PGOSalt, holders...)
		if err != nil {
			return fail(fmt.Errorf("failed to rehash marked nodes: %w", err))
		}
		o.log.Debug("marked nodes rehashed", "changed", len(changed))
	}

	topts := engine.TransformOptions{CopyCmd: o.cfg.CopyCmd}
	if len(o.cfg.ResultFilter) > 0 {
		if err := engine.FilterByOutput(g, o.cfg.ResultFilter, topts); err != nil {
			return fail(fmt.Errorf("failed to filter results: %w", err))
		}
		recordPass(ctx, "filter", len(g.Graph))
	}
	if o.cfg.RenameCollisions {
		if err := engine.RenameCollisions(g, topts); err != nil {
			return fail(fmt.Errorf("failed to rename colliding outputs: %w", err))
		}
		recordPass(ctx, "rename", len(g.Graph))
	}
	return g, nil
}

// Injector attaches nodes to the stripped graph, typically the nodes of a
// test suite. Returned nodes without a uid get their dynamic uid. Injected
// nodes that no other injected node depends on join the result.
//
// An Injector that also implements uid.Holder follows later uid rewrites.
type Injector interface {
	Inject(ctx context.Context, g *ir.Graph) ([]*ir.Node, error)
}

func (o *Orchestrator) inject(ctx context.Context, g *ir.Graph, inj Injector, hasher *uid.Hasher) error {
	nodes, err := inj.Inject(ctx, g)
	if err != nil {
		return fmt.Errorf("failed to inject nodes: %w", err)
	}
	if len(nodes) == 0 {
		return nil
	}

	added := &ir.Graph{Graph: nodes}
	hasher.AssignMissing(added, "")

	consumed := make(map[string]bool)
	for _, n := range nodes {
		for _, d := range n.Deps {
			consumed[d] = true
		}
	}
	existing := g.ByUID()
	for _, n := range nodes {
		if _, dup := existing[n.UID]; dup {
			continue
		}
		existing[n.UID] = n
		g.Graph = append(g.Graph, n)
		if !consumed[n.UID] && !slices.Contains(g.Result, n.UID) {
			g.Result = append(g.Result, n.UID)
		}
	}
	o.log.Debug("nodes injected", "nodes", len(nodes))
	return nil
}
