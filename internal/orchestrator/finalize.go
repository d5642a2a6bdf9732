package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"

	"github.com/actiongraph/actiongraph/internal/engine"
	"github.com/actiongraph/actiongraph/internal/ir"
	"github.com/actiongraph/actiongraph/internal/uid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrResourceUnresolved is returned when a required extra resource cannot
// be located.
var ErrResourceUnresolved = errors.New("resource could not be resolved")

// ResourceResolver turns a resource name into a locator string.
type ResourceResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// PathResolver resolves a resource name to an executable on PATH.
type PathResolver struct{}

func (PathResolver) Resolve(_ context.Context, name string) (string, error) {
	p, err := exec.LookPath(name)
	if err != nil {
		return "", err
	}
	return "file://" + p, nil
}

// finalize appends extra resources, backfills secondary uids, optionally
// strips tags shared by every node, and runs a last strip so the resource
// list is deduplicated.
func (o *Orchestrator) finalize(ctx context.Context, g *ir.Graph, hasher *uid.Hasher) (*ir.Graph, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Finalize")
	defer span.End()

	resources, err := o.resolveResources(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	g.Conf.Resources = append(g.Conf.Resources, resources...)

	hasher.Backfill(g)

	if o.cfg.StripCommonTags {
		if removed := engine.StripCommonTags(g); len(removed) > 0 {
			o.log.Debug("common tags stripped", "tags", removed)
		}
	}

	out, err := engine.Strip(g, nil, engine.StripOptions{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to strip final graph: %w", err)
	}

	out.Conf.GraphSize = len(out.Graph)
	out.Conf.Platform = o.finalPlatform()
	recordPass(ctx, "finalize", len(out.Graph))
	span.SetAttributes(attribute.Int("resources", len(out.Conf.Resources)))
	return out, nil
}

// resolveResources resolves every configured extra resource. Optional ones
// that fail are logged and left out; required failures are joined.
func (o *Orchestrator) resolveResources(ctx context.Context) ([]ir.Resource, error) {
	var (
		out  []ir.Resource
		errs []error
	)
	for _, spec := range o.cfg.ExtraResources {
		locator := spec.Locator
		if locator == "" {
			var err error
			locator, err = o.opts.Resolver.Resolve(ctx, spec.Name)
			if err != nil {
				if spec.Optional {
					o.log.Warn("optional resource unavailable", "name", spec.Name, "pattern", spec.Pattern, "error", err)
					continue
				}
				errs = append(errs, fmt.Errorf("%w: %s (%s): %v", ErrResourceUnresolved, spec.Name, spec.Pattern, err))
				continue
			}
		}
		out = append(out, ir.Resource{Pattern: spec.Pattern, Resource: locator, Name: spec.Name})
	}
	return out, errors.Join(errs...)
}

// finalPlatform is the host platform when there is one, otherwise the
// first target in sorted order.
func (o *Orchestrator) finalPlatform() string {
	if o.cfg.HostPlatform != "" {
		return o.cfg.HostPlatform
	}
	targets := append([]string(nil), o.cfg.Targets...)
	sort.Strings(targets)
	if len(targets) == 0 {
		return ""
	}
	return targets[0]
}
