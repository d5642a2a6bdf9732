package orchestrator

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("actiongraph.orchestrator")
	meter  = otel.Meter("actiongraph.orchestrator")
)

var (
	buildTotal   metric.Int64Counter
	unitsBuilt   metric.Int64Counter
	unitDuration metric.Float64Histogram
	passNodes    metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildTotal, err = meter.Int64Counter(
			"actiongraph_build_total",
			metric.WithDescription("Total number of graph assemblies"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		unitsBuilt, err = meter.Int64Counter(
			"actiongraph_units_built_total",
			metric.WithDescription("Configurator units completed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		unitDuration, err = meter.Float64Histogram(
			"actiongraph_unit_duration_seconds",
			metric.WithDescription("Duration of one configurator unit"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		passNodes, err = meter.Int64Histogram(
			"actiongraph_pass_nodes",
			metric.WithDescription("Node count after each graph pass"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordPass(ctx context.Context, pass string, nodes int) {
	if passNodes != nil {
		passNodes.Record(ctx, int64(nodes), metric.WithAttributes(attribute.String("pass", pass)))
	}
}

func recordUnit(ctx context.Context, u Unit, seconds float64, ok bool) {
	attrs := metric.WithAttributes(
		attribute.String("platform", u.Platform),
		attribute.String("variant", string(u.Variant)),
		attribute.Bool("ok", ok),
	)
	if unitsBuilt != nil {
		unitsBuilt.Add(ctx, 1, attrs)
	}
	if unitDuration != nil {
		unitDuration.Record(ctx, seconds, attrs)
	}
}
