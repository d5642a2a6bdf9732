package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/actiongraph/actiongraph/internal/eval"
	"github.com/actiongraph/actiongraph/internal/ir"
	"github.com/actiongraph/actiongraph/internal/orchestrator"
	"github.com/actiongraph/actiongraph/internal/store"
	"github.com/spf13/cobra"
)

var assembleOpts struct {
	out        string
	targets    []string
	workers    int
	replay     string
	capture    string
	properties []string
}

var assembleCmd = &cobra.Command{
	Use:   "assemble [path]",
	Short: "Configure every platform and assemble the final graph",
	Long: `Loads the build configuration (main.pkl by default), runs the
configurator for the host tools and every target platform in parallel,
and writes the merged, stripped and optimized graph.

Subgraphs can be captured to a store and replayed later:

  actiongraph assemble --capture s3://bucket/captures
  actiongraph assemble --replay s3://bucket/captures`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAssemble,
}

func init() {
	f := assembleCmd.Flags()
	f.StringVarP(&assembleOpts.out, "out", "o", "", "Write the graph to file instead of stdout")
	f.StringSliceVar(&assembleOpts.targets, "target", nil, "Override the target platforms")
	f.IntVar(&assembleOpts.workers, "workers", 0, "Override the worker pool size")
	f.StringVar(&assembleOpts.replay, "replay", "", "Replay subgraphs from a store location")
	f.StringVar(&assembleOpts.capture, "capture", "", "Capture subgraphs to a store location")
	f.StringArrayVarP(&assembleOpts.properties, "property", "p", nil, "External property passed to the config (key=value)")
}

func runAssemble(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveEntryPoint(args)
	if err != nil {
		return err
	}
	props, err := parseKeyValues(assembleOpts.properties)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := eval.NewEvaluator(wd).LoadBuildConfig(ctx, entryPoint, props)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyAssembleOverrides(cmd, cfg)
	eval.ApplyDefaults(cfg)
	if err := eval.Validate(cfg); err != nil {
		return err
	}

	opts, err := orchestratorOptions(ctx, cfg)
	if err != nil {
		return err
	}
	o, err := orchestrator.New(cfg, opts)
	if err != nil {
		return err
	}

	g, err := o.Build(ctx)
	if err != nil {
		return fmt.Errorf("assembly failed: %w", err)
	}

	if err := writeGraph(cmd, assembleOpts.out, g); err != nil {
		return err
	}
	if assembleOpts.out != "" {
		printSummary(cmd.OutOrStdout(), g)
	}
	return nil
}

// applyAssembleOverrides applies the flags the user set explicitly on top of
// the loaded configuration.
func applyAssembleOverrides(cmd *cobra.Command, cfg *ir.BuildConfig) {
	f := cmd.Flags()
	if f.Changed("target") {
		cfg.Targets = assembleOpts.targets
	}
	if f.Changed("workers") {
		cfg.Workers = assembleOpts.workers
	}
	if f.Changed("replay") {
		cfg.ReplayFrom = assembleOpts.replay
	}
	if f.Changed("capture") {
		cfg.CaptureTo = assembleOpts.capture
	}
}

func orchestratorOptions(ctx context.Context, cfg *ir.BuildConfig) (orchestrator.Options, error) {
	var opts orchestrator.Options

	if cfg.ReplayFrom != "" {
		b, err := store.NewBackend(ctx, store.ParseLocation(cfg.ReplayFrom))
		if err != nil {
			return opts, fmt.Errorf("failed to open replay store: %w", err)
		}
		opts.Configurator = &orchestrator.StoreConfigurator{Backend: b}
	} else {
		opts.Configurator = &orchestrator.ExecConfigurator{Command: cfg.Configurator}
	}

	if cfg.CaptureTo != "" {
		b, err := store.NewBackend(ctx, store.ParseLocation(cfg.CaptureTo))
		if err != nil {
			return opts, fmt.Errorf("failed to open capture store: %w", err)
		}
		opts.Capture = b
	}
	return opts, nil
}
