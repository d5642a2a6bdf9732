package cli

import (
	"fmt"

	"github.com/actiongraph/actiongraph/internal/engine"
	"github.com/actiongraph/actiongraph/internal/logging"
	"github.com/actiongraph/actiongraph/internal/uid"
	"github.com/spf13/cobra"
)

var optimizeOpts struct {
	out              string
	keep             []string
	collapse         bool
	pgoMarker        string
	pgoSalt          string
	filter           []string
	renameCollisions bool
	stripCommonTags  bool
	copyCmd          []string
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize <graph.json|->",
	Short: "Run the optimization and transform passes on a graph",
	Long: `Strips the graph, drops unused resources and runs the optional passes
in a fixed order: chain collapsing, marker rehashing, output filtering,
collision renaming and common tag stripping. Missing static and stats
uids are filled in.`,
	Args: cobra.ExactArgs(1),
	RunE: runOptimize,
}

func init() {
	f := optimizeCmd.Flags()
	f.StringVarP(&optimizeOpts.out, "out", "o", "", "Write the graph to file instead of stdout")
	f.StringSliceVar(&optimizeOpts.keep, "keep-resource", nil, "Resource patterns kept even when unused, in addition to VCS")
	f.BoolVar(&optimizeOpts.collapse, "collapse-chains", false, "Collapse single-consumer dependency chains")
	f.StringVar(&optimizeOpts.pgoMarker, "pgo-marker", "", "Rehash nodes whose argv contains this token")
	f.StringVar(&optimizeOpts.pgoSalt, "pgo-salt", "", "Salt mixed into rehashed uids")
	f.StringSliceVar(&optimizeOpts.filter, "filter", nil, "Keep only result outputs with these suffixes")
	f.BoolVar(&optimizeOpts.renameCollisions, "rename-collisions", false, "Rename result outputs produced by several nodes")
	f.BoolVar(&optimizeOpts.stripCommonTags, "strip-common-tags", false, "Remove tags shared by every node")
	f.StringSliceVar(&optimizeOpts.copyCmd, "copy-cmd", nil, "Copy command prefix for synthesized nodes")
}

func runOptimize(cmd *cobra.Command, args []string) error {
	if optimizeOpts.pgoMarker != "" && optimizeOpts.pgoSalt == "" {
		return fmt.Errorf("--pgo-salt is required with --pgo-marker")
	}

	g, err := readGraph(cmd, args[0])
	if err != nil {
		return err
	}
	if g, err = engine.Strip(g, nil, engine.StripOptions{}); err != nil {
		return err
	}

	removed := engine.FilterResources(g, optimizeOpts.keep)
	logging.Debug("resources filtered", "removed", removed)

	if optimizeOpts.collapse {
		logging.Info("chains collapsed", "merges", engine.CollapseChains(g))
	}
	if optimizeOpts.pgoMarker != "" {
		if _, err := uid.RehashMarked(g, optimizeOpts.pgoMarker, optimizeOpts.pgoSalt); err != nil {
			return err
		}
	}

	topts := engine.TransformOptions{CopyCmd: optimizeOpts.copyCmd}
	if err := engine.FilterByOutput(g, optimizeOpts.filter, topts); err != nil {
		return err
	}
	if optimizeOpts.renameCollisions {
		if err := engine.RenameCollisions(g, topts); err != nil {
			return err
		}
	}

	hasher, err := uid.NewHasher(0)
	if err != nil {
		return err
	}
	hasher.Backfill(g)
	if optimizeOpts.stripCommonTags {
		engine.StripCommonTags(g)
	}

	out, err := engine.Strip(g, nil, engine.StripOptions{})
	if err != nil {
		return err
	}
	out.Conf.GraphSize = len(out.Graph)
	return writeGraph(cmd, optimizeOpts.out, out)
}
