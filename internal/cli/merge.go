package cli

import (
	"github.com/actiongraph/actiongraph/internal/engine"
	"github.com/actiongraph/actiongraph/internal/ir"
	"github.com/spf13/cobra"
)

var mergeOpts struct {
	out   string
	tools string
}

var mergeCmd = &cobra.Command{
	Use:   "merge <graph.json>...",
	Short: "Merge subgraphs into one graph",
	Long: `Merges graph files into one. With --tools, the tools graph is merged
into every input first and its nodes are marked as host-platform nodes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMerge,
}

func init() {
	mergeCmd.Flags().StringVarP(&mergeOpts.out, "out", "o", "", "Write the graph to file instead of stdout")
	mergeCmd.Flags().StringVar(&mergeOpts.tools, "tools", "", "Host tools graph merged into every input")
}

func runMerge(cmd *cobra.Command, args []string) error {
	var tools *ir.Graph
	if mergeOpts.tools != "" {
		var err error
		if tools, err = readGraph(cmd, mergeOpts.tools); err != nil {
			return err
		}
	}

	graphs := make([]*ir.Graph, 0, len(args))
	for _, path := range args {
		g, err := readGraph(cmd, path)
		if err != nil {
			return err
		}
		merged, err := engine.MergeTools(tools, g)
		if err != nil {
			return err
		}
		graphs = append(graphs, merged)
	}

	return writeGraph(cmd, mergeOpts.out, engine.Merge(graphs...))
}
