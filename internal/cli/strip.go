package cli

import (
	"github.com/actiongraph/actiongraph/internal/engine"
	"github.com/spf13/cobra"
)

var stripOpts struct {
	out           string
	results       []string
	allowDangling bool
}

var stripCmd = &cobra.Command{
	Use:   "strip <graph.json|->",
	Short: "Drop every node not reachable from the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runStrip,
}

func init() {
	stripCmd.Flags().StringVarP(&stripOpts.out, "out", "o", "", "Write the graph to file instead of stdout")
	stripCmd.Flags().StringSliceVar(&stripOpts.results, "result", nil, "Strip from these uids instead of the graph result")
	stripCmd.Flags().BoolVar(&stripOpts.allowDangling, "allow-dangling", false, "Ignore result uids with no node")
}

func runStrip(cmd *cobra.Command, args []string) error {
	g, err := readGraph(cmd, args[0])
	if err != nil {
		return err
	}
	stripped, err := engine.Strip(g, stripOpts.results, engine.StripOptions{AllowDangling: stripOpts.allowDangling})
	if err != nil {
		return err
	}
	return writeGraph(cmd, stripOpts.out, stripped)
}
