package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/actiongraph/actiongraph/internal/engine"
	"github.com/actiongraph/actiongraph/internal/ir"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph <graph.json|->",
	Short: "Output the action graph in DOT format",
	Long: `Generates a visual representation of an action graph in Graphviz
DOT format. Result nodes are drawn bold. Pipe the output to 'dot' to
generate an image:

  actiongraph graph out.json | dot -Tpng > graph.png`,
	Args: cobra.ExactArgs(1),
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	g, err := readGraph(cmd, args[0])
	if err != nil {
		return err
	}
	return writeDOT(cmd.OutOrStdout(), g)
}

// shortUID is the uid prefix shown in node labels.
const shortUID = 12

func writeDOT(w io.Writer, g *ir.Graph) error {
	dag, err := engine.BuildDAG(g)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	fmt.Fprintln(w, "digraph actiongraph {")
	fmt.Fprintln(w, "  rankdir = \"BT\";")
	fmt.Fprintln(w, "  node [shape = rect];")
	fmt.Fprintln(w)

	for _, id := range dag.Order() {
		n, _ := dag.Node(id)
		label := id
		if len(label) > shortUID {
			label = label[:shortUID]
		}
		label = n.Kind().String() + " " + label
		attrs := fmt.Sprintf("label = %q", label)
		if slices.Contains(g.Result, id) {
			attrs += ", style = bold"
		}
		fmt.Fprintf(w, "  %q [%s];\n", id, attrs)
	}
	fmt.Fprintln(w)

	for _, id := range dag.Order() {
		for _, dep := range dag.Dependencies(id) {
			fmt.Fprintf(w, "  %q -> %q;\n", id, dep)
		}
	}

	fmt.Fprintln(w, "}")
	return nil
}
