package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/actiongraph/actiongraph/internal/ir"
	"github.com/spf13/cobra"
)

// resolveEntryPoint splits an optional path argument into a project
// directory and a pkl entry point, defaulting to main.pkl in the working
// directory.
func resolveEntryPoint(args []string) (string, string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", "", fmt.Errorf("failed to get working directory: %w", err)
	}
	entryPoint := "main.pkl"

	if len(args) == 0 {
		return wd, entryPoint, nil
	}

	absPath, err := filepath.Abs(args[0])
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve path %s: %w", args[0], err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to stat path %s: %w", args[0], err)
	}
	if info.IsDir() {
		return absPath, entryPoint, nil
	}
	return filepath.Dir(absPath), filepath.Base(absPath), nil
}

// readGraph reads a graph file, or stdin for "-".
func readGraph(cmd *cobra.Command, path string) (*ir.Graph, error) {
	if path == "-" {
		g, err := ir.Decode(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read graph from stdin: %w", err)
		}
		return g, nil
	}
	return ir.ReadFile(path)
}

// writeGraph writes g to path, or stdout when path is empty or "-".
func writeGraph(cmd *cobra.Command, path string, g *ir.Graph) error {
	if path == "" || path == "-" {
		w := bufio.NewWriter(cmd.OutOrStdout())
		if err := ir.Encode(w, g); err != nil {
			return err
		}
		return w.Flush()
	}
	return ir.WriteFile(path, g)
}

// parseKeyValues parses repeated "key=value" flags.
func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid key=value pair: %q", p)
		}
		out[k] = v
	}
	return out, nil
}

func printSummary(w io.Writer, g *ir.Graph) {
	fmt.Fprintf(w, "Nodes:     %d\n", len(g.Graph))
	fmt.Fprintf(w, "Result:    %d\n", len(g.Result))
	fmt.Fprintf(w, "Resources: %d\n", len(g.Conf.Resources))
}
