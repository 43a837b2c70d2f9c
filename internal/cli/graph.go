package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skiff-io/skiff/internal/engine"
)

var graphCmd = &cobra.Command{
	Use:   "graph [path]",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  skiff graph | dot -Tpng > graph.png`,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfigArg(args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	resources := engine.ExpandForEach(cfg.Resources)
	dag, err := engine.BuildDAG(resources)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	fmt.Println("digraph skiff {")
	fmt.Println("  rankdir = \"BT\";")
	fmt.Println("  node [shape = rect];")
	fmt.Println()

	for _, res := range resources {
		fmt.Printf("  %q;\n", engine.ResourceAddr(res))
	}
	fmt.Println()

	for _, res := range resources {
		addr := engine.ResourceAddr(res)
		for _, dep := range dag.Dependencies(addr) {
			fmt.Printf("  %q -> %q;\n", addr, dep)
		}
	}

	fmt.Println("}")
	return nil
}
