package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemo-labs/mnemolite/internal/graph"
	"github.com/mnemo-labs/mnemolite/internal/storage"
)

var (
	graphRepo      string
	graphDirection string
	graphRelations []string
	graphDepth     int
	graphPathDepth int
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Explore the code graph",
}

var graphFindCmd = &cobra.Command{
	Use:   "find <name>",
	Short: "Look up graph nodes by name or qualified path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		nodes, err := eng.FindNodes(cmd.Context(), graphRepo, args[0])
		if err != nil {
			return err
		}
		if jsonMode {
			return printJSON(nodes)
		}
		if len(nodes) == 0 {
			fmt.Println("No nodes.")
			return nil
		}
		for _, n := range nodes {
			fmt.Printf("%s  %-9s %s  (%s:%d)\n", n.NodeID, n.Label, n.NamePath, n.FilePath, n.StartLine)
		}
		return nil
	},
}

var graphTraverseCmd = &cobra.Command{
	Use:   "traverse <node-id>",
	Short: "Breadth-first expansion from a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		visited, err := eng.GraphTraverse(cmd.Context(), args[0], graph.TraverseOptions{
			Direction: storage.EdgeDirection(graphDirection),
			Relations: graphRelations,
			MaxDepth:  graphDepth,
		})
		if err != nil {
			return err
		}
		if jsonMode {
			return printJSON(visited)
		}
		for _, v := range visited {
			indent := strings.Repeat("  ", v.Depth)
			via := ""
			if v.Via != "" {
				via = fmt.Sprintf(" <-%s-", v.Via)
			}
			line := fmt.Sprintf("%s%s%s [%s]", indent, v.Node.NamePath, via, v.Node.Label)
			if rank, ok := v.Metrics[storage.MetricPageRank]; ok {
				line += fmt.Sprintf(" pr=%.4f", rank)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var graphPathCmd = &cobra.Command{
	Use:   "path <from-node-id> <to-node-id>",
	Short: "Shortest path between two nodes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		path, err := eng.GraphFindPath(cmd.Context(), args[0], args[1], graphPathDepth)
		if err != nil {
			return err
		}
		if jsonMode {
			return printJSON(path)
		}
		if len(path) == 0 {
			fmt.Println("No path.")
			return nil
		}
		names := make([]string, len(path))
		for i, n := range path {
			names[i] = n.NamePath
		}
		fmt.Println(strings.Join(names, " -> "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.AddCommand(graphFindCmd, graphTraverseCmd, graphPathCmd)

	graphFindCmd.Flags().StringVar(&graphRepo, "repo", "", "repository name")
	graphTraverseCmd.Flags().StringVar(&graphDirection, "direction", "outbound", "outbound, inbound, or both")
	graphTraverseCmd.Flags().StringSliceVar(&graphRelations, "relation", nil, "relations to follow (contains, calls, imports)")
	graphTraverseCmd.Flags().IntVar(&graphDepth, "depth", graph.DefaultDepth, "maximum depth (0 visits only the start node, max 10)")
	graphPathCmd.Flags().IntVar(&graphPathDepth, "max-depth", 0, "maximum path length (default 20)")
}
