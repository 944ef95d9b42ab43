package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/mnemo-labs/mnemolite/internal/indexer"
)

var (
	indexRepo     string
	indexCommit   string
	indexQuiet    bool
	noEmbeddings  bool
	noGraph       bool
	indexOnlyFile []string
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a repository for hybrid search",
	Long: `Index parses every supported source file under the given path (default
current directory), chunks it along AST boundaries, embeds the chunks,
and builds the code graph.

Examples:
  # Index the current directory under its directory name
  mnemo index

  # Index a specific path under an explicit repository name
  mnemo index ~/src/payments --repo payments

  # Re-index two files without touching the rest
  mnemo index --repo payments --file src/api.ts --file src/db.ts`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove everything indexed under a repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		if indexRepo == "" {
			return fmt.Errorf("--repo is required")
		}
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()
		if err := eng.DeleteRepository(cmd.Context(), indexRepo); err != nil {
			return err
		}
		fmt.Printf("Repository %q removed from the index.\n", indexRepo)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(deleteCmd)

	indexCmd.Flags().StringVar(&indexRepo, "repo", "", "repository name (default: directory name)")
	indexCmd.Flags().StringVar(&indexCommit, "commit", "", "commit hash to stamp onto indexed chunks")
	indexCmd.Flags().BoolVarP(&indexQuiet, "quiet", "q", false, "disable the progress bar")
	indexCmd.Flags().BoolVar(&noEmbeddings, "no-embeddings", false, "skip embedding generation")
	indexCmd.Flags().BoolVar(&noGraph, "no-graph", false, "skip the code graph build")
	indexCmd.Flags().StringArrayVar(&indexOnlyFile, "file", nil, "re-index only this file (repeatable)")

	deleteCmd.Flags().StringVar(&indexRepo, "repo", "", "repository name")
}

func runIndex(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	repo := indexRepo
	if repo == "" {
		repo = filepath.Base(abs)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	if _, err := eng.EnsureProject(ctx, repo, abs); err != nil {
		return err
	}

	opts := indexer.DefaultOptions()
	opts.GenerateEmbeddings = !noEmbeddings
	opts.BuildGraph = !noGraph
	opts.CommitHash = indexCommit

	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		if indexQuiet {
			return
		}
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Indexing files"),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("files/s"),
				progressbar.OptionThrottle(65*time.Millisecond),
			)
		}
		bar.Set(done)
	}

	var summary *indexer.Summary
	if len(indexOnlyFile) > 0 {
		summary, err = eng.IndexFiles(ctx, repo, abs, indexOnlyFile, opts, progress)
	} else {
		summary, err = eng.IndexRepository(ctx, repo, abs, opts, progress)
	}
	if err != nil {
		return err
	}
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}

	if jsonMode {
		return printJSON(summary)
	}
	fmt.Printf("Indexed %d/%d files (%d chunks, %d embedded) in %s\n",
		summary.FilesIndexed, summary.FilesScanned, summary.Chunks, summary.Embedded,
		summary.Duration.Round(time.Millisecond))
	if summary.Nodes > 0 {
		fmt.Printf("Graph: %d nodes, %d edges\n", summary.Nodes, summary.Edges)
	}
	if summary.FilesRemoved > 0 {
		fmt.Printf("Removed %d stale files\n", summary.FilesRemoved)
	}
	for _, fe := range summary.Errors {
		fmt.Fprintf(os.Stderr, "  %s (%s): %s\n", fe.FilePath, fe.Stage, fe.Message)
	}
	return nil
}
