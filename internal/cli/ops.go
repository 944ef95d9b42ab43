package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemo-labs/mnemolite/internal/engine"
)

var (
	flushRepo string
	flushFile string
	errsRepo  string
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report engine health and breaker states",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		report := eng.Health(cmd.Context())
		if jsonMode {
			return printJSON(report)
		}
		fmt.Printf("status:  %s\n", report.Status)
		fmt.Printf("storage: %s\n", report.Storage)
		fmt.Printf("chunks:  %d (%d code vectors, %d text vectors)\n",
			report.Chunks, report.VectorsCode, report.VectorsText)
		for name, state := range report.Breakers {
			fmt.Printf("breaker %s: %s\n", name, state)
		}
		if len(report.CriticalCircuitsOpen) > 0 {
			fmt.Printf("open circuits: %s\n", strings.Join(report.CriticalCircuitsOpen, ", "))
		}
		return nil
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Invalidate cached search results",
	Long: `Flush drops cached entries: everything by default, one repository with
--repo, or one file with --repo and --file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flushFile != "" && flushRepo == "" {
			return fmt.Errorf("--file requires --repo")
		}
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		eng.FlushCache(cmd.Context(), engine.FlushScope{Repository: flushRepo, FilePath: flushFile})
		fmt.Println("Cache flushed.")
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache tier counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		stats := eng.CacheStats()
		if jsonMode {
			return printJSON(stats)
		}
		fmt.Printf("L1: %d hits / %d misses (%.1f%%)\n", stats.L1Hits, stats.L1Misses, stats.L1HitRate*100)
		fmt.Printf("L2: %d hits / %d misses (%.1f%%)\n", stats.L2Hits, stats.L2Misses, stats.L2HitRate*100)
		fmt.Printf("promotions: %d, combined hit rate: %.1f%%\n", stats.Promotions, stats.HitRate*100)
		return nil
	},
}

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "List per-file indexing failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		if errsRepo == "" {
			return fmt.Errorf("--repo is required")
		}
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		errs, err := eng.ListIndexingErrors(cmd.Context(), errsRepo)
		if err != nil {
			return err
		}
		if jsonMode {
			return printJSON(errs)
		}
		if len(errs) == 0 {
			fmt.Println("No indexing errors.")
			return nil
		}
		for _, e := range errs {
			fmt.Printf("%s  %s (%s): %s\n",
				e.OccurredAt.Format("2006-01-02 15:04:05"), e.FilePath, e.Stage, e.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd, flushCmd, statsCmd, errorsCmd)

	flushCmd.Flags().StringVar(&flushRepo, "repo", "", "repository to flush")
	flushCmd.Flags().StringVar(&flushFile, "file", "", "file to flush (requires --repo)")
	errorsCmd.Flags().StringVar(&errsRepo, "repo", "", "repository name")
}
