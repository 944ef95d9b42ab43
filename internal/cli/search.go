package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemo-labs/mnemolite/internal/search"
)

var (
	searchMode       string
	searchRepo       string
	searchLanguage   string
	searchChunkType  string
	searchPathPrefix string
	searchReturnType string
	searchParamType  string
	searchDomain     string
	searchLimit      int
	searchOffset     int
	searchEf         int
	searchExpand     bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed code",
	Long: `Search runs a hybrid lexical + vector query by default; --mode picks a
single leg.

Examples:
  mnemo search "validate user email"
  mnemo search "parse config" --mode lexical --repo payments
  mnemo search "retry with backoff" --lang typescript --limit 5 --expand`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVar(&searchMode, "mode", "hybrid", "hybrid, lexical, or vector")
	searchCmd.Flags().StringVar(&searchRepo, "repo", "", "restrict to one repository")
	searchCmd.Flags().StringVar(&searchLanguage, "lang", "", "restrict to one language")
	searchCmd.Flags().StringVar(&searchChunkType, "type", "", "restrict to one chunk type")
	searchCmd.Flags().StringVar(&searchPathPrefix, "path", "", "restrict to a path prefix")
	searchCmd.Flags().StringVar(&searchReturnType, "return-type", "", "restrict to callables returning this type")
	searchCmd.Flags().StringVar(&searchParamType, "param-type", "", "restrict to callables taking a parameter of this type")
	searchCmd.Flags().StringVar(&searchDomain, "domain", "", "embedding domain: text, code, or both (vector mode only for both)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", search.DefaultLimit, "maximum results")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "results to skip")
	searchCmd.Flags().IntVar(&searchEf, "ef", 0, "HNSW ef_search override")
	searchCmd.Flags().BoolVar(&searchExpand, "expand", false, "attach graph neighbors to results")
}

func runSearch(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	req := search.Request{
		Query:       args[0],
		Repository:  searchRepo,
		Language:    searchLanguage,
		ChunkType:   searchChunkType,
		PathPrefix:  searchPathPrefix,
		ReturnType:  searchReturnType,
		ParamType:   searchParamType,
		Domain:      searchDomain,
		Limit:       &searchLimit,
		Offset:      searchOffset,
		EfSearch:    searchEf,
		ExpandGraph: searchExpand,
	}

	var resp *search.Response
	switch searchMode {
	case "hybrid":
		resp, err = eng.SearchHybrid(cmd.Context(), req)
	case "lexical":
		resp, err = eng.SearchLexical(cmd.Context(), req)
	case "vector":
		resp, err = eng.SearchVector(cmd.Context(), req)
	default:
		return fmt.Errorf("unknown mode %q (want hybrid, lexical, or vector)", searchMode)
	}
	if err != nil {
		return err
	}

	if jsonMode {
		return printJSON(resp)
	}
	printResults(resp)
	return nil
}

func printResults(resp *search.Response) {
	if len(resp.Results) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, r := range resp.Results {
		fmt.Printf("%2d. %s  %s:%d-%d  [%s %s]  score=%.4f\n",
			i+1, r.NamePath, r.FilePath, r.StartLine, r.EndLine, r.Language, r.ChunkType, r.Score)
		if r.Snippet != "" {
			fmt.Printf("    %s\n", firstLine(r.Snippet))
		}
		for _, rel := range r.Related {
			fmt.Printf("    ~ %s %s (%s)\n", rel.Relation, rel.NamePath, rel.Label)
		}
	}
	if len(resp.Meta.Degraded) > 0 {
		fmt.Printf("degraded: %s\n", strings.Join(resp.Meta.Degraded, ", "))
	}
	fmt.Printf("%d of %d results in %dms%s\n", len(resp.Results), resp.Pagination.Total, resp.Meta.TookMS, cachedSuffix(resp.Meta.Cached))
}

func cachedSuffix(cached bool) string {
	if cached {
		return " (cached)"
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
