package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemo-labs/mnemolite/internal/memory"
)

var (
	memProject     string
	memType        string
	memTags        []string
	memAuthor      string
	memContent     string
	memTitle       string
	memLimit       int
	memOffset      int
	memShowDeleted bool
	memMaxDistance float64
	memHard        bool
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Store and search free-form memories",
	Long: `Memories are notes, decisions, tasks, references, and conversations
kept alongside the code index and searchable by meaning.`,
}

var memoryCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		m, err := eng.Memories().Create(cmd.Context(), memory.CreateInput{
			ProjectID:  memProject,
			Title:      args[0],
			Content:    memContent,
			MemoryType: memType,
			Tags:       memTags,
			Author:     memAuthor,
		})
		if err != nil {
			return err
		}
		if jsonMode {
			return printJSON(m)
		}
		fmt.Printf("Created memory %s\n", m.ID)
		return nil
	},
}

var memoryGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		m, err := eng.Memories().GetByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonMode {
			return printJSON(m)
		}
		printMemory(m)
		return nil
	},
}

var memoryUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update fields of a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		var patch memory.Patch
		if cmd.Flags().Changed("title") {
			patch.Title = &memTitle
		}
		if cmd.Flags().Changed("content") {
			patch.Content = &memContent
		}
		if cmd.Flags().Changed("type") {
			patch.MemoryType = &memType
		}
		if cmd.Flags().Changed("tag") {
			patch.Tags = &memTags
		}
		if cmd.Flags().Changed("author") {
			patch.Author = &memAuthor
		}

		m, err := eng.Memories().Update(cmd.Context(), args[0], patch)
		if err != nil {
			return err
		}
		if jsonMode {
			return printJSON(m)
		}
		fmt.Printf("Updated memory %s\n", m.ID)
		return nil
	},
}

var memoryDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Soft-delete a memory (--hard removes a soft-deleted one for good)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		if memHard {
			if err := eng.Memories().DeletePermanently(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Memory %s permanently removed.\n", args[0])
			return nil
		}
		if err := eng.Memories().SoftDelete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Memory %s deleted.\n", args[0])
		return nil
	},
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List memories",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		memories, total, err := eng.Memories().List(cmd.Context(), memory.ListFilter{
			ProjectID:      memProject,
			MemoryType:     memType,
			Tags:           memTags,
			Author:         memAuthor,
			IncludeDeleted: memShowDeleted,
			Limit:          &memLimit,
			Offset:         memOffset,
		})
		if err != nil {
			return err
		}
		if jsonMode {
			return printJSON(map[string]any{"memories": memories, "total": total})
		}
		for _, m := range memories {
			printMemoryLine(&m)
		}
		fmt.Printf("%d of %d memories\n", len(memories), total)
		return nil
	},
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories by meaning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		hits, err := eng.Memories().Search(cmd.Context(), memory.SearchRequest{
			Query:       args[0],
			ProjectID:   memProject,
			MemoryType:  memType,
			Author:      memAuthor,
			Tags:        memTags,
			Limit:       &memLimit,
			MaxDistance: memMaxDistance,
		})
		if err != nil {
			return err
		}
		if jsonMode {
			return printJSON(hits)
		}
		if len(hits) == 0 {
			fmt.Println("No memories.")
			return nil
		}
		for _, hit := range hits {
			fmt.Printf("%.4f  ", hit.Distance)
			printMemoryLine(&hit.Memory)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(memoryCmd)
	memoryCmd.AddCommand(memoryCreateCmd, memoryGetCmd, memoryUpdateCmd,
		memoryDeleteCmd, memoryListCmd, memorySearchCmd)

	for _, c := range []*cobra.Command{memoryCreateCmd, memoryListCmd, memorySearchCmd} {
		c.Flags().StringVar(&memProject, "project", "", "project id")
		c.Flags().StringVar(&memType, "type", "", "memory type (note, decision, task, reference, conversation)")
		c.Flags().StringSliceVar(&memTags, "tag", nil, "tag (repeatable)")
		c.Flags().StringVar(&memAuthor, "author", "", "author")
	}
	memoryCreateCmd.Flags().StringVar(&memContent, "content", "", "memory body")
	memoryCreateCmd.MarkFlagRequired("content")

	memoryUpdateCmd.Flags().StringVar(&memTitle, "title", "", "new title")
	memoryUpdateCmd.Flags().StringVar(&memContent, "content", "", "new body")
	memoryUpdateCmd.Flags().StringVar(&memType, "type", "", "new memory type")
	memoryUpdateCmd.Flags().StringSliceVar(&memTags, "tag", nil, "replacement tags")
	memoryUpdateCmd.Flags().StringVar(&memAuthor, "author", "", "new author")

	memoryDeleteCmd.Flags().BoolVar(&memHard, "hard", false, "permanently remove a soft-deleted memory")

	memoryListCmd.Flags().IntVarP(&memLimit, "limit", "n", memory.DefaultLimit, "page size")
	memoryListCmd.Flags().IntVar(&memOffset, "offset", 0, "page offset")
	memoryListCmd.Flags().BoolVar(&memShowDeleted, "include-deleted", false, "include soft-deleted memories")

	memorySearchCmd.Flags().IntVarP(&memLimit, "limit", "n", memory.DefaultLimit, "maximum results")
	memorySearchCmd.Flags().Float64Var(&memMaxDistance, "max-distance", 0, "drop hits farther than this cosine distance")
}

func printMemory(m *memory.Memory) {
	printMemoryLine(m)
	fmt.Println(m.Content)
}

func printMemoryLine(m *memory.Memory) {
	tags := ""
	if len(m.Tags) > 0 {
		tags = "  #" + strings.Join(m.Tags, " #")
	}
	fmt.Printf("%s  [%s] %s%s\n", m.ID, m.MemoryType, m.Title, tags)
}
