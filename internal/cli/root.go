// Package cli implements the mnemo command line interface. Commands
// are thin: they load configuration, open the engine, and print what
// it returns.
package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mnemo-labs/mnemolite/internal/config"
	"github.com/mnemo-labs/mnemolite/internal/engine"
)

var (
	cfgFile  string
	dbPath   string
	verbose  bool
	jsonMode bool
)

var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "MnemoLite - local-first code intelligence and memory",
	Long: `MnemoLite indexes source repositories into searchable chunks with
vector embeddings and a code graph, and stores free-form memories
alongside them. Everything lives in a local SQLite database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, optional)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides storage.path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonMode, "json", false, "print machine-readable JSON")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	return cfg, nil
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openEngine builds the engine for one command invocation.
func openEngine(cmd *cobra.Command) (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return engine.Open(cmd.Context(), cfg, newLogger())
}

// printJSON renders v as indented JSON on stdout.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
