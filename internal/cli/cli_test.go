package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDemoRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	source := `export function validateUser(email: string): boolean {
  return email.includes("@");
}
`
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "user.ts"), []byte(source), 0o644))
	return root
}

func runCommand(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestIndexAndSearchCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")
	root := writeDemoRepo(t)

	err := runCommand(t, "index", root, "--repo", "demo", "--quiet", "--db", db)
	require.NoError(t, err)

	err = runCommand(t, "search", "validateUser", "--mode", "hybrid", "--repo", "demo", "--db", db)
	assert.NoError(t, err)

	err = runCommand(t, "search", "validateUser", "--mode", "lexical", "--repo", "demo", "--db", db)
	assert.NoError(t, err)

	err = runCommand(t, "health", "--db", db)
	assert.NoError(t, err)

	err = runCommand(t, "delete", "--repo", "demo", "--db", db)
	assert.NoError(t, err)
}

func TestSearchRejectsUnknownMode(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")
	err := runCommand(t, "search", "anything", "--mode", "fuzzy", "--db", db)
	assert.Error(t, err)
}

func TestFlushFileRequiresRepo(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")
	err := runCommand(t, "flush", "--file", "src/user.ts", "--repo", "", "--db", db)
	assert.Error(t, err)
}

func TestMemoryCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")

	err := runCommand(t, "memory", "create", "cache sizing",
		"--content", "keep the hot tier small", "--project", "p1", "--db", db)
	require.NoError(t, err)

	err = runCommand(t, "memory", "list", "--project", "p1", "--db", db)
	assert.NoError(t, err)

	err = runCommand(t, "memory", "search", "keep the hot tier small", "--db", db)
	assert.NoError(t, err)
}

func TestDeleteRequiresRepo(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")
	err := runCommand(t, "delete", "--repo", "", "--db", db)
	assert.Error(t, err)
}
