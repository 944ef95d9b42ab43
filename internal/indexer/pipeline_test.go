package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-labs/mnemolite/internal/cache"
	"github.com/mnemo-labs/mnemolite/internal/config"
	"github.com/mnemo-labs/mnemolite/internal/embed"
	"github.com/mnemo-labs/mnemolite/internal/storage"
	"github.com/mnemo-labs/mnemolite/internal/vector"
)

const testDim = 16

func mockFactory() embed.Factory {
	return func() (embed.Provider, error) {
		return embed.NewMockProvider(testDim), nil
	}
}

func failingFactory() embed.Factory {
	return func() (embed.Provider, error) {
		return embed.NewFailingProvider(testDim), nil
	}
}

func writeFixtureRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"src/user.ts": `export function validateUser(email: string): boolean {
  if (!email.includes("@")) {
    return false;
  }
  return true;
}
`,
		"src/service.ts": `export function createUser(email: string): boolean {
  return validateUser(email);
}
`,
		"lib/util.py":    "def helper():\n    return 1\n",
		"README.md":      "# not indexable\n",
		"dist/bundle.js": "var x = 1;\n",
	}
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func newTestPipeline(t *testing.T, factory embed.Factory) (*Pipeline, *storage.Store, *vector.Index) {
	t.Helper()
	cfg := config.Default()
	cfg.Embedding.Dim = testDim
	cfg.Indexing.Workers = 4

	store, err := storage.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	index := vector.NewIndex(testDim, cfg.Vector.EfSearch)
	pipeline, err := NewPipeline(store, index, nil, factory, cfg, nil)
	require.NoError(t, err)
	return pipeline, store, index
}

func TestScannerSelectsSupportedFiles(t *testing.T) {
	root := writeFixtureRepo(t)
	scanner, err := NewScanner([]string{"lib/**"})
	require.NoError(t, err)

	files, err := scanner.Scan(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"src/user.ts", "src/service.ts"}, files)
}

func TestScannerRejectsBadPattern(t *testing.T) {
	_, err := NewScanner([]string{"[unclosed"})
	assert.Error(t, err)
}

func TestIndexRepository(t *testing.T) {
	root := writeFixtureRepo(t)
	pipeline, store, index := newTestPipeline(t, mockFactory())
	ctx := context.Background()

	summary, err := pipeline.IndexRepository(ctx, "repo", root, DefaultOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.FilesScanned)
	assert.Equal(t, 3, summary.FilesIndexed)
	assert.Zero(t, summary.FilesFailed)
	assert.Positive(t, summary.Chunks)
	assert.Equal(t, summary.Chunks, summary.Embedded)
	assert.Positive(t, summary.Nodes)
	assert.Positive(t, summary.Edges)

	count, err := store.CountChunks(ctx, "repo")
	require.NoError(t, err)
	assert.Equal(t, summary.Chunks, count)
	assert.Equal(t, summary.Embedded, index.Len(embed.DomainCode))
	assert.Equal(t, summary.Embedded, index.Len(embed.DomainText))

	// The cross-file call was resolved into the graph.
	nodes, err := store.FindNodesByName(ctx, "repo", "validateUser")
	require.NoError(t, err)
	require.NotEmpty(t, nodes)
	edges, err := store.NodeEdges(ctx, nodes[0].NodeID, storage.DirectionInbound, []string{storage.EdgeCalls})
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestIndexRepositoryIsIdempotent(t *testing.T) {
	root := writeFixtureRepo(t)
	pipeline, store, index := newTestPipeline(t, mockFactory())
	ctx := context.Background()

	first, err := pipeline.IndexRepository(ctx, "repo", root, DefaultOptions(), nil)
	require.NoError(t, err)
	second, err := pipeline.IndexRepository(ctx, "repo", root, DefaultOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, first.Chunks, second.Chunks)
	assert.Equal(t, first.Nodes, second.Nodes)
	assert.Equal(t, first.Edges, second.Edges)

	count, err := store.CountChunks(ctx, "repo")
	require.NoError(t, err)
	assert.Equal(t, second.Chunks, count)
	assert.Equal(t, second.Embedded, index.Len(embed.DomainCode))
	assert.Equal(t, second.Embedded, index.Len(embed.DomainText))

	nodeCount, err := store.CountNodes(ctx, "repo")
	require.NoError(t, err)
	assert.Equal(t, second.Nodes, nodeCount)
}

func TestIndexRepositoryRemovesStaleFiles(t *testing.T) {
	root := writeFixtureRepo(t)
	pipeline, store, _ := newTestPipeline(t, mockFactory())
	ctx := context.Background()

	_, err := pipeline.IndexRepository(ctx, "repo", root, DefaultOptions(), nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "lib", "util.py")))
	summary, err := pipeline.IndexRepository(ctx, "repo", root, DefaultOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesRemoved)

	files, err := store.RepositoryFiles(ctx, "repo")
	require.NoError(t, err)
	assert.NotContains(t, files, "lib/util.py")
}

func TestIndexingContinuesWhenEmbeddingFails(t *testing.T) {
	root := writeFixtureRepo(t)
	pipeline, store, index := newTestPipeline(t, failingFactory())
	ctx := context.Background()

	summary, err := pipeline.IndexRepository(ctx, "repo", root, DefaultOptions(), nil)
	require.NoError(t, err)

	// Every file degrades on the embed stage but is still indexed.
	assert.Equal(t, 3, summary.FilesIndexed)
	assert.Equal(t, 3, summary.FilesFailed)
	assert.Positive(t, summary.Chunks)
	assert.Zero(t, summary.Embedded)
	for _, fe := range summary.Errors {
		assert.Equal(t, StageEmbed, fe.Stage)
	}

	// Chunks landed without vectors; lexical search still works.
	count, err := store.CountChunks(ctx, "repo")
	require.NoError(t, err)
	assert.Equal(t, summary.Chunks, count)
	assert.Zero(t, index.Len(embed.DomainCode))
	assert.Zero(t, index.Len(embed.DomainText))
	hits, err := store.TrigramSearch(ctx, "validateUser", storage.LexicalFilter{}, 0.1, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)

	recorded, err := store.ListIndexingErrors(ctx, "repo")
	require.NoError(t, err)
	assert.Len(t, recorded, 3)
}

func TestIndexFilesPartial(t *testing.T) {
	root := writeFixtureRepo(t)
	pipeline, store, _ := newTestPipeline(t, mockFactory())
	ctx := context.Background()

	_, err := pipeline.IndexRepository(ctx, "repo", root, DefaultOptions(), nil)
	require.NoError(t, err)
	before, err := store.CountChunks(ctx, "repo")
	require.NoError(t, err)

	// Change one file and re-index only it.
	changed := filepath.Join(root, "src", "user.ts")
	require.NoError(t, os.WriteFile(changed, []byte("export function validateUser(email: string): boolean {\n  return email.length > 3;\n}\n"), 0o644))

	summary, err := pipeline.IndexFiles(ctx, "repo", root, []string{"src/user.ts"}, DefaultOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesIndexed)

	after, err := store.CountChunks(ctx, "repo")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	chunks, err := store.ListChunks(ctx, storage.ChunkFilter{Repository: "repo", FilePath: "src/user.ts"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].SourceCode, "email.length > 3")
}

func TestDeleteRepository(t *testing.T) {
	root := writeFixtureRepo(t)
	pipeline, store, index := newTestPipeline(t, mockFactory())
	ctx := context.Background()

	_, err := pipeline.IndexRepository(ctx, "repo", root, DefaultOptions(), nil)
	require.NoError(t, err)

	require.NoError(t, pipeline.DeleteRepository(ctx, "repo"))

	count, err := store.CountChunks(ctx, "repo")
	require.NoError(t, err)
	assert.Zero(t, count)
	nodeCount, err := store.CountNodes(ctx, "repo")
	require.NoError(t, err)
	assert.Zero(t, nodeCount)
	assert.Zero(t, index.Len(embed.DomainCode))
	assert.Zero(t, index.Len(embed.DomainText))
}

func TestIndexRepositoryStampsCommitHash(t *testing.T) {
	root := writeFixtureRepo(t)
	pipeline, store, _ := newTestPipeline(t, mockFactory())
	ctx := context.Background()

	opts := DefaultOptions()
	opts.CommitHash = "9f2c1d4"
	_, err := pipeline.IndexRepository(ctx, "repo", root, opts, nil)
	require.NoError(t, err)

	chunks, err := store.ListChunks(ctx, storage.ChunkFilter{Repository: "repo"})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Equal(t, "9f2c1d4", c.CommitHash)
	}
}

func TestFileCacheInvalidatedEvenWhenWriteFails(t *testing.T) {
	root := writeFixtureRepo(t)

	cfg := config.Default()
	cfg.Embedding.Dim = testDim
	store, err := storage.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	l1, err := cache.NewL1(1<<20, time.Minute)
	require.NoError(t, err)
	cascade := cache.NewCascade(l1, nil, time.Minute, nil, nil)
	index := vector.NewIndex(testDim, cfg.Vector.EfSearch)
	pipeline, err := NewPipeline(store, index, cascade, mockFactory(), cfg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	key := cache.ChunksFileKey("repo", "src/user.ts")
	cascade.Set(ctx, key, []byte(`{"stale":true}`))

	// Break the write path after processing succeeds.
	_, err = store.DB().Exec("DROP TABLE chunk_trigrams")
	require.NoError(t, err)

	provider := embed.NewMockProvider(testDim)
	_, ferr := pipeline.indexOneFile(ctx, provider, "repo", root, "src/user.ts", DefaultOptions())
	require.NotNil(t, ferr)
	assert.Equal(t, StageStore, ferr.Stage)

	// The entry was dropped before the failed write, so readers refetch
	// instead of serving the stale payload.
	_, ok := cascade.Get(ctx, key)
	assert.False(t, ok)
}

func TestWorkerCountDoesNotChangeResults(t *testing.T) {
	root := writeFixtureRepo(t)
	ctx := context.Background()

	counts := make([]int, 0, 2)
	for _, workers := range []int{1, 4} {
		cfg := config.Default()
		cfg.Embedding.Dim = testDim
		cfg.Indexing.Workers = workers

		store, err := storage.Open(filepath.Join(t.TempDir(), "index.db"))
		require.NoError(t, err)
		index := vector.NewIndex(testDim, cfg.Vector.EfSearch)
		pipeline, err := NewPipeline(store, index, nil, mockFactory(), cfg, nil)
		require.NoError(t, err)

		summary, err := pipeline.IndexRepository(ctx, "repo", root, DefaultOptions(), nil)
		require.NoError(t, err)
		counts = append(counts, summary.Chunks)
		store.Close()
	}
	assert.Equal(t, counts[0], counts[1])
}

func TestProgressCallback(t *testing.T) {
	root := writeFixtureRepo(t)
	pipeline, _, _ := newTestPipeline(t, mockFactory())

	var calls int
	var lastDone, lastTotal int
	_, err := pipeline.IndexRepository(context.Background(), "repo", root, DefaultOptions(),
		func(done, total int) {
			calls++
			lastDone, lastTotal = done, total
		})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, lastDone)
	assert.Equal(t, 3, lastTotal)
}
