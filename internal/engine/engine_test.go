package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-labs/mnemolite/internal/config"
	merrors "github.com/mnemo-labs/mnemolite/internal/errors"
	"github.com/mnemo-labs/mnemolite/internal/graph"
	"github.com/mnemo-labs/mnemolite/internal/indexer"
	"github.com/mnemo-labs/mnemolite/internal/memory"
	"github.com/mnemo-labs/mnemolite/internal/search"
	"github.com/mnemo-labs/mnemolite/internal/storage"
)

func intp(v int) *int { return &v }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Embedding.Dim = 16
	cfg.Storage.Path = filepath.Join(t.TempDir(), "engine.db")
	return cfg
}

func writeRepo(t *testing.T) string {
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
	}
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func openEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	eng, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestIndexThenHybridSearch(t *testing.T) {
	cfg := testConfig(t)
	eng := openEngine(t, cfg)
	ctx := context.Background()

	summary, err := eng.IndexRepository(ctx, "repo", writeRepo(t), indexer.DefaultOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.FilesIndexed)
	assert.Positive(t, summary.Nodes)

	resp, err := eng.SearchHybrid(ctx, search.Request{Query: "validateUser email", Repository: "repo"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.True(t, resp.Meta.LexicalEnabled)
	assert.True(t, resp.Meta.VectorEnabled)
	assert.False(t, resp.Meta.Cached)
	assert.Empty(t, resp.Meta.Degraded)
	assert.Equal(t, "validateUser", resp.Results[0].Name)

	// The identical query is answered from the cache.
	again, err := eng.SearchHybrid(ctx, search.Request{Query: "validateUser email", Repository: "repo"})
	require.NoError(t, err)
	assert.True(t, again.Meta.Cached)
	assert.Equal(t, resp.Results[0].ChunkID, again.Results[0].ChunkID)

	stats := eng.CacheStats()
	assert.Positive(t, stats.L1Hits)
}

func TestVectorIndexSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	root := writeRepo(t)

	first, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	_, err = first.IndexRepository(ctx, "repo", root, indexer.DefaultOptions(), nil)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := openEngine(t, cfg)
	health := second.Health(ctx)
	assert.Positive(t, health.VectorsCode)

	resp, err := second.SearchVector(ctx, search.Request{Query: "validate email address"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results)
}

func TestGraphOperations(t *testing.T) {
	cfg := testConfig(t)
	eng := openEngine(t, cfg)
	ctx := context.Background()

	_, err := eng.IndexRepository(ctx, "repo", writeRepo(t), indexer.DefaultOptions(), nil)
	require.NoError(t, err)

	callees, err := eng.FindNodes(ctx, "repo", "validateUser")
	require.NoError(t, err)
	require.NotEmpty(t, callees)
	callers, err := eng.FindNodes(ctx, "repo", "createUser")
	require.NoError(t, err)
	require.NotEmpty(t, callers)

	visited, err := eng.GraphTraverse(ctx, callers[0].NodeID, graph.TraverseOptions{
		Direction: storage.DirectionOutbound,
		Relations: []string{storage.EdgeCalls},
		MaxDepth:  2,
	})
	require.NoError(t, err)
	require.True(t, len(visited) >= 2)
	assert.Equal(t, callers[0].NodeID, visited[0].Node.NodeID)

	path, err := eng.GraphFindPath(ctx, callers[0].NodeID, callees[0].NodeID, 5)
	require.NoError(t, err)
	require.NotEmpty(t, path)
	assert.Equal(t, callers[0].NodeID, path[0].NodeID)
	assert.Equal(t, callees[0].NodeID, path[len(path)-1].NodeID)
}

func TestMemoryThroughEngine(t *testing.T) {
	cfg := testConfig(t)
	eng := openEngine(t, cfg)
	ctx := context.Background()

	created, err := eng.Memories().Create(ctx, memory.CreateInput{
		ProjectID: "p1",
		Title:     "index excludes",
		Content:   "generated bundles stay out of the index",
	})
	require.NoError(t, err)

	hits, err := eng.Memories().Search(ctx, memory.SearchRequest{
		Query: "index excludes\ngenerated bundles stay out of the index",
		Limit: intp(3),
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, created.ID, hits[0].Memory.ID)
}

func TestHealth(t *testing.T) {
	cfg := testConfig(t)
	eng := openEngine(t, cfg)
	ctx := context.Background()

	_, err := eng.IndexRepository(ctx, "repo", writeRepo(t), indexer.DefaultOptions(), nil)
	require.NoError(t, err)

	health := eng.Health(ctx)
	assert.Equal(t, StatusHealthy, health.Status)
	assert.Equal(t, "ok", health.Storage)
	assert.Positive(t, health.Chunks)
	assert.Positive(t, health.VectorsCode)
	assert.Positive(t, health.VectorsText)
	assert.Empty(t, health.CriticalCircuitsOpen)
	assert.Contains(t, health.Breakers, "embedding")
}

func TestHealthCriticalWhenBreakerOpens(t *testing.T) {
	cfg := testConfig(t)
	eng := openEngine(t, cfg)
	ctx := context.Background()

	breaker := merrors.NewCircuitBreaker("embedding", merrors.WithFailureThreshold(1))
	eng.registry.Register(breaker)
	breaker.RecordFailure()

	health := eng.Health(ctx)
	assert.Equal(t, StatusCritical, health.Status)
	assert.Contains(t, health.CriticalCircuitsOpen, "embedding")
}

func TestFlushCache(t *testing.T) {
	cfg := testConfig(t)
	eng := openEngine(t, cfg)
	ctx := context.Background()

	_, err := eng.IndexRepository(ctx, "repo", writeRepo(t), indexer.DefaultOptions(), nil)
	require.NoError(t, err)

	_, err = eng.SearchHybrid(ctx, search.Request{Query: "validateUser"})
	require.NoError(t, err)
	resp, err := eng.SearchHybrid(ctx, search.Request{Query: "validateUser"})
	require.NoError(t, err)
	assert.True(t, resp.Meta.Cached)

	eng.FlushCache(ctx, FlushScope{})

	resp, err = eng.SearchHybrid(ctx, search.Request{Query: "validateUser"})
	require.NoError(t, err)
	assert.False(t, resp.Meta.Cached)
}

func TestGetChunksCached(t *testing.T) {
	cfg := testConfig(t)
	eng := openEngine(t, cfg)
	ctx := context.Background()

	_, err := eng.IndexRepository(ctx, "repo", writeRepo(t), indexer.DefaultOptions(), nil)
	require.NoError(t, err)

	chunks, err := eng.GetChunks(ctx, "repo")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	statsBefore := eng.CacheStats().L1Hits
	again, err := eng.GetChunks(ctx, "repo")
	require.NoError(t, err)
	assert.Len(t, again, len(chunks))
	assert.Greater(t, eng.CacheStats().L1Hits, statsBefore)
}

func TestEnsureProjectIsStable(t *testing.T) {
	cfg := testConfig(t)
	eng := openEngine(t, cfg)
	ctx := context.Background()

	first, err := eng.EnsureProject(ctx, "mnemo", "/tmp/mnemo")
	require.NoError(t, err)
	second, err := eng.EnsureProject(ctx, "mnemo", "/tmp/mnemo-elsewhere")
	require.NoError(t, err)
	assert.Equal(t, first.ProjectID, second.ProjectID)
	assert.Equal(t, "/tmp/mnemo-elsewhere", second.RootPath)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Vector.EfSearch = 5
	_, err := Open(context.Background(), cfg, nil)
	assert.Error(t, err)
}
