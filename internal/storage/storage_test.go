package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merrors "github.com/mnemo-labs/mnemolite/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testChunk(repo, file, name, source string) ChunkRecord {
	return ChunkRecord{
		ChunkID:    uuid.NewString(),
		Repository: repo,
		FilePath:   file,
		Language:   "typescript",
		ChunkType:  "function",
		Name:       name,
		NamePath:   name,
		SourceCode: source,
		StartLine:  1,
		EndLine:    5,
		Metadata:   "{}",
		IndexedAt:  time.Now().UTC(),
	}
}

func writeChunks(t *testing.T, store *Store, repo, file string, chunks ...ChunkRecord) {
	t.Helper()
	err := store.InTransaction(context.Background(), func(tx *sql.Tx) error {
		return store.ReplaceFileChunks(context.Background(), tx, repo, file, chunks)
	})
	require.NoError(t, err)
}

func TestExtractTrigrams(t *testing.T) {
	trigrams := ExtractTrigrams("hello")
	assert.Len(t, trigrams, 6)
	assert.Contains(t, trigrams, "  h")
	assert.Contains(t, trigrams, "hel")
	assert.Contains(t, trigrams, "lo ")

	// Case and whitespace insensitive.
	assert.Equal(t, ExtractTrigrams("Hello  World"), ExtractTrigrams("hello world"))

	assert.Empty(t, ExtractTrigrams("   "))
}

func TestEmbeddingRoundTrip(t *testing.T) {
	in := []float32{0.1, -2.5, 3.75, 0}
	out, err := DeserializeEmbedding(SerializeEmbedding(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DeserializeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestReplaceFileChunksIsAtomicPerFile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	writeChunks(t, store, "repo", "a.ts",
		testChunk("repo", "a.ts", "first", "function first() {}"),
		testChunk("repo", "a.ts", "second", "function second() {}"),
	)

	count, err := store.CountChunks(ctx, "repo")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Re-indexing the file replaces its chunks instead of appending.
	writeChunks(t, store, "repo", "a.ts",
		testChunk("repo", "a.ts", "third", "function third() {}"),
	)
	count, err = store.CountChunks(ctx, "repo")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	chunks, err := store.ListChunks(ctx, ChunkFilter{Repository: "repo"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "third", chunks[0].Name)
	assert.Positive(t, chunks[0].TrigramCount)
}

func TestTrigramSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	writeChunks(t, store, "repo", "user.ts",
		testChunk("repo", "user.ts", "validateUser", "function validateUser(email) { return email.includes('@') }"),
	)
	writeChunks(t, store, "repo", "math.ts",
		testChunk("repo", "math.ts", "add", "function add(a, b) { return a + b }"),
	)

	hits, err := store.TrigramSearch(ctx, "validateUser", LexicalFilter{}, 0.1, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "validateUser", hits[0].Chunk.Name)
	assert.Greater(t, hits[0].Similarity, 0.1)
	assert.LessOrEqual(t, hits[0].Similarity, 1.0)

	// Repository filter excludes everything else.
	hits, err = store.TrigramSearch(ctx, "validateUser", LexicalFilter{Repository: "other"}, 0.1, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// Below-threshold candidates are dropped.
	hits, err = store.TrigramSearch(ctx, "zzqqxx", LexicalFilter{}, 0.1, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestTrigramSearchOrdersBySimilarity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	writeChunks(t, store, "repo", "a.ts",
		testChunk("repo", "a.ts", "parseConfig", "function parseConfig() {}"),
	)
	writeChunks(t, store, "repo", "b.ts",
		testChunk("repo", "b.ts", "parseConfigFile", "function parseConfigFile() { return parseConfigData(readFile(configPath)) }"),
	)

	hits, err := store.TrigramSearch(ctx, "parseConfig", LexicalFilter{}, 0.05, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "parseConfig", hits[0].Chunk.Name)
	assert.GreaterOrEqual(t, hits[0].Similarity, hits[1].Similarity)
}

func TestDeleteRepositoryData(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	writeChunks(t, store, "repo", "a.ts", testChunk("repo", "a.ts", "f", "function f() {}"))
	writeChunks(t, store, "keep", "b.ts", testChunk("keep", "b.ts", "g", "function g() {}"))

	err := store.InTransaction(ctx, func(tx *sql.Tx) error {
		return store.DeleteRepositoryData(ctx, tx, "repo")
	})
	require.NoError(t, err)

	count, err := store.CountChunks(ctx, "repo")
	require.NoError(t, err)
	assert.Zero(t, count)
	count, err = store.CountChunks(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpsertNodeIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	node := NodeRecord{
		NodeID:     uuid.NewString(),
		Repository: "repo",
		Label:      NodeFunction,
		Name:       "validateUser",
		NamePath:   "validateUser",
		FilePath:   "user.ts",
		StartLine:  1,
		EndLine:    5,
	}

	var firstID, secondID string
	err := store.InTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		firstID, err = store.UpsertNode(ctx, tx, node)
		return err
	})
	require.NoError(t, err)

	// Same identity with a fresh candidate ID keeps the stored ID.
	node.NodeID = uuid.NewString()
	node.EndLine = 9
	err = store.InTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		secondID, err = store.UpsertNode(ctx, tx, node)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, firstID, secondID)

	stored, err := store.GetNode(ctx, firstID)
	require.NoError(t, err)
	assert.Equal(t, 9, stored.EndLine)

	count, err := store.CountNodes(ctx, "repo")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpsertEdgeDeduplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var src, dst string
	err := store.InTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		src, err = store.UpsertNode(ctx, tx, NodeRecord{NodeID: uuid.NewString(), Repository: "repo", Label: NodeFunction, Name: "a", NamePath: "a", FilePath: "a.ts"})
		if err != nil {
			return err
		}
		dst, err = store.UpsertNode(ctx, tx, NodeRecord{NodeID: uuid.NewString(), Repository: "repo", Label: NodeFunction, Name: "b", NamePath: "b", FilePath: "b.ts"})
		return err
	})
	require.NoError(t, err)

	edge := EdgeRecord{EdgeID: uuid.NewString(), Repository: "repo", SourceID: src, TargetID: dst, Relation: EdgeCalls, Line: 3}
	for i := 0; i < 2; i++ {
		edge.EdgeID = uuid.NewString()
		err = store.InTransaction(ctx, func(tx *sql.Tx) error {
			return store.UpsertEdge(ctx, tx, edge)
		})
		require.NoError(t, err)
	}

	count, err := store.CountEdges(ctx, "repo")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	edges, err := store.NodeEdges(ctx, src, DirectionOutbound, []string{EdgeCalls})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, dst, edges[0].TargetID)
}

func TestNodeMetricsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var id string
	err := store.InTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = store.UpsertNode(ctx, tx, NodeRecord{NodeID: uuid.NewString(), Repository: "repo", Label: NodeFunction, Name: "f", NamePath: "f", FilePath: "f.ts"})
		if err != nil {
			return err
		}
		return store.ReplaceNodeMetrics(ctx, tx, []NodeMetric{
			{NodeID: id, Metric: MetricPageRank, Value: 0.25, ComputedAt: time.Now().UTC()},
			{NodeID: id, Metric: MetricCouplingIn, Value: 3, ComputedAt: time.Now().UTC()},
		})
	})
	require.NoError(t, err)

	metrics, err := store.NodeMetrics(ctx, []string{id})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, metrics[id][MetricPageRank], 1e-9)
	assert.InDelta(t, 3, metrics[id][MetricCouplingIn], 1e-9)
}

func TestMemoryTitleConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mem := MemoryRecord{
		MemoryID: uuid.NewString(), ProjectID: "proj", Title: "decision",
		Content: "use sqlite", MemoryType: "note", Tags: "[]",
		State: MemoryStateAlive, CreatedAt: now, UpdatedAt: now,
	}
	err := store.InTransaction(ctx, func(tx *sql.Tx) error {
		return store.InsertMemory(ctx, tx, mem)
	})
	require.NoError(t, err)

	dup := mem
	dup.MemoryID = uuid.NewString()
	err = store.InTransaction(ctx, func(tx *sql.Tx) error {
		return store.InsertMemory(ctx, tx, dup)
	})
	require.Error(t, err)
	assert.Equal(t, merrors.KindConflict, merrors.KindOf(err))

	// Soft-deleting the original frees the title.
	mem.State = MemoryStateDeleted
	mem.DeletedAt = &now
	err = store.InTransaction(ctx, func(tx *sql.Tx) error {
		return store.SetMemoryState(ctx, tx, mem)
	})
	require.NoError(t, err)
	err = store.InTransaction(ctx, func(tx *sql.Tx) error {
		return store.InsertMemory(ctx, tx, dup)
	})
	require.NoError(t, err)
}

func TestListMemoriesFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insert := func(title, memType, tags, state string) {
		err := store.InTransaction(ctx, func(tx *sql.Tx) error {
			return store.InsertMemory(ctx, tx, MemoryRecord{
				MemoryID: uuid.NewString(), ProjectID: "proj", Title: title,
				Content: "c", MemoryType: memType, Tags: tags,
				State: state, CreatedAt: now, UpdatedAt: now,
			})
		})
		require.NoError(t, err)
	}
	insert("a", "note", `["design"]`, MemoryStateAlive)
	insert("b", "decision", `["design","perf"]`, MemoryStateAlive)
	insert("c", "note", `[]`, MemoryStateDeleted)

	memories, total, err := store.ListMemories(ctx, MemoryFilter{ProjectID: "proj"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, memories, 2)

	_, total, err = store.ListMemories(ctx, MemoryFilter{ProjectID: "proj", IncludeDeleted: true})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	memories, _, err = store.ListMemories(ctx, MemoryFilter{ProjectID: "proj", Tag: "perf"})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "b", memories[0].Title)
}

func TestGetChunksByIDsPreservesOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testChunk("repo", "a.ts", "a", "function a() {}")
	b := testChunk("repo", "a.ts", "b", "function b() {}")
	writeChunks(t, store, "repo", "a.ts", a, b)

	chunks, err := store.GetChunksByIDs(ctx, []string{b.ChunkID, "missing", a.ChunkID})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "b", chunks[0].Name)
	assert.Equal(t, "a", chunks[1].Name)
}

func TestIndexingErrors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.InTransaction(ctx, func(tx *sql.Tx) error {
		return store.RecordIndexingError(ctx, tx, IndexingError{
			ErrorID: uuid.NewString(), Repository: "repo", FilePath: "broken.ts",
			Stage: "embed", Message: "provider unavailable", OccurredAt: time.Now().UTC(),
		})
	})
	require.NoError(t, err)

	errs, err := store.ListIndexingErrors(ctx, "repo")
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "broken.ts", errs[0].FilePath)
	assert.Equal(t, "embed", errs[0].Stage)
}

func TestChunkEmbeddingColumnsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	full := testChunk("repo", "a.ts", "full", "function full() {}")
	full.EmbeddingText = []float32{1, 2, 3}
	full.EmbeddingCode = []float32{4, 5, 6}
	full.EmbeddingDim = 3
	full.CommitHash = "9f2c1d4"
	bare := testChunk("repo", "a.ts", "bare", "function bare() {}")
	writeChunks(t, store, "repo", "a.ts", full, bare)

	got, err := store.GetChunk(ctx, full.ChunkID)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, got.EmbeddingText)
	assert.Equal(t, []float32{4, 5, 6}, got.EmbeddingCode)
	assert.Equal(t, "9f2c1d4", got.CommitHash)

	got, err = store.GetChunk(ctx, bare.ChunkID)
	require.NoError(t, err)
	assert.Nil(t, got.EmbeddingText)
	assert.Nil(t, got.EmbeddingCode)
	assert.Empty(t, got.CommitHash)
}

func TestForEachChunkEmbeddingStreamsBothDomains(t *testing.T) {
	store := newTestStore(t)

	textOnly := testChunk("repo", "a.ts", "doc", "documentation block")
	textOnly.EmbeddingText = []float32{1, 0}
	textOnly.EmbeddingDim = 2
	codeOnly := testChunk("repo", "a.ts", "fn", "function fn() {}")
	codeOnly.EmbeddingCode = []float32{0, 1}
	codeOnly.EmbeddingDim = 2
	plain := testChunk("repo", "a.ts", "plain", "function plain() {}")
	writeChunks(t, store, "repo", "a.ts", textOnly, codeOnly, plain)

	seen := map[string][2]int{}
	err := store.ForEachChunkEmbedding(context.Background(), func(chunkID string, text, code []float32) error {
		seen[chunkID] = [2]int{len(text), len(code)}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 2)
	assert.Equal(t, [2]int{2, 0}, seen[textOnly.ChunkID])
	assert.Equal(t, [2]int{0, 2}, seen[codeOnly.ChunkID])
}

func TestCountChunksByFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ts := testChunk("repo", "src/a.ts", "a", "function a() {}")
	py := testChunk("repo", "lib/b.py", "b", "def b(): pass")
	py.Language = "python"
	other := testChunk("other", "c.ts", "c", "function c() {}")
	writeChunks(t, store, "repo", "src/a.ts", ts)
	writeChunks(t, store, "repo", "lib/b.py", py)
	writeChunks(t, store, "other", "c.ts", other)

	count, err := store.CountChunksByFilter(ctx, LexicalFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = store.CountChunksByFilter(ctx, LexicalFilter{Repository: "repo"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = store.CountChunksByFilter(ctx, LexicalFilter{Repository: "repo", Language: "python"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = store.CountChunksByFilter(ctx, LexicalFilter{PathPrefix: "src/"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetChunkNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetChunk(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, merrors.KindNotFound, merrors.KindOf(err))
}
