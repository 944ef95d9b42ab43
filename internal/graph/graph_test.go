package graph

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merrors "github.com/mnemo-labs/mnemolite/internal/errors"
	"github.com/mnemo-labs/mnemolite/internal/parse"
	"github.com/mnemo-labs/mnemolite/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func functionChunk(name string, calls []parse.CallSite, imports []parse.ImportRef) parse.Chunk {
	return parse.Chunk{
		Name:      name,
		NamePath:  name,
		Type:      parse.ChunkFunction,
		StartLine: 1,
		EndLine:   5,
		Metadata:  parse.Metadata{Calls: calls, Imports: imports},
	}
}

func writeBuilder(t *testing.T, store *storage.Store, b *Builder) (int, int) {
	t.Helper()
	b.Finalize()
	var nodes, edges int
	err := store.InTransaction(context.Background(), func(tx *sql.Tx) error {
		var err error
		nodes, edges, err = b.Write(context.Background(), store, tx)
		return err
	})
	require.NoError(t, err)
	return nodes, edges
}

func findNode(t *testing.T, nodes []storage.NodeRecord, label, name string) storage.NodeRecord {
	t.Helper()
	for _, n := range nodes {
		if n.Label == label && n.Name == name {
			return n
		}
	}
	t.Fatalf("no %s node named %q", label, name)
	return storage.NodeRecord{}
}

func TestBuilderResolvesSameFileFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	b := NewBuilder("repo")
	b.AddChunk("a.ts", uuid.NewString(), functionChunk("caller",
		[]parse.CallSite{{CalleeName: "helper", Line: 2}}, nil))
	b.AddChunk("a.ts", uuid.NewString(), functionChunk("helper", nil, nil))
	b.AddChunk("b.ts", uuid.NewString(), functionChunk("helper", nil, nil))
	writeBuilder(t, store, b)

	nodes, err := store.ListNodes(ctx, "repo")
	require.NoError(t, err)

	caller := findNode(t, nodes, storage.NodeFunction, "caller")
	edges, err := store.NodeEdges(ctx, caller.NodeID, storage.DirectionOutbound, []string{storage.EdgeCalls})
	require.NoError(t, err)
	require.Len(t, edges, 1)

	target, err := store.GetNode(ctx, edges[0].TargetID)
	require.NoError(t, err)
	assert.Equal(t, "helper", target.Name)
	assert.Equal(t, "a.ts", target.FilePath)
}

func TestBuilderPrefersQualifiedPathMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	b := NewBuilder("repo")
	method := parse.Chunk{
		Name: "save", NamePath: "UserRepo.save", Type: parse.ChunkMethod,
		StartLine: 10, EndLine: 20,
	}
	b.AddChunk("repo.ts", uuid.NewString(), method)
	b.AddChunk("svc.ts", uuid.NewString(), functionChunk("createUser",
		[]parse.CallSite{{CalleeName: "UserRepo.save", Line: 4, IsMethodCall: true}}, nil))
	writeBuilder(t, store, b)

	nodes, err := store.ListNodes(ctx, "repo")
	require.NoError(t, err)
	creator := findNode(t, nodes, storage.NodeFunction, "createUser")
	edges, err := store.NodeEdges(ctx, creator.NodeID, storage.DirectionOutbound, []string{storage.EdgeCalls})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	target, err := store.GetNode(ctx, edges[0].TargetID)
	require.NoError(t, err)
	assert.Equal(t, "UserRepo.save", target.NamePath)
	assert.Equal(t, storage.NodeMethod, target.Label)
}

func TestBuilderCreatesExternalNodes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	b := NewBuilder("repo")
	b.AddChunk("a.ts", uuid.NewString(), functionChunk("main",
		[]parse.CallSite{{CalleeName: "fetch", Line: 3}},
		[]parse.ImportRef{{ImportedName: "Logger", Module: "winston"}}))
	writeBuilder(t, store, b)

	nodes, err := store.ListNodes(ctx, "repo")
	require.NoError(t, err)

	fetchNode := findNode(t, nodes, storage.NodeExternal, "fetch")
	winston := findNode(t, nodes, storage.NodeExternal, "winston")
	assert.NotEqual(t, fetchNode.NodeID, winston.NodeID)

	// File contains the function; the function calls and imports out.
	main := findNode(t, nodes, storage.NodeFunction, "main")
	file := findNode(t, nodes, storage.NodeFile, "a.ts")
	containsEdges, err := store.NodeEdges(ctx, file.NodeID, storage.DirectionOutbound, []string{storage.EdgeContains})
	require.NoError(t, err)
	require.Len(t, containsEdges, 1)
	assert.Equal(t, main.NodeID, containsEdges[0].TargetID)
}

func TestBuilderSkipsFallbackChunks(t *testing.T) {
	b := NewBuilder("repo")
	b.AddChunk("x.bin", uuid.NewString(), parse.Chunk{
		Type:     parse.ChunkFallbackBlock,
		Metadata: parse.Metadata{Fallback: true},
	})
	b.Finalize()
	assert.Zero(t, b.NodeCount())
	assert.Zero(t, b.EdgeCount())
}

func TestBuilderDeduplicatesEdges(t *testing.T) {
	b := NewBuilder("repo")
	b.AddChunk("a.ts", uuid.NewString(), functionChunk("caller", []parse.CallSite{
		{CalleeName: "helper", Line: 2},
		{CalleeName: "helper", Line: 4},
	}, nil))
	b.AddChunk("a.ts", uuid.NewString(), functionChunk("helper", nil, nil))
	b.Finalize()

	// file + 2 functions; contains x2 + one calls edge.
	assert.Equal(t, 3, b.NodeCount())
	assert.Equal(t, 3, b.EdgeCount())
}

func TestComputeMetrics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	b := NewBuilder("repo")
	b.AddChunk("a.ts", uuid.NewString(), functionChunk("a", []parse.CallSite{{CalleeName: "b", Line: 1}}, nil))
	b.AddChunk("a.ts", uuid.NewString(), functionChunk("b", []parse.CallSite{{CalleeName: "c", Line: 1}}, nil))
	b.AddChunk("a.ts", uuid.NewString(), functionChunk("c", nil, nil))
	writeBuilder(t, store, b)

	require.NoError(t, ComputeMetrics(ctx, store, "repo"))

	nodes, err := store.ListNodes(ctx, "repo")
	require.NoError(t, err)
	a := findNode(t, nodes, storage.NodeFunction, "a")
	c := findNode(t, nodes, storage.NodeFunction, "c")

	metrics, err := store.NodeMetrics(ctx, []string{a.NodeID, c.NodeID})
	require.NoError(t, err)

	// c is called transitively; its rank must exceed the uncalled a.
	assert.Greater(t, metrics[c.NodeID][storage.MetricPageRank], metrics[a.NodeID][storage.MetricPageRank])
	assert.Equal(t, float64(0), metrics[a.NodeID][storage.MetricCouplingIn])
	assert.Equal(t, float64(1), metrics[a.NodeID][storage.MetricCouplingOut])
	assert.Equal(t, float64(1), metrics[c.NodeID][storage.MetricCouplingIn])
	assert.Equal(t, float64(0), metrics[c.NodeID][storage.MetricCouplingOut])
}

func TestComputeMetricsEmptyRepository(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, ComputeMetrics(context.Background(), store, "empty"))
}

func TestTraverseBreadthFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	b := NewBuilder("repo")
	b.AddChunk("a.ts", uuid.NewString(), functionChunk("a", []parse.CallSite{{CalleeName: "b", Line: 1}}, nil))
	b.AddChunk("a.ts", uuid.NewString(), functionChunk("b", []parse.CallSite{{CalleeName: "c", Line: 1}}, nil))
	b.AddChunk("a.ts", uuid.NewString(), functionChunk("c", nil, nil))
	writeBuilder(t, store, b)

	nodes, err := store.ListNodes(ctx, "repo")
	require.NoError(t, err)
	a := findNode(t, nodes, storage.NodeFunction, "a")

	visited, err := Traverse(ctx, store, a.NodeID, TraverseOptions{
		Direction: storage.DirectionOutbound,
		Relations: []string{storage.EdgeCalls},
		MaxDepth:  1,
	})
	require.NoError(t, err)
	require.Len(t, visited, 2)
	assert.Equal(t, 0, visited[0].Depth)
	assert.Equal(t, "b", visited[1].Node.Name)
	assert.Equal(t, 1, visited[1].Depth)
	assert.Equal(t, storage.EdgeCalls, visited[1].Via)

	visited, err = Traverse(ctx, store, a.NodeID, TraverseOptions{
		Direction: storage.DirectionOutbound,
		Relations: []string{storage.EdgeCalls},
		MaxDepth:  2,
	})
	require.NoError(t, err)
	assert.Len(t, visited, 3)
}

func TestTraverseDepthZeroReturnsStartOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	b := NewBuilder("repo")
	b.AddChunk("a.ts", uuid.NewString(), functionChunk("a", []parse.CallSite{{CalleeName: "b", Line: 1}}, nil))
	b.AddChunk("a.ts", uuid.NewString(), functionChunk("b", nil, nil))
	writeBuilder(t, store, b)

	nodes, err := store.ListNodes(ctx, "repo")
	require.NoError(t, err)
	a := findNode(t, nodes, storage.NodeFunction, "a")

	// Depth 0 never follows the outgoing call edge.
	visited, err := Traverse(ctx, store, a.NodeID, TraverseOptions{
		Direction: storage.DirectionOutbound,
		MaxDepth:  0,
	})
	require.NoError(t, err)
	require.Len(t, visited, 1)
	assert.Equal(t, a.NodeID, visited[0].Node.NodeID)
	assert.Equal(t, 0, visited[0].Depth)
}

func TestTraverseDepthValidation(t *testing.T) {
	store := newTestStore(t)
	for _, depth := range []int{-1, MaxTraverseDepth + 1} {
		_, err := Traverse(context.Background(), store, "x", TraverseOptions{MaxDepth: depth})
		require.Error(t, err)
		assert.Equal(t, merrors.KindInvalidArgument, merrors.KindOf(err))
	}
}

func TestTraverseUnknownStart(t *testing.T) {
	store := newTestStore(t)
	_, err := Traverse(context.Background(), store, "missing", TraverseOptions{MaxDepth: 1})
	require.Error(t, err)
	assert.Equal(t, merrors.KindNotFound, merrors.KindOf(err))
}

func TestFindPath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	b := NewBuilder("repo")
	b.AddChunk("a.ts", uuid.NewString(), functionChunk("a", []parse.CallSite{{CalleeName: "b", Line: 1}}, nil))
	b.AddChunk("a.ts", uuid.NewString(), functionChunk("b", []parse.CallSite{{CalleeName: "c", Line: 1}}, nil))
	b.AddChunk("a.ts", uuid.NewString(), functionChunk("c", nil, nil))
	b.AddChunk("a.ts", uuid.NewString(), functionChunk("lonely", nil, nil))
	writeBuilder(t, store, b)

	nodes, err := store.ListNodes(ctx, "repo")
	require.NoError(t, err)
	a := findNode(t, nodes, storage.NodeFunction, "a")
	c := findNode(t, nodes, storage.NodeFunction, "c")
	lonely := findNode(t, nodes, storage.NodeFunction, "lonely")

	path, err := FindPath(ctx, store, a.NodeID, c.NodeID, 0)
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, a.NodeID, path[0].NodeID)
	assert.Equal(t, c.NodeID, path[2].NodeID)

	// lonely connects to a only through the shared file node.
	path, err = FindPath(ctx, store, a.NodeID, lonely.NodeID, 0)
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, storage.NodeFile, path[1].Label)

	// Same node start and end.
	path, err = FindPath(ctx, store, a.NodeID, a.NodeID, 0)
	require.NoError(t, err)
	assert.Len(t, path, 1)
}
