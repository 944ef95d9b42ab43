// Package engine assembles storage, the vector index, the cache
// cascade, embedding, search, indexing, and the memory store behind
// one facade. The CLI talks to this package only.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mnemo-labs/mnemolite/internal/cache"
	"github.com/mnemo-labs/mnemolite/internal/config"
	"github.com/mnemo-labs/mnemolite/internal/embed"
	merrors "github.com/mnemo-labs/mnemolite/internal/errors"
	"github.com/mnemo-labs/mnemolite/internal/graph"
	"github.com/mnemo-labs/mnemolite/internal/indexer"
	"github.com/mnemo-labs/mnemolite/internal/memory"
	"github.com/mnemo-labs/mnemolite/internal/search"
	"github.com/mnemo-labs/mnemolite/internal/storage"
	"github.com/mnemo-labs/mnemolite/internal/vector"
)

// Engine is the assembled MnemoLite instance.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *storage.Store
	index    *vector.Index
	cascade  *cache.Cascade
	registry *merrors.BreakerRegistry
	provider embed.Provider
	searcher *search.Searcher
	pipeline *indexer.Pipeline
	memories *memory.Service
}

// Open builds an engine from configuration: opens the database,
// rebuilds the in-process vector index from persisted chunks, and
// wires the cache cascade, searcher, pipeline, and memory store.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := merrors.NewBreakerRegistry()

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	cascade, err := buildCascade(cfg, registry, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	factory, err := embed.NewFactory(cfg, registry)
	if err != nil {
		store.Close()
		return nil, err
	}
	provider, err := factory()
	if err != nil {
		store.Close()
		return nil, err
	}

	index := vector.NewIndex(cfg.Embedding.Dim, cfg.Vector.EfSearch)
	restored, err := index.RebuildFromStore(ctx, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	if restored > 0 {
		logger.Info("vector index rebuilt", "vectors", restored)
	}

	pipeline, err := indexer.NewPipeline(store, index, cascade, factory, cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	memories, err := memory.NewService(ctx, store, provider, cascade, cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		index:    index,
		cascade:  cascade,
		registry: registry,
		provider: provider,
		searcher: search.NewSearcher(store, index, provider, cascade, cfg, logger),
		pipeline: pipeline,
		memories: memories,
	}, nil
}

func buildCascade(cfg *config.Config, registry *merrors.BreakerRegistry, logger *slog.Logger) (*cache.Cascade, error) {
	l1, err := cache.NewL1(cfg.Cache.L1MaxBytes, cfg.Cache.L1TTL)
	if err != nil {
		return nil, err
	}
	var remote cache.Remote
	var breaker *merrors.CircuitBreaker
	if cfg.Cache.L2URL != "" {
		remote, err = cache.NewRedisRemote(cfg.Cache.L2URL)
		if err != nil {
			return nil, err
		}
		breaker = merrors.NewCircuitBreaker("cache_l2",
			merrors.WithFailureThreshold(cfg.Breaker.FailureThreshold),
			merrors.WithRecoveryTimeout(cfg.Breaker.RecoveryTimeout),
		)
		registry.Register(breaker)
	}
	return cache.NewCascade(l1, remote, cfg.Cache.L2TTL, breaker, logger), nil
}

// Close releases the engine's resources.
func (e *Engine) Close() error {
	if e.cascade != nil {
		e.cascade.Close()
	}
	if e.provider != nil {
		e.provider.Close()
	}
	return e.store.Close()
}

// --- Indexing ---

// IndexRepository indexes every supported file under root.
func (e *Engine) IndexRepository(ctx context.Context, repository, root string, opts indexer.Options, progress indexer.Progress) (*indexer.Summary, error) {
	return e.pipeline.IndexRepository(ctx, repository, root, opts, progress)
}

// IndexFiles re-indexes an explicit set of files.
func (e *Engine) IndexFiles(ctx context.Context, repository, root string, files []string, opts indexer.Options, progress indexer.Progress) (*indexer.Summary, error) {
	return e.pipeline.IndexFiles(ctx, repository, root, files, opts, progress)
}

// DeleteRepository removes everything indexed under a repository.
func (e *Engine) DeleteRepository(ctx context.Context, repository string) error {
	return e.pipeline.DeleteRepository(ctx, repository)
}

// ListIndexingErrors returns the per-file failures of past runs.
func (e *Engine) ListIndexingErrors(ctx context.Context, repository string) ([]storage.IndexingError, error) {
	return e.store.ListIndexingErrors(ctx, repository)
}

// --- Search ---

// SearchHybrid fuses the lexical and vector legs with RRF.
func (e *Engine) SearchHybrid(ctx context.Context, req search.Request) (*search.Response, error) {
	return e.searcher.Hybrid(ctx, req)
}

// SearchLexical runs trigram matching only.
func (e *Engine) SearchLexical(ctx context.Context, req search.Request) (*search.Response, error) {
	return e.searcher.Lexical(ctx, req)
}

// SearchVector runs dense retrieval only.
func (e *Engine) SearchVector(ctx context.Context, req search.Request) (*search.Response, error) {
	return e.searcher.Vector(ctx, req)
}

// GetChunks lists a repository's chunks, cached per repository.
func (e *Engine) GetChunks(ctx context.Context, repository string) ([]storage.ChunkRecord, error) {
	key := cache.ChunksRepoKey(repository)
	if raw, ok := e.cascade.Get(ctx, key); ok {
		var chunks []storage.ChunkRecord
		if err := json.Unmarshal(raw, &chunks); err == nil {
			return chunks, nil
		}
	}
	chunks, err := e.store.ListChunks(ctx, storage.ChunkFilter{Repository: repository})
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(chunks); err == nil {
		e.cascade.Set(ctx, key, raw)
	}
	return chunks, nil
}

// --- Graph ---

// GraphTraverse expands breadth-first from a node under the traversal
// deadline.
func (e *Engine) GraphTraverse(ctx context.Context, startID string, opts graph.TraverseOptions) ([]Visited, error) {
	var visited []graph.Visited
	err := merrors.WithDeadline(ctx, "graph.traverse", e.cfg.Timeouts.GraphTraverse, func(ctx context.Context) error {
		var err error
		visited, err = graph.Traverse(ctx, e.store, startID, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return visited, nil
}

// Visited aliases the graph traversal result for callers of the facade.
type Visited = graph.Visited

// GraphFindPath finds a shortest undirected-ish path between two nodes.
func (e *Engine) GraphFindPath(ctx context.Context, fromID, toID string, maxDepth int) ([]storage.NodeRecord, error) {
	var path []storage.NodeRecord
	err := merrors.WithDeadline(ctx, "graph.traverse", e.cfg.Timeouts.GraphTraverse, func(ctx context.Context) error {
		var err error
		path, err = graph.FindPath(ctx, e.store, fromID, toID, maxDepth)
		return err
	})
	if err != nil {
		return nil, err
	}
	return path, nil
}

// FindNodes looks up graph nodes by name or qualified name path.
func (e *Engine) FindNodes(ctx context.Context, repository, name string) ([]storage.NodeRecord, error) {
	return e.store.FindNodesByName(ctx, repository, name)
}

// --- Memory ---

// Memories exposes the memory store.
func (e *Engine) Memories() *memory.Service {
	return e.memories
}

// --- Projects ---

// EnsureProject creates or fetches a project by name. The generated ID
// only sticks on first registration; conflicts keep the existing row.
func (e *Engine) EnsureProject(ctx context.Context, name, rootPath string) (*storage.ProjectRecord, error) {
	return e.store.UpsertProject(ctx, storage.ProjectRecord{
		ProjectID: uuid.NewString(),
		Name:      name,
		RootPath:  rootPath,
		CreatedAt: time.Now().UTC(),
	})
}

// GetProject fetches a project by name.
func (e *Engine) GetProject(ctx context.Context, name string) (*storage.ProjectRecord, error) {
	return e.store.GetProjectByName(ctx, name)
}

// --- Operations ---

// FlushScope selects what FlushCache drops.
type FlushScope struct {
	Repository string
	FilePath   string
}

// FlushCache invalidates cached entries: everything when the scope is
// empty, one repository, or one file.
func (e *Engine) FlushCache(ctx context.Context, scope FlushScope) {
	switch {
	case scope.Repository != "" && scope.FilePath != "":
		e.cascade.InvalidateFile(ctx, scope.Repository, scope.FilePath)
	case scope.Repository != "":
		e.cascade.InvalidateRepository(ctx, scope.Repository)
	default:
		e.cascade.Flush(ctx)
	}
}

// CacheStats reports per-tier cache counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.cascade.Stats()
}

// HealthReport describes the engine's liveness.
type HealthReport struct {
	Status               string            `json:"status"`
	Storage              string            `json:"storage"`
	Chunks               int               `json:"chunks"`
	VectorsCode          int               `json:"vectors_code"`
	VectorsText          int               `json:"vectors_text"`
	Breakers             map[string]string `json:"breakers,omitempty"`
	CriticalCircuitsOpen []string          `json:"critical_circuits_open,omitempty"`
}

// Health statuses. A half-open breaker degrades; unreachable storage
// or an open breaker is critical.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusCritical = "critical"
)

// Health pings storage and folds in breaker states.
func (e *Engine) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:      StatusHealthy,
		Storage:     "ok",
		VectorsCode: e.index.Len(embed.DomainCode),
		VectorsText: e.index.Len(embed.DomainText),
		Breakers:    e.registry.States(),
	}
	for _, state := range report.Breakers {
		if state == "half_open" {
			report.Status = StatusDegraded
		}
	}
	if count, err := e.store.CountChunks(ctx, ""); err == nil {
		report.Chunks = count
	}
	if open := e.registry.OpenNames(); len(open) > 0 {
		report.CriticalCircuitsOpen = open
		report.Status = StatusCritical
	}
	if err := e.store.DB().PingContext(ctx); err != nil {
		report.Storage = err.Error()
		report.Status = StatusCritical
	}
	return report
}
