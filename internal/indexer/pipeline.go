// Package indexer runs the indexing pipeline: scan, chunk, embed, and
// store files in parallel, then build the code graph serially. Files
// fail individually; a run only fails when the storage tier does.
package indexer

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mnemo-labs/mnemolite/internal/cache"
	"github.com/mnemo-labs/mnemolite/internal/config"
	"github.com/mnemo-labs/mnemolite/internal/embed"
	merrors "github.com/mnemo-labs/mnemolite/internal/errors"
	"github.com/mnemo-labs/mnemolite/internal/graph"
	"github.com/mnemo-labs/mnemolite/internal/parse"
	"github.com/mnemo-labs/mnemolite/internal/storage"
	"github.com/mnemo-labs/mnemolite/internal/vector"
)

// Pipeline owns one repository indexing run at a time.
type Pipeline struct {
	store   *storage.Store
	index   *vector.Index
	cascade *cache.Cascade
	factory embed.Factory
	scanner *Scanner
	parser  *parse.Parser
	cfg     *config.Config
	logger  *slog.Logger
}

// NewPipeline wires the pipeline. cascade may be nil.
func NewPipeline(store *storage.Store, index *vector.Index, cascade *cache.Cascade, factory embed.Factory, cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	scanner, err := NewScanner(cfg.Indexing.Excludes)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:   store,
		index:   index,
		cascade: cascade,
		factory: factory,
		scanner: scanner,
		parser:  parse.NewParser(cfg.Timeouts.ASTParse),
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// IndexRepository scans root and indexes every supported file.
// Files indexed earlier but absent from the scan are removed first.
func (p *Pipeline) IndexRepository(ctx context.Context, repository, root string, opts Options, progress Progress) (*Summary, error) {
	started := time.Now()

	files, err := p.scanner.Scan(root)
	if err != nil {
		return nil, err
	}

	removed, err := p.cleanupStaleFiles(ctx, repository, files)
	if err != nil {
		return nil, err
	}

	summary, commits, err := p.processFiles(ctx, repository, root, files, opts, progress)
	if err != nil {
		return nil, err
	}
	summary.FilesRemoved = removed

	if opts.BuildGraph && ctx.Err() == nil {
		if err := p.buildGraph(ctx, repository, commits, summary, true); err != nil {
			return nil, err
		}
	}

	if p.cascade != nil {
		p.cascade.InvalidateRepository(ctx, repository)
	}
	summary.Duration = time.Since(started)
	p.logger.Info("indexing finished",
		"repository", repository,
		"files", summary.FilesIndexed,
		"chunks", summary.Chunks,
		"errors", summary.FilesFailed,
		"duration", summary.Duration,
	)
	return summary, ctx.Err()
}

// IndexFiles re-indexes an explicit set of files, leaving the rest of
// the repository untouched. The graph is refreshed incrementally:
// existing nodes are upserted, nothing is torn down.
func (p *Pipeline) IndexFiles(ctx context.Context, repository, root string, files []string, opts Options, progress Progress) (*Summary, error) {
	started := time.Now()

	summary, commits, err := p.processFiles(ctx, repository, root, files, opts, progress)
	if err != nil {
		return nil, err
	}
	if opts.BuildGraph && ctx.Err() == nil {
		if err := p.buildGraph(ctx, repository, commits, summary, false); err != nil {
			return nil, err
		}
	}
	if p.cascade != nil {
		p.cascade.InvalidateRepository(ctx, repository)
	}
	summary.Duration = time.Since(started)
	return summary, ctx.Err()
}

// DeleteRepository removes everything indexed under a repository.
func (p *Pipeline) DeleteRepository(ctx context.Context, repository string) error {
	chunkIDs, err := p.store.ChunkIDs(ctx, repository, "")
	if err != nil {
		return err
	}
	err = p.store.InTransaction(ctx, func(tx *sql.Tx) error {
		return p.store.DeleteRepositoryData(ctx, tx, repository)
	})
	if err != nil {
		return err
	}
	for _, id := range chunkIDs {
		p.index.Delete(embed.DomainText, id)
		p.index.Delete(embed.DomainCode, id)
	}
	if p.cascade != nil {
		p.cascade.InvalidateRepository(ctx, repository)
	}
	return nil
}

// cleanupStaleFiles removes chunks of files that no longer exist on
// disk, in one transaction.
func (p *Pipeline) cleanupStaleFiles(ctx context.Context, repository string, scanned []string) (int, error) {
	indexed, err := p.store.RepositoryFiles(ctx, repository)
	if err != nil {
		return 0, err
	}
	present := make(map[string]bool, len(scanned))
	for _, f := range scanned {
		present[f] = true
	}
	var stale []string
	for _, f := range indexed {
		if !present[f] {
			stale = append(stale, f)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	var evict []string
	for _, f := range stale {
		ids, err := p.store.ChunkIDs(ctx, repository, f)
		if err != nil {
			return 0, err
		}
		evict = append(evict, ids...)
	}
	if p.cascade != nil {
		for _, f := range stale {
			p.cascade.InvalidateFile(ctx, repository, f)
		}
	}
	err = p.store.InTransaction(ctx, func(tx *sql.Tx) error {
		for _, f := range stale {
			if err := p.store.DeleteFileChunks(ctx, tx, repository, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, id := range evict {
		p.index.Delete(embed.DomainText, id)
		p.index.Delete(embed.DomainCode, id)
	}
	return len(stale), nil
}

// processFiles runs the parallel phase: a bounded queue feeds a fixed
// worker pool, each worker holding its own embedding provider. Worker
// failures are recorded per file and never abort the run; only context
// cancellation stops it early, and then only between files.
func (p *Pipeline) processFiles(ctx context.Context, repository, root string, files []string, opts Options, progress Progress) (*Summary, []*fileCommit, error) {
	summary := &Summary{Repository: repository, FilesScanned: len(files)}
	if len(files) == 0 {
		return summary, nil, nil
	}

	workers := p.cfg.Indexing.Workers
	if workers > len(files) {
		workers = len(files)
	}
	jobs := make(chan string, p.cfg.Indexing.QueueSize())

	var (
		mu      sync.Mutex
		commits []*fileCommit
		done    int
		wg      sync.WaitGroup
	)

	record := func(commit *fileCommit, ferr *FileError) {
		mu.Lock()
		defer mu.Unlock()
		done++
		if ferr != nil {
			summary.FilesFailed++
			summary.Errors = append(summary.Errors, *ferr)
		}
		if commit != nil {
			summary.FilesIndexed++
			summary.Chunks += len(commit.records)
			for _, r := range commit.records {
				if r.EmbeddingDim > 0 {
					summary.Embedded++
				}
			}
			commits = append(commits, commit)
		}
		if progress != nil {
			progress(done, len(files))
		}
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			provider, err := p.factory()
			if err != nil {
				for relPath := range jobs {
					record(nil, &FileError{FilePath: relPath, Stage: StageEmbed, Message: err.Error()})
				}
				return
			}
			defer provider.Close()

			for relPath := range jobs {
				if ctx.Err() != nil {
					// Drain without processing; partial results stand.
					continue
				}
				commit, ferr := p.indexOneFile(ctx, provider, repository, root, relPath, opts)
				record(commit, ferr)
			}
		}()
	}

	for _, relPath := range files {
		jobs <- relPath
	}
	close(jobs)
	wg.Wait()

	p.recordErrors(ctx, repository, summary.Errors)
	return summary, commits, nil
}

// indexOneFile processes and persists one file under the per-file
// deadline. The delete-then-insert write and the vector index update
// happen after a successful parse, so a failing file leaves its
// previous chunks intact.
func (p *Pipeline) indexOneFile(ctx context.Context, provider embed.Provider, repository, root, relPath string, opts Options) (*fileCommit, *FileError) {
	var commit *fileCommit
	var ferr *FileError
	err := merrors.WithDeadline(ctx, "index.file", p.cfg.Timeouts.IndexFile, func(ctx context.Context) error {
		commit, ferr = processFile(ctx, p.parser, provider, repository, root, relPath, opts)
		if ferr != nil && commit == nil {
			return nil
		}

		previous, err := p.store.ChunkIDs(ctx, repository, relPath)
		if err != nil {
			return err
		}
		// Invalidate before the write: a crash between the two leaves
		// the cache cold, never stale.
		if p.cascade != nil {
			p.cascade.InvalidateFile(ctx, repository, relPath)
		}
		err = p.store.InTransaction(ctx, func(tx *sql.Tx) error {
			return p.store.ReplaceFileChunks(ctx, tx, repository, relPath, commit.records)
		})
		if err != nil {
			return err
		}

		for _, id := range previous {
			p.index.Delete(embed.DomainText, id)
			p.index.Delete(embed.DomainCode, id)
		}
		for _, r := range commit.records {
			if r.EmbeddingDim > 0 {
				if err := p.index.Add(embed.DomainText, r.ChunkID, r.EmbeddingText); err != nil {
					return err
				}
				if err := p.index.Add(embed.DomainCode, r.ChunkID, r.EmbeddingCode); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, &FileError{FilePath: relPath, Stage: StageStore, Message: err.Error()}
	}
	if ferr != nil && commit == nil {
		return nil, ferr
	}
	// A commit with a degradation note still counts as indexed.
	if commit != nil && commit.degraded != nil {
		return commit, commit.degraded
	}
	return commit, nil
}

// buildGraph is the serial phase: one draft arena over all commits,
// written in a single transaction. A full rebuild tears the previous
// graph down first so removed declarations disappear.
func (p *Pipeline) buildGraph(ctx context.Context, repository string, commits []*fileCommit, summary *Summary, fullRebuild bool) error {
	builder := graph.NewBuilder(repository)
	for _, commit := range commits {
		for i, chunk := range commit.parsed {
			builder.AddChunk(commit.filePath, commit.records[i].ChunkID, chunk)
		}
	}
	builder.Finalize()

	err := merrors.WithDeadline(ctx, "index.graph", p.cfg.Timeouts.GraphBuild, func(ctx context.Context) error {
		return p.store.InTransaction(ctx, func(tx *sql.Tx) error {
			if fullRebuild {
				if err := p.store.DeleteRepositoryNodes(ctx, tx, repository); err != nil {
					return err
				}
			}
			nodes, edges, err := builder.Write(ctx, p.store, tx)
			if err != nil {
				return err
			}
			summary.Nodes = nodes
			summary.Edges = edges
			return nil
		})
	})
	if err != nil {
		return err
	}
	return graph.ComputeMetrics(ctx, p.store, repository)
}

// recordErrors persists the run's file errors, best effort.
func (p *Pipeline) recordErrors(ctx context.Context, repository string, errs []FileError) {
	if len(errs) == 0 || ctx.Err() != nil {
		return
	}
	err := p.store.InTransaction(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for _, fe := range errs {
			record := storage.IndexingError{
				ErrorID:    uuid.NewString(),
				Repository: repository,
				FilePath:   fe.FilePath,
				Stage:      fe.Stage,
				Message:    fe.Message,
				OccurredAt: now,
			}
			if err := p.store.RecordIndexingError(ctx, tx, record); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		p.logger.Warn("failed to record indexing errors", "error", err)
	}
}
