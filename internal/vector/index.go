// Package vector maintains the in-process HNSW graphs used for
// approximate nearest-neighbor search. The graphs are derived state:
// they are rebuilt from the chunks table at startup and never
// persisted themselves.
package vector

import (
	"context"
	"math"
	"sync"

	"github.com/coder/hnsw"
	"golang.org/x/sync/errgroup"

	"github.com/mnemo-labs/mnemolite/internal/embed"
	merrors "github.com/mnemo-labs/mnemolite/internal/errors"
	"github.com/mnemo-labs/mnemolite/internal/storage"
)

// Allowed ef_search range. Higher values trade latency for recall.
const (
	MinEfSearch     = 10
	MaxEfSearch     = 1000
	DefaultEfSearch = 100
)

// Result is one nearest-neighbor hit.
type Result struct {
	ID       string
	Distance float64
}

type domainGraph struct {
	mu    sync.Mutex
	graph *hnsw.Graph[string]
	count int
}

// Index holds one HNSW graph per embedding domain so text and code
// vectors never mix in one metric space.
type Index struct {
	dim       int
	defaultEf int
	domains   map[embed.Domain]*domainGraph
}

// NewIndex creates an empty dual-domain index for vectors of the given
// dimensionality.
func NewIndex(dim, defaultEf int) *Index {
	if defaultEf <= 0 {
		defaultEf = DefaultEfSearch
	}
	ix := &Index{
		dim:       dim,
		defaultEf: defaultEf,
		domains:   make(map[embed.Domain]*domainGraph, 2),
	}
	for _, domain := range []embed.Domain{embed.DomainText, embed.DomainCode} {
		g := hnsw.NewGraph[string]()
		g.Distance = hnsw.CosineDistance
		g.EfSearch = defaultEf
		ix.domains[domain] = &domainGraph{graph: g}
	}
	return ix
}

func (ix *Index) domain(domain embed.Domain) (*domainGraph, error) {
	dg, ok := ix.domains[domain]
	if !ok {
		return nil, merrors.E(merrors.KindInvalidArgument, "vector.domain", "unknown embedding domain %q", domain)
	}
	return dg, nil
}

// Add inserts or replaces a vector. Vectors are normalized on the way
// in so cosine distance behaves on the unit sphere.
func (ix *Index) Add(domain embed.Domain, id string, vec []float32) error {
	if len(vec) != ix.dim {
		return merrors.E(merrors.KindInvalidArgument, "vector.add",
			"dimension mismatch: got %d, index expects %d", len(vec), ix.dim)
	}
	dg, err := ix.domain(domain)
	if err != nil {
		return err
	}
	normalized := normalize(vec)

	dg.mu.Lock()
	defer dg.mu.Unlock()
	if dg.graph.Delete(id) {
		dg.count--
	}
	dg.graph.Add(hnsw.MakeNode(id, normalized))
	dg.count++
	return nil
}

// Delete removes a vector, reporting whether it was present.
func (ix *Index) Delete(domain embed.Domain, id string) bool {
	dg, err := ix.domain(domain)
	if err != nil {
		return false
	}
	dg.mu.Lock()
	defer dg.mu.Unlock()
	if dg.graph.Delete(id) {
		dg.count--
		return true
	}
	return false
}

// Len returns the number of vectors in a domain.
func (ix *Index) Len(domain embed.Domain) int {
	dg, err := ix.domain(domain)
	if err != nil {
		return 0
	}
	dg.mu.Lock()
	defer dg.mu.Unlock()
	return dg.count
}

// Search returns the k nearest neighbors by cosine distance. efSearch
// overrides the per-query candidate list size; zero means the
// configured default. The override is applied under the graph lock and
// restored afterwards, so concurrent queries with different values
// never bleed into each other.
func (ix *Index) Search(ctx context.Context, domain embed.Domain, query []float32, k, efSearch int) ([]Result, error) {
	const op = "vector.search"
	if len(query) != ix.dim {
		return nil, merrors.E(merrors.KindInvalidArgument, op,
			"dimension mismatch: got %d, index expects %d", len(query), ix.dim)
	}
	if efSearch == 0 {
		efSearch = ix.defaultEf
	}
	if efSearch < MinEfSearch || efSearch > MaxEfSearch {
		return nil, merrors.E(merrors.KindInvalidArgument, op,
			"ef_search %d out of range [%d, %d]", efSearch, MinEfSearch, MaxEfSearch)
	}
	if k <= 0 {
		return nil, merrors.E(merrors.KindInvalidArgument, op, "k must be positive")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dg, err := ix.domain(domain)
	if err != nil {
		return nil, err
	}
	normalized := normalize(query)

	dg.mu.Lock()
	defer dg.mu.Unlock()
	if dg.count == 0 {
		return nil, nil
	}
	previous := dg.graph.EfSearch
	dg.graph.EfSearch = efSearch
	neighbors := dg.graph.Search(normalized, k)
	dg.graph.EfSearch = previous

	results := make([]Result, 0, len(neighbors))
	for _, n := range neighbors {
		results = append(results, Result{
			ID:       n.Key,
			Distance: float64(hnsw.CosineDistance(normalized, n.Value)),
		})
	}
	return results, nil
}

// SearchBoth queries the TEXT and CODE domains concurrently.
func (ix *Index) SearchBoth(ctx context.Context, query []float32, k, efSearch int) (map[embed.Domain][]Result, error) {
	var mu sync.Mutex
	results := make(map[embed.Domain][]Result, 2)

	g, ctx := errgroup.WithContext(ctx)
	for _, domain := range []embed.Domain{embed.DomainText, embed.DomainCode} {
		g.Go(func() error {
			hits, err := ix.Search(ctx, domain, query, k, efSearch)
			if err != nil {
				return err
			}
			mu.Lock()
			results[domain] = hits
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RebuildFromStore loads every persisted chunk embedding into its
// domain graph. Called once at startup; returns the number of vectors
// loaded across both domains.
func (ix *Index) RebuildFromStore(ctx context.Context, store *storage.Store) (int, error) {
	loaded := 0
	err := store.ForEachChunkEmbedding(ctx, func(chunkID string, text, code []float32) error {
		// Stale rows from a previous embedding model are skipped, not
		// fatal.
		if len(text) == ix.dim {
			if err := ix.Add(embed.DomainText, chunkID, text); err != nil {
				return err
			}
			loaded++
		}
		if len(code) == ix.dim {
			if err := ix.Add(embed.DomainCode, chunkID, code); err != nil {
				return err
			}
			loaded++
		}
		return nil
	})
	if err != nil {
		return loaded, err
	}
	return loaded, nil
}

// normalize returns a unit-length copy; zero vectors pass through.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	out := make([]float32, len(vec))
	if sum == 0 {
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}
