// Package search serves lexical, vector, and hybrid queries over the
// indexed corpus. Hybrid search runs both retrieval legs concurrently
// and merges them with reciprocal rank fusion; a failing vector leg
// degrades the query to lexical-only instead of failing it.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mnemo-labs/mnemolite/internal/cache"
	"github.com/mnemo-labs/mnemolite/internal/config"
	"github.com/mnemo-labs/mnemolite/internal/embed"
	merrors "github.com/mnemo-labs/mnemolite/internal/errors"
	"github.com/mnemo-labs/mnemolite/internal/parse"
	"github.com/mnemo-labs/mnemolite/internal/storage"
	"github.com/mnemo-labs/mnemolite/internal/vector"
)

// Query length bounds in characters.
const (
	MinQueryLength = 1
	MaxQueryLength = 500
	DefaultLimit   = 10
	MaxLimit       = 100

	// How many graph neighbors a result may carry when expansion is
	// requested.
	maxRelatedNodes = 5
)

// Embedding domain selectors for the vector leg. Empty means code.
// "both" probes the text and code graphs together and is only valid
// for pure vector search.
const (
	DomainText = "text"
	DomainCode = "code"
	DomainBoth = "both"
)

// Request is a search query with optional filters. A nil Limit means
// the default page; an explicit zero returns no results but still
// reports the matching total.
type Request struct {
	Query       string `json:"query"`
	Repository  string `json:"repository,omitempty"`
	Language    string `json:"language,omitempty"`
	ChunkType   string `json:"chunk_type,omitempty"`
	PathPrefix  string `json:"path_prefix,omitempty"`
	ReturnType  string `json:"return_type,omitempty"`
	ParamType   string `json:"param_type,omitempty"`
	Domain      string `json:"domain,omitempty"`
	Limit       *int   `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
	EfSearch    int    `json:"ef_search,omitempty"`
	ExpandGraph bool   `json:"expand_graph,omitempty"`
}

// Related is a graph neighbor attached to a result.
type Related struct {
	NodeID   string `json:"node_id"`
	Label    string `json:"label"`
	Name     string `json:"name"`
	NamePath string `json:"name_path"`
	Relation string `json:"relation"`
}

// Result is one search hit.
type Result struct {
	ChunkID        string    `json:"chunk_id"`
	Repository     string    `json:"repository"`
	FilePath       string    `json:"file_path"`
	Language       string    `json:"language"`
	ChunkType      string    `json:"chunk_type"`
	Name           string    `json:"name"`
	NamePath       string    `json:"name_path"`
	StartLine      int       `json:"start_line"`
	EndLine        int       `json:"end_line"`
	Snippet        string    `json:"snippet"`
	Score          float64   `json:"score"`
	LexicalScore   float64   `json:"lexical_score,omitempty"`
	VectorDistance *float64  `json:"vector_distance,omitempty"`
	Related        []Related `json:"related,omitempty"`
}

// Meta describes how a response was produced.
type Meta struct {
	LexicalEnabled bool     `json:"lexical_enabled"`
	VectorEnabled  bool     `json:"vector_enabled"`
	Cached         bool     `json:"cached"`
	Degraded       []string `json:"degraded,omitempty"`
	TookMS         int64    `json:"took_ms"`
}

// Pagination reports the served window and the total number of chunks
// matching the stored-field filters. Signature filters are applied
// after hydration and do not reduce the total.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// Response is a complete search answer.
type Response struct {
	Results    []Result   `json:"results"`
	Pagination Pagination `json:"pagination"`
	Meta       Meta       `json:"meta"`
}

// Searcher wires the retrieval legs together.
type Searcher struct {
	store    *storage.Store
	index    *vector.Index
	provider embed.Provider
	cascade  *cache.Cascade
	cfg      *config.Config
	logger   *slog.Logger
}

// NewSearcher builds a searcher. cascade may be nil to bypass caching.
func NewSearcher(store *storage.Store, index *vector.Index, provider embed.Provider, cascade *cache.Cascade, cfg *config.Config, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{store: store, index: index, provider: provider, cascade: cascade, cfg: cfg, logger: logger}
}

// validateRequest normalizes the request and resolves the page size.
// Limit nil means DefaultLimit; zero is kept as zero.
func validateRequest(req *Request) (int, error) {
	const op = "search.validate"
	length := utf8.RuneCountInString(req.Query)
	if length < MinQueryLength || strings.TrimSpace(req.Query) == "" {
		return 0, merrors.E(merrors.KindInvalidArgument, op, "query must not be empty")
	}
	if length > MaxQueryLength {
		return 0, merrors.E(merrors.KindInvalidArgument, op, "query exceeds %d characters", MaxQueryLength)
	}
	if req.Offset < 0 {
		return 0, merrors.E(merrors.KindInvalidArgument, op, "offset must not be negative")
	}
	switch req.Domain {
	case "":
		req.Domain = DomainCode
	case DomainText, DomainCode, DomainBoth:
	default:
		return 0, merrors.E(merrors.KindInvalidArgument, op, "unknown domain %q", req.Domain)
	}
	limit := DefaultLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	if limit < 0 {
		return 0, merrors.E(merrors.KindInvalidArgument, op, "limit must not be negative")
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return limit, nil
}

// total counts every chunk matching the stored-field filters,
// independent of the query and the page window.
func (s *Searcher) total(ctx context.Context, req Request) (int, error) {
	return s.store.CountChunksByFilter(ctx, s.filter(req))
}

func (s *Searcher) emptyPage(ctx context.Context, req Request, started time.Time, meta Meta) (*Response, error) {
	total, err := s.total(ctx, req)
	if err != nil {
		return nil, err
	}
	meta.TookMS = time.Since(started).Milliseconds()
	return &Response{
		Results:    []Result{},
		Pagination: Pagination{Limit: 0, Offset: req.Offset, Total: total},
		Meta:       meta,
	}, nil
}

func (s *Searcher) filter(req Request) storage.LexicalFilter {
	return storage.LexicalFilter{
		Repository: req.Repository,
		Language:   req.Language,
		ChunkType:  req.ChunkType,
		PathPrefix: req.PathPrefix,
	}
}

// candidateLimit is how deep each leg retrieves before fusion. Deeper
// than the page so fusion can promote candidates ranked differently by
// the two legs.
func candidateLimit(limit int) int {
	if limit*5 > 50 {
		return limit * 5
	}
	return 50
}

// Lexical runs trigram similarity search only.
func (s *Searcher) Lexical(ctx context.Context, req Request) (*Response, error) {
	limit, err := validateRequest(&req)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	if limit == 0 {
		return s.emptyPage(ctx, req, started, Meta{LexicalEnabled: true})
	}

	fetch := req.Offset + limit
	if req.ReturnType != "" || req.ParamType != "" {
		// Signature filters prune after the SQL query, so fetch deeper
		// to keep the page full.
		fetch = candidateLimit(fetch)
	}
	var hits []storage.LexicalHit
	err = merrors.WithDeadline(ctx, "search.lexical", s.cfg.Timeouts.LexicalSearch, func(ctx context.Context) error {
		var err error
		hits, err = s.store.TrigramSearch(ctx, req.Query, s.filter(req), s.cfg.Lexical.SimilarityThreshold, fetch)
		return err
	})
	if err != nil {
		return nil, err
	}
	total, err := s.total(ctx, req)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, limit)
	skipped := 0
	for _, hit := range hits {
		chunk := hit.Chunk
		if !matchesFilter(&chunk, req) {
			continue
		}
		if skipped < req.Offset {
			skipped++
			continue
		}
		r := resultFromChunk(&chunk)
		r.Score = hit.Similarity
		r.LexicalScore = hit.Similarity
		results = append(results, r)
		if len(results) == limit {
			break
		}
	}
	return &Response{
		Results:    results,
		Pagination: Pagination{Limit: limit, Offset: req.Offset, Total: total},
		Meta:       Meta{LexicalEnabled: true, TookMS: time.Since(started).Milliseconds()},
	}, nil
}

// Vector runs approximate nearest-neighbor search only. This is the
// one entry point that accepts domain "both".
func (s *Searcher) Vector(ctx context.Context, req Request) (*Response, error) {
	limit, err := validateRequest(&req)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	if limit == 0 {
		return s.emptyPage(ctx, req, started, Meta{VectorEnabled: true})
	}

	entries, err := s.vectorLeg(ctx, req, (req.Offset+limit)*3)
	if err != nil {
		return nil, err
	}
	total, err := s.total(ctx, req)
	if err != nil {
		return nil, err
	}
	results, err := s.hydrateVector(ctx, req, entries, limit)
	if err != nil {
		return nil, err
	}
	return &Response{
		Results:    results,
		Pagination: Pagination{Limit: limit, Offset: req.Offset, Total: total},
		Meta:       Meta{VectorEnabled: true, TookMS: time.Since(started).Milliseconds()},
	}, nil
}

// Hybrid runs both legs concurrently, fuses them, and serves from the
// cache cascade when the same request was answered before.
func (s *Searcher) Hybrid(ctx context.Context, req Request) (*Response, error) {
	limit, err := validateRequest(&req)
	if err != nil {
		return nil, err
	}
	if req.Domain == DomainBoth {
		return nil, merrors.E(merrors.KindInvalidArgument, "search.hybrid", "domain %q is only supported by vector search", DomainBoth)
	}
	started := time.Now()
	if limit == 0 {
		return s.emptyPage(ctx, req, started, Meta{LexicalEnabled: true, VectorEnabled: true})
	}

	cacheKey := s.cacheKey(req, limit)
	if s.cascade != nil {
		if payload, ok := s.cascade.Get(ctx, cacheKey); ok {
			var resp Response
			if err := json.Unmarshal(payload, &resp); err == nil {
				resp.Meta.Cached = true
				resp.Meta.TookMS = time.Since(started).Milliseconds()
				return &resp, nil
			}
		}
	}

	depth := candidateLimit(req.Offset + limit)

	var (
		lexHits          []storage.LexicalHit
		lexErr           error
		vecEntries       []VectorEntry
		vecErr           error
		lexDone, vecDone = make(chan struct{}), make(chan struct{})
	)
	go func() {
		defer close(lexDone)
		lexErr = merrors.WithDeadline(ctx, "search.lexical", s.cfg.Timeouts.LexicalSearch, func(ctx context.Context) error {
			var err error
			lexHits, err = s.store.TrigramSearch(ctx, req.Query, s.filter(req), s.cfg.Lexical.SimilarityThreshold, depth)
			return err
		})
	}()
	go func() {
		defer close(vecDone)
		vecEntries, vecErr = s.vectorLeg(ctx, req, depth)
	}()
	<-lexDone
	<-vecDone

	meta := Meta{LexicalEnabled: true, VectorEnabled: true}
	if vecErr != nil {
		if !merrors.Degraded(vecErr) {
			return nil, vecErr
		}
		meta.VectorEnabled = false
		meta.Degraded = append(meta.Degraded, "vector:"+string(merrors.KindOf(vecErr)))
		s.logger.Warn("vector leg degraded", "error", vecErr)
		vecEntries = nil
	}
	if lexErr != nil {
		if !merrors.Degraded(lexErr) || !meta.VectorEnabled {
			return nil, lexErr
		}
		meta.LexicalEnabled = false
		meta.Degraded = append(meta.Degraded, "lexical:"+string(merrors.KindOf(lexErr)))
		s.logger.Warn("lexical leg degraded", "error", lexErr)
		lexHits = nil
	}

	lexEntries := make([]LexicalEntry, 0, len(lexHits))
	chunkByID := make(map[string]storage.ChunkRecord, len(lexHits))
	for _, hit := range lexHits {
		lexEntries = append(lexEntries, LexicalEntry{ChunkID: hit.Chunk.ChunkID, Score: hit.Similarity})
		chunkByID[hit.Chunk.ChunkID] = hit.Chunk
	}

	fused := FuseRRF(lexEntries, vecEntries, s.cfg.Hybrid.LexicalWeight, s.cfg.Hybrid.VectorWeight, s.cfg.Hybrid.RRFK)

	total, err := s.total(ctx, req)
	if err != nil {
		return nil, err
	}
	results, err := s.hydrateFused(ctx, req, limit, fused, chunkByID)
	if err != nil {
		return nil, err
	}
	if req.ExpandGraph {
		s.expandResults(ctx, results)
	}

	resp := &Response{
		Results:    results,
		Pagination: Pagination{Limit: limit, Offset: req.Offset, Total: total},
		Meta:       meta,
	}
	if s.cascade != nil {
		if payload, err := json.Marshal(resp); err == nil {
			s.cascade.Set(ctx, cacheKey, payload)
		}
	}
	resp.Meta.TookMS = time.Since(started).Milliseconds()
	return resp, nil
}

// vectorLeg embeds the query and searches the requested domain. For
// "both" the query is embedded once in the text domain, probed against
// both graphs, and merged by the smaller distance per chunk.
func (s *Searcher) vectorLeg(ctx context.Context, req Request, depth int) ([]VectorEntry, error) {
	queryDomain := embed.DomainCode
	if req.Domain == DomainText || req.Domain == DomainBoth {
		queryDomain = embed.DomainText
	}
	var entries []VectorEntry
	err := merrors.WithDeadline(ctx, "search.vector", s.cfg.Timeouts.VectorSearch, func(ctx context.Context) error {
		vecs, err := s.provider.Embed(ctx, queryDomain, []string{req.Query})
		if err != nil {
			return err
		}
		if req.Domain == DomainBoth {
			byDomain, err := s.index.SearchBoth(ctx, vecs[0], depth, req.EfSearch)
			if err != nil {
				return err
			}
			entries = mergeByDistance(byDomain, depth)
			return nil
		}
		hits, err := s.index.Search(ctx, queryDomain, vecs[0], depth, req.EfSearch)
		if err != nil {
			return err
		}
		entries = make([]VectorEntry, 0, len(hits))
		for _, hit := range hits {
			entries = append(entries, VectorEntry{ChunkID: hit.ID, Distance: hit.Distance})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// mergeByDistance flattens per-domain hits into one ranking, keeping
// the best distance for chunks found in both graphs.
func mergeByDistance(byDomain map[embed.Domain][]vector.Result, depth int) []VectorEntry {
	best := make(map[string]float64)
	for _, hits := range byDomain {
		for _, hit := range hits {
			if d, ok := best[hit.ID]; !ok || hit.Distance < d {
				best[hit.ID] = hit.Distance
			}
		}
	}
	entries := make([]VectorEntry, 0, len(best))
	for id, d := range best {
		entries = append(entries, VectorEntry{ChunkID: id, Distance: d})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Distance != entries[j].Distance {
			return entries[i].Distance < entries[j].Distance
		}
		return entries[i].ChunkID < entries[j].ChunkID
	})
	if len(entries) > depth {
		entries = entries[:depth]
	}
	return entries
}

// hydrateFused loads chunk rows for fused candidates, applies the
// request filters to vector-only candidates (the index itself is
// unfiltered), and serves the offset window.
func (s *Searcher) hydrateFused(ctx context.Context, req Request, limit int, fused []FusedResult, chunkByID map[string]storage.ChunkRecord) ([]Result, error) {
	var missing []string
	for _, f := range fused {
		if _, ok := chunkByID[f.ChunkID]; !ok {
			missing = append(missing, f.ChunkID)
		}
	}
	if len(missing) > 0 {
		chunks, err := s.store.GetChunksByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			chunkByID[c.ChunkID] = c
		}
	}

	results := make([]Result, 0, limit)
	skipped := 0
	for _, f := range fused {
		chunk, ok := chunkByID[f.ChunkID]
		if !ok || !matchesFilter(&chunk, req) {
			continue
		}
		if skipped < req.Offset {
			skipped++
			continue
		}
		r := resultFromChunk(&chunk)
		r.Score = f.Score
		if f.HasLexical {
			r.LexicalScore = f.LexicalScore
		}
		if f.HasVector {
			distance := f.VectorDistance
			r.VectorDistance = &distance
		}
		results = append(results, r)
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

func (s *Searcher) hydrateVector(ctx context.Context, req Request, entries []VectorEntry, limit int) ([]Result, error) {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ChunkID)
	}
	chunks, err := s.store.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]storage.ChunkRecord, len(chunks))
	for _, c := range chunks {
		byID[c.ChunkID] = c
	}

	results := make([]Result, 0, limit)
	skipped := 0
	for _, e := range entries {
		chunk, ok := byID[e.ChunkID]
		if !ok || !matchesFilter(&chunk, req) {
			continue
		}
		if skipped < req.Offset {
			skipped++
			continue
		}
		r := resultFromChunk(&chunk)
		distance := e.Distance
		r.VectorDistance = &distance
		r.Score = 1 - e.Distance
		results = append(results, r)
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// expandResults attaches depth-1 call neighbors to each result. Best
// effort; expansion failures leave the result without neighbors.
func (s *Searcher) expandResults(ctx context.Context, results []Result) {
	err := merrors.WithDeadline(ctx, "search.expand", s.cfg.Timeouts.GraphTraverse, func(ctx context.Context) error {
		for i := range results {
			node, err := s.store.NodeByChunkID(ctx, results[i].ChunkID)
			if err != nil {
				continue
			}
			edges, err := s.store.NodeEdges(ctx, node.NodeID, storage.DirectionBoth, []string{storage.EdgeCalls})
			if err != nil {
				continue
			}
			for _, edge := range edges {
				if len(results[i].Related) == maxRelatedNodes {
					break
				}
				neighborID := edge.TargetID
				if neighborID == node.NodeID {
					neighborID = edge.SourceID
				}
				neighbor, err := s.store.GetNode(ctx, neighborID)
				if err != nil {
					continue
				}
				results[i].Related = append(results[i].Related, Related{
					NodeID:   neighbor.NodeID,
					Label:    neighbor.Label,
					Name:     neighbor.Name,
					NamePath: neighbor.NamePath,
					Relation: edge.Relation,
				})
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Debug("graph expansion skipped", "error", err)
	}
}

func (s *Searcher) cacheKey(req Request, limit int) string {
	payload := fmt.Sprintf("q=%s|repo=%s|lang=%s|type=%s|path=%s|ret=%s|param=%s|domain=%s|limit=%d|offset=%d|ef=%d|expand=%t|wl=%g|wv=%g|k=%d",
		req.Query, req.Repository, req.Language, req.ChunkType, req.PathPrefix,
		req.ReturnType, req.ParamType, req.Domain,
		limit, req.Offset, req.EfSearch, req.ExpandGraph,
		s.cfg.Hybrid.LexicalWeight, s.cfg.Hybrid.VectorWeight, s.cfg.Hybrid.RRFK)
	return cache.SearchKey(payload)
}

func matchesFilter(chunk *storage.ChunkRecord, req Request) bool {
	if req.Repository != "" && chunk.Repository != req.Repository {
		return false
	}
	if req.Language != "" && chunk.Language != req.Language {
		return false
	}
	if req.ChunkType != "" && chunk.ChunkType != req.ChunkType {
		return false
	}
	if req.PathPrefix != "" && !strings.HasPrefix(chunk.FilePath, req.PathPrefix) {
		return false
	}
	if req.ReturnType != "" || req.ParamType != "" {
		sig := chunkSignature(chunk)
		if sig == nil {
			return false
		}
		if req.ReturnType != "" && sig.ReturnType != req.ReturnType {
			return false
		}
		if req.ParamType != "" {
			found := false
			for _, p := range sig.Parameters {
				if p.Type == req.ParamType {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

// chunkSignature decodes the persisted metadata's signature block.
// Chunks without one, or with undecodable metadata, never match a
// signature filter.
func chunkSignature(chunk *storage.ChunkRecord) *parse.Signature {
	if chunk.Metadata == "" {
		return nil
	}
	var meta parse.Metadata
	if err := json.Unmarshal([]byte(chunk.Metadata), &meta); err != nil {
		return nil
	}
	return meta.Signature
}

const snippetMaxBytes = 300

func resultFromChunk(chunk *storage.ChunkRecord) Result {
	return Result{
		ChunkID:    chunk.ChunkID,
		Repository: chunk.Repository,
		FilePath:   chunk.FilePath,
		Language:   chunk.Language,
		ChunkType:  chunk.ChunkType,
		Name:       chunk.Name,
		NamePath:   chunk.NamePath,
		StartLine:  chunk.StartLine,
		EndLine:    chunk.EndLine,
		Snippet:    snippet(chunk.SourceCode),
	}
}

func snippet(source string) string {
	if len(source) <= snippetMaxBytes {
		return source
	}
	cut := source[:snippetMaxBytes]
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
		cut = cut[:idx]
	}
	return cut
}
