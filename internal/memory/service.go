// Package memory stores free-form knowledge items: notes, decisions,
// tasks, references, and conversations. Rows live in SQLite; vectors
// live in an in-process chromem-go collection rebuilt at startup.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/mnemo-labs/mnemolite/internal/cache"
	"github.com/mnemo-labs/mnemolite/internal/config"
	"github.com/mnemo-labs/mnemolite/internal/embed"
	merrors "github.com/mnemo-labs/mnemolite/internal/errors"
	"github.com/mnemo-labs/mnemolite/internal/storage"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100

	// Over-fetch factor for vector queries, headroom for post-filtering.
	resultMultiplier = 2

	collectionName = "memories"
)

// Memory types accepted by Create and Update.
const (
	TypeNote         = "note"
	TypeDecision     = "decision"
	TypeTask         = "task"
	TypeReference    = "reference"
	TypeConversation = "conversation"
)

var validTypes = map[string]bool{
	TypeNote:         true,
	TypeDecision:     true,
	TypeTask:         true,
	TypeReference:    true,
	TypeConversation: true,
}

// Memory is the user-visible knowledge item.
type Memory struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id,omitempty"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	MemoryType    string     `json:"memory_type"`
	Tags          []string   `json:"tags,omitempty"`
	Author        string     `json:"author,omitempty"`
	RelatedChunks []string   `json:"related_chunks,omitempty"`
	ResourceLinks []string   `json:"resource_links,omitempty"`
	HasEmbedding  bool       `json:"has_embedding"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// CreateInput carries the fields of a new memory.
type CreateInput struct {
	ProjectID     string
	Title         string
	Content       string
	MemoryType    string
	Tags          []string
	Author        string
	RelatedChunks []string
	ResourceLinks []string
}

// Patch updates a subset of a memory's fields; nil means keep.
type Patch struct {
	Title         *string
	Content       *string
	MemoryType    *string
	Tags          *[]string
	Author        *string
	RelatedChunks *[]string
	ResourceLinks *[]string
}

// ListFilter narrows List. Tags match any-of. A nil Limit means the
// default page; an explicit zero returns no rows but keeps the total
// accurate.
type ListFilter struct {
	ProjectID      string
	MemoryType     string
	Tags           []string
	Author         string
	IncludeDeleted bool
	Limit          *int
	Offset         int
}

// SearchRequest is a vector search over memory content. Limit follows
// the same nil-versus-zero convention as ListFilter.
type SearchRequest struct {
	Query       string
	Vector      []float32
	ProjectID   string
	MemoryType  string
	Author      string
	Tags        []string
	Limit       *int
	MaxDistance float64
}

// SearchHit pairs a memory with its cosine distance to the query.
type SearchHit struct {
	Memory   Memory  `json:"memory"`
	Distance float64 `json:"distance"`
}

// Service owns the memory lifecycle and its vector collection.
type Service struct {
	store      *storage.Store
	provider   embed.Provider
	cascade    *cache.Cascade
	cfg        *config.Config
	logger     *slog.Logger
	collection *chromem.Collection
}

// NewService opens the vector collection and reloads it from the rows
// that carry an embedding. cascade and provider may be nil; without a
// provider, memories are stored unembedded and Search requires an
// explicit vector.
func NewService(ctx context.Context, store *storage.Store, provider embed.Provider, cascade *cache.Cascade, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db := chromem.NewDB()
	collection, err := db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, merrors.E(merrors.KindInternal, "memory.open", "create collection: %v", err)
	}
	s := &Service{
		store:      store,
		provider:   provider,
		cascade:    cascade,
		cfg:        cfg,
		logger:     logger,
		collection: collection,
	}
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) reload(ctx context.Context) error {
	rows, _, err := s.store.ListMemories(ctx, storage.MemoryFilter{})
	if err != nil {
		return err
	}
	loaded := 0
	for i := range rows {
		if len(rows[i].Embedding) == 0 {
			continue
		}
		if err := s.addDocument(ctx, &rows[i]); err != nil {
			return err
		}
		loaded++
	}
	if loaded > 0 {
		s.logger.Info("memory vectors reloaded", "count", loaded)
	}
	return nil
}

func (s *Service) addDocument(ctx context.Context, m *storage.MemoryRecord) error {
	doc := chromem.Document{
		ID:        m.MemoryID,
		Content:   m.Title + "\n" + m.Content,
		Embedding: m.Embedding,
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return merrors.E(merrors.KindInternal, "memory.index", "add document: %v", err)
	}
	return nil
}

func (s *Service) removeDocument(ctx context.Context, memoryID string) {
	if err := s.collection.Delete(ctx, nil, nil, memoryID); err != nil {
		s.logger.Warn("memory vector removal failed", "memory_id", memoryID, "error", err)
	}
}

// embedText generates the TEXT-domain vector for a memory, best
// effort: a failing provider leaves the memory unembedded.
func (s *Service) embedText(ctx context.Context, title, content string) []float32 {
	if s.provider == nil {
		return nil
	}
	var vectors [][]float32
	err := merrors.WithDeadline(ctx, "embed.single", s.cfg.Timeouts.EmbedSingle, func(ctx context.Context) error {
		var err error
		vectors, err = s.provider.Embed(ctx, embed.DomainText, []string{title + "\n" + content})
		return err
	})
	if err != nil {
		s.logger.Warn("memory embedding failed", "error", err)
		return nil
	}
	return vectors[0]
}

// Create stores a new memory. A live memory with the same
// (project, title) already present fails with KindConflict.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Memory, error) {
	const op = "memory.create"
	if strings.TrimSpace(input.Title) == "" {
		return nil, merrors.E(merrors.KindInvalidArgument, op, "title must not be empty")
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, merrors.E(merrors.KindInvalidArgument, op, "content must not be empty")
	}
	memoryType := input.MemoryType
	if memoryType == "" {
		memoryType = TypeNote
	}
	if !validTypes[memoryType] {
		return nil, merrors.E(merrors.KindInvalidArgument, op, "unknown memory type %q", memoryType)
	}

	now := time.Now().UTC()
	record := storage.MemoryRecord{
		MemoryID:   uuid.NewString(),
		ProjectID:  input.ProjectID,
		Title:      input.Title,
		Content:    input.Content,
		MemoryType: memoryType,
		Tags:       marshalStrings(input.Tags),
		Author:     input.Author,
		Related:    marshalStrings(input.RelatedChunks),
		Links:      marshalStrings(input.ResourceLinks),
		Embedding:  s.embedText(ctx, input.Title, input.Content),
		State:      storage.MemoryStateAlive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.store.InTransaction(ctx, func(tx *sql.Tx) error {
		return s.store.InsertMemory(ctx, tx, record)
	})
	if err != nil {
		return nil, err
	}
	if len(record.Embedding) > 0 {
		if err := s.addDocument(ctx, &record); err != nil {
			return nil, err
		}
	}
	s.invalidate(ctx)
	m := toMemory(&record)
	return &m, nil
}

// GetByID returns a live memory; soft-deleted rows are not found.
func (s *Service) GetByID(ctx context.Context, id string) (*Memory, error) {
	record, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.State != storage.MemoryStateAlive {
		return nil, merrors.E(merrors.KindNotFound, "memory.get", "memory %s not found", id)
	}
	m := toMemory(record)
	return &m, nil
}

// Update applies a partial patch to a live memory. Changing title or
// content regenerates the embedding; a stale vector is dropped rather
// than kept when regeneration fails.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (*Memory, error) {
	const op = "memory.update"
	record, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.State != storage.MemoryStateAlive {
		return nil, merrors.E(merrors.KindNotFound, op, "memory %s not found", id)
	}

	reembed := false
	if patch.Title != nil && *patch.Title != record.Title {
		if strings.TrimSpace(*patch.Title) == "" {
			return nil, merrors.E(merrors.KindInvalidArgument, op, "title must not be empty")
		}
		record.Title = *patch.Title
		reembed = true
	}
	if patch.Content != nil && *patch.Content != record.Content {
		if strings.TrimSpace(*patch.Content) == "" {
			return nil, merrors.E(merrors.KindInvalidArgument, op, "content must not be empty")
		}
		record.Content = *patch.Content
		reembed = true
	}
	if patch.MemoryType != nil {
		if !validTypes[*patch.MemoryType] {
			return nil, merrors.E(merrors.KindInvalidArgument, op, "unknown memory type %q", *patch.MemoryType)
		}
		record.MemoryType = *patch.MemoryType
	}
	if patch.Tags != nil {
		record.Tags = marshalStrings(*patch.Tags)
	}
	if patch.Author != nil {
		record.Author = *patch.Author
	}
	if patch.RelatedChunks != nil {
		record.Related = marshalStrings(*patch.RelatedChunks)
	}
	if patch.ResourceLinks != nil {
		record.Links = marshalStrings(*patch.ResourceLinks)
	}
	if reembed {
		record.Embedding = s.embedText(ctx, record.Title, record.Content)
	}
	record.UpdatedAt = time.Now().UTC()

	err = s.store.InTransaction(ctx, func(tx *sql.Tx) error {
		return s.store.UpdateMemory(ctx, tx, *record)
	})
	if err != nil {
		return nil, err
	}
	if reembed {
		s.removeDocument(ctx, record.MemoryID)
		if len(record.Embedding) > 0 {
			if err := s.addDocument(ctx, record); err != nil {
				return nil, err
			}
		}
	}
	s.invalidate(ctx)
	m := toMemory(record)
	return &m, nil
}

// SoftDelete marks a live memory deleted. Its title becomes reusable
// and its vector leaves the collection.
func (s *Service) SoftDelete(ctx context.Context, id string) error {
	const op = "memory.soft_delete"
	record, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return err
	}
	if record.State != storage.MemoryStateAlive {
		return merrors.E(merrors.KindNotFound, op, "memory %s not found", id)
	}
	now := time.Now().UTC()
	record.State = storage.MemoryStateDeleted
	record.UpdatedAt = now
	record.DeletedAt = &now

	err = s.store.InTransaction(ctx, func(tx *sql.Tx) error {
		return s.store.SetMemoryState(ctx, tx, *record)
	})
	if err != nil {
		return err
	}
	s.removeDocument(ctx, id)
	s.invalidate(ctx)
	return nil
}

// DeletePermanently removes a soft-deleted memory's row. Deleting a
// live memory directly is rejected; soft delete comes first.
func (s *Service) DeletePermanently(ctx context.Context, id string) error {
	const op = "memory.delete_permanently"
	record, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return err
	}
	if record.State != storage.MemoryStateDeleted {
		return merrors.E(merrors.KindInvalidArgument, op, "memory %s is not soft-deleted", id)
	}
	err = s.store.InTransaction(ctx, func(tx *sql.Tx) error {
		return s.store.DeleteMemoryRow(ctx, tx, id)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// List pages through memories, newest first, and reports the total
// matching count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Memory, int, error) {
	limit := clampLimit(filter.Limit)

	if cached, ok := s.cachedList(ctx, filter, limit); ok {
		return cached.Memories, cached.Total, nil
	}

	storeFilter := storage.MemoryFilter{
		ProjectID:      filter.ProjectID,
		MemoryType:     filter.MemoryType,
		Author:         filter.Author,
		IncludeDeleted: filter.IncludeDeleted,
	}
	if len(filter.Tags) == 1 {
		storeFilter.Tag = filter.Tags[0]
	}

	var memories []Memory
	var total int
	if limit == 0 && len(filter.Tags) <= 1 {
		// Zero rows were asked for, but the total still has to reflect
		// the full match set.
		storeFilter.Limit = 1
		_, count, err := s.store.ListMemories(ctx, storeFilter)
		if err != nil {
			return nil, 0, err
		}
		total = count
		memories = []Memory{}
	} else if len(filter.Tags) > 1 {
		// Any-of tag matching happens here; the page is cut after the
		// filter so totals stay accurate.
		rows, _, err := s.store.ListMemories(ctx, storeFilter)
		if err != nil {
			return nil, 0, err
		}
		var matched []Memory
		for i := range rows {
			m := toMemory(&rows[i])
			if anyTag(m.Tags, filter.Tags) {
				matched = append(matched, m)
			}
		}
		total = len(matched)
		memories = page(matched, filter.Offset, limit)
	} else {
		storeFilter.Limit = limit
		storeFilter.Offset = filter.Offset
		rows, count, err := s.store.ListMemories(ctx, storeFilter)
		if err != nil {
			return nil, 0, err
		}
		total = count
		memories = make([]Memory, len(rows))
		for i := range rows {
			memories[i] = toMemory(&rows[i])
		}
	}

	s.storeList(ctx, filter, limit, listPayload{Memories: memories, Total: total})
	return memories, total, nil
}

// Search runs a vector query over memory embeddings. Either Query or
// an explicit Vector must be given.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]SearchHit, error) {
	const op = "memory.search"
	limit := clampLimit(req.Limit)
	if len(req.Vector) == 0 && strings.TrimSpace(req.Query) == "" {
		return nil, merrors.E(merrors.KindInvalidArgument, op, "query or vector required")
	}
	if limit == 0 {
		return []SearchHit{}, nil
	}

	vector := req.Vector
	if len(vector) == 0 {
		if s.provider == nil {
			return nil, merrors.E(merrors.KindEmbeddingUnavailable, op, "no embedding provider configured")
		}
		var vectors [][]float32
		err := merrors.WithDeadline(ctx, "embed.single", s.cfg.Timeouts.EmbedSingle, func(ctx context.Context) error {
			var err error
			vectors, err = s.provider.Embed(ctx, embed.DomainText, []string{req.Query})
			return err
		})
		if err != nil {
			return nil, err
		}
		vector = vectors[0]
	}

	available := s.collection.Count()
	if available == 0 {
		return nil, nil
	}
	n := limit * resultMultiplier
	if n > available {
		n = available
	}
	docs, err := s.collection.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, merrors.E(merrors.KindInternal, op, "vector query: %v", err)
	}

	hits := make([]SearchHit, 0, limit)
	for _, doc := range docs {
		distance := 1 - float64(doc.Similarity)
		if req.MaxDistance > 0 && distance > req.MaxDistance {
			continue
		}
		record, err := s.store.GetMemory(ctx, doc.ID)
		if err != nil {
			if merrors.IsKind(err, merrors.KindNotFound) {
				continue
			}
			return nil, err
		}
		if record.State != storage.MemoryStateAlive {
			continue
		}
		m := toMemory(record)
		if !matchesSearch(&m, &req) {
			continue
		}
		hits = append(hits, SearchHit{Memory: m, Distance: distance})
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

func matchesSearch(m *Memory, req *SearchRequest) bool {
	if req.ProjectID != "" && m.ProjectID != req.ProjectID {
		return false
	}
	if req.MemoryType != "" && m.MemoryType != req.MemoryType {
		return false
	}
	if req.Author != "" && m.Author != req.Author {
		return false
	}
	if len(req.Tags) > 0 && !anyTag(m.Tags, req.Tags) {
		return false
	}
	return true
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cascade != nil {
		s.cascade.InvalidateMemories(ctx)
	}
}

type listPayload struct {
	Memories []Memory `json:"memories"`
	Total    int      `json:"total"`
}

func listKey(filter ListFilter, limit int) string {
	tags := append([]string(nil), filter.Tags...)
	sort.Strings(tags)
	payload := fmt.Sprintf("project=%s|type=%s|tags=%s|author=%s|deleted=%t|limit=%d|offset=%d",
		filter.ProjectID, filter.MemoryType, strings.Join(tags, ","),
		filter.Author, filter.IncludeDeleted, limit, filter.Offset)
	return cache.MemoryListKey(payload)
}

func (s *Service) cachedList(ctx context.Context, filter ListFilter, limit int) (*listPayload, bool) {
	if s.cascade == nil {
		return nil, false
	}
	raw, ok := s.cascade.Get(ctx, listKey(filter, limit))
	if !ok {
		return nil, false
	}
	var payload listPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false
	}
	return &payload, true
}

func (s *Service) storeList(ctx context.Context, filter ListFilter, limit int, payload listPayload) {
	if s.cascade == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.cascade.Set(ctx, listKey(filter, limit), raw)
}

func toMemory(record *storage.MemoryRecord) Memory {
	return Memory{
		ID:            record.MemoryID,
		ProjectID:     record.ProjectID,
		Title:         record.Title,
		Content:       record.Content,
		MemoryType:    record.MemoryType,
		Tags:          unmarshalStrings(record.Tags),
		Author:        record.Author,
		RelatedChunks: unmarshalStrings(record.Related),
		ResourceLinks: unmarshalStrings(record.Links),
		HasEmbedding:  len(record.Embedding) > 0,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
		DeletedAt:     record.DeletedAt,
	}
}

func marshalStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	payload, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(payload)
}

func unmarshalStrings(payload string) []string {
	if payload == "" || payload == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil
	}
	return out
}

func anyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// clampLimit resolves the requested page size. nil and negative values
// fall back to the default; zero is honored as zero.
func clampLimit(limit *int) int {
	if limit == nil || *limit < 0 {
		return DefaultLimit
	}
	if *limit > MaxLimit {
		return MaxLimit
	}
	return *limit
}

func page(items []Memory, offset, limit int) []Memory {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
