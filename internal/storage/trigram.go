package storage

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	sq "github.com/Masterminds/squirrel"
)

// normalizeText lowercases and splits text into alphanumeric words.
// Matching is case-insensitive and whitespace-insensitive.
func normalizeText(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ExtractTrigrams produces the deduplicated trigram set of a text.
// Each word is padded with two leading and one trailing space before
// windowing, so short words still produce boundary trigrams.
func ExtractTrigrams(text string) []string {
	set := make(map[string]struct{})
	for _, word := range normalizeText(text) {
		padded := "  " + word + " "
		for i := 0; i+3 <= len(padded); i++ {
			set[padded[i:i+3]] = struct{}{}
		}
	}
	trigrams := make([]string, 0, len(set))
	for t := range set {
		trigrams = append(trigrams, t)
	}
	sort.Strings(trigrams)
	return trigrams
}

// LexicalFilter narrows a trigram search.
type LexicalFilter struct {
	Repository string
	Language   string
	ChunkType  string
	PathPrefix string
}

// CountChunksByFilter counts the chunks a LexicalFilter selects,
// independent of any query. Search responses report it as the paging
// total.
func (s *Store) CountChunksByFilter(ctx context.Context, filter LexicalFilter) (int, error) {
	const op = "storage.count_chunks_by_filter"
	builder := sq.Select("COUNT(*)").From("chunks")
	if filter.Repository != "" {
		builder = builder.Where(sq.Eq{"repository": filter.Repository})
	}
	if filter.Language != "" {
		builder = builder.Where(sq.Eq{"language": filter.Language})
	}
	if filter.ChunkType != "" {
		builder = builder.Where(sq.Eq{"chunk_type": filter.ChunkType})
	}
	if filter.PathPrefix != "" {
		builder = builder.Where(sq.Like{"file_path": filter.PathPrefix + "%"})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, mapError(op, err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, mapError(op, err)
	}
	return count, nil
}

// LexicalHit is one trigram search result.
type LexicalHit struct {
	Chunk      ChunkRecord
	Similarity float64
}

// TrigramSearch runs set-similarity search over the inverted trigram
// index. Similarity is shared trigrams over the union of both sets;
// results below threshold are dropped. Ordering is similarity
// descending, ties broken by newest indexed_at.
func (s *Store) TrigramSearch(ctx context.Context, query string, filter LexicalFilter, threshold float64, limit int) ([]LexicalHit, error) {
	queryTrigrams := ExtractTrigrams(query)
	if len(queryTrigrams) == 0 {
		return nil, nil
	}

	builder := sq.Select(
		"c.chunk_id", "c.repository", "c.file_path", "c.language", "c.chunk_type",
		"c.name", "c.name_path", "c.source_code", "c.start_line", "c.end_line",
		"c.metadata", "c.trigram_count", "c.indexed_at",
		"COUNT(*) AS matched",
	).
		From("chunk_trigrams t").
		Join("chunks c ON c.chunk_id = t.chunk_id").
		Where(sq.Eq{"t.trigram": queryTrigrams}).
		GroupBy("t.chunk_id")

	if filter.Repository != "" {
		builder = builder.Where(sq.Eq{"c.repository": filter.Repository})
	}
	if filter.Language != "" {
		builder = builder.Where(sq.Eq{"c.language": filter.Language})
	}
	if filter.ChunkType != "" {
		builder = builder.Where(sq.Eq{"c.chunk_type": filter.ChunkType})
	}
	if filter.PathPrefix != "" {
		builder = builder.Where(sq.Like{"c.file_path": filter.PathPrefix + "%"})
	}

	query2, args, err := builder.ToSql()
	if err != nil {
		return nil, mapError("storage.trigram_search", err)
	}
	rows, err := s.db.QueryContext(ctx, query2, args...)
	if err != nil {
		return nil, mapError("storage.trigram_search", err)
	}
	defer rows.Close()

	type scored struct {
		hit       LexicalHit
		indexedAt time.Time
	}
	var candidates []scored
	for rows.Next() {
		var c ChunkRecord
		var matched int
		if err := rows.Scan(
			&c.ChunkID, &c.Repository, &c.FilePath, &c.Language, &c.ChunkType,
			&c.Name, &c.NamePath, &c.SourceCode, &c.StartLine, &c.EndLine,
			&c.Metadata, &c.TrigramCount, &c.IndexedAt, &matched,
		); err != nil {
			return nil, mapError("storage.trigram_search", err)
		}
		union := len(queryTrigrams) + c.TrigramCount - matched
		if union <= 0 {
			continue
		}
		similarity := float64(matched) / float64(union)
		if similarity < threshold {
			continue
		}
		candidates = append(candidates, scored{
			hit:       LexicalHit{Chunk: c, Similarity: similarity},
			indexedAt: c.IndexedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("storage.trigram_search", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].hit.Similarity != candidates[j].hit.Similarity {
			return candidates[i].hit.Similarity > candidates[j].hit.Similarity
		}
		return candidates[i].indexedAt.After(candidates[j].indexedAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	hits := make([]LexicalHit, len(candidates))
	for i, cand := range candidates {
		hits[i] = cand.hit
	}
	return hits, nil
}
