package storage

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
)

// trigramSource is the text a chunk is lexically indexed under.
func trigramSource(c *ChunkRecord) string {
	return c.NamePath + " " + c.SourceCode
}

// ReplaceFileChunks atomically replaces all chunks of one file within
// the given transaction: delete then insert, so a crash never leaves a
// file half-indexed. All chunks must share repository and file path.
func (s *Store) ReplaceFileChunks(ctx context.Context, tx *sql.Tx, repository, filePath string, chunks []ChunkRecord) error {
	const op = "storage.replace_file_chunks"

	_, err := sq.Delete("chunks").
		Where(sq.Eq{"repository": repository, "file_path": filePath}).
		RunWith(tx).ExecContext(ctx)
	if err != nil {
		return mapError(op, err)
	}

	for i := range chunks {
		c := &chunks[i]
		trigrams := ExtractTrigrams(trigramSource(c))
		c.TrigramCount = len(trigrams)

		var commitHash any
		if c.CommitHash != "" {
			commitHash = c.CommitHash
		}
		_, err := sq.Insert("chunks").
			Columns(chunkColumns...).
			Values(c.ChunkID, c.Repository, c.FilePath, c.Language, c.ChunkType,
				c.Name, c.NamePath, c.SourceCode, c.StartLine, c.EndLine,
				c.Metadata, embeddingBlob(c.EmbeddingText), embeddingBlob(c.EmbeddingCode),
				c.EmbeddingDim, c.TrigramCount, commitHash, c.IndexedAt).
			RunWith(tx).ExecContext(ctx)
		if err != nil {
			return mapError(op, err)
		}

		insert := sq.Insert("chunk_trigrams").Columns("trigram", "chunk_id")
		for _, trigram := range trigrams {
			insert = insert.Values(trigram, c.ChunkID)
		}
		if len(trigrams) > 0 {
			if _, err := insert.RunWith(tx).ExecContext(ctx); err != nil {
				return mapError(op, err)
			}
		}
	}
	return nil
}

// DeleteRepositoryData removes every chunk, node, and indexing error
// of a repository. Edges, trigrams, metadata, and metrics follow via
// ON DELETE CASCADE.
func (s *Store) DeleteRepositoryData(ctx context.Context, tx *sql.Tx, repository string) error {
	const op = "storage.delete_repository"
	for _, table := range []string{"chunks", "nodes", "indexing_errors"} {
		_, err := sq.Delete(table).
			Where(sq.Eq{"repository": repository}).
			RunWith(tx).ExecContext(ctx)
		if err != nil {
			return mapError(op, err)
		}
	}
	return nil
}

// DeleteFileChunks removes all chunks of one file.
func (s *Store) DeleteFileChunks(ctx context.Context, tx *sql.Tx, repository, filePath string) error {
	_, err := sq.Delete("chunks").
		Where(sq.Eq{"repository": repository, "file_path": filePath}).
		RunWith(tx).ExecContext(ctx)
	if err != nil {
		return mapError("storage.delete_file_chunks", err)
	}
	return nil
}

var chunkColumns = []string{
	"chunk_id", "repository", "file_path", "language", "chunk_type",
	"name", "name_path", "source_code", "start_line", "end_line",
	"metadata", "embedding_text", "embedding_code", "embedding_dim",
	"trigram_count", "commit_hash", "indexed_at",
}

func embeddingBlob(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	return SerializeEmbedding(vec)
}

func scanChunk(scanner interface{ Scan(...any) error }) (ChunkRecord, error) {
	var c ChunkRecord
	var textBlob, codeBlob []byte
	var commitHash sql.NullString
	err := scanner.Scan(
		&c.ChunkID, &c.Repository, &c.FilePath, &c.Language, &c.ChunkType,
		&c.Name, &c.NamePath, &c.SourceCode, &c.StartLine, &c.EndLine,
		&c.Metadata, &textBlob, &codeBlob, &c.EmbeddingDim,
		&c.TrigramCount, &commitHash, &c.IndexedAt,
	)
	if err != nil {
		return c, err
	}
	c.CommitHash = commitHash.String
	if len(textBlob) > 0 {
		if c.EmbeddingText, err = DeserializeEmbedding(textBlob); err != nil {
			return c, err
		}
	}
	if len(codeBlob) > 0 {
		if c.EmbeddingCode, err = DeserializeEmbedding(codeBlob); err != nil {
			return c, err
		}
	}
	return c, nil
}

// GetChunk fetches a single chunk by ID.
func (s *Store) GetChunk(ctx context.Context, chunkID string) (*ChunkRecord, error) {
	const op = "storage.get_chunk"
	query, args, err := sq.Select(chunkColumns...).
		From("chunks").Where(sq.Eq{"chunk_id": chunkID}).ToSql()
	if err != nil {
		return nil, mapError(op, err)
	}
	c, err := scanChunk(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, mapError(op, err)
	}
	return &c, nil
}

// GetChunksByIDs fetches chunks preserving the order of ids; missing
// ids are skipped.
func (s *Store) GetChunksByIDs(ctx context.Context, ids []string) ([]ChunkRecord, error) {
	const op = "storage.get_chunks"
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sq.Select(chunkColumns...).
		From("chunks").Where(sq.Eq{"chunk_id": ids}).ToSql()
	if err != nil {
		return nil, mapError(op, err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	byID := make(map[string]ChunkRecord, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		byID[c.ChunkID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}

	out := make([]ChunkRecord, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// ChunkFilter narrows ListChunks.
type ChunkFilter struct {
	Repository string
	FilePath   string
	Language   string
	ChunkType  string
	Limit      int
	Offset     int
}

// ListChunks lists chunks ordered by file path then start line.
func (s *Store) ListChunks(ctx context.Context, filter ChunkFilter) ([]ChunkRecord, error) {
	const op = "storage.list_chunks"
	builder := sq.Select(chunkColumns...).From("chunks").
		OrderBy("file_path", "start_line")
	if filter.Repository != "" {
		builder = builder.Where(sq.Eq{"repository": filter.Repository})
	}
	if filter.FilePath != "" {
		builder = builder.Where(sq.Eq{"file_path": filter.FilePath})
	}
	if filter.Language != "" {
		builder = builder.Where(sq.Eq{"language": filter.Language})
	}
	if filter.ChunkType != "" {
		builder = builder.Where(sq.Eq{"chunk_type": filter.ChunkType})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, mapError(op, err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	var chunks []ChunkRecord
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountChunks counts chunks in a repository; empty repository counts
// the whole database.
func (s *Store) CountChunks(ctx context.Context, repository string) (int, error) {
	builder := sq.Select("COUNT(*)").From("chunks")
	if repository != "" {
		builder = builder.Where(sq.Eq{"repository": repository})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, mapError("storage.count_chunks", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, mapError("storage.count_chunks", err)
	}
	return count, nil
}

// RepositoryFiles lists the distinct indexed file paths of a
// repository.
func (s *Store) RepositoryFiles(ctx context.Context, repository string) ([]string, error) {
	const op = "storage.repository_files"
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT file_path FROM chunks WHERE repository = ? ORDER BY file_path", repository)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var file string
		if err := rows.Scan(&file); err != nil {
			return nil, mapError(op, err)
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// ChunkIDs returns the chunk IDs of a repository, optionally narrowed
// to one file. Used to evict vectors before rows are replaced.
func (s *Store) ChunkIDs(ctx context.Context, repository, filePath string) ([]string, error) {
	const op = "storage.chunk_ids"
	builder := sq.Select("chunk_id").From("chunks").Where(sq.Eq{"repository": repository})
	if filePath != "" {
		builder = builder.Where(sq.Eq{"file_path": filePath})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, mapError(op, err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapError(op, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteRepositoryNodes removes a repository's graph wholesale before
// a rebuild. Edges, metadata, and metrics cascade.
func (s *Store) DeleteRepositoryNodes(ctx context.Context, tx *sql.Tx, repository string) error {
	_, err := sq.Delete("nodes").
		Where(sq.Eq{"repository": repository}).
		RunWith(tx).ExecContext(ctx)
	if err != nil {
		return mapError("storage.delete_repository_nodes", err)
	}
	return nil
}

// ForEachChunkEmbedding streams every chunk carrying at least one
// embedding, both domains at once. Used to rebuild the in-process
// vector index at startup. A missing domain passes nil.
func (s *Store) ForEachChunkEmbedding(ctx context.Context, fn func(chunkID string, text, code []float32) error) error {
	const op = "storage.chunk_embeddings"
	rows, err := s.db.QueryContext(ctx,
		"SELECT chunk_id, embedding_text, embedding_code FROM chunks WHERE embedding_text IS NOT NULL OR embedding_code IS NOT NULL")
	if err != nil {
		return mapError(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var textBlob, codeBlob []byte
		if err := rows.Scan(&id, &textBlob, &codeBlob); err != nil {
			return mapError(op, err)
		}
		var text, code []float32
		if len(textBlob) > 0 {
			if text, err = DeserializeEmbedding(textBlob); err != nil {
				return mapError(op, err)
			}
		}
		if len(codeBlob) > 0 {
			if code, err = DeserializeEmbedding(codeBlob); err != nil {
				return mapError(op, err)
			}
		}
		if err := fn(id, text, code); err != nil {
			return err
		}
	}
	return rows.Err()
}
