package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var memoryColumns = []string{
	"memory_id", "project_id", "title", "content", "memory_type",
	"tags", "author", "related_chunks", "resource_links", "embedding",
	"state", "created_at", "updated_at", "deleted_at",
}

func scanMemory(scanner interface{ Scan(...any) error }) (MemoryRecord, error) {
	var m MemoryRecord
	var blob []byte
	err := scanner.Scan(&m.MemoryID, &m.ProjectID, &m.Title, &m.Content, &m.MemoryType,
		&m.Tags, &m.Author, &m.Related, &m.Links, &blob,
		&m.State, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt)
	if err != nil {
		return m, err
	}
	if len(blob) > 0 {
		m.Embedding, err = DeserializeEmbedding(blob)
	}
	return m, err
}

func memoryEmbedding(m *MemoryRecord) any {
	if len(m.Embedding) == 0 {
		return nil
	}
	return SerializeEmbedding(m.Embedding)
}

// InsertMemory inserts a memory row. A live row with the same
// (project, title) surfaces as KindConflict via the partial unique
// index.
func (s *Store) InsertMemory(ctx context.Context, tx *sql.Tx, m MemoryRecord) error {
	const op = "storage.insert_memory"
	query, args, err := sq.Insert("memories").
		Columns(memoryColumns...).
		Values(m.MemoryID, m.ProjectID, m.Title, m.Content, m.MemoryType,
			m.Tags, m.Author, m.Related, m.Links, memoryEmbedding(&m),
			m.State, m.CreatedAt, m.UpdatedAt, m.DeletedAt).
		ToSql()
	if err != nil {
		return mapError(op, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return mapError(op, err)
	}
	return nil
}

// GetMemory fetches a memory row by ID regardless of state; lifecycle
// rules live with the caller.
func (s *Store) GetMemory(ctx context.Context, memoryID string) (*MemoryRecord, error) {
	const op = "storage.get_memory"
	query, args, err := sq.Select(memoryColumns...).
		From("memories").Where(sq.Eq{"memory_id": memoryID}).ToSql()
	if err != nil {
		return nil, mapError(op, err)
	}
	m, err := scanMemory(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, mapError(op, err)
	}
	return &m, nil
}

// UpdateMemory rewrites the mutable fields of a memory row.
func (s *Store) UpdateMemory(ctx context.Context, tx *sql.Tx, m MemoryRecord) error {
	const op = "storage.update_memory"
	query, args, err := sq.Update("memories").
		Set("title", m.Title).
		Set("content", m.Content).
		Set("memory_type", m.MemoryType).
		Set("tags", m.Tags).
		Set("author", m.Author).
		Set("related_chunks", m.Related).
		Set("resource_links", m.Links).
		Set("embedding", memoryEmbedding(&m)).
		Set("updated_at", m.UpdatedAt).
		Where(sq.Eq{"memory_id": m.MemoryID}).
		ToSql()
	if err != nil {
		return mapError(op, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return mapError(op, err)
	}
	return nil
}

// SetMemoryState transitions a memory's lifecycle state.
func (s *Store) SetMemoryState(ctx context.Context, tx *sql.Tx, m MemoryRecord) error {
	const op = "storage.set_memory_state"
	query, args, err := sq.Update("memories").
		Set("state", m.State).
		Set("updated_at", m.UpdatedAt).
		Set("deleted_at", m.DeletedAt).
		Where(sq.Eq{"memory_id": m.MemoryID}).
		ToSql()
	if err != nil {
		return mapError(op, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return mapError(op, err)
	}
	return nil
}

// DeleteMemoryRow removes a memory row permanently.
func (s *Store) DeleteMemoryRow(ctx context.Context, tx *sql.Tx, memoryID string) error {
	const op = "storage.delete_memory"
	query, args, err := sq.Delete("memories").Where(sq.Eq{"memory_id": memoryID}).ToSql()
	if err != nil {
		return mapError(op, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return mapError(op, err)
	}
	return nil
}

// MemoryFilter narrows ListMemories.
type MemoryFilter struct {
	ProjectID      string
	MemoryType     string
	Tag            string
	Author         string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// ListMemories lists memories newest first and returns the total
// matching count alongside the page.
func (s *Store) ListMemories(ctx context.Context, filter MemoryFilter) ([]MemoryRecord, int, error) {
	const op = "storage.list_memories"

	where := func(builder sq.SelectBuilder) sq.SelectBuilder {
		if filter.ProjectID != "" {
			builder = builder.Where(sq.Eq{"project_id": filter.ProjectID})
		}
		if filter.MemoryType != "" {
			builder = builder.Where(sq.Eq{"memory_type": filter.MemoryType})
		}
		if filter.Tag != "" {
			builder = builder.Where(sq.Like{"tags": fmt.Sprintf("%%%q%%", filter.Tag)})
		}
		if filter.Author != "" {
			builder = builder.Where(sq.Eq{"author": filter.Author})
		}
		if !filter.IncludeDeleted {
			builder = builder.Where(sq.Eq{"state": MemoryStateAlive})
		}
		return builder
	}

	countQuery, countArgs, err := where(sq.Select("COUNT(*)").From("memories")).ToSql()
	if err != nil {
		return nil, 0, mapError(op, err)
	}
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, mapError(op, err)
	}

	builder := where(sq.Select(memoryColumns...).From("memories")).
		OrderBy("updated_at DESC", "memory_id")
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, 0, mapError(op, err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, mapError(op, err)
	}
	defer rows.Close()

	var memories []MemoryRecord
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, 0, mapError(op, err)
		}
		memories = append(memories, m)
	}
	return memories, total, rows.Err()
}
