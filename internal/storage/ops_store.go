package storage

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
)

// UpsertProject registers a project by name, returning the stored row.
func (s *Store) UpsertProject(ctx context.Context, p ProjectRecord) (*ProjectRecord, error) {
	const op = "storage.upsert_project"
	query, args, err := sq.Insert("projects").
		Columns("project_id", "name", "root_path", "created_at").
		Values(p.ProjectID, p.Name, p.RootPath, p.CreatedAt).
		Suffix(`ON CONFLICT (name) DO UPDATE SET root_path = excluded.root_path RETURNING project_id, name, root_path, created_at`).
		ToSql()
	if err != nil {
		return nil, mapError(op, err)
	}
	var out ProjectRecord
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&out.ProjectID, &out.Name, &out.RootPath, &out.CreatedAt); err != nil {
		return nil, mapError(op, err)
	}
	return &out, nil
}

// GetProjectByName looks up a registered project.
func (s *Store) GetProjectByName(ctx context.Context, name string) (*ProjectRecord, error) {
	const op = "storage.get_project"
	query, args, err := sq.Select("project_id", "name", "root_path", "created_at").
		From("projects").Where(sq.Eq{"name": name}).ToSql()
	if err != nil {
		return nil, mapError(op, err)
	}
	var p ProjectRecord
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&p.ProjectID, &p.Name, &p.RootPath, &p.CreatedAt); err != nil {
		return nil, mapError(op, err)
	}
	return &p, nil
}

// RecordIndexingError persists a skipped file so a run can report what
// it could not index.
func (s *Store) RecordIndexingError(ctx context.Context, tx *sql.Tx, e IndexingError) error {
	const op = "storage.record_indexing_error"
	query, args, err := sq.Insert("indexing_errors").
		Columns("error_id", "repository", "file_path", "stage", "message", "occurred_at").
		Values(e.ErrorID, e.Repository, e.FilePath, e.Stage, e.Message, e.OccurredAt).
		ToSql()
	if err != nil {
		return mapError(op, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return mapError(op, err)
	}
	return nil
}

// ListIndexingErrors returns the recorded errors of a repository,
// newest first.
func (s *Store) ListIndexingErrors(ctx context.Context, repository string) ([]IndexingError, error) {
	const op = "storage.list_indexing_errors"
	query, args, err := sq.Select("error_id", "repository", "file_path", "stage", "message", "occurred_at").
		From("indexing_errors").
		Where(sq.Eq{"repository": repository}).
		OrderBy("occurred_at DESC").
		ToSql()
	if err != nil {
		return nil, mapError(op, err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	var errs []IndexingError
	for rows.Next() {
		var e IndexingError
		if err := rows.Scan(&e.ErrorID, &e.Repository, &e.FilePath, &e.Stage, &e.Message, &e.OccurredAt); err != nil {
			return nil, mapError(op, err)
		}
		errs = append(errs, e)
	}
	return errs, rows.Err()
}
