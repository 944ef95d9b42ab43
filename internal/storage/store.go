// Package storage is the durable tier: a single SQLite database holding
// chunks, the trigram index, the code graph, memories, and operational
// bookkeeping. All mutation helpers take an explicit transaction so
// callers control atomicity.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mattn/go-sqlite3"

	merrors "github.com/mnemo-labs/mnemolite/internal/errors"
)

// Store owns the SQLite handle.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path and ensures the schema.
// The DSN enables WAL, foreign keys, and a busy timeout so concurrent
// readers never see SQLITE_BUSY during indexing.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, merrors.Wrap(merrors.KindStorageUnavailable, "storage.open", err)
	}
	// SQLite serializes writers; a single connection avoids lock churn
	// between the worker pool's transactions.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, merrors.Wrap(merrors.KindStorageUnavailable, "storage.open", err)
	}
	if err := CreateSchema(db); err != nil {
		db.Close()
		return nil, merrors.Wrap(merrors.KindStorageUnavailable, "storage.schema", err)
	}
	return &Store{db: db, path: path}, nil
}

// OpenInMemory opens a private in-memory database. Used by tests and
// ephemeral sessions.
func OpenInMemory() (*Store, error) {
	return Open(":memory:")
}

// DB exposes the underlying handle for read-side query helpers.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InTransaction runs fn inside a transaction, committing on nil and
// rolling back on error or panic.
func (s *Store) InTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return merrors.Wrap(merrors.KindStorageUnavailable, "storage.begin", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return merrors.Wrap(merrors.KindStorageUnavailable, "storage.commit", err)
	}
	return nil
}

// mapError classifies a driver error into an engine error kind.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return merrors.E(merrors.KindNotFound, op, "no rows")
	}
	if sqliteErr, ok := err.(sqlite3.Error); ok {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return merrors.Wrap(merrors.KindConflict, op, err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return merrors.Wrap(merrors.KindStorageUnavailable, op, err)
		}
	}
	return merrors.Wrap(merrors.KindInternal, op, err)
}
