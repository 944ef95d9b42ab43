package storage

import (
	"database/sql"
	"fmt"
)

// CreateSchema creates all tables and indexes. Idempotent; every
// statement uses IF NOT EXISTS so reopening an existing database is a
// no-op.
func CreateSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	tables := []struct {
		name string
		ddl  string
	}{
		{"chunks", createChunksTable},
		{"chunk_trigrams", createChunkTrigramsTable},
		{"nodes", createNodesTable},
		{"edges", createEdgesTable},
		{"detailed_metadata", createDetailedMetadataTable},
		{"computed_metrics", createComputedMetricsTable},
		{"edge_weights", createEdgeWeightsTable},
		{"memories", createMemoriesTable},
		{"projects", createProjectsTable},
		{"indexing_errors", createIndexingErrorsTable},
	}
	for _, table := range tables {
		if _, err := tx.Exec(table.ddl); err != nil {
			return fmt.Errorf("create %s table: %w", table.name, err)
		}
	}

	for i, idx := range schemaIndexes {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("create index %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}

const createChunksTable = `
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id      TEXT PRIMARY KEY,
	repository    TEXT NOT NULL,
	file_path     TEXT NOT NULL,
	language      TEXT NOT NULL,
	chunk_type    TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	name_path     TEXT NOT NULL DEFAULT '',
	source_code   TEXT NOT NULL,
	start_line    INTEGER NOT NULL,
	end_line      INTEGER NOT NULL,
	metadata      TEXT NOT NULL DEFAULT '{}',
	embedding_text BLOB,
	embedding_code BLOB,
	embedding_dim INTEGER NOT NULL DEFAULT 0,
	trigram_count INTEGER NOT NULL DEFAULT 0,
	commit_hash   TEXT,
	indexed_at    TIMESTAMP NOT NULL
)`

// chunk_trigrams is the inverted index behind lexical search. Rows are
// (trigram, chunk_id) pairs; similarity is computed from match counts
// against trigram_count on chunks.
const createChunkTrigramsTable = `
CREATE TABLE IF NOT EXISTS chunk_trigrams (
	trigram  TEXT NOT NULL,
	chunk_id TEXT NOT NULL REFERENCES chunks(chunk_id) ON DELETE CASCADE,
	PRIMARY KEY (trigram, chunk_id)
) WITHOUT ROWID`

const createNodesTable = `
CREATE TABLE IF NOT EXISTS nodes (
	node_id    TEXT PRIMARY KEY,
	repository TEXT NOT NULL,
	label      TEXT NOT NULL,
	name       TEXT NOT NULL,
	name_path  TEXT NOT NULL DEFAULT '',
	file_path  TEXT NOT NULL DEFAULT '',
	start_line INTEGER NOT NULL DEFAULT 0,
	end_line   INTEGER NOT NULL DEFAULT 0,
	chunk_id   TEXT,
	UNIQUE (repository, label, name_path, file_path)
)`

const createEdgesTable = `
CREATE TABLE IF NOT EXISTS edges (
	edge_id    TEXT PRIMARY KEY,
	repository TEXT NOT NULL,
	source_id  TEXT NOT NULL REFERENCES nodes(node_id) ON DELETE CASCADE,
	target_id  TEXT NOT NULL REFERENCES nodes(node_id) ON DELETE CASCADE,
	relation   TEXT NOT NULL,
	line       INTEGER NOT NULL DEFAULT 0,
	UNIQUE (source_id, target_id, relation)
)`

const createDetailedMetadataTable = `
CREATE TABLE IF NOT EXISTS detailed_metadata (
	node_id  TEXT PRIMARY KEY REFERENCES nodes(node_id) ON DELETE CASCADE,
	metadata TEXT NOT NULL DEFAULT '{}'
)`

const createComputedMetricsTable = `
CREATE TABLE IF NOT EXISTS computed_metrics (
	node_id     TEXT NOT NULL REFERENCES nodes(node_id) ON DELETE CASCADE,
	metric      TEXT NOT NULL,
	value       REAL NOT NULL,
	computed_at TIMESTAMP NOT NULL,
	PRIMARY KEY (node_id, metric)
)`

const createEdgeWeightsTable = `
CREATE TABLE IF NOT EXISTS edge_weights (
	edge_id     TEXT PRIMARY KEY REFERENCES edges(edge_id) ON DELETE CASCADE,
	importance  REAL NOT NULL,
	computed_at TIMESTAMP NOT NULL
)`

const createMemoriesTable = `
CREATE TABLE IF NOT EXISTS memories (
	memory_id   TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL,
	title       TEXT NOT NULL,
	content     TEXT NOT NULL,
	memory_type TEXT NOT NULL DEFAULT 'note',
	tags        TEXT NOT NULL DEFAULT '[]',
	author      TEXT NOT NULL DEFAULT '',
	related_chunks TEXT NOT NULL DEFAULT '[]',
	resource_links TEXT NOT NULL DEFAULT '[]',
	embedding   BLOB,
	state       TEXT NOT NULL DEFAULT 'alive',
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL,
	deleted_at  TIMESTAMP
)`

const createProjectsTable = `
CREATE TABLE IF NOT EXISTS projects (
	project_id TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	root_path  TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
)`

const createIndexingErrorsTable = `
CREATE TABLE IF NOT EXISTS indexing_errors (
	error_id    TEXT PRIMARY KEY,
	repository  TEXT NOT NULL,
	file_path   TEXT NOT NULL,
	stage       TEXT NOT NULL,
	message     TEXT NOT NULL,
	occurred_at TIMESTAMP NOT NULL
)`

var schemaIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_chunks_repository ON chunks(repository)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_repo_file ON chunks(repository, file_path)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_language ON chunks(language)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_type ON chunks(chunk_type)`,
	`CREATE INDEX IF NOT EXISTS idx_trigrams_chunk ON chunk_trigrams(chunk_id)`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_repository ON nodes(repository)`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(repository, name)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_repository ON edges(repository)`,
	// Title uniqueness only applies to live rows; soft-deleted titles
	// stay reusable.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_project_title ON memories(project_id, title) WHERE state = 'alive'`,
	`CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project_id)`,
	`CREATE INDEX IF NOT EXISTS idx_indexing_errors_repo ON indexing_errors(repository)`,
}
