package storage

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
)

// UpsertNode inserts a node or refreshes an existing one with the same
// identity (repository, label, name_path, file_path). Returns the
// persisted node ID, which is stable across re-indexing runs.
func (s *Store) UpsertNode(ctx context.Context, tx *sql.Tx, node NodeRecord) (string, error) {
	const op = "storage.upsert_node"
	query, args, err := sq.Insert("nodes").
		Columns("node_id", "repository", "label", "name", "name_path", "file_path", "start_line", "end_line", "chunk_id").
		Values(node.NodeID, node.Repository, node.Label, node.Name, node.NamePath, node.FilePath, node.StartLine, node.EndLine, nullable(node.ChunkID)).
		Suffix(`ON CONFLICT (repository, label, name_path, file_path) DO UPDATE SET
			name = excluded.name,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			chunk_id = excluded.chunk_id
			RETURNING node_id`).
		ToSql()
	if err != nil {
		return "", mapError(op, err)
	}
	var nodeID string
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&nodeID); err != nil {
		return "", mapError(op, err)
	}
	return nodeID, nil
}

// UpsertEdge inserts an edge; duplicates of (source, target, relation)
// are ignored so re-indexing stays idempotent.
func (s *Store) UpsertEdge(ctx context.Context, tx *sql.Tx, edge EdgeRecord) error {
	const op = "storage.upsert_edge"
	query, args, err := sq.Insert("edges").
		Columns("edge_id", "repository", "source_id", "target_id", "relation", "line").
		Values(edge.EdgeID, edge.Repository, edge.SourceID, edge.TargetID, edge.Relation, edge.Line).
		Suffix("ON CONFLICT (source_id, target_id, relation) DO NOTHING").
		ToSql()
	if err != nil {
		return mapError(op, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return mapError(op, err)
	}
	return nil
}

// UpsertDetailedMetadata stores the full metadata JSON for a node.
func (s *Store) UpsertDetailedMetadata(ctx context.Context, tx *sql.Tx, nodeID, metadata string) error {
	const op = "storage.upsert_detailed_metadata"
	query, args, err := sq.Insert("detailed_metadata").
		Columns("node_id", "metadata").
		Values(nodeID, metadata).
		Suffix("ON CONFLICT (node_id) DO UPDATE SET metadata = excluded.metadata").
		ToSql()
	if err != nil {
		return mapError(op, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return mapError(op, err)
	}
	return nil
}

// ReplaceNodeMetrics writes computed metric rows, overwriting previous
// values per (node, metric).
func (s *Store) ReplaceNodeMetrics(ctx context.Context, tx *sql.Tx, metrics []NodeMetric) error {
	const op = "storage.replace_node_metrics"
	for _, m := range metrics {
		query, args, err := sq.Insert("computed_metrics").
			Columns("node_id", "metric", "value", "computed_at").
			Values(m.NodeID, m.Metric, m.Value, m.ComputedAt).
			Suffix("ON CONFLICT (node_id, metric) DO UPDATE SET value = excluded.value, computed_at = excluded.computed_at").
			ToSql()
		if err != nil {
			return mapError(op, err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return mapError(op, err)
		}
	}
	return nil
}

// EdgeWeight pairs an edge with its computed importance.
type EdgeWeight struct {
	EdgeID     string
	Importance float64
}

// ReplaceEdgeWeights writes edge importance rows.
func (s *Store) ReplaceEdgeWeights(ctx context.Context, tx *sql.Tx, weights []EdgeWeight, computedAt any) error {
	const op = "storage.replace_edge_weights"
	for _, w := range weights {
		query, args, err := sq.Insert("edge_weights").
			Columns("edge_id", "importance", "computed_at").
			Values(w.EdgeID, w.Importance, computedAt).
			Suffix("ON CONFLICT (edge_id) DO UPDATE SET importance = excluded.importance, computed_at = excluded.computed_at").
			ToSql()
		if err != nil {
			return mapError(op, err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return mapError(op, err)
		}
	}
	return nil
}

var nodeColumns = []string{
	"node_id", "repository", "label", "name", "name_path",
	"file_path", "start_line", "end_line", "COALESCE(chunk_id, '')",
}

func scanNode(scanner interface{ Scan(...any) error }) (NodeRecord, error) {
	var n NodeRecord
	err := scanner.Scan(&n.NodeID, &n.Repository, &n.Label, &n.Name, &n.NamePath,
		&n.FilePath, &n.StartLine, &n.EndLine, &n.ChunkID)
	return n, err
}

// GetNode fetches a node by ID.
func (s *Store) GetNode(ctx context.Context, nodeID string) (*NodeRecord, error) {
	const op = "storage.get_node"
	query, args, err := sq.Select(nodeColumns...).From("nodes").Where(sq.Eq{"node_id": nodeID}).ToSql()
	if err != nil {
		return nil, mapError(op, err)
	}
	n, err := scanNode(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, mapError(op, err)
	}
	return &n, nil
}

// FindNodesByName finds nodes in a repository whose name or name path
// matches.
func (s *Store) FindNodesByName(ctx context.Context, repository, name string) ([]NodeRecord, error) {
	const op = "storage.find_nodes"
	query, args, err := sq.Select(nodeColumns...).From("nodes").
		Where(sq.Eq{"repository": repository}).
		Where(sq.Or{sq.Eq{"name": name}, sq.Eq{"name_path": name}}).
		OrderBy("name_path").
		ToSql()
	if err != nil {
		return nil, mapError(op, err)
	}
	return s.queryNodes(ctx, op, query, args)
}

// NodeByChunkID finds the graph node backing a chunk, if any.
func (s *Store) NodeByChunkID(ctx context.Context, chunkID string) (*NodeRecord, error) {
	const op = "storage.node_by_chunk"
	query, args, err := sq.Select(nodeColumns...).From("nodes").
		Where(sq.Eq{"chunk_id": chunkID}).Limit(1).ToSql()
	if err != nil {
		return nil, mapError(op, err)
	}
	n, err := scanNode(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, mapError(op, err)
	}
	return &n, nil
}

// ListNodes returns all nodes of a repository.
func (s *Store) ListNodes(ctx context.Context, repository string) ([]NodeRecord, error) {
	const op = "storage.list_nodes"
	query, args, err := sq.Select(nodeColumns...).From("nodes").
		Where(sq.Eq{"repository": repository}).ToSql()
	if err != nil {
		return nil, mapError(op, err)
	}
	return s.queryNodes(ctx, op, query, args)
}

func (s *Store) queryNodes(ctx context.Context, op, query string, args []any) ([]NodeRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	var nodes []NodeRecord
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// ListEdges returns all edges of a repository, optionally filtered by
// relation.
func (s *Store) ListEdges(ctx context.Context, repository string, relation string) ([]EdgeRecord, error) {
	const op = "storage.list_edges"
	builder := sq.Select("edge_id", "repository", "source_id", "target_id", "relation", "line").
		From("edges").Where(sq.Eq{"repository": repository})
	if relation != "" {
		builder = builder.Where(sq.Eq{"relation": relation})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, mapError(op, err)
	}
	return s.queryEdges(ctx, op, query, args)
}

// EdgeDirection selects which endpoint to expand from.
type EdgeDirection string

const (
	DirectionOutbound EdgeDirection = "outbound"
	DirectionInbound  EdgeDirection = "inbound"
	DirectionBoth     EdgeDirection = "both"
)

// NodeEdges returns the edges touching a node in the given direction,
// optionally filtered to a set of relations.
func (s *Store) NodeEdges(ctx context.Context, nodeID string, direction EdgeDirection, relations []string) ([]EdgeRecord, error) {
	const op = "storage.node_edges"
	builder := sq.Select("edge_id", "repository", "source_id", "target_id", "relation", "line").From("edges")
	switch direction {
	case DirectionOutbound:
		builder = builder.Where(sq.Eq{"source_id": nodeID})
	case DirectionInbound:
		builder = builder.Where(sq.Eq{"target_id": nodeID})
	default:
		builder = builder.Where(sq.Or{sq.Eq{"source_id": nodeID}, sq.Eq{"target_id": nodeID}})
	}
	if len(relations) > 0 {
		builder = builder.Where(sq.Eq{"relation": relations})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, mapError(op, err)
	}
	return s.queryEdges(ctx, op, query, args)
}

func (s *Store) queryEdges(ctx context.Context, op, query string, args []any) ([]EdgeRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	var edges []EdgeRecord
	for rows.Next() {
		var e EdgeRecord
		if err := rows.Scan(&e.EdgeID, &e.Repository, &e.SourceID, &e.TargetID, &e.Relation, &e.Line); err != nil {
			return nil, mapError(op, err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// NodeMetrics returns the computed metrics for a set of nodes, keyed
// by node then metric name.
func (s *Store) NodeMetrics(ctx context.Context, nodeIDs []string) (map[string]map[string]float64, error) {
	const op = "storage.node_metrics"
	if len(nodeIDs) == 0 {
		return map[string]map[string]float64{}, nil
	}
	query, args, err := sq.Select("node_id", "metric", "value").
		From("computed_metrics").Where(sq.Eq{"node_id": nodeIDs}).ToSql()
	if err != nil {
		return nil, mapError(op, err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	metrics := make(map[string]map[string]float64)
	for rows.Next() {
		var nodeID, metric string
		var value float64
		if err := rows.Scan(&nodeID, &metric, &value); err != nil {
			return nil, mapError(op, err)
		}
		if metrics[nodeID] == nil {
			metrics[nodeID] = make(map[string]float64)
		}
		metrics[nodeID][metric] = value
	}
	return metrics, rows.Err()
}

// CountNodes and CountEdges report graph sizes for index summaries.
func (s *Store) CountNodes(ctx context.Context, repository string) (int, error) {
	return s.countWhere(ctx, "nodes", repository)
}

func (s *Store) CountEdges(ctx context.Context, repository string) (int, error) {
	return s.countWhere(ctx, "edges", repository)
}

func (s *Store) countWhere(ctx context.Context, table, repository string) (int, error) {
	builder := sq.Select("COUNT(*)").From(table)
	if repository != "" {
		builder = builder.Where(sq.Eq{"repository": repository})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, mapError("storage.count", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, mapError("storage.count", err)
	}
	return count, nil
}

// nullable maps an empty string to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
