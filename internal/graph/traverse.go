package graph

import (
	"context"

	merrors "github.com/mnemo-labs/mnemolite/internal/errors"
	"github.com/mnemo-labs/mnemolite/internal/storage"
)

// Depth caps. Traversal fans out fast; these bound worst-case work.
const (
	MaxTraverseDepth = 10
	MaxPathDepth     = 20
	DefaultDepth     = 2
)

// TraverseOptions shapes a breadth-first expansion.
type TraverseOptions struct {
	Direction storage.EdgeDirection
	Relations []string
	MaxDepth  int
}

// Visited is one node reached by a traversal.
type Visited struct {
	Node    storage.NodeRecord
	Depth   int
	Via     string // relation of the edge that reached the node
	Metrics map[string]float64
}

// Traverse expands breadth-first from a start node, visiting each node
// once. The start node itself is depth 0; MaxDepth 0 therefore returns
// only the start node.
func Traverse(ctx context.Context, store *storage.Store, startID string, opts TraverseOptions) ([]Visited, error) {
	const op = "graph.traverse"
	if opts.MaxDepth < 0 || opts.MaxDepth > MaxTraverseDepth {
		return nil, merrors.E(merrors.KindInvalidArgument, op, "max_depth %d out of range [0, %d]", opts.MaxDepth, MaxTraverseDepth)
	}
	if opts.Direction == "" {
		opts.Direction = storage.DirectionOutbound
	}

	start, err := store.GetNode(ctx, startID)
	if err != nil {
		return nil, err
	}

	visited := []Visited{{Node: *start, Depth: 0}}
	seen := map[string]bool{start.NodeID: true}
	frontier := []string{start.NodeID}

	for depth := 1; depth <= opts.MaxDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next []string
		for _, nodeID := range frontier {
			edges, err := store.NodeEdges(ctx, nodeID, opts.Direction, opts.Relations)
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				neighborID := edge.TargetID
				if neighborID == nodeID {
					neighborID = edge.SourceID
				}
				if seen[neighborID] {
					continue
				}
				seen[neighborID] = true
				neighbor, err := store.GetNode(ctx, neighborID)
				if err != nil {
					return nil, err
				}
				visited = append(visited, Visited{Node: *neighbor, Depth: depth, Via: edge.Relation})
				next = append(next, neighborID)
			}
		}
		frontier = next
	}

	ids := make([]string, len(visited))
	for i, v := range visited {
		ids[i] = v.Node.NodeID
	}
	metrics, err := store.NodeMetrics(ctx, ids)
	if err == nil {
		for i := range visited {
			visited[i].Metrics = metrics[visited[i].Node.NodeID]
		}
	}
	return visited, nil
}

// FindPath returns the shortest node path between two nodes following
// edges in either direction, or nil when none exists within maxDepth.
func FindPath(ctx context.Context, store *storage.Store, fromID, toID string, maxDepth int) ([]storage.NodeRecord, error) {
	const op = "graph.find_path"
	if maxDepth == 0 {
		maxDepth = MaxPathDepth
	}
	if maxDepth < 1 || maxDepth > MaxPathDepth {
		return nil, merrors.E(merrors.KindInvalidArgument, op, "max_depth %d out of range [1, %d]", maxDepth, MaxPathDepth)
	}

	from, err := store.GetNode(ctx, fromID)
	if err != nil {
		return nil, err
	}
	if _, err := store.GetNode(ctx, toID); err != nil {
		return nil, err
	}
	if fromID == toID {
		return []storage.NodeRecord{*from}, nil
	}

	parent := map[string]string{fromID: ""}
	frontier := []string{fromID}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next []string
		for _, nodeID := range frontier {
			edges, err := store.NodeEdges(ctx, nodeID, storage.DirectionBoth, nil)
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				neighborID := edge.TargetID
				if neighborID == nodeID {
					neighborID = edge.SourceID
				}
				if _, ok := parent[neighborID]; ok {
					continue
				}
				parent[neighborID] = nodeID
				if neighborID == toID {
					return materializePath(ctx, store, parent, toID)
				}
				next = append(next, neighborID)
			}
		}
		frontier = next
	}
	return nil, nil
}

func materializePath(ctx context.Context, store *storage.Store, parent map[string]string, toID string) ([]storage.NodeRecord, error) {
	var ids []string
	for id := toID; id != ""; id = parent[id] {
		ids = append([]string{id}, ids...)
	}
	path := make([]storage.NodeRecord, 0, len(ids))
	for _, id := range ids {
		node, err := store.GetNode(ctx, id)
		if err != nil {
			return nil, err
		}
		path = append(path, *node)
	}
	return path, nil
}
