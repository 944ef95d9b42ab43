package graph

import (
	"context"
	"database/sql"
	"math"
	"time"

	dgraph "github.com/dominikbraun/graph"

	"github.com/mnemo-labs/mnemolite/internal/storage"
)

// PageRank parameters. Iteration stops when the total rank movement
// drops below the tolerance or the iteration cap is reached.
const (
	pageRankDamping   = 0.85
	pageRankTolerance = 1e-6
	pageRankMaxIters  = 100
)

// ComputeMetrics derives per-node coupling and PageRank for one
// repository and persists them, along with per-edge importance for
// call edges. Runs serially after graph construction.
func ComputeMetrics(ctx context.Context, store *storage.Store, repository string) error {
	nodes, err := store.ListNodes(ctx, repository)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return nil
	}
	edges, err := store.ListEdges(ctx, repository, "")
	if err != nil {
		return err
	}

	inDegree := make(map[string]int, len(nodes))
	outDegree := make(map[string]int, len(nodes))
	var callEdges []storage.EdgeRecord
	for _, e := range edges {
		if e.Relation == storage.EdgeContains {
			continue
		}
		outDegree[e.SourceID]++
		inDegree[e.TargetID]++
		if e.Relation == storage.EdgeCalls {
			callEdges = append(callEdges, e)
		}
	}

	ranks := pageRank(nodes, callEdges)
	now := time.Now().UTC()

	metrics := make([]storage.NodeMetric, 0, len(nodes)*3)
	for _, n := range nodes {
		metrics = append(metrics,
			storage.NodeMetric{NodeID: n.NodeID, Metric: storage.MetricPageRank, Value: ranks[n.NodeID], ComputedAt: now},
			storage.NodeMetric{NodeID: n.NodeID, Metric: storage.MetricCouplingIn, Value: float64(inDegree[n.NodeID]), ComputedAt: now},
			storage.NodeMetric{NodeID: n.NodeID, Metric: storage.MetricCouplingOut, Value: float64(outDegree[n.NodeID]), ComputedAt: now},
		)
	}

	// A call edge between two high-rank nodes matters more than one in
	// the periphery.
	weights := make([]storage.EdgeWeight, 0, len(callEdges))
	for _, e := range callEdges {
		weights = append(weights, storage.EdgeWeight{
			EdgeID:     e.EdgeID,
			Importance: (ranks[e.SourceID] + ranks[e.TargetID]) / 2,
		})
	}

	return store.InTransaction(ctx, func(tx *sql.Tx) error {
		if err := store.ReplaceNodeMetrics(ctx, tx, metrics); err != nil {
			return err
		}
		return store.ReplaceEdgeWeights(ctx, tx, weights, now)
	})
}

// pageRank runs power iteration over the calls subgraph. The graph
// library holds the adjacency; dangling nodes distribute their rank
// uniformly.
func pageRank(nodes []storage.NodeRecord, callEdges []storage.EdgeRecord) map[string]float64 {
	g := dgraph.New(dgraph.StringHash, dgraph.Directed())
	for _, n := range nodes {
		_ = g.AddVertex(n.NodeID)
	}
	for _, e := range callEdges {
		_ = g.AddEdge(e.SourceID, e.TargetID)
	}
	adjacency, err := g.AdjacencyMap()
	if err != nil || len(adjacency) == 0 {
		return map[string]float64{}
	}

	n := float64(len(nodes))
	ranks := make(map[string]float64, len(nodes))
	for _, node := range nodes {
		ranks[node.NodeID] = 1 / n
	}

	for iter := 0; iter < pageRankMaxIters; iter++ {
		next := make(map[string]float64, len(ranks))
		dangling := 0.0
		for id := range ranks {
			next[id] = (1 - pageRankDamping) / n
		}
		for id, rank := range ranks {
			targets := adjacency[id]
			if len(targets) == 0 {
				dangling += rank
				continue
			}
			share := pageRankDamping * rank / float64(len(targets))
			for target := range targets {
				next[target] += share
			}
		}
		if dangling > 0 {
			share := pageRankDamping * dangling / n
			for id := range next {
				next[id] += share
			}
		}

		delta := 0.0
		for id := range ranks {
			delta += math.Abs(next[id] - ranks[id])
		}
		ranks = next
		if delta < pageRankTolerance {
			break
		}
	}
	return ranks
}
