package search

import "sort"

// DefaultRRFK is the rank-smoothing constant of reciprocal rank
// fusion. Larger values flatten the contribution curve across ranks.
const DefaultRRFK = 60

// LexicalEntry is one ranked lexical candidate (rank = slice order).
type LexicalEntry struct {
	ChunkID string
	Score   float64
}

// VectorEntry is one ranked vector candidate (rank = slice order).
type VectorEntry struct {
	ChunkID  string
	Distance float64
}

// FusedResult is a candidate after rank fusion.
type FusedResult struct {
	ChunkID        string
	Score          float64
	LexicalScore   float64
	VectorDistance float64
	HasLexical     bool
	HasVector      bool
	LexicalRank    int
	VectorRank     int
}

// FuseRRF merges the two ranked lists with weighted reciprocal rank
// fusion: each list contributes weight/(k+rank) for the candidates it
// holds. Ordering is fused score descending; exact ties fall back to
// lexical score descending, then vector distance ascending, then
// chunk ID, so results are deterministic across runs.
func FuseRRF(lexical []LexicalEntry, vector []VectorEntry, lexicalWeight, vectorWeight float64, k int) []FusedResult {
	if k <= 0 {
		k = DefaultRRFK
	}
	fused := make(map[string]*FusedResult, len(lexical)+len(vector))

	for i, entry := range lexical {
		rank := i + 1
		fused[entry.ChunkID] = &FusedResult{
			ChunkID:      entry.ChunkID,
			Score:        lexicalWeight / float64(k+rank),
			LexicalScore: entry.Score,
			HasLexical:   true,
			LexicalRank:  rank,
		}
	}
	for i, entry := range vector {
		rank := i + 1
		r, ok := fused[entry.ChunkID]
		if !ok {
			r = &FusedResult{ChunkID: entry.ChunkID}
			fused[entry.ChunkID] = r
		}
		r.Score += vectorWeight / float64(k+rank)
		r.VectorDistance = entry.Distance
		r.HasVector = true
		r.VectorRank = rank
	}

	results := make([]FusedResult, 0, len(fused))
	for _, r := range fused {
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.LexicalScore != b.LexicalScore {
			return a.LexicalScore > b.LexicalScore
		}
		if a.HasVector != b.HasVector {
			return a.HasVector
		}
		if a.HasVector && b.HasVector && a.VectorDistance != b.VectorDistance {
			return a.VectorDistance < b.VectorDistance
		}
		return a.ChunkID < b.ChunkID
	})
	return results
}
