package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseRRFCrossRankedLists(t *testing.T) {
	// C sits at rank 2 in both lists; A and B each lead one list.
	lexical := []LexicalEntry{{ChunkID: "A", Score: 0.9}, {ChunkID: "C", Score: 0.8}}
	vec := []VectorEntry{{ChunkID: "B", Distance: 0.1}, {ChunkID: "C", Distance: 0.2}}

	fused := FuseRRF(lexical, vec, 0.5, 0.5, 60)
	require.Len(t, fused, 3)

	// C's two rank-2 contributions beat a single rank-1 contribution.
	assert.Equal(t, "C", fused[0].ChunkID)
	assert.InDelta(t, 0.5/62+0.5/62, fused[0].Score, 1e-12)

	// A and B tie on fused score; the lexical score breaks the tie.
	assert.Equal(t, "A", fused[1].ChunkID)
	assert.Equal(t, "B", fused[2].ChunkID)
	assert.InDelta(t, 0.5/61, fused[1].Score, 1e-12)
	assert.InDelta(t, fused[1].Score, fused[2].Score, 1e-12)
}

func TestFuseRRFWeights(t *testing.T) {
	lexical := []LexicalEntry{{ChunkID: "L", Score: 1}}
	vec := []VectorEntry{{ChunkID: "V", Distance: 0}}

	// Vector-heavy weights rank the vector leg's winner first.
	fused := FuseRRF(lexical, vec, 0.4, 0.6, 60)
	require.Len(t, fused, 2)
	assert.Equal(t, "V", fused[0].ChunkID)
	assert.InDelta(t, 0.6/61, fused[0].Score, 1e-12)
	assert.InDelta(t, 0.4/61, fused[1].Score, 1e-12)
}

func TestFuseRRFRanksAndFlags(t *testing.T) {
	lexical := []LexicalEntry{{ChunkID: "X", Score: 0.7}}
	vec := []VectorEntry{{ChunkID: "X", Distance: 0.3}}

	fused := FuseRRF(lexical, vec, 0.5, 0.5, 60)
	require.Len(t, fused, 1)
	x := fused[0]
	assert.True(t, x.HasLexical)
	assert.True(t, x.HasVector)
	assert.Equal(t, 1, x.LexicalRank)
	assert.Equal(t, 1, x.VectorRank)
	assert.InDelta(t, 0.7, x.LexicalScore, 1e-12)
	assert.InDelta(t, 0.3, x.VectorDistance, 1e-12)
}

func TestFuseRRFIsDeterministic(t *testing.T) {
	lexical := []LexicalEntry{{ChunkID: "A", Score: 0.9}, {ChunkID: "C", Score: 0.8}}
	vec := []VectorEntry{{ChunkID: "B", Distance: 0.1}, {ChunkID: "C", Distance: 0.2}}

	first := FuseRRF(lexical, vec, 0.4, 0.6, 60)
	for i := 0; i < 10; i++ {
		again := FuseRRF(lexical, vec, 0.4, 0.6, 60)
		assert.Equal(t, first, again)
	}
}

func TestFuseRRFEmptyLegs(t *testing.T) {
	assert.Empty(t, FuseRRF(nil, nil, 0.4, 0.6, 60))

	fused := FuseRRF([]LexicalEntry{{ChunkID: "only", Score: 0.2}}, nil, 0.4, 0.6, 60)
	require.Len(t, fused, 1)
	assert.Equal(t, "only", fused[0].ChunkID)
	assert.False(t, fused[0].HasVector)
}
