package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseCombinesBothBranches(t *testing.T) {
	f := NewFusionRanker(60)

	vector := []VectorMatch{
		{ChunkID: 1, DocumentID: 1, Content: "a", Score: 0.95},
		{ChunkID: 2, DocumentID: 1, Content: "b", Score: 0.80},
	}
	keyword := []KeywordMatch{
		{ChunkID: 2, DocumentID: 1, Content: "b", Score: 7.1, Rank: 1},
		{ChunkID: 3, DocumentID: 2, Content: "c", Score: 3.4, Rank: 2},
	}

	results := f.Fuse(vector, keyword, 0.5, 0.5, 10)
	require.Len(t, results, 3)

	// 块2在两路都出现，融合分最高
	assert.Equal(t, uint(2), results[0].ChunkID)
	expected := 0.5/(60+2) + 0.5/(60+1)
	assert.InDelta(t, expected, results[0].Score, 1e-12)

	assert.Equal(t, 2, results[0].VectorRank)
	assert.Equal(t, 1, results[0].TextRank)
	assert.InDelta(t, 0.80, results[0].VectorScore, 1e-12)
	assert.InDelta(t, 7.1, results[0].BM25Score, 1e-12)
}

func TestFuseWeightsNormalized(t *testing.T) {
	f := NewFusionRanker(60)

	vector := []VectorMatch{{ChunkID: 1, Score: 0.9}}
	keyword := []KeywordMatch{{ChunkID: 2, Score: 5.0, Rank: 1}}

	// 权重3:1归一化为0.75:0.25
	results := f.Fuse(vector, keyword, 3, 1, 10)
	require.Len(t, results, 2)

	assert.Equal(t, uint(1), results[0].ChunkID)
	assert.InDelta(t, 0.75/(60+1), results[0].Score, 1e-12)
	assert.InDelta(t, 0.25/(60+1), results[1].Score, 1e-12)
}

func TestFuseSingleBranch(t *testing.T) {
	f := NewFusionRanker(60)

	vector := []VectorMatch{
		{ChunkID: 1, Score: 0.9},
		{ChunkID: 2, Score: 0.7},
	}

	// 关键词路为空：向量路独占排名
	results := f.Fuse(vector, nil, 0.5, 0.5, 10)
	require.Len(t, results, 2)
	assert.Equal(t, uint(1), results[0].ChunkID)
	assert.Equal(t, uint(2), results[1].ChunkID)

	// 向量路为空：纯关键词排名
	keyword := []KeywordMatch{
		{ChunkID: 5, Score: 4.2, Rank: 1},
		{ChunkID: 6, Score: 2.0, Rank: 2},
	}
	results = f.Fuse(nil, keyword, 0.5, 0.5, 10)
	require.Len(t, results, 2)
	assert.Equal(t, uint(5), results[0].ChunkID)
}

func TestFuseDeterministicTieBreak(t *testing.T) {
	f := NewFusionRanker(60)

	// 名次对称的两块融合分相同，按chunkID升序
	vector := []VectorMatch{
		{ChunkID: 9, Score: 0.9},
		{ChunkID: 4, Score: 0.8},
	}
	keyword := []KeywordMatch{
		{ChunkID: 4, Score: 5.0, Rank: 1},
		{ChunkID: 9, Score: 3.0, Rank: 2},
	}

	results := f.Fuse(vector, keyword, 0.5, 0.5, 10)
	require.Len(t, results, 2)
	assert.InDelta(t, results[0].Score, results[1].Score, 1e-12)
	assert.Equal(t, uint(4), results[0].ChunkID)
	assert.Equal(t, uint(9), results[1].ChunkID)
}

func TestFuseTopKTruncation(t *testing.T) {
	f := NewFusionRanker(60)

	var vector []VectorMatch
	for i := uint(1); i <= 30; i++ {
		vector = append(vector, VectorMatch{ChunkID: i, Score: 1 - float64(i)*0.01})
	}

	results := f.Fuse(vector, nil, 1, 0, 10)
	assert.Len(t, results, 10)
	assert.Equal(t, uint(1), results[0].ChunkID)
}

func TestFuseZeroWeightsFallBack(t *testing.T) {
	f := NewFusionRanker(0) // 非法k回落60

	vector := []VectorMatch{{ChunkID: 1, Score: 0.9}}
	results := f.Fuse(vector, nil, 0, 0, 10)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.5/(60+1), results[0].Score, 1e-12)
}

func TestFuseRRFRewardsConsensus(t *testing.T) {
	f := NewFusionRanker(60)

	// 块1在两路均为第2名，块2与块3各在一路为第1名。
	// RRF下双路共识应胜过单路第一。
	vector := []VectorMatch{
		{ChunkID: 2, Score: 0.99},
		{ChunkID: 1, Score: 0.90},
	}
	keyword := []KeywordMatch{
		{ChunkID: 3, Score: 9.0, Rank: 1},
		{ChunkID: 1, Score: 5.0, Rank: 2},
	}

	results := f.Fuse(vector, keyword, 0.5, 0.5, 10)
	require.Len(t, results, 3)
	assert.Equal(t, uint(1), results[0].ChunkID)
}
