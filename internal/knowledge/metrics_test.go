package knowledge

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReciprocalRank(t *testing.T) {
	relevant := RelevanceGrades{3: 1}

	assert.Equal(t, 1.0, ReciprocalRank([]uint{3, 1, 2}, relevant))
	assert.Equal(t, 0.5, ReciprocalRank([]uint{1, 3, 2}, relevant))
	assert.InDelta(t, 1.0/3, ReciprocalRank([]uint{1, 2, 3}, relevant), 1e-12)
	assert.Equal(t, 0.0, ReciprocalRank([]uint{1, 2}, relevant))
	assert.Equal(t, 0.0, ReciprocalRank(nil, relevant))
}

func TestNDCGPerfectRanking(t *testing.T) {
	relevant := RelevanceGrades{1: 3, 2: 2, 3: 1}

	assert.InDelta(t, 1.0, NDCGAtK([]uint{1, 2, 3}, relevant, 5), 1e-12)
}

func TestNDCGImperfectRanking(t *testing.T) {
	relevant := RelevanceGrades{1: 3, 2: 2}

	// 排名颠倒：DCG = 2/log2(2) + 3/log2(3)，IDCG = 3/log2(2) + 2/log2(3)
	dcg := 2/math.Log2(2) + 3/math.Log2(3)
	idcg := 3/math.Log2(2) + 2/math.Log2(3)
	got := NDCGAtK([]uint{2, 1}, relevant, 5)
	assert.InDelta(t, dcg/idcg, got, 1e-12)
	assert.Less(t, got, 1.0)
}

func TestNDCGNoRelevant(t *testing.T) {
	assert.Equal(t, 0.0, NDCGAtK([]uint{1, 2}, RelevanceGrades{}, 5))
	assert.Equal(t, 0.0, NDCGAtK([]uint{1, 2}, RelevanceGrades{9: 1}, 5))
}

func TestPrecisionAtK(t *testing.T) {
	relevant := RelevanceGrades{1: 1, 2: 1}

	// 分母恒为k，结果不足k也不缩小分母
	assert.InDelta(t, 0.4, PrecisionAtK([]uint{1, 2, 3, 4, 5}, relevant, 5), 1e-12)
	assert.InDelta(t, 0.4, PrecisionAtK([]uint{1, 2}, relevant, 5), 1e-12)
	assert.Equal(t, 1.0, PrecisionAtK([]uint{1, 2}, relevant, 2))
	assert.Equal(t, 0.0, PrecisionAtK([]uint{3, 4}, relevant, 2))
}

func TestRecallAtK(t *testing.T) {
	relevant := RelevanceGrades{1: 1, 2: 1, 3: 1, 4: 1}

	assert.InDelta(t, 0.5, RecallAtK([]uint{1, 2, 9, 8, 7}, relevant, 5), 1e-12)
	assert.Equal(t, 1.0, RecallAtK([]uint{1, 2, 3, 4}, relevant, 10))
	assert.Equal(t, 0.0, RecallAtK([]uint{1, 2}, RelevanceGrades{}, 5))
}

func TestHitAtK(t *testing.T) {
	relevant := RelevanceGrades{7: 1}

	assert.True(t, HitAtK([]uint{1, 2, 7}, relevant, 5))
	assert.False(t, HitAtK([]uint{1, 2, 7}, relevant, 2))
	assert.False(t, HitAtK(nil, relevant, 5))
}

func TestAggregateWithFailures(t *testing.T) {
	perQuery := []QueryMetrics{
		{ReciprocalRank: 1.0, NDCG5: 1.0, Precision5: 0.4, Recall5: 1.0, Hit5: true, Hit10: true},
		{ReciprocalRank: 0.5, NDCG5: 0.8, Precision5: 0.2, Recall5: 0.5, Hit5: true, Hit10: true},
	}

	// 1条失败查询按全零样本计入，拉低而不是剔除
	agg := Aggregate(perQuery, 1)
	require.Equal(t, 3, agg.Queries)
	require.Equal(t, 1, agg.Failures)

	assert.InDelta(t, 1.5/3, agg.MRR, 1e-12)
	assert.InDelta(t, 1.8/3, agg.NDCG5, 1e-12)
	assert.InDelta(t, 0.6/3, agg.Precision5, 1e-12)
	assert.InDelta(t, 1.5/3, agg.Recall5, 1e-12)
	assert.InDelta(t, 2.0/3, agg.HitRate5, 1e-12)
}

func TestAggregateEmpty(t *testing.T) {
	agg := Aggregate(nil, 0)
	assert.Equal(t, 0, agg.Queries)
	assert.Equal(t, 0.0, agg.MRR)
}

func TestEvaluateQuery(t *testing.T) {
	sample := MetricsSample{
		Ranked:   []uint{5, 1, 9},
		Relevant: RelevanceGrades{1: 2, 9: 1},
	}

	m := EvaluateQuery(sample)
	assert.Equal(t, 0.5, m.ReciprocalRank)
	assert.True(t, m.Hit5)
	assert.InDelta(t, 2.0/5, m.Precision5, 1e-12)
	assert.Equal(t, 1.0, m.Recall5)
	assert.Greater(t, m.NDCG5, 0.0)
	assert.Less(t, m.NDCG5, 1.0)
}
