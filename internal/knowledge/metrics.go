package knowledge

import (
	"math"
	"sort"
)

// RelevanceGrades 标注的相关性等级，0表示不相关，越大越相关
type RelevanceGrades map[uint]float64

// MetricsSample 单条查询的评估样本：实际排名与标注真值
type MetricsSample struct {
	Ranked   []uint          // 检索结果的chunkID，按排名顺序
	Relevant RelevanceGrades // 标注真值
}

// QueryMetrics 单条查询的指标
type QueryMetrics struct {
	ReciprocalRank float64 `json:"reciprocal_rank"`
	NDCG5          float64 `json:"ndcg_5"`
	NDCG10         float64 `json:"ndcg_10"`
	Precision5     float64 `json:"precision_5"`
	Precision10    float64 `json:"precision_10"`
	Recall5        float64 `json:"recall_5"`
	Recall10       float64 `json:"recall_10"`
	Hit5           bool    `json:"hit_5"`
	Hit10          bool    `json:"hit_10"`
}

// AggregateMetrics 多条查询的汇总指标（逐指标算术平均）
type AggregateMetrics struct {
	Queries     int     `json:"queries"`
	Failures    int     `json:"failures"` // 执行失败、按零分计入的查询数
	MRR         float64 `json:"mrr"`
	NDCG5       float64 `json:"ndcg_5"`
	NDCG10      float64 `json:"ndcg_10"`
	Precision5  float64 `json:"precision_5"`
	Precision10 float64 `json:"precision_10"`
	Recall5     float64 `json:"recall_5"`
	Recall10    float64 `json:"recall_10"`
	HitRate5    float64 `json:"hit_rate_5"`
	HitRate10   float64 `json:"hit_rate_10"`
}

// ReciprocalRank 第一个相关结果名次的倒数，无相关结果为0
func ReciprocalRank(ranked []uint, relevant RelevanceGrades) float64 {
	for i, id := range ranked {
		if relevant[id] > 0 {
			return 1 / float64(i+1)
		}
	}
	return 0
}

// NDCGAtK 归一化折损累计增益。
// 折损用log2(rank+1)，以同一真值集的理想排列归一化；
// 理想DCG为0（真值全不相关）时返回0。
func NDCGAtK(ranked []uint, relevant RelevanceGrades, k int) float64 {
	if k <= 0 {
		return 0
	}

	dcg := 0.0
	for i, id := range ranked {
		if i >= k {
			break
		}
		if grade := relevant[id]; grade > 0 {
			dcg += grade / math.Log2(float64(i+2))
		}
	}

	grades := make([]float64, 0, len(relevant))
	for _, grade := range relevant {
		if grade > 0 {
			grades = append(grades, grade)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(grades)))

	idcg := 0.0
	for i, grade := range grades {
		if i >= k {
			break
		}
		idcg += grade / math.Log2(float64(i+2))
	}
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

// PrecisionAtK 前k个结果中相关结果的占比（分母恒为k）
func PrecisionAtK(ranked []uint, relevant RelevanceGrades, k int) float64 {
	if k <= 0 {
		return 0
	}
	hits := 0
	for i, id := range ranked {
		if i >= k {
			break
		}
		if relevant[id] > 0 {
			hits++
		}
	}
	return float64(hits) / float64(k)
}

// RecallAtK 前k个结果覆盖的相关结果占全部相关结果的比例；
// 真值无相关结果时返回0
func RecallAtK(ranked []uint, relevant RelevanceGrades, k int) float64 {
	total := 0
	for _, grade := range relevant {
		if grade > 0 {
			total++
		}
	}
	if total == 0 || k <= 0 {
		return 0
	}
	hits := 0
	for i, id := range ranked {
		if i >= k {
			break
		}
		if relevant[id] > 0 {
			hits++
		}
	}
	return float64(hits) / float64(total)
}

// HitAtK 前k个结果是否命中至少一个相关结果
func HitAtK(ranked []uint, relevant RelevanceGrades, k int) bool {
	for i, id := range ranked {
		if i >= k {
			break
		}
		if relevant[id] > 0 {
			return true
		}
	}
	return false
}

// EvaluateQuery 计算单条查询的全部指标
func EvaluateQuery(sample MetricsSample) QueryMetrics {
	return QueryMetrics{
		ReciprocalRank: ReciprocalRank(sample.Ranked, sample.Relevant),
		NDCG5:          NDCGAtK(sample.Ranked, sample.Relevant, 5),
		NDCG10:         NDCGAtK(sample.Ranked, sample.Relevant, 10),
		Precision5:     PrecisionAtK(sample.Ranked, sample.Relevant, 5),
		Precision10:    PrecisionAtK(sample.Ranked, sample.Relevant, 10),
		Recall5:        RecallAtK(sample.Ranked, sample.Relevant, 5),
		Recall10:       RecallAtK(sample.Ranked, sample.Relevant, 10),
		Hit5:           HitAtK(sample.Ranked, sample.Relevant, 5),
		Hit10:          HitAtK(sample.Ranked, sample.Relevant, 10),
	}
}

// Aggregate 汇总多条查询指标。
// failures为执行失败的查询数，按全零样本计入平均，
// 让故障拉低分数而不是被悄悄剔除。
func Aggregate(perQuery []QueryMetrics, failures int) AggregateMetrics {
	total := len(perQuery) + failures
	agg := AggregateMetrics{Queries: total, Failures: failures}
	if total == 0 {
		return agg
	}

	for _, q := range perQuery {
		agg.MRR += q.ReciprocalRank
		agg.NDCG5 += q.NDCG5
		agg.NDCG10 += q.NDCG10
		agg.Precision5 += q.Precision5
		agg.Precision10 += q.Precision10
		agg.Recall5 += q.Recall5
		agg.Recall10 += q.Recall10
		if q.Hit5 {
			agg.HitRate5++
		}
		if q.Hit10 {
			agg.HitRate10++
		}
	}

	n := float64(total)
	agg.MRR /= n
	agg.NDCG5 /= n
	agg.NDCG10 /= n
	agg.Precision5 /= n
	agg.Precision10 /= n
	agg.Recall5 /= n
	agg.Recall10 /= n
	agg.HitRate5 /= n
	agg.HitRate10 /= n
	return agg
}
