package services

import (
	"context"
	"math"

	"go.uber.org/zap"

	apperrors "github.com/aihub/retrieval-go/internal/errors"
	"github.com/aihub/retrieval-go/internal/knowledge"
	"github.com/aihub/retrieval-go/internal/logger"
	"github.com/aihub/retrieval-go/internal/repository"
)

// GoldenSource 标注集来源
type GoldenSource interface {
	ListSamples(ctx context.Context) ([]repository.GoldenSample, int, error)
}

// EvaluationReport 一次离线评估的完整报告
type EvaluationReport struct {
	Metrics  knowledge.AggregateMetrics `json:"metrics"`
	PerQuery []QueryReport              `json:"per_query,omitempty"`
	Skipped  int                        `json:"skipped"` // 标注解析失败被跳过的条数
}

// QueryReport 单条查询的评估明细
type QueryReport struct {
	GoldenID uint                   `json:"golden_id"`
	Query    string                 `json:"query"`
	Failed   bool                   `json:"failed"`
	Metrics  knowledge.QueryMetrics `json:"metrics"`
}

// MetricDelta 单个指标在两份配置间的变化
type MetricDelta struct {
	Baseline    float64 `json:"baseline"`
	Candidate   float64 `json:"candidate"`
	ImprovePct  float64 `json:"improve_pct"`
	Significant bool    `json:"significant"`
}

// ComparisonReport 两份检索配置的对比报告
type ComparisonReport struct {
	Queries int                    `json:"queries"`
	Deltas  map[string]MetricDelta `json:"deltas"` // 指标名 → 变化
}

// EvaluationService 基于标注集的离线检索质量评估
type EvaluationService struct {
	engine *knowledge.SearchEngine
	golden GoldenSource
}

// NewEvaluationService 创建评估服务
func NewEvaluationService(engine *knowledge.SearchEngine, golden GoldenSource) *EvaluationService {
	return &EvaluationService{engine: engine, golden: golden}
}

// Run 用给定检索选项跑完整个标注集。
// 单条查询失败不会中止评估，按全零样本计入汇总，拉低总分。
func (s *EvaluationService) Run(ctx context.Context, opts knowledge.SearchOptions, includeDetails bool) (*EvaluationReport, error) {
	samples, skipped, err := s.golden.ListSamples(ctx)
	if err != nil {
		evaluationRunsCounter.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(samples) == 0 {
		return nil, apperrors.NewInvalidInputError("golden_set", "must not be empty")
	}

	report := &EvaluationReport{Skipped: skipped}
	var perQuery []knowledge.QueryMetrics
	failures := 0

	for _, sample := range samples {
		results, err := s.engine.Search(ctx, sample.Query, opts)
		if err != nil {
			failures++
			logger.Warn("评估查询执行失败，按零分计入",
				zap.Uint("golden_id", sample.GoldenID), zap.Error(err))
			if includeDetails {
				report.PerQuery = append(report.PerQuery, QueryReport{
					GoldenID: sample.GoldenID,
					Query:    sample.Query,
					Failed:   true,
				})
			}
			continue
		}

		ranked := make([]uint, len(results))
		for i, r := range results {
			ranked[i] = r.ChunkID
		}
		metrics := knowledge.EvaluateQuery(knowledge.MetricsSample{
			Ranked:   ranked,
			Relevant: sample.Relevant,
		})
		perQuery = append(perQuery, metrics)
		if includeDetails {
			report.PerQuery = append(report.PerQuery, QueryReport{
				GoldenID: sample.GoldenID,
				Query:    sample.Query,
				Metrics:  metrics,
			})
		}
	}

	report.Metrics = knowledge.Aggregate(perQuery, failures)
	evaluationRunsCounter.WithLabelValues("ok").Inc()
	logger.Info("离线评估完成",
		zap.Int("queries", report.Metrics.Queries),
		zap.Int("failures", report.Metrics.Failures),
		zap.Float64("mrr", report.Metrics.MRR),
		zap.Float64("ndcg_10", report.Metrics.NDCG10))
	return report, nil
}

// Compare 对比基线与候选两份检索配置。
// 显著性用逐查询配对差的简化检验：均值差超过两倍标准误即标记显著。
func (s *EvaluationService) Compare(ctx context.Context, baseline, candidate knowledge.SearchOptions) (*ComparisonReport, error) {
	samples, _, err := s.golden.ListSamples(ctx)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, apperrors.NewInvalidInputError("golden_set", "must not be empty")
	}

	type paired struct {
		base, cand knowledge.QueryMetrics
	}
	var pairs []paired

	for _, sample := range samples {
		baseMetrics, baseOK := s.runOne(ctx, sample, baseline)
		candMetrics, candOK := s.runOne(ctx, sample, candidate)
		// 任一侧失败该样本两侧都按零分配对，保持可比
		if !baseOK {
			baseMetrics = knowledge.QueryMetrics{}
		}
		if !candOK {
			candMetrics = knowledge.QueryMetrics{}
		}
		pairs = append(pairs, paired{base: baseMetrics, cand: candMetrics})
	}

	extract := map[string]func(knowledge.QueryMetrics) float64{
		"mrr":          func(m knowledge.QueryMetrics) float64 { return m.ReciprocalRank },
		"ndcg_5":       func(m knowledge.QueryMetrics) float64 { return m.NDCG5 },
		"ndcg_10":      func(m knowledge.QueryMetrics) float64 { return m.NDCG10 },
		"precision_5":  func(m knowledge.QueryMetrics) float64 { return m.Precision5 },
		"precision_10": func(m knowledge.QueryMetrics) float64 { return m.Precision10 },
		"recall_5":     func(m knowledge.QueryMetrics) float64 { return m.Recall5 },
		"recall_10":    func(m knowledge.QueryMetrics) float64 { return m.Recall10 },
	}

	report := &ComparisonReport{
		Queries: len(pairs),
		Deltas:  make(map[string]MetricDelta, len(extract)),
	}
	for name, fn := range extract {
		diffs := make([]float64, len(pairs))
		var baseSum, candSum float64
		for i, p := range pairs {
			b, c := fn(p.base), fn(p.cand)
			baseSum += b
			candSum += c
			diffs[i] = c - b
		}
		n := float64(len(pairs))
		baseMean := baseSum / n
		candMean := candSum / n

		delta := MetricDelta{Baseline: baseMean, Candidate: candMean}
		if baseMean > 0 {
			delta.ImprovePct = (candMean - baseMean) / baseMean * 100
		}
		delta.Significant = isSignificant(diffs)
		report.Deltas[name] = delta
	}
	return report, nil
}

func (s *EvaluationService) runOne(ctx context.Context, sample repository.GoldenSample, opts knowledge.SearchOptions) (knowledge.QueryMetrics, bool) {
	results, err := s.engine.Search(ctx, sample.Query, opts)
	if err != nil {
		return knowledge.QueryMetrics{}, false
	}
	ranked := make([]uint, len(results))
	for i, r := range results {
		ranked[i] = r.ChunkID
	}
	return knowledge.EvaluateQuery(knowledge.MetricsSample{
		Ranked:   ranked,
		Relevant: sample.Relevant,
	}), true
}

// isSignificant 配对差均值是否超过两倍标准误
func isSignificant(diffs []float64) bool {
	n := float64(len(diffs))
	if n < 2 {
		return false
	}
	var sum float64
	for _, d := range diffs {
		sum += d
	}
	mean := sum / n

	var variance float64
	for _, d := range diffs {
		variance += (d - mean) * (d - mean)
	}
	variance /= n - 1
	stderr := math.Sqrt(variance / n)
	if stderr == 0 {
		return mean != 0
	}
	return math.Abs(mean) > 2*stderr
}
