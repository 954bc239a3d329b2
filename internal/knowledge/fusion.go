package knowledge

import (
	"sort"
)

// DefaultRRFConstant RRF平滑常数，压低首位与次位之间的断崖
const DefaultRRFConstant = 60

// FusionRanker 加权倒数排名融合器。
// 融合只看名次不看原始得分，天然解决余弦相似度与BM25量纲不可比的问题。
type FusionRanker struct {
	kConst float64
}

// NewFusionRanker 创建融合器，k非法时回落默认值
func NewFusionRanker(kConst float64) *FusionRanker {
	if kConst <= 0 {
		kConst = DefaultRRFConstant
	}
	return &FusionRanker{kConst: kConst}
}

// Fuse 把向量与关键词两路候选按加权RRF融合为单一排名。
// 权重先归一化到和为1；某一路为空时另一路权重自然占满。
// 贡献公式：weight * 1/(k + rank)，rank为1-based。
// 融合得分相同按chunkID升序，保证结果确定。
func (f *FusionRanker) Fuse(vectorMatches []VectorMatch, keywordMatches []KeywordMatch, vectorWeight, textWeight float64, topK int) []SearchResult {
	vectorWeight, textWeight = normalizeWeights(vectorWeight, textWeight)

	fused := make(map[uint]*SearchResult)

	for i, m := range vectorMatches {
		rank := i + 1
		fused[m.ChunkID] = &SearchResult{
			ChunkID:     m.ChunkID,
			DocumentID:  m.DocumentID,
			Content:     m.Content,
			Score:       vectorWeight / (f.kConst + float64(rank)),
			VectorScore: m.Score,
			VectorRank:  rank,
		}
	}

	for _, m := range keywordMatches {
		rank := m.Rank
		if rank <= 0 {
			continue
		}
		contribution := textWeight / (f.kConst + float64(rank))
		if existing, ok := fused[m.ChunkID]; ok {
			existing.Score += contribution
			existing.BM25Score = m.Score
			existing.TextRank = rank
			existing.TermFrequencies = m.TermFrequencies
			continue
		}
		fused[m.ChunkID] = &SearchResult{
			ChunkID:         m.ChunkID,
			DocumentID:      m.DocumentID,
			Content:         m.Content,
			Score:           contribution,
			BM25Score:       m.Score,
			TextRank:        rank,
			TermFrequencies: m.TermFrequencies,
		}
	}

	results := make([]SearchResult, 0, len(fused))
	for _, r := range fused {
		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ChunkID < results[j].ChunkID
		}
		return results[i].Score > results[j].Score
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// normalizeWeights 把两路权重归一化到和为1；两者都非正时回落各0.5
func normalizeWeights(vectorWeight, textWeight float64) (float64, float64) {
	if vectorWeight < 0 {
		vectorWeight = 0
	}
	if textWeight < 0 {
		textWeight = 0
	}
	sum := vectorWeight + textWeight
	if sum <= 0 {
		return 0.5, 0.5
	}
	return vectorWeight / sum, textWeight / sum
}
