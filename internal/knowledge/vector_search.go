package knowledge

import (
	"context"
	"sort"

	"go.uber.org/zap"

	apperrors "github.com/aihub/retrieval-go/internal/errors"
	"github.com/aihub/retrieval-go/internal/logger"
	"github.com/aihub/retrieval-go/internal/models"
	"github.com/aihub/retrieval-go/internal/vectormath"
)

const (
	// subSearchMinCandidates 向量子检索候选条数下限
	subSearchMinCandidates = 100
	// DefaultCandidateWindow 退化扫描与后置过滤的默认候选窗口
	DefaultCandidateWindow = 2000
)

// VectorSearchEngine 向量检索引擎。
// 路径选择在构造时固定：专用向量索引 → 存储原生算子 → 内存退化扫描。
// 三条路径对同一份数据、同一组过滤条件返回一致的相似度口径。
type VectorSearchEngine struct {
	store       ChunkStore
	index       VectorIndex // 可为nil
	window      int         // 退化扫描/后置过滤的候选窗口上限
	nativeStore bool        // 每个存储连接解析一次的能力探测结果
}

// NewVectorSearchEngine 创建向量检索引擎。index可传nil；
// window是退化扫描的候选窗口上限，非正值取默认。
func NewVectorSearchEngine(store ChunkStore, index VectorIndex, window int) *VectorSearchEngine {
	if window <= 0 {
		window = DefaultCandidateWindow
	}
	engine := &VectorSearchEngine{
		store:  store,
		index:  index,
		window: window,
	}
	if store != nil {
		engine.nativeStore = store.SupportsNativeVectorSearch()
	}
	if index != nil && index.Ready() {
		logger.Info("向量检索使用专用索引路径")
	} else if engine.nativeStore {
		logger.Info("向量检索使用存储原生路径")
	} else {
		logger.Info("向量检索使用内存退化路径")
	}
	return engine
}

// Search 以查询向量检索最相似的limit个块，过滤低于threshold的候选。
// 专用索引或原生路径失败时记录降级并落到内存扫描，不让请求失败。
func (e *VectorSearchEngine) Search(ctx context.Context, embedding models.Embedding, filters SearchFilters, limit int, threshold float64) ([]VectorMatch, error) {
	if err := embedding.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	if e.index != nil && e.index.Ready() {
		matches, err := e.searchIndex(ctx, embedding, filters, limit, threshold)
		if err == nil {
			return matches, nil
		}
		logger.Warn("专用向量索引检索失败，降级到存储路径", zap.Error(err))
	}

	if e.nativeStore {
		matches, err := e.store.NativeVectorSearch(ctx, embedding, filters, limit, threshold)
		if err == nil {
			return matches, nil
		}
		logger.Warn("存储原生向量检索失败，降级到内存扫描", zap.Error(err))
	}

	return e.searchFallback(ctx, embedding, filters, limit, threshold)
}

// searchIndex 专用索引路径。索引不存文档元数据，
// 过滤条件通过回查文档后置应用，因此先超量取再过滤。
func (e *VectorSearchEngine) searchIndex(ctx context.Context, embedding models.Embedding, filters SearchFilters, limit int, threshold float64) ([]VectorMatch, error) {
	fetch := limit
	if !filters.IsEmpty() && e.window > fetch {
		fetch = e.window
	}

	matches, err := e.index.Search(ctx, embedding, fetch, threshold)
	if err != nil {
		return nil, err
	}
	if filters.IsEmpty() || len(matches) == 0 {
		return capMatches(matches, limit), nil
	}

	docIDs := make([]uint, 0, len(matches))
	seen := make(map[uint]bool)
	for _, m := range matches {
		if !seen[m.DocumentID] {
			seen[m.DocumentID] = true
			docIDs = append(docIDs, m.DocumentID)
		}
	}
	docs, err := e.store.GetDocuments(ctx, docIDs)
	if err != nil {
		return nil, err
	}

	filtered := matches[:0]
	for _, m := range matches {
		if filters.Match(docs[m.DocumentID]) {
			filtered = append(filtered, m)
		}
	}
	return capMatches(filtered, limit), nil
}

// searchFallback 内存退化路径：取最近的一窗候选，在进程内算余弦。
// 窗口有界以保护内存。
func (e *VectorSearchEngine) searchFallback(ctx context.Context, embedding models.Embedding, filters SearchFilters, limit int, threshold float64) ([]VectorMatch, error) {
	window := e.window
	if window < limit {
		window = limit
	}
	candidates, err := e.store.ListCandidates(ctx, embedding.Dimension, filters, window)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError(err)
	}

	var matches []VectorMatch
	for _, chunk := range candidates {
		if !chunk.HasEmbedding() || chunk.Embedding.Dimension != embedding.Dimension {
			continue
		}
		score, err := vectormath.CosineSimilarity(embedding.Values, chunk.Embedding.Values)
		if err != nil {
			continue
		}
		if score < threshold {
			continue
		}
		matches = append(matches, VectorMatch{
			ChunkID:    chunk.ChunkID,
			DocumentID: chunk.DocumentID,
			Content:    chunk.Content,
			Score:      score,
		})
	}

	sortMatchesByScore(matches)
	return capMatches(matches, limit), nil
}

// candidateWindow 向量子检索的候选条数上限：max(limit*10, 100)。
// 融合靠子排名深度打分，候选取得太浅会把边界候选挡在融合之外。
func candidateWindow(limit int) int {
	window := limit * 10
	if window < subSearchMinCandidates {
		window = subSearchMinCandidates
	}
	return window
}

// sortMatchesByScore 相似度降序，同分按chunkID升序
func sortMatchesByScore(matches []VectorMatch) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ChunkID < matches[j].ChunkID
		}
		return matches[i].Score > matches[j].Score
	})
}

func capMatches(matches []VectorMatch, limit int) []VectorMatch {
	if len(matches) > limit {
		return matches[:limit]
	}
	return matches
}
