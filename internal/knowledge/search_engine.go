package knowledge

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/aihub/retrieval-go/internal/errors"
	"github.com/aihub/retrieval-go/internal/logger"
	"github.com/aihub/retrieval-go/internal/models"
)

// DefaultMaxTopK 单次检索返回条数上限默认值
const DefaultMaxTopK = 100

// SearchEngine 混合检索引擎：向量召回与BM25召回并行执行，
// 结果经加权RRF融合。任一路失败降级为单路检索，两路全失败才上报。
type SearchEngine struct {
	embedder Embedder
	vectors  *VectorSearchEngine
	keywords KeywordSearcher
	fusion   *FusionRanker
	store    ChunkStore
	maxTopK  int
}

// NewSearchEngine 创建混合检索引擎。maxTopK非正值取默认上限。
func NewSearchEngine(embedder Embedder, vectors *VectorSearchEngine, keywords KeywordSearcher, fusion *FusionRanker, store ChunkStore, maxTopK int) *SearchEngine {
	if embedder == nil {
		embedder = &NoopEmbedder{}
	}
	if keywords == nil {
		keywords = &NoopKeywordSearcher{}
	}
	if fusion == nil {
		fusion = NewFusionRanker(DefaultRRFConstant)
	}
	if maxTopK <= 0 {
		maxTopK = DefaultMaxTopK
	}
	return &SearchEngine{
		embedder: embedder,
		vectors:  vectors,
		keywords: keywords,
		fusion:   fusion,
		store:    store,
		maxTopK:  maxTopK,
	}
}

// Search 执行一次混合检索。
// 向量化失败时降级为纯关键词检索；关键词路失败时降级为纯向量检索；
// 存储不可用导致两路都拿不到结果时返回错误。
func (e *SearchEngine) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.NewInvalidInputError("query", "must not be empty")
	}
	if err := e.normalizeOptions(&opts); err != nil {
		return nil, err
	}

	var embedding models.Embedding
	if opts.VectorWeight > 0 {
		var err error
		embedding, err = e.embedder.Embed(ctx, query)
		if err != nil {
			// 向量化失败属于依赖降级，不让整次查询失败
			logger.Warn("查询向量化失败，降级为关键词检索", zap.Error(err))
			embedding = models.Embedding{}
		}
	}
	return e.SearchEmbedded(ctx, query, embedding, opts)
}

// SearchEmbedded 以已算好的查询向量执行混合检索，供调用方复用向量
// （如语义缓存先行向量化的场景）。embedding为零值时跳过向量路。
func (e *SearchEngine) SearchEmbedded(ctx context.Context, query string, embedding models.Embedding, opts SearchOptions) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.NewInvalidInputError("query", "must not be empty")
	}
	if err := e.normalizeOptions(&opts); err != nil {
		return nil, err
	}

	// 每路取 max(TopK*10, 100) 个候选再融合：RRF按子排名深度打分，
	// 候选取得太浅会让深排名候选完全失去该路的贡献
	fetchLimit := candidateWindow(opts.TopK)

	var (
		vectorMatches  []VectorMatch
		keywordMatches []KeywordMatch
		vectorErr      error
	)

	g, gctx := errgroup.WithContext(ctx)

	if opts.VectorWeight > 0 && !embedding.IsZero() {
		g.Go(func() error {
			matches, err := e.vectors.Search(gctx, embedding, opts.Filters, fetchLimit, opts.MinSimilarity)
			if err != nil {
				vectorErr = err
				logger.Warn("向量检索失败", zap.Error(err))
				return nil
			}
			vectorMatches = matches
			return nil
		})
	}

	if opts.EnableBM25 && opts.TextWeight > 0 && e.keywords.Ready() {
		g.Go(func() error {
			matches, err := e.keywords.Search(gctx, query, opts.Filters, fetchLimit)
			if err != nil {
				logger.Warn("关键词检索失败，降级为向量检索", zap.Error(err))
				return nil
			}
			keywordMatches = matches
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 两路都空且向量路死于存储故障：没有任何可用结果，必须上报
	if len(vectorMatches) == 0 && len(keywordMatches) == 0 {
		if vectorErr != nil && apperrors.IsStoreUnavailable(vectorErr) {
			return nil, vectorErr
		}
		return []SearchResult{}, nil
	}

	results := e.fusion.Fuse(vectorMatches, keywordMatches, opts.VectorWeight, opts.TextWeight, opts.TopK)
	e.hydrate(ctx, results)

	logger.Debug("混合检索完成",
		zap.Int("vector_candidates", len(vectorMatches)),
		zap.Int("keyword_candidates", len(keywordMatches)),
		zap.Int("results", len(results)))
	return results, nil
}

// hydrate 为最终结果补全章节标题等展示字段；失败只降级不报错
func (e *SearchEngine) hydrate(ctx context.Context, results []SearchResult) {
	if e.store == nil || len(results) == 0 {
		return
	}
	ids := make([]uint, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	chunks, err := e.store.GetChunks(ctx, ids)
	if err != nil {
		logger.Warn("结果元数据补全失败", zap.Error(err))
		return
	}
	byID := make(map[uint]*models.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ChunkID] = c
	}
	for i := range results {
		if c, ok := byID[results[i].ChunkID]; ok {
			results[i].SectionTitle = c.SectionTitle
			if results[i].Content == "" {
				results[i].Content = c.Content
			}
		}
	}
}

// IndexChunk 把分块同时写入关键词索引（向量写入在存储层完成）
func (e *SearchEngine) IndexChunk(ctx context.Context, chunk *models.Chunk, doc *models.Document) error {
	return e.keywords.Index(ctx, chunk, doc)
}

// RemoveChunk 从关键词索引移除分块
func (e *SearchEngine) RemoveChunk(ctx context.Context, chunkID uint) error {
	return e.keywords.Remove(ctx, chunkID)
}

// normalizeOptions 校验并规整检索选项
func (e *SearchEngine) normalizeOptions(opts *SearchOptions) error {
	if opts.TopK <= 0 {
		opts.TopK = DefaultSearchOptions().TopK
	}
	if opts.TopK > e.maxTopK {
		return apperrors.NewInvalidInputError("top_k", fmt.Sprintf("must not exceed %d", e.maxTopK))
	}
	if opts.MinSimilarity < 0 || opts.MinSimilarity > 1 {
		return apperrors.NewInvalidInputError("min_similarity", "must be within [0, 1]")
	}
	if opts.VectorWeight < 0 || opts.TextWeight < 0 {
		return apperrors.NewInvalidInputError("weights", "must not be negative")
	}
	if opts.VectorWeight == 0 && opts.TextWeight == 0 {
		opts.VectorWeight = 0.5
		opts.TextWeight = 0.5
	}
	return nil
}
