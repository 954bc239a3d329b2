package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/aihub/retrieval-go/internal/errors"
	"github.com/aihub/retrieval-go/internal/knowledge"
	"github.com/aihub/retrieval-go/internal/logger"
	"github.com/aihub/retrieval-go/internal/models"
)

// SearchResponse 检索响应，带缓存命中标记
type SearchResponse struct {
	Results  []knowledge.SearchResult `json:"results"`
	CacheHit CacheHitKind             `json:"cache_hit"`
	TookMs   int64                    `json:"took_ms"`
}

// SearchService 检索门面：语义缓存在前，混合检索引擎在后。
// 缓存任何操作失败只记录统计，绝不影响查询结果。
type SearchService struct {
	engine   *knowledge.SearchEngine
	embedder knowledge.Embedder
	cache    SemanticCache // 可为nil

	mu    sync.Mutex
	stats CacheStats // 每次启用缓存的请求只记一种结局
}

// NewSearchService 创建检索服务
func NewSearchService(engine *knowledge.SearchEngine, embedder knowledge.Embedder, cache SemanticCache) *SearchService {
	if embedder == nil {
		embedder = &knowledge.NoopEmbedder{}
	}
	return &SearchService{
		engine:   engine,
		embedder: embedder,
		cache:    cache,
	}
}

// Search 执行检索：精确缓存 → 语义缓存 → 完整检索 → 回填缓存
func (s *SearchService) Search(ctx context.Context, query string, opts knowledge.SearchOptions) (*SearchResponse, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		searchRequestsCounter.WithLabelValues("invalid").Inc()
		return nil, apperrors.NewInvalidInputError("query", "must not be empty")
	}

	useCache := s.cache != nil && opts.EnableCache
	optsDigest := OptionsDigest(opts)
	digest := RequestDigest(query, optsDigest)

	if useCache {
		if results, ok := s.lookupExact(ctx, digest); ok {
			s.recordOutcome(CacheHitExact)
			return s.respond(results, CacheHitExact, start), nil
		}
	}

	// 向量化一次，语义缓存与向量检索共用
	var embedding models.Embedding
	if opts.VectorWeight > 0 || !opts.EnableBM25 {
		emb, err := s.embedder.Embed(ctx, query)
		if err != nil {
			logger.Warn("查询向量化失败，跳过语义缓存与向量检索", zap.Error(err))
		} else {
			embedding = emb
		}
	}

	if useCache && !embedding.IsZero() {
		if results, ok := s.lookupSemantic(ctx, embedding, optsDigest); ok {
			s.recordOutcome(CacheHitSemantic)
			return s.respond(results, CacheHitSemantic, start), nil
		}
	}

	results, err := s.engine.SearchEmbedded(ctx, query, embedding, opts)
	if err != nil {
		if apperrors.IsInvalidInput(err) {
			searchRequestsCounter.WithLabelValues("invalid").Inc()
		} else {
			searchRequestsCounter.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	if useCache {
		s.recordOutcome(CacheMiss)
		if len(results) > 0 {
			if err := s.cache.Store(ctx, digest, optsDigest, embedding, results); err != nil {
				cacheFailuresCounter.Inc()
				logger.Warn("缓存写入失败", zap.Error(err))
			}
		}
	}
	return s.respond(results, CacheMiss, start), nil
}

// recordOutcome 记录一次启用缓存的请求的结局，命中计数由服务统一维护
func (s *SearchService) recordOutcome(kind CacheHitKind) {
	cacheHitsCounter.WithLabelValues(string(kind)).Inc()
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case CacheHitExact:
		s.stats.ExactHits++
	case CacheHitSemantic:
		s.stats.SemanticHits++
	default:
		s.stats.Misses++
	}
}

func (s *SearchService) lookupExact(ctx context.Context, digest string) ([]knowledge.SearchResult, bool) {
	results, ok, err := s.cache.GetExact(ctx, digest)
	if err != nil {
		cacheFailuresCounter.Inc()
		logger.Warn("缓存精确查找失败", zap.Error(err))
		return nil, false
	}
	return results, ok
}

func (s *SearchService) lookupSemantic(ctx context.Context, embedding models.Embedding, optsDigest string) ([]knowledge.SearchResult, bool) {
	results, ok, err := s.cache.GetSemantic(ctx, embedding, optsDigest)
	if err != nil {
		cacheFailuresCounter.Inc()
		logger.Warn("缓存语义查找失败", zap.Error(err))
		return nil, false
	}
	return results, ok
}

func (s *SearchService) respond(results []knowledge.SearchResult, kind CacheHitKind, start time.Time) *SearchResponse {
	took := time.Since(start)
	searchRequestsCounter.WithLabelValues("ok").Inc()
	searchDuration.WithLabelValues(string(kind)).Observe(took.Seconds())
	if results == nil {
		results = []knowledge.SearchResult{}
	}
	return &SearchResponse{
		Results:  results,
		CacheHit: kind,
		TookMs:   took.Milliseconds(),
	}
}

// CacheStats 缓存命中统计，未配置缓存时返回零值。
// 命中与未命中由服务按请求计数，条目数取自缓存实现。
func (s *SearchService) CacheStats() CacheStats {
	if s.cache == nil {
		return CacheStats{}
	}
	s.mu.Lock()
	stats := s.stats
	s.mu.Unlock()
	stats.Entries = s.cache.Stats().Entries
	return stats
}
