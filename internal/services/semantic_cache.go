package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aihub/retrieval-go/internal/knowledge"
	"github.com/aihub/retrieval-go/internal/models"
	"github.com/aihub/retrieval-go/internal/vectormath"
)

// CacheHitKind 缓存命中类别
type CacheHitKind string

const (
	CacheHitExact    CacheHitKind = "exact"    // 精确摘要命中
	CacheHitSemantic CacheHitKind = "semantic" // 语义相似命中
	CacheMiss        CacheHitKind = "miss"
)

// DefaultSemanticThreshold 语义命中的余弦相似度阈值
const DefaultSemanticThreshold = 0.95

// CacheStats 缓存统计。命中计数由检索服务按请求维护
// （每次请求只记一种结局），缓存实现只补充条目数。
type CacheStats struct {
	ExactHits    int64 `json:"exact_hits"`
	SemanticHits int64 `json:"semantic_hits"`
	Misses       int64 `json:"misses"`
	Entries      int   `json:"entries"`
}

// SemanticCache 查询结果的语义缓存。
// 缓存只是加速层：任何实现的任何失败都不允许影响查询结果，
// 调用方把错误当统计信号记录后继续走完整检索。
type SemanticCache interface {
	// GetExact 按请求摘要精确查找
	GetExact(ctx context.Context, digest string) ([]knowledge.SearchResult, bool, error)
	// GetSemantic 在相同选项摘要的条目内按查询向量找语义近邻
	GetSemantic(ctx context.Context, embedding models.Embedding, optsDigest string) ([]knowledge.SearchResult, bool, error)
	// Store 写入一条缓存
	Store(ctx context.Context, digest, optsDigest string, embedding models.Embedding, results []knowledge.SearchResult) error
	// Stats 命中统计
	Stats() CacheStats
}

// cacheEntry 内存缓存条目
type cacheEntry struct {
	optsDigest string
	embedding  models.Embedding
	results    []knowledge.SearchResult
	expiresAt  time.Time
}

// MemorySemanticCache 进程内语义缓存：LRU容量上界加TTL过期。
// 语义查找对缓存内条目做线性余弦扫描，容量上界保证扫描有界。
type MemorySemanticCache struct {
	entries   *lru.Cache[string, *cacheEntry]
	threshold float64
	ttl       time.Duration
}

// NewMemorySemanticCache 创建内存语义缓存
func NewMemorySemanticCache(maxEntries int, threshold float64, ttl time.Duration) (*MemorySemanticCache, error) {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSemanticThreshold
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	entries, err := lru.New[string, *cacheEntry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &MemorySemanticCache{
		entries:   entries,
		threshold: threshold,
		ttl:       ttl,
	}, nil
}

// GetExact 精确命中
func (c *MemorySemanticCache) GetExact(ctx context.Context, digest string) ([]knowledge.SearchResult, bool, error) {
	entry, ok := c.entries.Get(digest)
	if !ok || time.Now().After(entry.expiresAt) {
		if ok {
			c.entries.Remove(digest)
		}
		return nil, false, nil
	}
	return entry.results, true, nil
}

// GetSemantic 语义命中：在相同选项摘要的未过期条目中找余弦≥阈值的最近邻。
// 扫描用Peek避免搅乱LRU淘汰顺序，只有真正命中的条目才刷新热度。
func (c *MemorySemanticCache) GetSemantic(ctx context.Context, embedding models.Embedding, optsDigest string) ([]knowledge.SearchResult, bool, error) {
	if embedding.IsZero() {
		return nil, false, nil
	}

	now := time.Now()
	var best *cacheEntry
	var bestKey string
	bestScore := c.threshold

	for _, key := range c.entries.Keys() {
		entry, ok := c.entries.Peek(key)
		if !ok || now.After(entry.expiresAt) {
			continue
		}
		// 选项或过滤条件不同的缓存绝不能复用
		if entry.optsDigest != optsDigest {
			continue
		}
		if entry.embedding.Dimension != embedding.Dimension {
			continue
		}
		score, err := vectormath.CosineSimilarity(embedding.Values, entry.embedding.Values)
		if err != nil {
			continue
		}
		if score >= bestScore {
			bestScore = score
			best = entry
			bestKey = key
		}
	}

	if best == nil {
		return nil, false, nil
	}
	c.entries.Get(bestKey)
	return best.results, true, nil
}

// Store 写入缓存
func (c *MemorySemanticCache) Store(ctx context.Context, digest, optsDigest string, embedding models.Embedding, results []knowledge.SearchResult) error {
	c.entries.Add(digest, &cacheEntry{
		optsDigest: optsDigest,
		embedding:  embedding,
		results:    results,
		expiresAt:  time.Now().Add(c.ttl),
	})
	return nil
}

// Stats 缓存条目统计
func (c *MemorySemanticCache) Stats() CacheStats {
	return CacheStats{Entries: c.entries.Len()}
}

// RequestDigest 请求的精确摘要：查询原文加选项摘要
func RequestDigest(query, optsDigest string) string {
	sum := sha256.Sum256([]byte(query + "|" + optsDigest))
	return hex.EncodeToString(sum[:])
}

// OptionsDigest 检索选项的稳定摘要，选项不同的请求不共享缓存
func OptionsDigest(opts knowledge.SearchOptions) string {
	payload := fmt.Sprintf("k=%d&sim=%.4f&vw=%.4f&tw=%.4f&bm25=%t&f=%s",
		opts.TopK, opts.MinSimilarity, opts.VectorWeight, opts.TextWeight,
		opts.EnableBM25, opts.Filters.Digest())
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:8])
}
