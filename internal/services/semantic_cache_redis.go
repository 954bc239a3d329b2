package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/aihub/retrieval-go/internal/errors"
	"github.com/aihub/retrieval-go/internal/knowledge"
	"github.com/aihub/retrieval-go/internal/models"
	"github.com/aihub/retrieval-go/internal/vectormath"
)

const (
	redisCachePrefix        = "retrieval:cache:"
	redisRecentKey          = "retrieval:cache:recent"
	redisSemanticScanWindow = 256 // 语义扫描的最近条目窗口
)

// redisCachePayload Redis缓存条目的JSON载荷
type redisCachePayload struct {
	OptsDigest string                   `json:"opts_digest"`
	Embedding  models.Embedding         `json:"embedding"`
	Results    []knowledge.SearchResult `json:"results"`
}

// RedisSemanticCache 基于Redis的语义缓存，多实例部署时共享命中。
// 精确命中走单键GET；语义命中扫描最近写入的一窗条目，窗口有界。
type RedisSemanticCache struct {
	client    *redis.Client
	threshold float64
	ttl       time.Duration
}

// NewRedisSemanticCache 创建Redis语义缓存
func NewRedisSemanticCache(client *redis.Client, threshold float64, ttl time.Duration) (*RedisSemanticCache, error) {
	if client == nil {
		return nil, apperrors.NewInvalidInputError("client", "must not be nil")
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSemanticThreshold
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisSemanticCache{
		client:    client,
		threshold: threshold,
		ttl:       ttl,
	}, nil
}

// GetExact 精确命中
func (c *RedisSemanticCache) GetExact(ctx context.Context, digest string) ([]knowledge.SearchResult, bool, error) {
	raw, err := c.client.Get(ctx, redisCachePrefix+digest).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewCacheFailureError("get", err)
	}

	var payload redisCachePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, false, apperrors.NewCacheFailureError("decode", err)
	}
	return payload.Results, true, nil
}

// GetSemantic 语义命中：取最近写入的一窗摘要，逐条比较余弦
func (c *RedisSemanticCache) GetSemantic(ctx context.Context, embedding models.Embedding, optsDigest string) ([]knowledge.SearchResult, bool, error) {
	if embedding.IsZero() {
		return nil, false, nil
	}

	digests, err := c.client.LRange(ctx, redisRecentKey, 0, redisSemanticScanWindow-1).Result()
	if err != nil {
		return nil, false, apperrors.NewCacheFailureError("scan", err)
	}

	var best []knowledge.SearchResult
	bestScore := c.threshold

	for _, digest := range digests {
		raw, err := c.client.Get(ctx, redisCachePrefix+digest).Result()
		if err != nil {
			continue
		}
		var payload redisCachePayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			continue
		}
		if payload.OptsDigest != optsDigest || payload.Embedding.Dimension != embedding.Dimension {
			continue
		}
		score, err := vectormath.CosineSimilarity(embedding.Values, payload.Embedding.Values)
		if err != nil {
			continue
		}
		if score >= bestScore {
			bestScore = score
			best = payload.Results
		}
	}

	if best == nil {
		return nil, false, nil
	}
	return best, true, nil
}

// Store 写入缓存并登记到最近列表
func (c *RedisSemanticCache) Store(ctx context.Context, digest, optsDigest string, embedding models.Embedding, results []knowledge.SearchResult) error {
	payload, err := json.Marshal(redisCachePayload{
		OptsDigest: optsDigest,
		Embedding:  embedding,
		Results:    results,
	})
	if err != nil {
		return apperrors.NewCacheFailureError("encode", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, redisCachePrefix+digest, payload, c.ttl)
	pipe.LPush(ctx, redisRecentKey, digest)
	pipe.LTrim(ctx, redisRecentKey, 0, redisSemanticScanWindow-1)
	pipe.Expire(ctx, redisRecentKey, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.NewCacheFailureError("store", err)
	}
	return nil
}

// Stats 缓存统计。条目数在Redis侧，进程内不可见，命中计数由检索服务维护
func (c *RedisSemanticCache) Stats() CacheStats {
	return CacheStats{}
}
