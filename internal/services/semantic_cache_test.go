package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/retrieval-go/internal/knowledge"
	"github.com/aihub/retrieval-go/internal/models"
)

func cacheVec(first, second float32) models.Embedding {
	values := make([]float32, 768)
	values[0] = first
	values[1] = second
	return models.Embedding{Dimension: 768, Values: values}
}

func sampleResults() []knowledge.SearchResult {
	return []knowledge.SearchResult{{ChunkID: 1, Content: "cached", Score: 0.5}}
}

func TestMemoryCacheExactHit(t *testing.T) {
	cache, err := NewMemorySemanticCache(16, 0.95, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, "digest-1", "opts-a", cacheVec(1, 0), sampleResults()))

	results, ok, err := cache.GetExact(ctx, "digest-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint(1), results[0].ChunkID)

	_, ok, err = cache.GetExact(ctx, "digest-2")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, cache.Stats().Entries)
}

func TestMemoryCacheSemanticHit(t *testing.T) {
	cache, err := NewMemorySemanticCache(16, 0.95, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, "digest-1", "opts-a", cacheVec(1, 0), sampleResults()))

	// 近似向量：余弦约0.995，超过阈值
	results, ok, err := cache.GetSemantic(ctx, cacheVec(1, 0.1), "opts-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint(1), results[0].ChunkID)

	// 远离的向量不命中
	_, ok, err = cache.GetSemantic(ctx, cacheVec(0, 1), "opts-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheSemanticHitRefreshesRecency(t *testing.T) {
	cache, err := NewMemorySemanticCache(2, 0.95, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, "d1", "opts", cacheVec(1, 0), sampleResults()))
	require.NoError(t, cache.Store(ctx, "d2", "opts", cacheVec(0, 1), sampleResults()))

	// 语义命中d1应刷新其热度：扫描本身不动LRU顺序，命中条目才提升
	_, ok, err := cache.GetSemantic(ctx, cacheVec(1, 0.05), "opts")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, cache.Store(ctx, "d3", "opts", cacheVec(1, 1), sampleResults()))

	_, ok, _ = cache.GetExact(ctx, "d1")
	assert.True(t, ok, "命中过的条目不应先被淘汰")
	_, ok, _ = cache.GetExact(ctx, "d2")
	assert.False(t, ok, "未命中的旧条目应先被淘汰")
}

func TestMemoryCacheSemanticRespectsOptsDigest(t *testing.T) {
	cache, err := NewMemorySemanticCache(16, 0.95, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, "digest-1", "opts-a", cacheVec(1, 0), sampleResults()))

	// 选项摘要不同的条目即使向量一致也不能复用
	_, ok, err := cache.GetSemantic(ctx, cacheVec(1, 0), "opts-b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheTTLExpiry(t *testing.T) {
	cache, err := NewMemorySemanticCache(16, 0.95, 10*time.Millisecond)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, "digest-1", "opts-a", cacheVec(1, 0), sampleResults()))
	time.Sleep(20 * time.Millisecond)

	_, ok, err := cache.GetExact(ctx, "digest-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = cache.GetSemantic(ctx, cacheVec(1, 0), "opts-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheLRUBound(t *testing.T) {
	cache, err := NewMemorySemanticCache(2, 0.95, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, "d1", "opts", cacheVec(1, 0), sampleResults()))
	require.NoError(t, cache.Store(ctx, "d2", "opts", cacheVec(0, 1), sampleResults()))
	require.NoError(t, cache.Store(ctx, "d3", "opts", cacheVec(1, 1), sampleResults()))

	// 最旧的条目被淘汰
	_, ok, _ := cache.GetExact(ctx, "d1")
	assert.False(t, ok)
	_, ok, _ = cache.GetExact(ctx, "d3")
	assert.True(t, ok)
	assert.Equal(t, 2, cache.Stats().Entries)
}

func TestMemoryCacheDimensionMismatchSkipped(t *testing.T) {
	cache, err := NewMemorySemanticCache(16, 0.95, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, "d1", "opts", cacheVec(1, 0), sampleResults()))

	values := make([]float32, 1536)
	values[0] = 1
	_, ok, err := cache.GetSemantic(ctx, models.Embedding{Dimension: 1536, Values: values}, "opts")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOptionsDigestStable(t *testing.T) {
	opts := knowledge.DefaultSearchOptions()
	assert.Equal(t, OptionsDigest(opts), OptionsDigest(opts))

	changed := opts
	changed.TopK = 20
	assert.NotEqual(t, OptionsDigest(opts), OptionsDigest(changed))

	changed = opts
	changed.VectorWeight = 0.7
	assert.NotEqual(t, OptionsDigest(opts), OptionsDigest(changed))
}

func TestRequestDigestDependsOnQueryAndOpts(t *testing.T) {
	assert.Equal(t, RequestDigest("q", "o"), RequestDigest("q", "o"))
	assert.NotEqual(t, RequestDigest("q", "o"), RequestDigest("q2", "o"))
	assert.NotEqual(t, RequestDigest("q", "o"), RequestDigest("q", "o2"))
}
