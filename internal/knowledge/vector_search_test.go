package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/retrieval-go/internal/errors"
	"github.com/aihub/retrieval-go/internal/models"
)

// fakeStore 测试用的内存ChunkStore
type fakeStore struct {
	chunks  map[uint]*models.Chunk
	docs    map[uint]*models.Document
	native  bool
	listErr error

	lastListLimit int

	nativeFn func(ctx context.Context, embedding models.Embedding, filters SearchFilters, limit int, threshold float64) ([]VectorMatch, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chunks: make(map[uint]*models.Chunk),
		docs:   make(map[uint]*models.Document),
	}
}

func (s *fakeStore) GetChunk(ctx context.Context, chunkID uint) (*models.Chunk, error) {
	if c, ok := s.chunks[chunkID]; ok {
		return c, nil
	}
	return nil, apperrors.NewNotFoundError("chunk")
}

func (s *fakeStore) GetChunks(ctx context.Context, chunkIDs []uint) ([]*models.Chunk, error) {
	var out []*models.Chunk
	for _, id := range chunkIDs {
		if c, ok := s.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) GetDocuments(ctx context.Context, documentIDs []uint) (map[uint]*models.Document, error) {
	out := make(map[uint]*models.Document)
	for _, id := range documentIDs {
		if d, ok := s.docs[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

func (s *fakeStore) ListCandidates(ctx context.Context, dim int, filters SearchFilters, limit int) ([]*models.Chunk, error) {
	s.lastListLimit = limit
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*models.Chunk
	for _, c := range s.chunks {
		if c.Embedding.Dimension != dim {
			continue
		}
		if !filters.Match(s.docs[c.DocumentID]) {
			continue
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) SupportsNativeVectorSearch() bool {
	return s.native
}

func (s *fakeStore) NativeVectorSearch(ctx context.Context, embedding models.Embedding, filters SearchFilters, limit int, threshold float64) ([]VectorMatch, error) {
	if s.nativeFn != nil {
		return s.nativeFn(ctx, embedding, filters, limit, threshold)
	}
	return nil, errors.New("native search not configured")
}

// fakeIndex 测试用的VectorIndex
type fakeIndex struct {
	ready    bool
	matches  []VectorMatch
	searchEr error
}

func (f *fakeIndex) Upsert(ctx context.Context, chunk *models.Chunk) error     { return nil }
func (f *fakeIndex) DeleteDocument(ctx context.Context, documentID uint) error { return nil }
func (f *fakeIndex) Ready() bool                                               { return f.ready }
func (f *fakeIndex) Search(ctx context.Context, embedding models.Embedding, limit int, threshold float64) ([]VectorMatch, error) {
	if f.searchEr != nil {
		return nil, f.searchEr
	}
	out := f.matches
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// vec768 构造768维向量，前几位由seed填充，其余为0
func vec768(seed ...float32) models.Embedding {
	values := make([]float32, 768)
	copy(values, seed)
	return models.Embedding{Dimension: 768, Values: values}
}

func addChunk(s *fakeStore, chunkID, docID uint, content string, embedding models.Embedding) {
	s.chunks[chunkID] = &models.Chunk{
		ChunkID:    chunkID,
		DocumentID: docID,
		Content:    content,
		Embedding:  embedding,
	}
}

func TestVectorSearchFallbackPath(t *testing.T) {
	store := newFakeStore()
	addChunk(store, 1, 1, "exact", vec768(1, 0, 0))
	addChunk(store, 2, 1, "close", vec768(0.9, 0.1, 0))
	addChunk(store, 3, 1, "orthogonal", vec768(0, 0, 1))

	engine := NewVectorSearchEngine(store, nil, 0)
	matches, err := engine.Search(context.Background(), vec768(1, 0, 0), SearchFilters{}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, uint(1), matches[0].ChunkID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.Equal(t, uint(2), matches[1].ChunkID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestVectorSearchFallbackThresholdFiltersAll(t *testing.T) {
	store := newFakeStore()
	addChunk(store, 1, 1, "far", vec768(0, 1, 0))

	engine := NewVectorSearchEngine(store, nil, 0)
	matches, err := engine.Search(context.Background(), vec768(1, 0, 0), SearchFilters{}, 10, 0.9)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestVectorSearchFallbackSkipsDimensionMismatch(t *testing.T) {
	store := newFakeStore()
	addChunk(store, 1, 1, "match", vec768(1, 0, 0))
	values := make([]float32, 1536)
	values[0] = 1
	addChunk(store, 2, 1, "other dim", models.Embedding{Dimension: 1536, Values: values})

	engine := NewVectorSearchEngine(store, nil, 0)
	matches, err := engine.Search(context.Background(), vec768(1, 0, 0), SearchFilters{}, 10, 0.1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, uint(1), matches[0].ChunkID)
}

func TestVectorSearchNativePath(t *testing.T) {
	store := newFakeStore()
	store.native = true
	store.nativeFn = func(ctx context.Context, embedding models.Embedding, filters SearchFilters, limit int, threshold float64) ([]VectorMatch, error) {
		return []VectorMatch{{ChunkID: 42, DocumentID: 1, Score: 0.97}}, nil
	}

	engine := NewVectorSearchEngine(store, nil, 0)
	matches, err := engine.Search(context.Background(), vec768(1), SearchFilters{}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, uint(42), matches[0].ChunkID)
}

func TestVectorSearchNativeFailureFallsBack(t *testing.T) {
	store := newFakeStore()
	store.native = true
	store.nativeFn = func(ctx context.Context, embedding models.Embedding, filters SearchFilters, limit int, threshold float64) ([]VectorMatch, error) {
		return nil, errors.New("operator missing")
	}
	addChunk(store, 1, 1, "fallback hit", vec768(1, 0, 0))

	engine := NewVectorSearchEngine(store, nil, 0)
	matches, err := engine.Search(context.Background(), vec768(1, 0, 0), SearchFilters{}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, uint(1), matches[0].ChunkID)
}

func TestVectorSearchIndexPathWithPostFilter(t *testing.T) {
	store := newFakeStore()
	store.docs[1] = &models.Document{DocumentID: 1, Category: "tech"}
	store.docs[2] = &models.Document{DocumentID: 2, Category: "legal"}

	index := &fakeIndex{
		ready: true,
		matches: []VectorMatch{
			{ChunkID: 1, DocumentID: 1, Score: 0.99},
			{ChunkID: 2, DocumentID: 2, Score: 0.95},
		},
	}

	engine := NewVectorSearchEngine(store, index, 0)
	matches, err := engine.Search(context.Background(), vec768(1), SearchFilters{Category: "legal"}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, uint(2), matches[0].ChunkID)
}

func TestVectorSearchIndexFailureFallsThrough(t *testing.T) {
	store := newFakeStore()
	addChunk(store, 5, 1, "still reachable", vec768(1, 0, 0))

	index := &fakeIndex{ready: true, searchEr: errors.New("index down")}
	engine := NewVectorSearchEngine(store, index, 0)

	matches, err := engine.Search(context.Background(), vec768(1, 0, 0), SearchFilters{}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, uint(5), matches[0].ChunkID)
}

func TestVectorSearchStoreUnavailable(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("connection refused")

	engine := NewVectorSearchEngine(store, nil, 0)
	_, err := engine.Search(context.Background(), vec768(1), SearchFilters{}, 10, 0.5)
	require.Error(t, err)
	assert.True(t, apperrors.IsStoreUnavailable(err))
}

func TestVectorSearchRejectsInvalidEmbedding(t *testing.T) {
	engine := NewVectorSearchEngine(newFakeStore(), nil, 0)

	_, err := engine.Search(context.Background(), models.Embedding{}, SearchFilters{}, 10, 0.5)
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = engine.Search(context.Background(), models.Embedding{Dimension: 3, Values: []float32{1, 2, 3}}, SearchFilters{}, 10, 0.5)
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestCandidateWindowBounds(t *testing.T) {
	assert.Equal(t, 100, candidateWindow(5))
	assert.Equal(t, 100, candidateWindow(10))
	assert.Equal(t, 200, candidateWindow(20))
}

func TestVectorSearchFallbackScanWindowConfigurable(t *testing.T) {
	store := newFakeStore()
	addChunk(store, 1, 1, "hit", vec768(1, 0, 0))

	engine := NewVectorSearchEngine(store, nil, 300)
	_, err := engine.Search(context.Background(), vec768(1, 0, 0), SearchFilters{}, 10, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 300, store.lastListLimit)

	// 默认窗口
	engine = NewVectorSearchEngine(store, nil, 0)
	_, err = engine.Search(context.Background(), vec768(1, 0, 0), SearchFilters{}, 10, 0.5)
	require.NoError(t, err)
	assert.Equal(t, DefaultCandidateWindow, store.lastListLimit)

	// limit超过窗口时不截断请求量
	engine = NewVectorSearchEngine(store, nil, 50)
	_, err = engine.Search(context.Background(), vec768(1, 0, 0), SearchFilters{}, 80, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 80, store.lastListLimit)
}
