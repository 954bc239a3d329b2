package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/retrieval-go/internal/knowledge"
	"github.com/aihub/retrieval-go/internal/models"
)

func embedding768(first float32) models.Embedding {
	values := make([]float32, 768)
	values[0] = first
	return models.Embedding{Dimension: 768, Values: values}
}

func TestMemoryStoreSaveAndGet(t *testing.T) {
	store := NewMemoryChunkStore()
	ctx := context.Background()

	doc := &models.Document{Title: "doc"}
	require.NoError(t, store.SaveDocument(ctx, doc))
	assert.NotZero(t, doc.DocumentID)

	chunks := []*models.Chunk{
		{DocumentID: doc.DocumentID, Content: "a", Embedding: embedding768(1)},
		{DocumentID: doc.DocumentID, Content: "b"},
	}
	require.NoError(t, store.SaveChunks(ctx, chunks))
	assert.NotZero(t, chunks[0].ChunkID)

	got, err := store.GetChunk(ctx, chunks[0].ChunkID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Content)

	_, err = store.GetChunk(ctx, 9999)
	assert.Error(t, err)
}

func TestMemoryStoreDeleteDocumentCascades(t *testing.T) {
	store := NewMemoryChunkStore()
	ctx := context.Background()

	doc := &models.Document{Title: "doc"}
	require.NoError(t, store.SaveDocument(ctx, doc))
	chunks := []*models.Chunk{{DocumentID: doc.DocumentID, Content: "a"}}
	require.NoError(t, store.SaveChunks(ctx, chunks))

	require.NoError(t, store.DeleteDocument(ctx, doc.DocumentID))

	_, err := store.GetChunk(ctx, chunks[0].ChunkID)
	assert.Error(t, err)
	docs, err := store.GetDocuments(ctx, []uint{doc.DocumentID})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMemoryStoreListCandidatesRecencyWindow(t *testing.T) {
	store := NewMemoryChunkStore()
	ctx := context.Background()

	base := time.Now()
	var chunks []*models.Chunk
	for i := 0; i < 5; i++ {
		chunks = append(chunks, &models.Chunk{
			DocumentID: 1,
			Content:    "c",
			Embedding:  embedding768(float32(i)),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
	}
	require.NoError(t, store.SaveChunks(ctx, chunks))

	got, err := store.ListCandidates(ctx, 768, knowledge.SearchFilters{}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// 最近优先
	assert.True(t, got[0].CreatedAt.After(got[1].CreatedAt))
	assert.True(t, got[1].CreatedAt.After(got[2].CreatedAt))
}

func TestMemoryStoreListCandidatesFilters(t *testing.T) {
	store := NewMemoryChunkStore()
	ctx := context.Background()

	require.NoError(t, store.SaveDocument(ctx, &models.Document{DocumentID: 1, Category: "tech"}))
	require.NoError(t, store.SaveDocument(ctx, &models.Document{DocumentID: 2, Category: "legal"}))
	require.NoError(t, store.SaveChunks(ctx, []*models.Chunk{
		{DocumentID: 1, Content: "a", Embedding: embedding768(1)},
		{DocumentID: 2, Content: "b", Embedding: embedding768(2)},
	}))

	got, err := store.ListCandidates(ctx, 768, knowledge.SearchFilters{Category: "tech"}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint(1), got[0].DocumentID)
}

func TestMemoryStoreRejectsInvalidEmbedding(t *testing.T) {
	store := NewMemoryChunkStore()
	err := store.SaveChunks(context.Background(), []*models.Chunk{
		{Content: "bad", Embedding: models.Embedding{Dimension: 3, Values: []float32{1, 2, 3}}},
	})
	assert.Error(t, err)
}

func TestParseRelevant(t *testing.T) {
	grades, err := parseRelevant(`{"1": 3, "42": 1.5}`)
	require.NoError(t, err)
	assert.Equal(t, 3.0, grades[1])
	assert.Equal(t, 1.5, grades[42])

	_, err = parseRelevant(`{"abc": 1}`)
	assert.Error(t, err)

	_, err = parseRelevant(`not json`)
	assert.Error(t, err)
}
