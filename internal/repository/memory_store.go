package repository

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/aihub/retrieval-go/internal/errors"
	"github.com/aihub/retrieval-go/internal/knowledge"
	"github.com/aihub/retrieval-go/internal/models"
)

// MemoryChunkStore 内存分块存储，供本地开发与测试使用。
// 不支持原生向量检索，向量路永远走退化扫描。
type MemoryChunkStore struct {
	mu     sync.RWMutex
	chunks map[uint]*models.Chunk
	docs   map[uint]*models.Document
	nextID uint
}

// NewMemoryChunkStore 创建内存分块存储
func NewMemoryChunkStore() *MemoryChunkStore {
	return &MemoryChunkStore{
		chunks: make(map[uint]*models.Chunk),
		docs:   make(map[uint]*models.Document),
		nextID: 1,
	}
}

// SaveDocument 保存文档，ID为0时自动分配
func (s *MemoryChunkStore) SaveDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.DocumentID == 0 {
		doc.DocumentID = s.nextID
		s.nextID++
	}
	s.docs[doc.DocumentID] = doc
	return nil
}

// SaveChunks 保存分块，ID为0时自动分配
func (s *MemoryChunkStore) SaveChunks(ctx context.Context, chunks []*models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chunk := range chunks {
		if chunk.HasEmbedding() {
			if err := chunk.Embedding.Validate(); err != nil {
				return err
			}
			chunk.EmbeddingDim = chunk.Embedding.Dimension
		}
		if chunk.ChunkID == 0 {
			chunk.ChunkID = s.nextID
			s.nextID++
		}
		s.chunks[chunk.ChunkID] = chunk
	}
	return nil
}

// DeleteDocument 删除文档及其全部分块
func (s *MemoryChunkStore) DeleteDocument(ctx context.Context, documentID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.docs, documentID)
	for id, chunk := range s.chunks {
		if chunk.DocumentID == documentID {
			delete(s.chunks, id)
		}
	}
	return nil
}

// GetChunk 按ID读取分块
func (s *MemoryChunkStore) GetChunk(ctx context.Context, chunkID uint) (*models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if chunk, ok := s.chunks[chunkID]; ok {
		return chunk, nil
	}
	return nil, apperrors.NewNotFoundError("chunk")
}

// GetChunks 批量读取分块，缺失的ID静默跳过
func (s *MemoryChunkStore) GetChunks(ctx context.Context, chunkIDs []uint) ([]*models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Chunk
	for _, id := range chunkIDs {
		if chunk, ok := s.chunks[id]; ok {
			out = append(out, chunk)
		}
	}
	return out, nil
}

// GetDocuments 批量读取文档元数据
func (s *MemoryChunkStore) GetDocuments(ctx context.Context, documentIDs []uint) (map[uint]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uint]*models.Document, len(documentIDs))
	for _, id := range documentIDs {
		if doc, ok := s.docs[id]; ok {
			out[id] = doc
		}
	}
	return out, nil
}

// ListCandidates 按创建时间降序返回带指定维度向量的候选块
func (s *MemoryChunkStore) ListCandidates(ctx context.Context, dim int, filters knowledge.SearchFilters, limit int) ([]*models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Chunk
	for _, chunk := range s.chunks {
		if chunk.Embedding.Dimension != dim {
			continue
		}
		if !filters.Match(s.docs[chunk.DocumentID]) {
			continue
		}
		out = append(out, chunk)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ChunkID > out[j].ChunkID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SupportsNativeVectorSearch 内存存储无原生向量算子
func (s *MemoryChunkStore) SupportsNativeVectorSearch() bool {
	return false
}

// NativeVectorSearch 永不可达，接口完整性占位
func (s *MemoryChunkStore) NativeVectorSearch(ctx context.Context, embedding models.Embedding, filters knowledge.SearchFilters, limit int, threshold float64) ([]knowledge.VectorMatch, error) {
	return nil, apperrors.NewSystemError(apperrors.ErrCodeInternalServer, "native vector search not supported")
}
