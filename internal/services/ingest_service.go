package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/aihub/retrieval-go/internal/errors"
	"github.com/aihub/retrieval-go/internal/knowledge"
	"github.com/aihub/retrieval-go/internal/logger"
	"github.com/aihub/retrieval-go/internal/models"
)

// ChunkStrategy 分块策略
type ChunkStrategy string

const (
	StrategySemantic      ChunkStrategy = "semantic"
	StrategySlidingWindow ChunkStrategy = "sliding-window"
)

// ChunkWriter 摄取侧需要的写入能力
type ChunkWriter interface {
	SaveDocument(ctx context.Context, doc *models.Document) error
	SaveChunks(ctx context.Context, chunks []*models.Chunk) error
	DeleteDocument(ctx context.Context, documentID uint) error
}

// IngestService 文档摄取：分块、向量化、落库、同步关键词与向量索引
type IngestService struct {
	chunker  *knowledge.Chunker
	embedder knowledge.Embedder
	writer   ChunkWriter
	keywords knowledge.KeywordSearcher
	vectors  knowledge.VectorIndex // 可为nil
}

// NewIngestService 创建摄取服务
func NewIngestService(chunker *knowledge.Chunker, embedder knowledge.Embedder, writer ChunkWriter, keywords knowledge.KeywordSearcher, vectors knowledge.VectorIndex) *IngestService {
	if embedder == nil {
		embedder = &knowledge.NoopEmbedder{}
	}
	if keywords == nil {
		keywords = &knowledge.NoopKeywordSearcher{}
	}
	return &IngestService{
		chunker:  chunker,
		embedder: embedder,
		writer:   writer,
		keywords: keywords,
		vectors:  vectors,
	}
}

// IngestDocument 摄取一篇文档。
// 向量化失败不阻断摄取：无向量的块仍可参与关键词检索，
// 向量可由后续补算任务补齐。
func (s *IngestService) IngestDocument(ctx context.Context, doc *models.Document, content string, strategy ChunkStrategy) ([]*models.Chunk, error) {
	if doc == nil {
		return nil, apperrors.NewInvalidInputError("document", "must not be nil")
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.NewInvalidInputError("content", "must not be empty")
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now()
	}

	var split []models.Chunk
	switch strategy {
	case StrategySlidingWindow:
		split = s.chunker.SplitSlidingWindow(content)
	case StrategySemantic, "":
		split = s.chunker.SplitSemantic(content)
	default:
		return nil, apperrors.NewInvalidInputError("strategy", "must be semantic or sliding-window")
	}
	if len(split) == 0 {
		return nil, apperrors.NewInvalidInputError("content", "produced no chunks")
	}

	if err := s.writer.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}

	chunks := make([]*models.Chunk, len(split))
	texts := make([]string, len(split))
	for i := range split {
		split[i].DocumentID = doc.DocumentID
		split[i].CreatedAt = time.Now()
		chunks[i] = &split[i]
		texts[i] = split[i].Content
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		logger.Warn("分块向量化失败，块以无向量状态入库",
			zap.Uint("document_id", doc.DocumentID), zap.Error(err))
	} else {
		for i := range chunks {
			chunks[i].Embedding = embeddings[i]
		}
	}

	if err := s.writer.SaveChunks(ctx, chunks); err != nil {
		return nil, err
	}

	for _, chunk := range chunks {
		if err := s.keywords.Index(ctx, chunk, doc); err != nil {
			logger.Warn("关键词索引写入失败", zap.Uint("chunk_id", chunk.ChunkID), zap.Error(err))
		}
		if s.vectors != nil && s.vectors.Ready() && chunk.HasEmbedding() {
			if err := s.vectors.Upsert(ctx, chunk); err != nil {
				logger.Warn("向量索引写入失败", zap.Uint("chunk_id", chunk.ChunkID), zap.Error(err))
			}
		}
	}

	logger.Info("文档摄取完成",
		zap.Uint("document_id", doc.DocumentID),
		zap.Int("chunks", len(chunks)),
		zap.String("strategy", string(strategy)))
	return chunks, nil
}

// DeleteDocument 删除文档：存储、关键词索引与向量索引联动清理
func (s *IngestService) DeleteDocument(ctx context.Context, documentID uint, chunkIDs []uint) error {
	if err := s.writer.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	for _, id := range chunkIDs {
		if err := s.keywords.Remove(ctx, id); err != nil {
			logger.Warn("关键词索引清理失败", zap.Uint("chunk_id", id), zap.Error(err))
		}
	}
	if s.vectors != nil && s.vectors.Ready() {
		if err := s.vectors.DeleteDocument(ctx, documentID); err != nil {
			logger.Warn("向量索引清理失败", zap.Uint("document_id", documentID), zap.Error(err))
		}
	}
	return nil
}
