package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	apperrors "github.com/aihub/retrieval-go/internal/errors"
	"github.com/aihub/retrieval-go/internal/knowledge"
	"github.com/aihub/retrieval-go/internal/logger"
	"github.com/aihub/retrieval-go/internal/models"
)

// ChunkRepository 基于PostgreSQL的分块存储。
// 向量按维度分列存储：embedding_768 / embedding_1536（JSON文本），
// pgvector可用时额外维护embedding_vec_768 / embedding_vec_1536向量列，
// 原生向量检索走向量列上的余弦算子。能力探测在构造时执行一次。
type ChunkRepository struct {
	db        *gorm.DB
	hasVector bool
}

// NewChunkRepository 创建分块存储并探测pgvector能力
func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	repo := &ChunkRepository{db: db}
	repo.hasVector = repo.probeVectorSupport()
	return repo
}

// probeVectorSupport 探测pgvector扩展是否安装且向量列已建
func (r *ChunkRepository) probeVectorSupport() bool {
	var count int64
	err := r.db.Raw("SELECT COUNT(*) FROM pg_extension WHERE extname = 'vector'").Scan(&count).Error
	if err != nil || count == 0 {
		return false
	}

	err = r.db.Raw(
		"SELECT COUNT(*) FROM information_schema.columns WHERE table_name = 'chunks' AND column_name = 'embedding_vec_768'",
	).Scan(&count).Error
	if err != nil || count == 0 {
		return false
	}
	return true
}

// SaveDocument 持久化文档元数据
func (r *ChunkRepository) SaveDocument(ctx context.Context, doc *models.Document) error {
	if err := r.db.WithContext(ctx).Save(doc).Error; err != nil {
		return apperrors.NewStoreUnavailableError(err)
	}
	return nil
}

// SaveChunks 批量持久化分块，向量写入对应维度的列
func (r *ChunkRepository) SaveChunks(ctx context.Context, chunks []*models.Chunk) error {
	for _, chunk := range chunks {
		if err := encodeEmbedding(chunk); err != nil {
			return err
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, chunk := range chunks {
			if err := tx.Save(chunk).Error; err != nil {
				return err
			}
			if r.hasVector && chunk.HasEmbedding() {
				if err := r.updateVectorColumn(tx, chunk); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.NewStoreUnavailableError(err)
	}
	return nil
}

// updateVectorColumn 同步pgvector向量列
func (r *ChunkRepository) updateVectorColumn(tx *gorm.DB, chunk *models.Chunk) error {
	column := vectorColumn(chunk.Embedding.Dimension)
	if column == "" {
		return apperrors.NewUnsupportedDimensionError(chunk.Embedding.Dimension)
	}
	return tx.Exec(
		fmt.Sprintf("UPDATE chunks SET %s = ?::vector WHERE chunk_id = ?", column),
		vectorLiteral(chunk.Embedding.Values), chunk.ChunkID,
	).Error
}

// DeleteDocument 删除文档及其全部分块（外键级联）
func (r *ChunkRepository) DeleteDocument(ctx context.Context, documentID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&models.Chunk{}).Error; err != nil {
			return err
		}
		return tx.Where("document_id = ?", documentID).Delete(&models.Document{}).Error
	})
	if err != nil {
		return apperrors.NewStoreUnavailableError(err)
	}
	return nil
}

// GetChunk 按ID读取单个分块
func (r *ChunkRepository) GetChunk(ctx context.Context, chunkID uint) (*models.Chunk, error) {
	var chunk models.Chunk
	err := r.db.WithContext(ctx).Where("chunk_id = ?", chunkID).First(&chunk).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NewNotFoundError("chunk")
		}
		return nil, apperrors.NewStoreUnavailableError(err)
	}
	if err := decodeEmbedding(&chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}

// GetChunks 批量读取分块
func (r *ChunkRepository) GetChunks(ctx context.Context, chunkIDs []uint) ([]*models.Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	var chunks []*models.Chunk
	err := r.db.WithContext(ctx).Where("chunk_id IN ?", chunkIDs).Find(&chunks).Error
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError(err)
	}
	for _, chunk := range chunks {
		if err := decodeEmbedding(chunk); err != nil {
			return nil, err
		}
	}
	return chunks, nil
}

// ChunkIDsByDocument 列出文档下全部分块ID，删除前用于索引联动清理
func (r *ChunkRepository) ChunkIDsByDocument(ctx context.Context, documentID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Chunk{}).
		Where("document_id = ?", documentID).
		Pluck("chunk_id", &ids).Error
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError(err)
	}
	return ids, nil
}

// ListChunks 按创建顺序分页扫描全部分块，供关键词索引回放使用
func (r *ChunkRepository) ListChunks(ctx context.Context, offset, limit int) ([]*models.Chunk, error) {
	var chunks []*models.Chunk
	err := r.db.WithContext(ctx).
		Order("chunk_id ASC").
		Offset(offset).
		Limit(limit).
		Find(&chunks).Error
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError(err)
	}
	for _, chunk := range chunks {
		if err := decodeEmbedding(chunk); err != nil {
			return nil, err
		}
	}
	return chunks, nil
}

// GetDocuments 批量读取文档元数据
func (r *ChunkRepository) GetDocuments(ctx context.Context, documentIDs []uint) (map[uint]*models.Document, error) {
	if len(documentIDs) == 0 {
		return map[uint]*models.Document{}, nil
	}
	var docs []*models.Document
	err := r.db.WithContext(ctx).Where("document_id IN ?", documentIDs).Find(&docs).Error
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError(err)
	}
	out := make(map[uint]*models.Document, len(docs))
	for _, doc := range docs {
		out[doc.DocumentID] = doc
	}
	return out, nil
}

// ListCandidates 退化路径的候选窗口：最近创建优先，只取带指定维度向量的块
func (r *ChunkRepository) ListCandidates(ctx context.Context, dim int, filters knowledge.SearchFilters, limit int) ([]*models.Chunk, error) {
	if vectorColumn(dim) == "" {
		return nil, apperrors.NewUnsupportedDimensionError(dim)
	}

	query := r.db.WithContext(ctx).Model(&models.Chunk{}).
		Joins("JOIN documents ON chunks.document_id = documents.document_id").
		Where("chunks.embedding_dim = ?", dim).
		Order("chunks.created_at DESC").
		Limit(limit)
	query = applyFilters(query, filters)

	var chunks []*models.Chunk
	if err := query.Find(&chunks).Error; err != nil {
		return nil, apperrors.NewStoreUnavailableError(err)
	}
	for _, chunk := range chunks {
		if err := decodeEmbedding(chunk); err != nil {
			logger.Warn("分块向量解码失败，跳过该候选")
			chunk.Embedding = models.Embedding{}
		}
	}
	return chunks, nil
}

// SupportsNativeVectorSearch pgvector能力探测结果
func (r *ChunkRepository) SupportsNativeVectorSearch() bool {
	return r.hasVector
}

// NativeVectorSearch pgvector原生余弦检索。
// <=>为余弦距离算子，相似度 = 1 - 距离。
func (r *ChunkRepository) NativeVectorSearch(ctx context.Context, embedding models.Embedding, filters knowledge.SearchFilters, limit int, threshold float64) ([]knowledge.VectorMatch, error) {
	if !r.hasVector {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeInternalServer, "native vector search not supported")
	}
	column := vectorColumn(embedding.Dimension)
	if column == "" {
		return nil, apperrors.NewUnsupportedDimensionError(embedding.Dimension)
	}

	literal := vectorLiteral(embedding.Values)
	query := r.db.WithContext(ctx).Table("chunks").
		Select(fmt.Sprintf(
			"chunks.chunk_id, chunks.document_id, chunks.content, 1 - (chunks.%s <=> ?::vector) AS score",
			column), literal).
		Joins("JOIN documents ON chunks.document_id = documents.document_id").
		Where(fmt.Sprintf("chunks.%s IS NOT NULL", column)).
		Where(fmt.Sprintf("1 - (chunks.%s <=> ?::vector) >= ?", column), literal, threshold).
		Order("score DESC").
		Limit(limit)
	query = applyFilters(query, filters)

	var rows []struct {
		ChunkID    uint
		DocumentID uint
		Content    string
		Score      float64
	}
	if err := query.Scan(&rows).Error; err != nil {
		return nil, apperrors.NewStoreUnavailableError(err)
	}

	matches := make([]knowledge.VectorMatch, len(rows))
	for i, row := range rows {
		matches[i] = knowledge.VectorMatch{
			ChunkID:    row.ChunkID,
			DocumentID: row.DocumentID,
			Content:    row.Content,
			Score:      row.Score,
		}
	}
	return matches, nil
}

// applyFilters 把检索过滤条件翻译为documents表上的WHERE子句
func applyFilters(query *gorm.DB, filters knowledge.SearchFilters) *gorm.DB {
	if filters.OwnerID != nil {
		query = query.Where("documents.owner_id = ?", *filters.OwnerID)
	}
	if filters.Visibility != nil {
		query = query.Where("documents.visibility = ?", *filters.Visibility)
	}
	if filters.Category != "" {
		query = query.Where("documents.category = ?", filters.Category)
	}
	if filters.Author != "" {
		query = query.Where("documents.author ILIKE ?", "%"+filters.Author+"%")
	}
	if filters.ContentType != "" {
		query = query.Where("documents.content_type = ?", filters.ContentType)
	}
	if filters.UploadedAfter != nil {
		query = query.Where("documents.uploaded_at >= ?", *filters.UploadedAfter)
	}
	if filters.UploadedBefore != nil {
		query = query.Where("documents.uploaded_at <= ?", *filters.UploadedBefore)
	}
	return query
}

// vectorColumn 维度对应的pgvector列名，不支持的维度返回空串
func vectorColumn(dim int) string {
	switch dim {
	case 768:
		return "embedding_vec_768"
	case 1536:
		return "embedding_vec_1536"
	}
	return ""
}

// vectorLiteral pgvector的文本字面量 "[0.1,0.2,...]"
func vectorLiteral(values []float32) string {
	data, _ := json.Marshal(values)
	return string(data)
}

// encodeEmbedding 把统一向量视图写入对应维度的JSON列
func encodeEmbedding(chunk *models.Chunk) error {
	if !chunk.HasEmbedding() {
		return nil
	}
	if err := chunk.Embedding.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(chunk.Embedding.Values)
	if err != nil {
		return apperrors.NewInvalidInputError("embedding", "failed to encode")
	}

	chunk.EmbeddingDim = chunk.Embedding.Dimension
	switch chunk.Embedding.Dimension {
	case 768:
		chunk.Embedding768 = string(data)
		chunk.Embedding1536 = ""
	case 1536:
		chunk.Embedding1536 = string(data)
		chunk.Embedding768 = ""
	}
	return nil
}

// decodeEmbedding 从维度列还原统一向量视图
func decodeEmbedding(chunk *models.Chunk) error {
	var raw string
	switch chunk.EmbeddingDim {
	case 0:
		return nil
	case 768:
		raw = chunk.Embedding768
	case 1536:
		raw = chunk.Embedding1536
	default:
		return apperrors.NewUnsupportedDimensionError(chunk.EmbeddingDim)
	}
	if raw == "" {
		return nil
	}

	var values []float32
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return apperrors.NewInvalidInputError("embedding", "failed to decode")
	}
	chunk.Embedding = models.Embedding{Dimension: chunk.EmbeddingDim, Values: values}
	return nil
}
