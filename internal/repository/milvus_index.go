package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	apperrors "github.com/aihub/retrieval-go/internal/errors"
	"github.com/aihub/retrieval-go/internal/knowledge"
	"github.com/aihub/retrieval-go/internal/logger"
	"github.com/aihub/retrieval-go/internal/models"
)

// MilvusOptions Milvus连接配置
type MilvusOptions struct {
	Address          string
	Username         string
	Password         string
	Database         string
	CollectionPrefix string
	UseTLS           bool
	Timeout          time.Duration
}

// MilvusVectorIndex 基于Milvus的专用向量索引。
// 每个支持的维度一个集合（集合schema的向量维度固定），
// 按查询向量的维度路由到对应集合。
type MilvusVectorIndex struct {
	milvusClient     client.Client
	collectionPrefix string

	mu      sync.Mutex
	ensured map[int]bool
}

// NewMilvusVectorIndex 创建Milvus向量索引
func NewMilvusVectorIndex(opts MilvusOptions) (*MilvusVectorIndex, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.CollectionPrefix == "" {
		opts.CollectionPrefix = "retrieval_vectors"
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	milvusClient, err := client.NewClient(ctx, client.Config{
		Address:       opts.Address,
		DBName:        opts.Database,
		Username:      opts.Username,
		Password:      opts.Password,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &MilvusVectorIndex{
		milvusClient:     milvusClient,
		collectionPrefix: opts.CollectionPrefix,
		ensured:          make(map[int]bool),
	}, nil
}

func (m *MilvusVectorIndex) collectionName(dim int) string {
	return fmt.Sprintf("%s_%d", m.collectionPrefix, dim)
}

// ensureCollection 确保指定维度的集合与索引存在
func (m *MilvusVectorIndex) ensureCollection(ctx context.Context, dim int) error {
	m.mu.Lock()
	if m.ensured[dim] {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	name := m.collectionName(dim)
	has, err := m.milvusClient.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		schema := &entity.Schema{
			CollectionName: name,
			Description:    fmt.Sprintf("Retrieval vectors, dimension %d", dim),
			Fields: []*entity.Field{
				{Name: "id", DataType: entity.FieldTypeInt64, PrimaryKey: true, AutoID: false},
				{Name: "chunk_id", DataType: entity.FieldTypeInt64},
				{Name: "document_id", DataType: entity.FieldTypeInt64},
				{
					Name:       "content",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "65535"},
				},
				{
					Name:       "vector",
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": fmt.Sprintf("%d", dim)},
				},
			},
		}
		if err := m.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		var index entity.Index
		var indexErr error
		index, indexErr = entity.NewIndexHNSW(entity.COSINE, 8, 64)
		if indexErr != nil {
			index, indexErr = entity.NewIndexIvfFlat(entity.COSINE, 128)
			if indexErr != nil {
				return fmt.Errorf("failed to build index definition: %w", indexErr)
			}
		}
		if err := m.milvusClient.CreateIndex(ctx, name, "vector", index, false); err != nil {
			logger.Warn("milvus索引创建失败，集合仍可用", zap.String("collection", name), zap.Error(err))
		}
	}

	if err := m.milvusClient.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	m.mu.Lock()
	m.ensured[dim] = true
	m.mu.Unlock()
	return nil
}

// Upsert 写入分块向量
func (m *MilvusVectorIndex) Upsert(ctx context.Context, chunk *models.Chunk) error {
	if chunk == nil || !chunk.HasEmbedding() {
		return apperrors.NewInvalidInputError("chunk", "must carry an embedding")
	}
	if err := chunk.Embedding.Validate(); err != nil {
		return err
	}

	dim := chunk.Embedding.Dimension
	if err := m.ensureCollection(ctx, dim); err != nil {
		return err
	}

	name := m.collectionName(dim)
	idColumn := entity.NewColumnInt64("id", []int64{int64(chunk.ChunkID)})
	chunkIDColumn := entity.NewColumnInt64("chunk_id", []int64{int64(chunk.ChunkID)})
	documentIDColumn := entity.NewColumnInt64("document_id", []int64{int64(chunk.DocumentID)})
	contentColumn := entity.NewColumnVarChar("content", []string{chunk.Content})
	vectorColumn := entity.NewColumnFloatVector("vector", dim, [][]float32{chunk.Embedding.Values})

	if _, err := m.milvusClient.Insert(ctx, name, "", idColumn, chunkIDColumn, documentIDColumn, contentColumn, vectorColumn); err != nil {
		return fmt.Errorf("milvus insert failed: %w", err)
	}

	if err := m.milvusClient.Flush(ctx, name, false); err != nil {
		logger.Warn("milvus flush失败", zap.String("collection", name), zap.Error(err))
	}
	return nil
}

// DeleteDocument 删除文档的全部向量（所有维度的集合都要清）
func (m *MilvusVectorIndex) DeleteDocument(ctx context.Context, documentID uint) error {
	expr := fmt.Sprintf("document_id == %d", documentID)
	for _, dim := range models.SupportedDimensions {
		name := m.collectionName(dim)
		has, err := m.milvusClient.HasCollection(ctx, name)
		if err != nil || !has {
			continue
		}
		if err := m.milvusClient.Delete(ctx, name, "", expr); err != nil {
			return fmt.Errorf("milvus delete failed: %w", err)
		}
	}
	return nil
}

// Search 余弦相似度检索，过滤低于threshold的结果
func (m *MilvusVectorIndex) Search(ctx context.Context, embedding models.Embedding, limit int, threshold float64) ([]knowledge.VectorMatch, error) {
	if err := embedding.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	if err := m.ensureCollection(ctx, embedding.Dimension); err != nil {
		return nil, err
	}

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	results, err := m.milvusClient.Search(
		ctx,
		m.collectionName(embedding.Dimension),
		[]string{},
		"",
		[]string{"chunk_id", "document_id", "content"},
		[]entity.Vector{entity.FloatVector(embedding.Values)},
		"vector",
		entity.COSINE,
		limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	result := results[0]
	if result.Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", result.Err)
	}

	var chunkIDs, documentIDs []int64
	var contents []string
	for _, field := range result.Fields {
		switch field.Name() {
		case "chunk_id":
			if col, ok := field.(*entity.ColumnInt64); ok {
				chunkIDs = col.Data()
			}
		case "document_id":
			if col, ok := field.(*entity.ColumnInt64); ok {
				documentIDs = col.Data()
			}
		case "content":
			if col, ok := field.(*entity.ColumnVarChar); ok {
				contents = col.Data()
			}
		}
	}

	matches := make([]knowledge.VectorMatch, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		score := float64(result.Scores[i])
		if score < threshold {
			continue
		}
		match := knowledge.VectorMatch{Score: score}
		if i < len(chunkIDs) {
			match.ChunkID = uint(chunkIDs[i])
		}
		if i < len(documentIDs) {
			match.DocumentID = uint(documentIDs[i])
		}
		if i < len(contents) {
			match.Content = contents[i]
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// Ready 客户端是否可用
func (m *MilvusVectorIndex) Ready() bool {
	return m != nil && m.milvusClient != nil
}
