package knowledge

import (
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/aihub/retrieval-go/internal/errors"
	"github.com/aihub/retrieval-go/internal/models"
)

// Embedder 文本向量化抽象
type Embedder interface {
	// Embed 把单段文本转为向量
	Embed(ctx context.Context, text string) (models.Embedding, error)
	// EmbedBatch 批量向量化，顺序与输入一致
	EmbedBatch(ctx context.Context, texts []string) ([]models.Embedding, error)
	// Dimension 该embedder产出的向量维度
	Dimension() int
}

// OpenAIEmbedder 基于OpenAI兼容接口的embedder实现
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dim    int
}

// NewOpenAIEmbedder 创建OpenAI embedder。
// model为空时默认text-embedding-3-small（1536维）。
func NewOpenAIEmbedder(apiKey, baseURL, model string) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, apperrors.NewInvalidInputError("api_key", "must not be empty")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	dim := 1536
	// 768维模型（如nomic-embed-text等兼容服务）按模型名约定识别
	if strings.Contains(model, "768") || strings.Contains(model, "nomic") {
		dim = 768
	}
	if !models.IsSupportedDimension(dim) {
		return nil, apperrors.NewUnsupportedDimensionError(dim)
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(config),
		model:  openai.EmbeddingModel(model),
		dim:    dim,
	}, nil
}

// Embed 单文本向量化
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (models.Embedding, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return models.Embedding{}, err
	}
	return embeddings[0], nil
}

// EmbedBatch 批量向量化
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]models.Embedding, error) {
	if len(texts) == 0 {
		return nil, apperrors.NewInvalidInputError("texts", "must not be empty")
	}
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, apperrors.NewInvalidInputError("texts", "must not contain empty text")
		}
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, apperrors.NewDegradedDependencyError("embedding", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, apperrors.NewDegradedDependencyError("embedding",
			apperrors.NewSystemError(apperrors.ErrCodeExternalService, "embedding count mismatch"))
	}

	embeddings := make([]models.Embedding, len(resp.Data))
	for i, data := range resp.Data {
		embedding := models.NewEmbedding(data.Embedding)
		if err := embedding.Validate(); err != nil {
			return nil, err
		}
		embeddings[i] = embedding
	}
	return embeddings, nil
}

// Dimension 向量维度
func (e *OpenAIEmbedder) Dimension() int {
	return e.dim
}

// NoopEmbedder embedder缺省占位实现，所有调用返回降级错误
type NoopEmbedder struct{}

func (n *NoopEmbedder) Embed(ctx context.Context, text string) (models.Embedding, error) {
	return models.Embedding{}, apperrors.NewDegradedDependencyError("embedding", nil)
}

func (n *NoopEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]models.Embedding, error) {
	return nil, apperrors.NewDegradedDependencyError("embedding", nil)
}

func (n *NoopEmbedder) Dimension() int {
	return 0
}
