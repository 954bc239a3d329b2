package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aihub/retrieval-go/internal/models"
)

// SearchFilters 文档级过滤条件。
// 这些字段由摄取侧拥有，检索核心只作为谓词消费，从不修改。
type SearchFilters struct {
	OwnerID        *uint              `json:"owner_id,omitempty"`
	Visibility     *models.Visibility `json:"visibility,omitempty"`
	Category       string             `json:"category,omitempty"`
	Author         string             `json:"author,omitempty"`
	ContentType    string             `json:"content_type,omitempty"`
	UploadedAfter  *time.Time         `json:"uploaded_after,omitempty"`
	UploadedBefore *time.Time         `json:"uploaded_before,omitempty"`
}

// IsEmpty 判断是否无任何过滤条件
func (f SearchFilters) IsEmpty() bool {
	return f.OwnerID == nil && f.Visibility == nil && f.Category == "" &&
		f.Author == "" && f.ContentType == "" && f.UploadedAfter == nil && f.UploadedBefore == nil
}

// Match 判断文档是否满足全部过滤条件
func (f SearchFilters) Match(doc *models.Document) bool {
	if doc == nil {
		return f.IsEmpty()
	}
	if f.OwnerID != nil && doc.OwnerID != *f.OwnerID {
		return false
	}
	if f.Visibility != nil && doc.Visibility != *f.Visibility {
		return false
	}
	if f.Category != "" && doc.Category != f.Category {
		return false
	}
	if f.Author != "" && !strings.Contains(strings.ToLower(doc.Author), strings.ToLower(f.Author)) {
		return false
	}
	if f.ContentType != "" && doc.ContentType != f.ContentType {
		return false
	}
	if f.UploadedAfter != nil && doc.UploadedAt.Before(*f.UploadedAfter) {
		return false
	}
	if f.UploadedBefore != nil && doc.UploadedAt.After(*f.UploadedBefore) {
		return false
	}
	return true
}

// Digest 生成过滤条件的稳定摘要，用于语义缓存键
func (f SearchFilters) Digest() string {
	var parts []string
	if f.OwnerID != nil {
		parts = append(parts, fmt.Sprintf("owner=%d", *f.OwnerID))
	}
	if f.Visibility != nil {
		parts = append(parts, fmt.Sprintf("vis=%s", *f.Visibility))
	}
	if f.Category != "" {
		parts = append(parts, "cat="+f.Category)
	}
	if f.Author != "" {
		parts = append(parts, "author="+strings.ToLower(f.Author))
	}
	if f.ContentType != "" {
		parts = append(parts, "ct="+f.ContentType)
	}
	if f.UploadedAfter != nil {
		parts = append(parts, fmt.Sprintf("after=%d", f.UploadedAfter.Unix()))
	}
	if f.UploadedBefore != nil {
		parts = append(parts, fmt.Sprintf("before=%d", f.UploadedBefore.Unix()))
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(sum[:8])
}

// SearchOptions 检索选项
type SearchOptions struct {
	TopK          int           `json:"top_k"`
	MinSimilarity float64       `json:"min_similarity"`
	VectorWeight  float64       `json:"vector_weight"`
	TextWeight    float64       `json:"text_weight"`
	EnableBM25    bool          `json:"enable_bm25"`
	EnableCache   bool          `json:"enable_cache"`
	Filters       SearchFilters `json:"filters"`
}

// DefaultSearchOptions 返回默认检索选项
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		TopK:          10,
		MinSimilarity: 0.3,
		VectorWeight:  0.5,
		TextWeight:    0.5,
		EnableBM25:    true,
		EnableCache:   true,
	}
}

// SearchResult 单次查询的临时结果，不落库（写入语义缓存除外）
type SearchResult struct {
	ChunkID      uint    `json:"chunk_id"`
	DocumentID   uint    `json:"document_id"`
	Content      string  `json:"content"`
	SectionTitle string  `json:"section_title,omitempty"`
	Score        float64 `json:"score"`        // 融合得分
	VectorScore  float64 `json:"vector_score"` // 余弦相似度 0-1
	BM25Score    float64 `json:"bm25_score"`   // 原始BM25得分，无上界
	VectorRank   int     `json:"vector_rank"`  // 1-based，0表示未进入该子排名
	TextRank     int     `json:"text_rank"`

	// 可解释性：查询词在该块中的词频
	TermFrequencies map[string]int `json:"term_frequencies,omitempty"`
}

// VectorMatch 向量子检索的候选
type VectorMatch struct {
	ChunkID    uint
	DocumentID uint
	Content    string
	Score      float64 // 余弦相似度
}

// KeywordMatch 关键词子检索的候选
type KeywordMatch struct {
	ChunkID         uint
	DocumentID      uint
	Content         string
	Score           float64 // 原始BM25得分
	Rank            int     // 1-based
	TermFrequencies map[string]int
}

// ChunkStore 分块存储抽象。
// SupportsNativeVectorSearch 是每个连接解析一次的能力探测，
// 不支持原生向量算子的存储走内存退化路径。
type ChunkStore interface {
	GetChunk(ctx context.Context, chunkID uint) (*models.Chunk, error)
	GetChunks(ctx context.Context, chunkIDs []uint) ([]*models.Chunk, error)
	GetDocuments(ctx context.Context, documentIDs []uint) (map[uint]*models.Document, error)

	// ListCandidates 按最近优先返回带向量的候选块（退化路径的内存窗口）
	ListCandidates(ctx context.Context, dim int, filters SearchFilters, limit int) ([]*models.Chunk, error)

	SupportsNativeVectorSearch() bool
	NativeVectorSearch(ctx context.Context, embedding models.Embedding, filters SearchFilters, limit int, threshold float64) ([]VectorMatch, error)
}

// KeywordSearcher 关键词检索抽象。
// 进程内BM25为规范实现，Elasticsearch为可选替代。
type KeywordSearcher interface {
	Index(ctx context.Context, chunk *models.Chunk, doc *models.Document) error
	Remove(ctx context.Context, chunkID uint) error
	Search(ctx context.Context, query string, filters SearchFilters, limit int) ([]KeywordMatch, error)
	Ready() bool
}

// VectorIndex 专用向量索引抽象（如Milvus），原生路径的另一种后端
type VectorIndex interface {
	Upsert(ctx context.Context, chunk *models.Chunk) error
	DeleteDocument(ctx context.Context, documentID uint) error
	Search(ctx context.Context, embedding models.Embedding, limit int, threshold float64) ([]VectorMatch, error)
	Ready() bool
}

// NoopKeywordSearcher 关键词检索缺省占位实现
type NoopKeywordSearcher struct{}

func (n *NoopKeywordSearcher) Index(ctx context.Context, chunk *models.Chunk, doc *models.Document) error {
	return nil
}

func (n *NoopKeywordSearcher) Remove(ctx context.Context, chunkID uint) error {
	return nil
}

func (n *NoopKeywordSearcher) Search(ctx context.Context, query string, filters SearchFilters, limit int) ([]KeywordMatch, error) {
	return nil, nil
}

func (n *NoopKeywordSearcher) Ready() bool {
	return false
}
