package models

import (
	"time"

	apperrors "github.com/aihub/retrieval-go/internal/errors"
)

// SupportedDimensions 系统支持的向量维度
var SupportedDimensions = []int{768, 1536}

// IsSupportedDimension 判断向量维度是否受支持
func IsSupportedDimension(dim int) bool {
	for _, d := range SupportedDimensions {
		if d == dim {
			return true
		}
	}
	return false
}

// Embedding 带维度标签的向量。
// 按维度选择底层存储列的逻辑只存在于存储边界，业务逻辑一律使用本结构。
type Embedding struct {
	Dimension int       `json:"dimension"`
	Values    []float32 `json:"values"`
}

// IsZero 判断向量是否为空
func (e Embedding) IsZero() bool {
	return len(e.Values) == 0
}

// Validate 校验向量维度受支持且与标签一致
func (e Embedding) Validate() error {
	if e.IsZero() {
		return apperrors.NewInvalidInputError("embedding", "must not be empty")
	}
	if len(e.Values) != e.Dimension {
		return apperrors.NewInvalidInputError("embedding", "dimension tag does not match value length")
	}
	if !IsSupportedDimension(e.Dimension) {
		return apperrors.NewUnsupportedDimensionError(e.Dimension)
	}
	return nil
}

// NewEmbedding 根据取值构造带维度标签的向量
func NewEmbedding(values []float32) Embedding {
	return Embedding{Dimension: len(values), Values: values}
}

// Visibility 文档可见性
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityShared  Visibility = "shared"
	VisibilityPublic  Visibility = "public"
)

// Document 文档元数据（由摄取侧拥有，检索核心只读）
type Document struct {
	DocumentID  uint       `gorm:"primaryKey;column:document_id" json:"document_id"`
	Title       string     `gorm:"column:title;size:500" json:"title"`
	OwnerID     uint       `gorm:"column:owner_id;index" json:"owner_id"`
	Visibility  Visibility `gorm:"column:visibility;size:20;default:private" json:"visibility"`
	Category    string     `gorm:"column:category;size:100;index" json:"category"`
	Author      string     `gorm:"column:author;size:200" json:"author"`
	ContentType string     `gorm:"column:content_type;size:100" json:"content_type"`
	UploadedAt  time.Time  `gorm:"column:uploaded_at;index" json:"uploaded_at"`

	Chunks []Chunk `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定表名
func (Document) TableName() string {
	return "documents"
}

// ChunkType 分块类型
type ChunkType string

const (
	ChunkTypeParagraph ChunkType = "paragraph"
	ChunkTypeSection   ChunkType = "section"
	ChunkTypeListItem  ChunkType = "list-item"
	ChunkTypeHeading   ChunkType = "heading"
)

// Chunk 检索的最小单元。
// 向量按维度分列存储（embedding_768 / embedding_1536），每块至多填充一列；
// 维度选择只发生在存储层，见repository包。
type Chunk struct {
	ChunkID    uint      `gorm:"primaryKey;column:chunk_id" json:"chunk_id"`
	DocumentID uint      `gorm:"column:document_id;index" json:"document_id"`
	ChunkIndex int       `gorm:"column:chunk_index" json:"chunk_index"`
	Content    string    `gorm:"column:content;type:text" json:"content"`
	TokenCount int       `gorm:"column:token_count" json:"token_count"`
	StartByte  int       `gorm:"column:start_byte" json:"start_byte"`
	EndByte    int       `gorm:"column:end_byte" json:"end_byte"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`

	// 结构化元数据
	SectionTitle string    `gorm:"column:section_title;size:500" json:"section_title"`
	SectionPath  string    `gorm:"column:section_path;size:1000" json:"section_path"`
	HeaderLevel  int       `gorm:"column:header_level" json:"header_level"` // 0-6
	ChunkType    ChunkType `gorm:"column:chunk_type;size:20" json:"chunk_type"`
	Keywords     string    `gorm:"column:keywords;size:1000" json:"keywords"` // 逗号分隔
	Metadata     string    `gorm:"column:metadata;type:text" json:"metadata"` // 自由JSON

	// 按维度分列的向量存储（JSON编码），EmbeddingDim标记填充的列
	EmbeddingDim  int    `gorm:"column:embedding_dim" json:"embedding_dim"`
	Embedding768  string `gorm:"column:embedding_768;type:text" json:"-"`
	Embedding1536 string `gorm:"column:embedding_1536;type:text" json:"-"`

	// 业务逻辑使用的统一向量视图，由存储层填充
	Embedding Embedding `gorm:"-" json:"-"`
}

// TableName 指定表名
func (Chunk) TableName() string {
	return "chunks"
}

// HasEmbedding 判断分块是否已有向量（无向量的块只参与关键词检索）
func (c *Chunk) HasEmbedding() bool {
	return !c.Embedding.IsZero()
}

// GoldenQuery 离线评估用的标注查询
type GoldenQuery struct {
	GoldenID  uint      `gorm:"primaryKey;column:golden_id" json:"golden_id"`
	Query     string    `gorm:"column:query;type:text" json:"query"`
	Relevant  string    `gorm:"column:relevant;type:text" json:"relevant"` // JSON: {chunk_id: grade}
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName 指定表名
func (GoldenQuery) TableName() string {
	return "golden_queries"
}
