package repository

import (
	"context"
	"encoding/json"
	"strconv"

	"gorm.io/gorm"

	apperrors "github.com/aihub/retrieval-go/internal/errors"
	"github.com/aihub/retrieval-go/internal/knowledge"
	"github.com/aihub/retrieval-go/internal/models"
)

// GoldenSample 解析后的标注查询
type GoldenSample struct {
	GoldenID uint
	Query    string
	Relevant knowledge.RelevanceGrades
}

// GoldenQueryRepository 离线评估标注集的只读存储
type GoldenQueryRepository struct {
	db *gorm.DB
}

// NewGoldenQueryRepository 创建标注集存储
func NewGoldenQueryRepository(db *gorm.DB) *GoldenQueryRepository {
	return &GoldenQueryRepository{db: db}
}

// ListSamples 读取全部标注查询并解析相关性标注。
// 单条标注解析失败只跳过并计数，不让整次评估失败。
func (r *GoldenQueryRepository) ListSamples(ctx context.Context) ([]GoldenSample, int, error) {
	var rows []models.GoldenQuery
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, 0, apperrors.NewStoreUnavailableError(err)
	}

	samples := make([]GoldenSample, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		grades, err := parseRelevant(row.Relevant)
		if err != nil || row.Query == "" {
			skipped++
			continue
		}
		samples = append(samples, GoldenSample{
			GoldenID: row.GoldenID,
			Query:    row.Query,
			Relevant: grades,
		})
	}
	return samples, skipped, nil
}

// SaveSample 写入一条标注查询
func (r *GoldenQueryRepository) SaveSample(ctx context.Context, query string, relevant knowledge.RelevanceGrades) error {
	if query == "" {
		return apperrors.NewInvalidInputError("query", "must not be empty")
	}
	if len(relevant) == 0 {
		return apperrors.NewInvalidInputError("relevant", "must not be empty")
	}

	encoded := make(map[string]float64, len(relevant))
	for id, grade := range relevant {
		encoded[strconv.FormatUint(uint64(id), 10)] = grade
	}
	data, err := json.Marshal(encoded)
	if err != nil {
		return apperrors.NewInvalidInputError("relevant", "failed to encode")
	}

	row := models.GoldenQuery{Query: query, Relevant: string(data)}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return apperrors.NewStoreUnavailableError(err)
	}
	return nil
}

// parseRelevant 解析 {"chunk_id": grade} 形式的标注JSON
func parseRelevant(raw string) (knowledge.RelevanceGrades, error) {
	var decoded map[string]float64
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, err
	}
	grades := make(knowledge.RelevanceGrades, len(decoded))
	for key, grade := range decoded {
		id, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, err
		}
		grades[uint(id)] = grade
	}
	return grades, nil
}
