// Package vectormath 提供所有评分路径共用的向量数值原语。
// 其它组件一律调用本包，不允许内联重复实现。
package vectormath

import (
	"math"

	apperrors "github.com/aihub/retrieval-go/internal/errors"
)

// validatePair 校验两个向量等长且非空
func validatePair(a, b []float32) error {
	if len(a) == 0 || len(b) == 0 {
		return apperrors.NewInvalidInputError("vector", "must not be empty")
	}
	if len(a) != len(b) {
		return apperrors.NewInvalidInputError("vector", "length mismatch")
	}
	return nil
}

// CosineSimilarity 计算余弦相似度，取值[-1,1]。
// 零模长向量返回0而不是除零。
func CosineSimilarity(a, b []float32) (float64, error) {
	if err := validatePair(a, b); err != nil {
		return 0, err
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// DotProduct 计算点积
func DotProduct(a, b []float32) (float64, error) {
	if err := validatePair(a, b); err != nil {
		return 0, err
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot, nil
}

// EuclideanDistance 计算欧氏距离
func EuclideanDistance(a, b []float32) (float64, error) {
	if err := validatePair(a, b); err != nil {
		return 0, err
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Normalize 返回单位向量。零模长向量原样返回副本。
func Normalize(a []float32) ([]float32, error) {
	if len(a) == 0 {
		return nil, apperrors.NewInvalidInputError("vector", "must not be empty")
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)

	out := make([]float32, len(a))
	if norm == 0 {
		copy(out, a)
		return out, nil
	}
	for i, v := range a {
		out[i] = float32(float64(v) / norm)
	}
	return out, nil
}

// Norm 计算向量模长
func Norm(a []float32) float64 {
	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}
