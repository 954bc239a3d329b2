package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误
	ErrCodeInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrCodeBadRequest     ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"

	// 检索核心错误
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"       // 参数非法，立即失败
	ErrCodeDegradedDependency ErrorCode = "DEGRADED_DEPENDENCY" // 依赖降级，本地恢复
	ErrCodeCacheFailure       ErrorCode = "CACHE_FAILURE"       // 缓存故障，静默吞掉
	ErrCodeStoreUnavailable   ErrorCode = "STORE_UNAVAILABLE"   // 存储不可用，必须上报
	ErrCodeUnsupportedDim     ErrorCode = "UNSUPPORTED_DIMENSION"

	// 外部服务错误
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout         ErrorCode = "TIMEOUT"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeBusiness
	ErrorTypeValidation
	ErrorTypeExternal
)

// AppError 应用错误结构体
type AppError struct {
	Code     ErrorCode   `json:"code"`
	Message  string      `json:"message"`
	Type     ErrorType   `json:"type"`
	HTTPCode int         `json:"-"`
	Details  interface{} `json:"details,omitempty"`
	Cause    error       `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// 错误构造函数

// NewInvalidInputError 创建输入无效错误（快速失败，不允许部分执行）
func NewInvalidInputError(field, reason string) *AppError {
	return &AppError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewUnsupportedDimensionError 创建不支持的向量维度错误
func NewUnsupportedDimensionError(dim int) *AppError {
	return &AppError{
		Code:     ErrCodeUnsupportedDim,
		Message:  fmt.Sprintf("unsupported embedding dimension: %d", dim),
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewDegradedDependencyError 创建依赖降级错误（内部记录用，不上抛给最终调用者）
func NewDegradedDependencyError(dependency string, cause error) *AppError {
	return &AppError{
		Code:     ErrCodeDegradedDependency,
		Message:  fmt.Sprintf("dependency '%s' degraded", dependency),
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusOK,
		Cause:    cause,
	}
}

// NewCacheFailureError 创建缓存故障错误（仅用于日志与统计，永不导致查询失败）
func NewCacheFailureError(op string, cause error) *AppError {
	return &AppError{
		Code:     ErrCodeCacheFailure,
		Message:  fmt.Sprintf("cache %s failed", op),
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusOK,
		Cause:    cause,
	}
}

// NewStoreUnavailableError 创建存储不可用错误（当前查询致命，必须上报调用方）
func NewStoreUnavailableError(cause error) *AppError {
	return &AppError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "chunk store unavailable",
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusServiceUnavailable,
		Cause:    cause,
	}
}

// NewSystemError 创建系统错误
func NewSystemError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
	}
}

// NewNotFoundError 创建资源未找到错误
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s not found", resource),
		Type:     ErrorTypeBusiness,
		HTTPCode: http.StatusNotFound,
	}
}

// IsCode 判断错误链上是否存在指定错误码的AppError
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsInvalidInput 判断是否为输入无效错误
func IsInvalidInput(err error) bool {
	return IsCode(err, ErrCodeInvalidInput) || IsCode(err, ErrCodeUnsupportedDim)
}

// IsStoreUnavailable 判断是否为存储不可用错误
func IsStoreUnavailable(err error) bool {
	return IsCode(err, ErrCodeStoreUnavailable)
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err)
}
