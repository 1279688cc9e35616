package contextengine

import (
	"errors"
	"fmt"
)

var (
	// ErrExtractionFailure 结构化输出在全部尝试后仍无法解析或校验
	ErrExtractionFailure = errors.New("structured extraction failed")
	// ErrOracleUnavailable 相似度检索服务不可用
	ErrOracleUnavailable = errors.New("similarity oracle unavailable")
	// ErrInvalidPolicy 预算策略非法
	ErrInvalidPolicy = errors.New("invalid budget policy")
)

// UnknownModelError 模型不在注册表中
type UnknownModelError struct {
	ModelID string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model: %q", e.ModelID)
}

// IsUnknownModel 判断是否为未知模型错误
func IsUnknownModel(err error) bool {
	var target *UnknownModelError
	return errors.As(err, &target)
}
