package log

import (
	"context"
	"log/slog"
)

type contextKey string

// 上下文键定义
const (
	// RequestContextID 请求 ID
	RequestContextID contextKey = "request_id"

	// ModelContextID 目标模型
	ModelContextID contextKey = "model_id"

	// PromptModuleContextID 提示词模块
	PromptModuleContextID contextKey = "prompt_module"
)

// WithRequestID 在上下文中添加请求 ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestContextID, requestID)
}

// WithModelID 在上下文中添加模型 ID
func WithModelID(ctx context.Context, modelID string) context.Context {
	return context.WithValue(ctx, ModelContextID, modelID)
}

// WithPromptModule 在上下文中添加提示词模块名
func WithPromptModule(ctx context.Context, module string) context.Context {
	return context.WithValue(ctx, PromptModuleContextID, module)
}

// RequestIDFromContext 读取请求 ID
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(RequestContextID).(string); ok {
		return v
	}
	return ""
}

// LogCtxFromContext 从上下文中提取日志字段
func LogCtxFromContext(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr

	for _, key := range []contextKey{RequestContextID, ModelContextID, PromptModuleContextID} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}

	return attrs
}

// FromContext 返回附带上下文字段的 logger
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	attrs := LogCtxFromContext(ctx)
	if len(attrs) == 0 {
		return logger
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return logger.With(args...)
}
