package response

import (
	"net/http"

	"github.com/cocursor/contextengine/internal/infrastructure/log"
	"github.com/gin-gonic/gin"
)

var logger = log.NewModuleLogger("http", "response")

// Response 统一响应结构
// RequestID 与响应头 X-Request-ID 一致，便于按请求检索日志
type Response struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Code:      0,
		Message:   "success",
		Data:      data,
		RequestID: log.RequestIDFromContext(c.Request.Context()),
	})
}

// Error 错误响应
func Error(c *gin.Context, httpCode int, errCode int, message string) {
	ErrorWithDetail(c, httpCode, errCode, message, "")
}

// ErrorWithDetail 带详情的错误响应
// 5xx 记为 Error 日志，其余记为 Warn
func ErrorWithDetail(c *gin.Context, httpCode int, errCode int, message, detail string) {
	ctx := c.Request.Context()
	l := log.FromContext(ctx, logger)
	attrs := []any{
		"status", httpCode,
		"code", errCode,
		"path", c.FullPath(),
		"detail", detail,
	}
	if httpCode >= http.StatusInternalServerError {
		l.Error(message, attrs...)
	} else {
		l.Warn(message, attrs...)
	}

	c.JSON(httpCode, ErrorResponse{
		Code:      errCode,
		Message:   message,
		Detail:    detail,
		RequestID: log.RequestIDFromContext(ctx),
	})
}
