package handler

import (
	"errors"
	"log/slog"
	"net/http"

	appCE "github.com/cocursor/contextengine/internal/application/contextengine"
	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/cocursor/contextengine/internal/infrastructure/log"
	"github.com/cocursor/contextengine/internal/interfaces/http/response"
	"github.com/gin-gonic/gin"
)

// 业务错误码
const (
	codeInvalidRequest = 40001
	codeInternal       = 50001
)

// ModelLister 可列出已注册模型
type ModelLister interface {
	Models() []domain.ModelInfo
}

// ContextHandler 上下文准备处理器
type ContextHandler struct {
	engine *appCE.Engine
	models ModelLister
	logger *slog.Logger
}

// NewContextHandler 创建上下文准备处理器
func NewContextHandler(engine *appCE.Engine, models ModelLister) *ContextHandler {
	return &ContextHandler{
		engine: engine,
		models: models,
		logger: log.NewModuleLogger("http", "context_handler"),
	}
}

// Prepare 处理上下文准备请求
// POST /api/v1/context/prepare
func (h *ContextHandler) Prepare(c *gin.Context) {
	var req appCE.PrepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithDetail(c, http.StatusBadRequest, codeInvalidRequest, "invalid request body", err.Error())
		return
	}
	if req.Query == "" {
		response.Error(c, http.StatusBadRequest, codeInvalidRequest, "query is required")
		return
	}

	ctx := c.Request.Context()
	res, err := h.engine.Prepare(ctx, &req)
	if err != nil {
		if errors.Is(err, appCE.ErrInvalidRequest) {
			response.ErrorWithDetail(c, http.StatusBadRequest, codeInvalidRequest, "invalid prepare request", err.Error())
			return
		}
		log.FromContext(ctx, h.logger).Error("Failed to prepare context", "error", err)
		response.ErrorWithDetail(c, http.StatusInternalServerError, codeInternal, "failed to prepare context", err.Error())
		return
	}

	response.Success(c, res)
}

// CountTokensRequest Token 计数请求
type CountTokensRequest struct {
	Texts []string `json:"texts" binding:"required"`
}

// CountTokensResponse Token 计数结果
type CountTokensResponse struct {
	Counts []int `json:"counts"`
	Total  int   `json:"total"`
}

// CountTokens 处理 Token 计数请求
// POST /api/v1/tokens/count
func (h *ContextHandler) CountTokens(c *gin.Context) {
	var req CountTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithDetail(c, http.StatusBadRequest, codeInvalidRequest, "invalid request body", err.Error())
		return
	}

	out := CountTokensResponse{Counts: make([]int, len(req.Texts))}
	for i, text := range req.Texts {
		out.Counts[i] = h.engine.CountTokens(text)
		out.Total += out.Counts[i]
	}
	response.Success(c, out)
}

// ListModels 返回已注册的模型
// GET /api/v1/models
func (h *ContextHandler) ListModels(c *gin.Context) {
	response.Success(c, h.models.Models())
}

// GetPolicy 返回当前生效的预算策略
// GET /api/v1/policy
func (h *ContextHandler) GetPolicy(c *gin.Context) {
	response.Success(c, h.engine.Policy())
}
