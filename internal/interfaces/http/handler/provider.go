package handler

import (
	"log/slog"
	"net/http"

	"github.com/cocursor/contextengine/internal/infrastructure/log"
	"github.com/cocursor/contextengine/internal/infrastructure/rag"
	"github.com/cocursor/contextengine/internal/interfaces/http/response"
	"github.com/gin-gonic/gin"
)

// ProviderStore 服务商配置读写
type ProviderStore interface {
	ReadConfig() (*rag.ProviderConfig, error)
	WriteConfig(cfg *rag.ProviderConfig) error
}

// ProviderHandler 服务商配置处理器
// 修改在服务重启后生效
type ProviderHandler struct {
	store  ProviderStore
	logger *slog.Logger
}

// NewProviderHandler 创建服务商配置处理器
func NewProviderHandler(store *rag.ConfigManager) *ProviderHandler {
	return newProviderHandler(store)
}

func newProviderHandler(store ProviderStore) *ProviderHandler {
	return &ProviderHandler{
		store:  store,
		logger: log.NewModuleLogger("http", "provider_handler"),
	}
}

// apiView 对外展示的接口配置，不含 API Key
type apiView struct {
	URL        string `json:"url"`
	Model      string `json:"model"`
	HasAPIKey  bool   `json:"has_api_key"`
	Configured bool   `json:"configured"`
}

func newAPIView(a rag.APIConfig) apiView {
	return apiView{URL: a.URL, Model: a.Model, HasAPIKey: a.APIKey != "", Configured: a.Configured()}
}

// GetConfig 获取服务商配置
// GET /api/v1/providers
func (h *ProviderHandler) GetConfig(c *gin.Context) {
	cfg, err := h.store.ReadConfig()
	if err != nil {
		response.ErrorWithDetail(c, http.StatusInternalServerError, codeInternal, "failed to read provider config", err.Error())
		return
	}

	response.Success(c, gin.H{
		"embedding_api": newAPIView(cfg.EmbeddingAPI),
		"llm_api":       newAPIView(cfg.LLMAPI),
		"qdrant": gin.H{
			"host":        cfg.Qdrant.Host,
			"port":        cfg.Qdrant.Port,
			"use_tls":     cfg.Qdrant.UseTLS,
			"has_api_key": cfg.Qdrant.APIKey != "",
			"configured":  cfg.Qdrant.Configured(),
		},
	})
}

// UpdateAPIRequest 接口配置更新，空字段保持原值
type UpdateAPIRequest struct {
	URL    *string `json:"url"`
	APIKey *string `json:"api_key"`
	Model  *string `json:"model"`
}

func (r *UpdateAPIRequest) apply(a *rag.APIConfig) {
	if r == nil {
		return
	}
	if r.URL != nil {
		a.URL = *r.URL
	}
	if r.APIKey != nil {
		a.APIKey = *r.APIKey
	}
	if r.Model != nil {
		a.Model = *r.Model
	}
}

// UpdateConfigRequest 更新配置请求
type UpdateConfigRequest struct {
	EmbeddingAPI *UpdateAPIRequest `json:"embedding_api"`
	LLMAPI       *UpdateAPIRequest `json:"llm_api"`
	Qdrant       *struct {
		Host   *string `json:"host"`
		Port   *int    `json:"port"`
		APIKey *string `json:"api_key"`
		UseTLS *bool   `json:"use_tls"`
	} `json:"qdrant"`
}

// UpdateConfig 更新服务商配置
// PUT /api/v1/providers
func (h *ProviderHandler) UpdateConfig(c *gin.Context) {
	var req UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithDetail(c, http.StatusBadRequest, codeInvalidRequest, "invalid request body", err.Error())
		return
	}

	cfg, err := h.store.ReadConfig()
	if err != nil {
		response.ErrorWithDetail(c, http.StatusInternalServerError, codeInternal, "failed to read provider config", err.Error())
		return
	}

	req.EmbeddingAPI.apply(&cfg.EmbeddingAPI)
	req.LLMAPI.apply(&cfg.LLMAPI)
	if q := req.Qdrant; q != nil {
		if q.Host != nil {
			cfg.Qdrant.Host = *q.Host
		}
		if q.Port != nil {
			cfg.Qdrant.Port = *q.Port
		}
		if q.APIKey != nil {
			cfg.Qdrant.APIKey = *q.APIKey
		}
		if q.UseTLS != nil {
			cfg.Qdrant.UseTLS = *q.UseTLS
		}
	}

	if err := h.store.WriteConfig(cfg); err != nil {
		response.ErrorWithDetail(c, http.StatusInternalServerError, codeInternal, "failed to write provider config", err.Error())
		return
	}

	h.logger.Info("Provider config updated, restart required to apply")
	response.Success(c, gin.H{"restart_required": true})
}
