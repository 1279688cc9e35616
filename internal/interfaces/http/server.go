package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cocursor/contextengine/internal/infrastructure/config"
	"github.com/cocursor/contextengine/internal/infrastructure/log"
	"github.com/cocursor/contextengine/internal/interfaces/http/handler"
	"github.com/cocursor/contextengine/internal/interfaces/http/middleware"
	"github.com/cocursor/contextengine/internal/interfaces/mcp"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServer HTTP 服务器
type HTTPServer struct {
	router   *gin.Engine
	httpPort string
	server   *http.Server
	logger   *slog.Logger
}

// NewServer 创建 HTTP 服务器
func NewServer(
	serverConfig *config.ServerConfig,
	contextHandler *handler.ContextHandler,
	providerHandler *handler.ProviderHandler,
	gatherer prometheus.Gatherer,
	mcpServer *mcp.MCPServer,
) *HTTPServer {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID())

	api := router.Group("/api/v1")
	api.Use(middleware.EnsureUTF8Body())
	{
		api.POST("/context/prepare", contextHandler.Prepare)
		api.POST("/tokens/count", contextHandler.CountTokens)
		api.GET("/models", contextHandler.ListModels)
		api.GET("/policy", contextHandler.GetPolicy)

		api.GET("/providers", providerHandler.GetConfig)
		api.PUT("/providers", providerHandler.UpdateConfig)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": log.ServiceName})
	})

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// MCP SSE 端点
	if mcpServer != nil {
		router.Any("/mcp/sse", gin.WrapH(mcpServer.GetHandler()))
	}

	return &HTTPServer{
		router:   router,
		httpPort: serverConfig.HTTPPort,
		logger:   log.NewModuleLogger("http", "server"),
	}
}

// Handler 返回路由，便于测试
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start 启动服务器，阻塞直到关闭
func (s *HTTPServer) Start() error {
	s.server = &http.Server{
		Addr:              s.httpPort,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("HTTP server starting",
		"port", s.httpPort,
	)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Stop 停止服务器
func (s *HTTPServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}
