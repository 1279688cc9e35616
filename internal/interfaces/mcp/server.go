package mcp

import (
	"log/slog"
	"net/http"

	appCE "github.com/cocursor/contextengine/internal/application/contextengine"
	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/cocursor/contextengine/internal/infrastructure/log"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerVersion MCP 服务版本
const ServerVersion = "0.1.0"

// ModelLister 可列出已注册模型
type ModelLister interface {
	Models() []domain.ModelInfo
}

// MCPServer MCP 服务器
type MCPServer struct {
	server  *mcp.Server
	handler http.Handler
	engine  *appCE.Engine
	models  ModelLister
	logger  *slog.Logger
}

// NewServer 创建 MCP 服务器
func NewServer(engine *appCE.Engine, models ModelLister) *MCPServer {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "contextengine",
			Version: ServerVersion,
		},
		nil,
	)

	s := &MCPServer{
		server: server,
		engine: engine,
		models: models,
		logger: log.NewModuleLogger("mcp", "server"),
	}

	mcp.AddTool(server, &mcp.Tool{
		Name: "prepare_context",
		Description: `Fit retrieved context into a model's context window and assemble the final prompt messages.

Parameters:
- query (string, required): The user's question
- model (string, required): Target model ID, used to look up the context window size
- context (object, optional): Candidate context with contentList, documents and resources arrays. Each item has type, content and metadata (entityId, title, url)
- history (array, optional): Previous chat messages with role and content
- web_search_sources / library_search_sources (array, optional): Search results with url, title and pageContent
- module (string, optional): Prompt module name, defaults to commonQnA
- locale (string, optional): Reply language hint

Returns: assembled messages, numbered citation sources, the serialized context block and the per-item allocation report.`,
	}, s.prepareContextTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "count_tokens",
		Description: "Count tokens for one or more texts using the engine's tokenizer. Parameters: texts (array of strings, required). Returns: per-text counts and the total.",
	}, s.countTokensTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_models",
		Description: "List registered models with their context window sizes and whether they support context caching. No parameters required.",
	}, s.listModelsTool)

	s.handler = mcp.NewSSEHandler(
		func(r *http.Request) *mcp.Server {
			return server
		},
		nil,
	)
	return s
}

// GetHandler 获取 HTTP Handler（用于集成到 HTTP 服务器）
func (s *MCPServer) GetHandler() http.Handler {
	return s.handler
}

// Server 返回底层 MCP 服务器
func (s *MCPServer) Server() *mcp.Server {
	return s.server
}
