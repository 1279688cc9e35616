//go:build wireinject
// +build wireinject

package wire

import (
	"github.com/cocursor/contextengine/internal/application"
	"github.com/cocursor/contextengine/internal/infrastructure"
	"github.com/cocursor/contextengine/internal/interfaces"
	"github.com/google/wire"
)

// InitializeAll 初始化所有服务（HTTP + MCP），返回的清理函数释放检索后端连接
func InitializeAll() (*App, func(), error) {
	wire.Build(
		infrastructure.ProviderSet,
		application.ProviderSet,
		interfaces.ProviderSet,
		ProviderSet,
		NewApp,
	)
	return nil, nil, nil
}
