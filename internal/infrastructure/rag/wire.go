package rag

import "github.com/google/wire"

// ProviderSet 服务商配置 ProviderSet
var ProviderSet = wire.NewSet(
	NewConfigManager,
	NewProviderConfig,
)
