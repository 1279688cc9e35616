package token

import (
	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/google/wire"
)

// ProviderSet Token 计数 ProviderSet
var ProviderSet = wire.NewSet(
	NewCounter,
	NewRegistry,
	wire.Bind(new(domain.ModelRegistry), new(*Registry)),
)

// NewCounter 返回全局 Token 计数器
func NewCounter() (domain.TokenCounter, error) {
	return GetAccountant()
}
