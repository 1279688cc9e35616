package llm

import (
	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/cocursor/contextengine/internal/infrastructure/log"
	"github.com/cocursor/contextengine/internal/infrastructure/rag"
	"github.com/google/wire"
)

// ProviderSet LLM ProviderSet
var ProviderSet = wire.NewSet(
	NewLanguageModel,
)

// NewLanguageModel 已配置 LLM API 时返回客户端，否则返回 nil（查询改写将被跳过）
func NewLanguageModel(providers *rag.ProviderConfig) domain.LanguageModel {
	api := providers.LLMAPI
	if !api.Configured() {
		log.NewModuleLogger("llm", "factory").Warn("LLM API not configured, query rewriting disabled")
		return nil
	}
	return NewClient(api.URL, api.APIKey, api.Model)
}
