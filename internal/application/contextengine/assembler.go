package contextengine

import (
	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
)

// AssembleInput 组装输入
type AssembleInput struct {
	Module             PromptModule
	Locale             string
	History            []domain.ChatMessage // 已截断
	NeedPrepareContext bool
	ContextText        string
	OriginalQuery      string
	OptimizedQuery     string
	// ContextCaching 为 true 时除最后一条用户消息外全部标记可缓存
	ContextCaching bool
}

// Assemble 按固定顺序组装请求消息：系统、历史、上下文（可选）、用户
func Assemble(in AssembleInput) []domain.ChatMessage {
	module := in.Module
	if module == nil {
		module, _ = LookupPromptModule(ModuleCommonQnA)
	}
	withContext := in.NeedPrepareContext && in.ContextText != ""

	messages := make([]domain.ChatMessage, 0, len(in.History)+3)
	messages = append(messages, domain.NewSystemMessage(module.SystemPrompt(in.Locale, withContext)))
	for _, msg := range in.History {
		msg.CacheControl = false
		messages = append(messages, msg)
	}
	if withContext {
		messages = append(messages, domain.NewHumanMessage(module.ContextUserPrompt(in.ContextText)))
	}
	messages = append(messages, domain.NewHumanMessage(module.UserPrompt(in.OriginalQuery, in.OptimizedQuery, in.Locale)))

	if in.ContextCaching {
		for i := 0; i < len(messages)-1; i++ {
			messages[i].CacheControl = true
		}
	}
	return messages
}
