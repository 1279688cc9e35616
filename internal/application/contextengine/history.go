package contextengine

import (
	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/cocursor/contextengine/internal/infrastructure/token"
)

// TruncateHistory 保留最近的消息，总量不超过 maxTokens
// 每条消息先截断到 perMessage 以内；放不下的更早消息整体丢弃。返回副本，顺序不变
func TruncateHistory(counter domain.TokenCounter, history []domain.ChatMessage, maxTokens, perMessage int) ([]domain.ChatMessage, int) {
	if maxTokens <= 0 || len(history) == 0 {
		return nil, 0
	}

	kept := make([]domain.ChatMessage, 0, len(history))
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if perMessage > 0 {
			msg.Content = token.Truncate(counter, msg.Content, perMessage)
		}
		if msg.Content == "" {
			continue
		}
		tokens := counter.CountTokens(msg.Content)
		if used+tokens > maxTokens {
			break
		}
		kept = append(kept, msg)
		used += tokens
	}

	for l, r := 0, len(kept)-1; l < r; l, r = l+1, r-1 {
		kept[l], kept[r] = kept[r], kept[l]
	}
	return kept, used
}
