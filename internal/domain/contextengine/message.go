package contextengine

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// ChatMessage 对话消息
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// CacheControl 模型支持上下文缓存时标记可缓存的前缀消息
	CacheControl bool `json:"cacheControl,omitempty"`
}

// NewSystemMessage 创建系统消息
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// NewHumanMessage 创建用户消息
func NewHumanMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleHuman, Content: content}
}

// NewAssistantMessage 创建助手消息
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// CloneMessages 拷贝消息列表
func CloneMessages(msgs []ChatMessage) []ChatMessage {
	if msgs == nil {
		return nil
	}
	out := make([]ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}
