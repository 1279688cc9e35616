package contextengine

import "fmt"

// Budget 上下文 Token 预算
// 分配完成后 UsedTokens <= TotalTokens
type Budget struct {
	TotalTokens       int              `json:"totalTokens"`
	PerCategoryTokens map[Category]int `json:"perCategoryTokens"`
	UsedTokens        int              `json:"usedTokens"`
}

// Remaining 剩余可用 Token
func (b Budget) Remaining() int {
	if b.UsedTokens >= b.TotalTokens {
		return 0
	}
	return b.TotalTokens - b.UsedTokens
}

// Policy 预算策略，构造后不可变
type Policy struct {
	// MaxContextRatio 上下文最多占用模型窗口的比例
	MaxContextRatio float64 `yaml:"max_context_ratio" json:"maxContextRatio"`
	// MaxQueryTokensRatio 查询最多占用模型窗口的比例
	MaxQueryTokensRatio float64 `yaml:"max_query_tokens_ratio" json:"maxQueryTokensRatio"`
	// MaxHistoryRatio 历史消息最多占用模型窗口的比例
	MaxHistoryRatio float64 `yaml:"max_history_ratio" json:"maxHistoryRatio"`
	// MaxHistoryMessageTokens 单条历史消息上限
	MaxHistoryMessageTokens int `yaml:"max_history_message_tokens" json:"maxHistoryMessageTokens"`
	// MaxSearchContextRatio 搜索来源最多占用上下文预算的比例
	MaxSearchContextRatio float64 `yaml:"max_search_context_ratio" json:"maxSearchContextRatio"`

	SelectedContentRatio float64 `yaml:"selected_content_ratio" json:"selectedContentRatio"`
	DocumentsRatio       float64 `yaml:"documents_ratio" json:"documentsRatio"`
	ResourcesRatio       float64 `yaml:"resources_ratio" json:"resourcesRatio"`

	// RecallThresholdTokens 超过该大小的条目走分块召回
	RecallThresholdTokens int `yaml:"recall_threshold_tokens" json:"recallThresholdTokens"`
	// RewriteMaxQueryTokens 查询不少于该长度时跳过改写
	RewriteMaxQueryTokens int `yaml:"rewrite_max_query_tokens" json:"rewriteMaxQueryTokens"`
	// RewriteHistoryMessages 改写提示词中保留的最近消息数
	RewriteHistoryMessages int `yaml:"rewrite_history_messages" json:"rewriteHistoryMessages"`
	// MaxExtractionAttempts 结构化输出最大尝试次数
	MaxExtractionAttempts int `yaml:"max_extraction_attempts" json:"maxExtractionAttempts"`

	ChunkTokens        int `yaml:"chunk_tokens" json:"chunkTokens"`
	ChunkOverlapTokens int `yaml:"chunk_overlap_tokens" json:"chunkOverlapTokens"`
	RecallTopK         int `yaml:"recall_top_k" json:"recallTopK"`

	// DefaultContextLimit 未知模型时使用的保守窗口大小
	DefaultContextLimit int `yaml:"default_context_limit" json:"defaultContextLimit"`
	// SourceBaseURL 知识库条目缺少 URL 时用于拼接来源链接
	SourceBaseURL string `yaml:"source_base_url" json:"sourceBaseUrl,omitempty"`
}

// DefaultPolicy 默认策略
func DefaultPolicy() Policy {
	return Policy{
		MaxContextRatio:         0.7,
		MaxQueryTokensRatio:     0.1,
		MaxHistoryRatio:         0.2,
		MaxHistoryMessageTokens: 2000,
		MaxSearchContextRatio:   0.3,
		SelectedContentRatio:    2.0 / 4,
		DocumentsRatio:          1.0 / 4,
		ResourcesRatio:          1.0 / 4,
		RecallThresholdTokens:   4096,
		RewriteMaxQueryTokens:   100,
		RewriteHistoryMessages:  6,
		MaxExtractionAttempts:   3,
		ChunkTokens:             512,
		ChunkOverlapTokens:      64,
		RecallTopK:              256,
		DefaultContextLimit:     16000,
	}
}

// CategoryRatio 返回类别的最低分配比例
func (p Policy) CategoryRatio(c Category) float64 {
	switch c {
	case CategorySelectedContent:
		return p.SelectedContentRatio
	case CategoryDocuments:
		return p.DocumentsRatio
	case CategoryResources:
		return p.ResourcesRatio
	default:
		panic(fmt.Sprintf("contextengine: unknown category %d", int(c)))
	}
}

// Validate 校验策略，非法值返回 ErrInvalidPolicy
func (p Policy) Validate() error {
	ratios := map[string]float64{
		"max_context_ratio":        p.MaxContextRatio,
		"max_query_tokens_ratio":   p.MaxQueryTokensRatio,
		"max_history_ratio":        p.MaxHistoryRatio,
		"max_search_context_ratio": p.MaxSearchContextRatio,
		"selected_content_ratio":   p.SelectedContentRatio,
		"documents_ratio":          p.DocumentsRatio,
		"resources_ratio":          p.ResourcesRatio,
	}
	for name, v := range ratios {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be within [0, 1], got %v", ErrInvalidPolicy, name, v)
		}
	}
	if sum := p.SelectedContentRatio + p.DocumentsRatio + p.ResourcesRatio; sum > 1+1e-9 {
		return fmt.Errorf("%w: category ratios sum to %v, exceeding 1", ErrInvalidPolicy, sum)
	}

	ints := map[string]int{
		"max_history_message_tokens": p.MaxHistoryMessageTokens,
		"recall_threshold_tokens":    p.RecallThresholdTokens,
		"rewrite_max_query_tokens":   p.RewriteMaxQueryTokens,
		"rewrite_history_messages":   p.RewriteHistoryMessages,
		"chunk_overlap_tokens":       p.ChunkOverlapTokens,
		"recall_top_k":               p.RecallTopK,
	}
	for name, v := range ints {
		if v < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %d", ErrInvalidPolicy, name, v)
		}
	}
	if p.MaxExtractionAttempts < 1 {
		return fmt.Errorf("%w: max_extraction_attempts must be at least 1", ErrInvalidPolicy)
	}
	if p.ChunkTokens <= 0 {
		return fmt.Errorf("%w: chunk_tokens must be positive", ErrInvalidPolicy)
	}
	if p.ChunkOverlapTokens >= p.ChunkTokens {
		return fmt.Errorf("%w: chunk_overlap_tokens must be smaller than chunk_tokens", ErrInvalidPolicy)
	}
	if p.DefaultContextLimit <= 0 {
		return fmt.Errorf("%w: default_context_limit must be positive", ErrInvalidPolicy)
	}
	return nil
}
