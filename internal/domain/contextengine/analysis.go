package contextengine

// Intent 查询意图
type Intent string

const (
	IntentGeneralQnA Intent = "general_qna"
	IntentSearch     Intent = "search"
	IntentSummarize  Intent = "summarize"
	IntentTranslate  Intent = "translate"
	IntentWrite      Intent = "write"
	IntentEdit       Intent = "edit"
	IntentUnknown    Intent = "unknown"
)

// ParseIntent 解析意图，未知值返回 IntentUnknown
func ParseIntent(s string) Intent {
	switch Intent(s) {
	case IntentGeneralQnA, IntentSearch, IntentSummarize, IntentTranslate, IntentWrite, IntentEdit:
		return Intent(s)
	default:
		return IntentUnknown
	}
}

// QueryAnalysis 查询改写结果
// MentionedContext 中的条目均来自输入上下文池
type QueryAnalysis struct {
	OriginalQuery    string   `json:"originalQuery"`
	OptimizedQuery   string   `json:"optimizedQuery"`
	RewrittenQueries []string `json:"rewrittenQueries,omitempty"`
	MentionedContext Pool     `json:"mentionedContext"`
	// Mentions 与 MentionedContext 一一对应，记录条目在输入池中的位置
	Mentions   []Mention `json:"mentions,omitempty"`
	Intent     Intent    `json:"intent"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning,omitempty"`
	// Rewritten 为 false 表示跳过改写或改写失败回退
	Rewritten bool `json:"rewritten"`
}

// Mention 被引用条目在输入上下文池中的位置
// 条目可以没有 EntityID，因此只按位置识别
type Mention struct {
	Category        Category `json:"category"`
	Index           int      `json:"index"`
	UseWholeContent bool     `json:"useWholeContent"`
}

// FallbackAnalysis 返回使用原始查询、无引用上下文的分析结果
func FallbackAnalysis(query string) QueryAnalysis {
	return QueryAnalysis{
		OriginalQuery:    query,
		OptimizedQuery:   query,
		RewrittenQueries: []string{query},
		Intent:           IntentUnknown,
	}
}
